// Package badgerstore is an embedded conversation record store on BadgerDB
package badgerstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/liliang-cn/ragchat/internal/domain"
	"go.uber.org/zap"
)

// Key prefixes
const (
	recordPrefix    = "conv:"
	uuidIndexPrefix = "convu:"
	convIndexPrefix = "convc:"
)

// Store implements the conversation record store on BadgerDB
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// zapLoggerAdapter adapts zap to the badger.Logger interface
type zapLoggerAdapter struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapLoggerAdapter)(nil)

func (l *zapLoggerAdapter) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *zapLoggerAdapter) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *zapLoggerAdapter) Infof(msg string, items ...any)    { l.logger.Infof(msg, items...) }
func (l *zapLoggerAdapter) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// Open opens a store at path, or an in-memory store when path is empty
func Open(path string, logger *zap.Logger) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &zapLoggerAdapter{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// ownerPrefix hex-encodes owner so a client-supplied ':' cannot reach into
// another owner's key range
func ownerPrefix(prefix, owner string) string {
	return prefix + hex.EncodeToString([]byte(owner)) + ":"
}

// Index keys sort by timestamp within one owner: prefix:hex(owner):nanos:id
func indexKey(prefix, owner string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", ownerPrefix(prefix, owner), ts.UnixNano(), id))
}

// Create stores a record and returns its id. A record whose id already
// exists is stored under a fresh id instead.
func (s *Store) Create(ctx context.Context, rec *domain.ConversationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	err := s.db.Update(func(tx *badger.Txn) error {
		_, err := tx.Get(recordKey(rec.ID))
		switch {
		case err == nil:
			rec.ID = uuid.New().String()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.Set(recordKey(rec.ID), value); err != nil {
			return err
		}
		if err := tx.Set(indexKey(uuidIndexPrefix, rec.UUID, rec.Timestamp, rec.ID), []byte(rec.ID)); err != nil {
			return err
		}
		return tx.Set(indexKey(convIndexPrefix, rec.ConvID, rec.Timestamp, rec.ID), []byte(rec.ID))
	})
	if err != nil {
		return "", &domain.StoreError{Op: "create", Err: err}
	}
	return rec.ID, nil
}

// Update applies a patch; the title is written only when the record has none
func (s *Store) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	if patch.Title == nil {
		return nil
	}

	err := s.db.Update(func(tx *badger.Txn) error {
		rec, err := readRecord(tx, id)
		if err != nil {
			return err
		}
		if rec.Title != "" {
			return nil
		}
		rec.Title = *patch.Title

		value, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Set(recordKey(id), value)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return &domain.StoreError{Op: "update", Err: err}
	}
	return nil
}

// Get retrieves a record by ID, or nil when absent
func (s *Store) Get(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	var rec *domain.ConversationRecord
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		rec, err = readRecord(tx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Err: err}
	}
	return rec, nil
}

// ListByUUID returns the newest records of one client, newest first
func (s *Store) ListByUUID(ctx context.Context, clientUUID string, limit int) ([]*domain.ConversationRecord, error) {
	records, err := s.listIndex(ownerPrefix(uuidIndexPrefix, clientUUID))
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	if limit <= 0 {
		limit = 50
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ListByConvID returns all turns of one conversation, oldest first
func (s *Store) ListByConvID(ctx context.Context, convID string) ([]*domain.ConversationRecord, error) {
	return s.listIndex(ownerPrefix(convIndexPrefix, convID))
}

// Count returns the total number of stored records
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(recordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *Store) listIndex(prefix string) ([]*domain.ConversationRecord, error) {
	var records []*domain.ConversationRecord
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			id, err := iter.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := readRecord(tx, string(id))
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.StoreError{Op: "list", Err: err}
	}
	return records, nil
}

func readRecord(tx *badger.Txn, id string) (*domain.ConversationRecord, error) {
	item, err := tx.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &domain.ConversationRecord{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
	return rec, err
}
