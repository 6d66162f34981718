package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragchat/internal/domain"
)

// DefaultListLimit caps list queries that do not pass a limit
const DefaultListLimit = 50

const conversationColumns = `id, question, answer, collection, sources, history, client_ip,
	timestamp, conv_id, restated_question, suggestions, uuid, title`

// ConversationRepository handles conversation record persistence
type ConversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a record and returns its id. A record whose id was
// already written by an earlier attempt is stored again under a fresh id.
func (r *ConversationRepository) Create(ctx context.Context, rec *domain.ConversationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	sourcesJSON, _ := json.Marshal(rec.Sources)
	historyJSON, _ := json.Marshal(rec.History)
	suggestionsJSON, _ := json.Marshal(rec.Suggestions)

	for attempt := 0; attempt < 2; attempt++ {
		res, err := r.db.ExecContext(ctx, `
			INSERT INTO conversations (`+conversationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, rec.ID, rec.Question, rec.Answer, rec.Collection, string(sourcesJSON),
			string(historyJSON), rec.ClientIP, rec.Timestamp, rec.ConvID,
			rec.RestatedQuestion, string(suggestionsJSON), rec.UUID, nullString(rec.Title))
		if err != nil {
			return "", &domain.StoreError{Op: "create", Err: err}
		}

		n, err := res.RowsAffected()
		if err != nil {
			return "", &domain.StoreError{Op: "create", Err: err}
		}
		if n == 1 {
			return rec.ID, nil
		}
		rec.ID = uuid.New().String()
	}

	return "", &domain.StoreError{Op: "create", Err: domain.ErrRecordExists}
}

// Update applies a patch to an existing record. The title is written only
// when the record has none yet.
func (r *ConversationRepository) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	if patch.Title == nil {
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?
		WHERE id = ? AND (title IS NULL OR title = '')
	`, *patch.Title, id)
	if err != nil {
		return &domain.StoreError{Op: "update", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &domain.StoreError{Op: "update", Err: err}
	}
	if n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return &domain.StoreError{Op: "update", Err: err}
		}
	}
	return nil
}

// Get retrieves a record by ID
func (r *ConversationRepository) Get(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)

	rec, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "get", Err: err}
	}
	return rec, nil
}

// ListByUUID returns the newest records of one client, newest first
func (r *ConversationRepository) ListByUUID(ctx context.Context, clientUUID string, limit int) ([]*domain.ConversationRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return r.list(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE uuid = ? ORDER BY timestamp DESC LIMIT ?
	`, clientUUID, limit)
}

// ListByConvID returns all turns of one conversation, oldest first
func (r *ConversationRepository) ListByConvID(ctx context.Context, convID string) ([]*domain.ConversationRecord, error) {
	return r.list(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE conv_id = ? ORDER BY timestamp ASC
	`, convID)
}

// Count returns the total number of stored records
func (r *ConversationRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

func (r *ConversationRepository) list(ctx context.Context, query string, args ...any) ([]*domain.ConversationRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var records []*domain.ConversationRecord
	for rows.Next() {
		rec, err := scanConversation(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "list", Err: err}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*domain.ConversationRecord, error) {
	rec := &domain.ConversationRecord{}
	var collection, sourcesJSON, historyJSON, clientIP, restated, suggestionsJSON, title sql.NullString

	if err := s.Scan(&rec.ID, &rec.Question, &rec.Answer, &collection, &sourcesJSON,
		&historyJSON, &clientIP, &rec.Timestamp, &rec.ConvID, &restated,
		&suggestionsJSON, &rec.UUID, &title); err != nil {
		return nil, err
	}

	rec.Collection = collection.String
	rec.ClientIP = clientIP.String
	rec.RestatedQuestion = restated.String
	rec.Title = title.String

	if sourcesJSON.Valid && sourcesJSON.String != "" {
		json.Unmarshal([]byte(sourcesJSON.String), &rec.Sources)
	}
	if historyJSON.Valid && historyJSON.String != "" {
		json.Unmarshal([]byte(historyJSON.String), &rec.History)
	}
	if suggestionsJSON.Valid && suggestionsJSON.String != "" {
		json.Unmarshal([]byte(suggestionsJSON.String), &rec.Suggestions)
	}

	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
