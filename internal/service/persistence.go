package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragchat/internal/background"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/metrics"
	"go.uber.org/zap"
)

// PersistenceOptions tunes record writes
type PersistenceOptions struct {
	Retries      int
	RetryBase    time.Duration
	TitleTimeout time.Duration
}

// PersistenceCoordinator saves completed turns in the background and
// applies the conversation title at most once.
type PersistenceCoordinator struct {
	store      RecordStore
	titles     TitleGenerator
	runner     TaskRunner
	classifier *ErrorClassifier
	metrics    *metrics.StreamMetrics
	opts       PersistenceOptions
	logger     *zap.Logger
}

// NewPersistenceCoordinator creates a coordinator; titles may be nil
func NewPersistenceCoordinator(
	store RecordStore,
	titles TitleGenerator,
	runner TaskRunner,
	classifier *ErrorClassifier,
	m *metrics.StreamMetrics,
	opts PersistenceOptions,
	logger *zap.Logger,
) *PersistenceCoordinator {
	if runner == nil {
		runner = goRunner{}
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.TitleTimeout <= 0 {
		opts.TitleTimeout = 30 * time.Second
	}
	return &PersistenceCoordinator{
		store:      store,
		titles:     titles,
		runner:     runner,
		classifier: classifier,
		metrics:    m,
		opts:       opts,
		logger:     logger,
	}
}

// AssignConversationID returns the request's conversation id, creating one
// when the client did not send it. isNew is true only for a created id.
func (p *PersistenceCoordinator) AssignConversationID(req *domain.ChatRequest) (convID string, isNew bool) {
	if req.ConvID != "" {
		return req.ConvID, false
	}
	req.ConvID = uuid.New().String()
	return req.ConvID, true
}

// TitleRace is a title generation running alongside the answer
type TitleRace struct {
	done  chan struct{}
	title string
}

// Ready returns the title if generation has finished
func (r *TitleRace) Ready() (string, bool) {
	if r == nil {
		return "", false
	}
	select {
	case <-r.done:
		return r.title, true
	default:
		return "", false
	}
}

// Wait blocks until the title is ready or ctx is done
func (r *TitleRace) Wait(ctx context.Context) (string, bool) {
	if r == nil {
		return "", false
	}
	select {
	case <-r.done:
		return r.title, true
	case <-ctx.Done():
		return "", false
	}
}

// StartTitle begins generating a title for question in the background.
// Failures resolve to an empty title.
func (p *PersistenceCoordinator) StartTitle(question string) *TitleRace {
	race := &TitleRace{done: make(chan struct{})}
	if p.titles == nil {
		close(race.done)
		return race
	}

	p.runner.Go("title", func() {
		defer close(race.done)

		ctx, cancel := context.WithTimeout(context.Background(), p.opts.TitleTimeout)
		defer cancel()

		title, err := p.titles.Generate(ctx, question)
		if err != nil {
			p.logger.Debug("title generation failed", zap.Error(err))
			return
		}
		race.title = title
	})
	return race
}

// SaveTurn creates the record in the background, then writes the title by
// id if it was not ready at creation time. Failures are logged and never
// reach the client.
func (p *PersistenceCoordinator) SaveTurn(rec *domain.ConversationRecord, race *TitleRace) {
	p.runner.Go("persist-turn", func() {
		p.saveTurn(rec, race)
	})
}

func (p *PersistenceCoordinator) saveTurn(rec *domain.ConversationRecord, race *TitleRace) {
	ctx := context.Background()
	logger := p.logger.With(zap.String("conv_id", rec.ConvID), zap.String("record_id", rec.ID))

	if title, ok := race.Ready(); ok && title != "" {
		rec.Title = title
	}

	id := rec.ID
	err := background.Retry(ctx, p.opts.Retries, p.opts.RetryBase, func() error {
		created, err := p.store.Create(ctx, rec)
		if err != nil {
			logger.Debug("record create attempt failed", zap.Error(err))
			return err
		}
		id = created
		return nil
	})
	p.metrics.RecordPersistence("create", err)
	if err != nil {
		p.report(err, rec)
		return
	}
	logger.Debug("record saved", zap.String("id", id), zap.Bool("with_title", rec.Title != ""))

	if rec.Title != "" || race == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.opts.TitleTimeout)
	title, ok := race.Wait(waitCtx)
	cancel()
	if !ok || title == "" {
		return
	}

	err = p.store.Update(ctx, id, domain.RecordPatch{Title: &title})
	p.metrics.RecordPersistence("title", err)
	if err != nil {
		p.report(err, rec)
	}
}

func (p *PersistenceCoordinator) report(err error, rec *domain.ConversationRecord) {
	fields := map[string]string{"conv_id": rec.ConvID, "stage": "persistence"}
	if p.classifier == nil {
		p.logger.Error("failed to persist conversation", zap.String("conv_id", rec.ConvID), zap.Error(err))
		return
	}
	p.classifier.Report(err, fields)
}
