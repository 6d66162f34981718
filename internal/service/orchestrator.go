package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is a step of a chat turn
type State string

const (
	StateValidating  State = "VALIDATING"
	StateRateLimited State = "RATE_LIMITED"
	StateRetrieving  State = "RETRIEVING"
	StateGenerating  State = "GENERATING"
	StatePersisting  State = "PERSISTING"
	StateDone        State = "DONE"
	StateErrored     State = "ERRORED"
)

// Stream outcomes, used as metric labels
const (
	outcomeDone         = "done"
	outcomeError        = "error"
	outcomeDisconnected = "disconnected"
)

const noDocumentsWarning = "No relevant documents were found. The answer may be less accurate."

var tracer = otel.Tracer("github.com/liliang-cn/ragchat/internal/service")

// errStreamClosed means the client went away mid-stream
var errStreamClosed = errors.New("stream closed by client")

// errNoResult means a chain closed its channel without a result
var errNoResult = errors.New("generation ended without a result")

type turnState struct {
	current State
	logger  *zap.Logger
}

func newTurnState(logger *zap.Logger) *turnState {
	return &turnState{current: StateValidating, logger: logger}
}

func (s *turnState) to(next State) {
	s.logger.Debug("state transition",
		zap.String("from", string(s.current)),
		zap.String("to", string(next)),
	)
	s.current = next
}

// Turn is one validated, admitted chat request
type Turn struct {
	Request   *domain.ChatRequest
	Site      *domain.SitePolicy
	Chain     domain.GenerationChain
	ClientIP  string
	RequestID string
	Started   time.Time
}

// Orchestrator runs a single-model chat turn over an open stream
type Orchestrator struct {
	retriever   Retriever
	persistence *PersistenceCoordinator
	classifier  *ErrorClassifier
	metrics     *metrics.StreamMetrics
	keepAlive   time.Duration
	logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	retriever Retriever,
	persistence *PersistenceCoordinator,
	classifier *ErrorClassifier,
	m *metrics.StreamMetrics,
	keepAlive time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		retriever:   retriever,
		persistence: persistence,
		classifier:  classifier,
		metrics:     m,
		keepAlive:   keepAlive,
		logger:      logger,
	}
}

// Run streams the turn to em. Every failure after the stream opens is
// reported as an error event; Run never returns an error to the caller.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, em *StreamEmitter) {
	req := turn.Request
	logger := o.logger.With(
		zap.String("request_id", turn.RequestID),
		zap.String("site_id", turn.Site.ID),
	)
	state := newTurnState(logger)
	state.current = StateRetrieving

	tracker := NewPerformanceTracker(turn.Started, o.metrics)
	em.OnFirstWrite(tracker.MarkFirstByte)

	o.metrics.StreamStarted()
	outcome := outcomeDone
	defer func() {
		o.metrics.StreamFinished("single", outcome, time.Since(tracker.start))
	}()

	if !em.Open(turn.Site.ID) {
		outcome = outcomeDisconnected
		return
	}
	stop := em.StartKeepAlive(o.keepAlive)
	defer stop()
	defer em.Close()

	var (
		convID string
		race   *TitleRace
	)
	if !req.TemporarySession {
		var isNew bool
		convID, isNew = o.persistence.AssignConversationID(req)
		logger = logger.With(zap.String("conv_id", convID))
		state.logger = logger
		if isNew {
			em.Emit(domain.StreamEvent{ConvID: convID})
			race = o.persistence.StartTitle(req.Question)
		}
	}

	disconnected := func() bool {
		return ctx.Err() != nil || em.Closed()
	}

	fail := func(err error) {
		if disconnected() {
			outcome = outcomeDisconnected
			logger.Debug("client disconnected", zap.String("state", string(state.current)))
			return
		}
		stage := state.current
		state.to(StateErrored)
		outcome = outcomeError
		cl := o.classifier.Report(err, map[string]string{
			"request_id": turn.RequestID,
			"site_id":    turn.Site.ID,
			"collection": req.Collection,
			"stage":      string(stage),
		})
		em.Fail(cl, tracker.Finish())
	}

	docs, err := retrieve(ctx, o.retriever, req, turn.Site)
	if err != nil {
		fail(err)
		return
	}
	tracker.MarkRetrievalReady()

	em.EmitSourceDocs(docs)
	if len(docs) == 0 {
		em.Emit(domain.StreamEvent{Warning: noDocumentsWarning})
	}

	state.to(StateGenerating)
	genCtx, span := tracer.Start(ctx, "generation")
	result, answer, err := consumeChain(genCtx, turn.Chain, domain.GenerationInput{
		Question:  req.Question,
		History:   req.History,
		Documents: docs,
	}, func(token string) bool {
		tracker.MarkToken()
		return em.Emit(domain.TokenEvent(token, ""))
	})
	endSpan(span, err)
	if err != nil {
		fail(err)
		// the client already holds the convId, keep what was generated
		if disconnected() && !req.TemporarySession {
			state.to(StatePersisting)
			o.persistence.SaveTurn(newRecord(uuid.New().String(), turn, result, answer, docs), race)
		}
		return
	}

	if req.TemporarySession {
		em.Done(tracker.Finish())
		state.to(StateDone)
		return
	}

	if title, ok := race.Ready(); ok && title != "" {
		em.Emit(domain.StreamEvent{ConvID: convID, Title: title})
	}
	docID := uuid.New().String()
	em.Emit(domain.StreamEvent{DocID: docID})
	em.Done(tracker.Finish())
	em.Close()

	state.to(StatePersisting)
	o.persistence.SaveTurn(newRecord(docID, turn, result, answer, docs), race)
	state.to(StateDone)
}

func newRecord(id string, turn Turn, result *domain.GenerationResult, answer string, docs []domain.Document) *domain.ConversationRecord {
	req := turn.Request
	if result == nil {
		result = &domain.GenerationResult{}
	}
	if result.Answer != "" {
		answer = result.Answer
	}
	sources := result.FinalDocuments
	if sources == nil {
		sources = docs
	}
	return &domain.ConversationRecord{
		ID:               id,
		Question:         req.Question,
		Answer:           answer,
		Collection:       req.Collection,
		Sources:          sources,
		History:          req.History,
		ClientIP:         turn.ClientIP,
		Timestamp:        turn.Started,
		ConvID:           req.ConvID,
		RestatedQuestion: result.RestatedQuestion,
		Suggestions:      result.Suggestions,
		UUID:             req.UUID,
	}
}

// retrieve builds the filter for the request and queries the retriever
func retrieve(ctx context.Context, r Retriever, req *domain.ChatRequest, site *domain.SitePolicy) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "retrieval")
	defer span.End()

	filter := BuildFilter(req.Collection, req.MediaTypes, site)
	span.SetAttributes(
		attribute.String("collection", req.Collection),
		attribute.Int("k", req.SourceCount),
		attribute.Int("filter.clauses", len(filter.Clauses)),
	)

	docs, err := r.Retrieve(ctx, req.Collection, filter, req.Question, req.SourceCount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))
	return docs, nil
}

// endSpan records err on span, if any, and ends it
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// consumeChain invokes chain and forwards each token to onToken, returning
// the final result and the accumulated answer. onToken returning false
// means the client is gone and yields errStreamClosed.
func consumeChain(
	ctx context.Context,
	chain domain.GenerationChain,
	in domain.GenerationInput,
	onToken func(string) bool,
) (*domain.GenerationResult, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := chain.Invoke(ctx, in)
	if err != nil {
		return nil, "", err
	}

	var answer []byte
	for {
		select {
		case <-ctx.Done():
			return nil, string(answer), ctx.Err()
		case ev, ok := <-events:
			switch {
			case !ok:
				return nil, string(answer), errNoResult
			case ev.Err != nil:
				return nil, string(answer), ev.Err
			case ev.Result != nil:
				return ev.Result, string(answer), nil
			}
			answer = append(answer, ev.Token...)
			if !onToken(ev.Token) {
				return nil, string(answer), errStreamClosed
			}
		}
	}
}
