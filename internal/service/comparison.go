package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Model labels sent with comparison tokens
const (
	ModelA = "A"
	ModelB = "B"
)

// ComparisonTurn is one validated comparison request
type ComparisonTurn struct {
	Request   *domain.ComparisonRequest
	Site      *domain.SitePolicy
	ChainA    domain.GenerationChain
	ChainB    domain.GenerationChain
	ClientIP  string
	RequestID string
	Started   time.Time
}

// modelError tags a chain failure with the model that produced it
type modelError struct {
	Model string
	Err   error
}

func (e *modelError) Error() string { return fmt.Sprintf("model %s: %v", e.Model, e.Err) }
func (e *modelError) Unwrap() error { return e.Err }

// ComparisonOrchestrator answers one question with two models at once.
// A watchdog guarantees the stream terminates even if a model hangs.
type ComparisonOrchestrator struct {
	retriever  Retriever
	classifier *ErrorClassifier
	metrics    *metrics.StreamMetrics
	timeout    time.Duration
	keepAlive  time.Duration
	logger     *zap.Logger
}

// NewComparisonOrchestrator creates a comparison orchestrator
func NewComparisonOrchestrator(
	retriever Retriever,
	classifier *ErrorClassifier,
	m *metrics.StreamMetrics,
	timeout, keepAlive time.Duration,
	logger *zap.Logger,
) *ComparisonOrchestrator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ComparisonOrchestrator{
		retriever:  retriever,
		classifier: classifier,
		metrics:    m,
		timeout:    timeout,
		keepAlive:  keepAlive,
		logger:     logger,
	}
}

// Run streams both answers to em without persisting them
func (o *ComparisonOrchestrator) Run(ctx context.Context, turn ComparisonTurn, em *StreamEmitter) {
	req := &turn.Request.ChatRequest
	logger := o.logger.With(
		zap.String("request_id", turn.RequestID),
		zap.String("site_id", turn.Site.ID),
		zap.String("model_a", turn.Request.ModelA),
		zap.String("model_b", turn.Request.ModelB),
	)
	state := newTurnState(logger)
	state.current = StateRetrieving

	tracker := NewPerformanceTracker(turn.Started, o.metrics)
	em.OnFirstWrite(tracker.MarkFirstByte)

	o.metrics.StreamStarted()
	outcome := outcomeDone
	defer func() {
		o.metrics.StreamFinished("comparison", outcome, time.Since(tracker.start))
	}()

	if !em.Open(turn.Site.ID) {
		outcome = outcomeDisconnected
		return
	}
	stop := em.StartKeepAlive(o.keepAlive)
	defer stop()
	defer em.Close()

	docs, err := retrieve(ctx, o.retriever, req, turn.Site)
	if err != nil {
		if ctx.Err() != nil || em.Closed() {
			outcome = outcomeDisconnected
			return
		}
		state.to(StateErrored)
		outcome = outcomeError
		cl := o.classifier.Report(err, map[string]string{
			"request_id": turn.RequestID,
			"site_id":    turn.Site.ID,
			"stage":      "comparison_retrieval",
		})
		em.Fail(cl, tracker.Finish())
		return
	}
	tracker.MarkRetrievalReady()
	em.EmitSourceDocs(docs)

	state.to(StateGenerating)
	input := domain.GenerationInput{Question: req.Question, History: req.History, Documents: docs}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var finishedA, finishedB atomic.Bool
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return o.runModel(gctx, ModelA, turn.ChainA, input, em, tracker, &finishedA)
	})
	g.Go(func() error {
		return o.runModel(gctx, ModelB, turn.ChainB, input, em, tracker, &finishedB)
	})

	resolved := make(chan error, 1)
	go func() { resolved <- g.Wait() }()

	watchdog := time.NewTimer(o.timeout)
	defer watchdog.Stop()

	select {
	case err := <-resolved:
		if err != nil {
			if ctx.Err() != nil || em.Closed() {
				outcome = outcomeDisconnected
				return
			}
			state.to(StateErrored)
			outcome = outcomeError
			cl := o.classifier.Report(err, map[string]string{
				"request_id": turn.RequestID,
				"site_id":    turn.Site.ID,
				"stage":      "comparison_generation",
			})
			cl.Message = fmt.Sprintf("Comparison failed for model %s: %s", failedModel(err), cl.Message)
			em.Fail(cl, tracker.Finish())
		}
	case <-watchdog.C:
		var pending []string
		if !finishedA.Load() {
			pending = append(pending, ModelA)
		}
		if !finishedB.Load() {
			pending = append(pending, ModelB)
		}
		// both finished as the timer fired
		if len(pending) == 0 {
			break
		}
		logger.Warn("comparison timed out", zap.Strings("pending", pending), zap.Duration("timeout", o.timeout))
		em.Emit(domain.StreamEvent{
			Warning: fmt.Sprintf("Model %s did not finish within %s.", strings.Join(pending, " and "), o.timeout),
		})
	case <-ctx.Done():
		outcome = outcomeDisconnected
		return
	}

	em.Done(tracker.Finish())
	if state.current != StateErrored {
		state.to(StateDone)
	}
}

func (o *ComparisonOrchestrator) runModel(
	ctx context.Context,
	label string,
	chain domain.GenerationChain,
	in domain.GenerationInput,
	em *StreamEmitter,
	tracker *PerformanceTracker,
	finished *atomic.Bool,
) error {
	ctx, span := tracer.Start(ctx, "generation")
	span.SetAttributes(attribute.String("model", label))

	_, _, err := consumeChain(ctx, chain, in, func(token string) bool {
		tracker.MarkToken()
		em.Emit(domain.TokenEvent(token, label))
		return !em.Closed()
	})
	endSpan(span, err)
	if err != nil {
		return &modelError{Model: label, Err: err}
	}
	finished.Store(true)
	return nil
}

func failedModel(err error) string {
	var me *modelError
	if errors.As(err, &me) {
		return me.Model
	}
	return "?"
}
