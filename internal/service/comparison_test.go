package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func runComparison(t *testing.T, timeout time.Duration, a, b domain.GenerationChain) ([]domain.StreamEvent, *recordingAlert) {
	t.Helper()

	alert := &recordingAlert{}
	runner := &waitRunner{}
	classifier := NewErrorClassifier(alert, runner, nil, zap.NewNop())
	orch := NewComparisonOrchestrator(&fakeRetriever{docs: testDocs()}, classifier, nil, timeout, 0, zap.NewNop())

	site := testSite()
	req := &domain.ComparisonRequest{ChatRequest: *testRequest(), ModelA: "m1", ModelB: "m2"}
	req.Normalize(site)

	var buf syncBuffer
	em := NewStreamEmitter(&buf, nil, zap.NewNop())
	orch.Run(context.Background(), ComparisonTurn{
		Request: req,
		Site:    site,
		ChainA:  a,
		ChainB:  b,
		Started: time.Now(),
	}, em)
	runner.Wait()

	assert.True(t, em.Closed())
	return parseEvents(t, buf.String()), alert
}

func tokensFor(events []domain.StreamEvent, model string) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Token != nil && ev.Model == model {
			sb.WriteString(*ev.Token)
		}
	}
	return sb.String()
}

func countKind(events []domain.StreamEvent, kind string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func TestComparison_BothComplete(t *testing.T) {
	events, _ := runComparison(t, time.Second,
		&fakeChain{tokens: []string{"a1", "a2"}},
		&fakeChain{tokens: []string{"b1", "b2", "b3"}},
	)

	assert.Equal(t, "siteId", events[0].Kind())
	assert.Equal(t, "sourceDocs", events[1].Kind())
	assert.Equal(t, "a1a2", tokensFor(events, ModelA))
	assert.Equal(t, "b1b2b3", tokensFor(events, ModelB))
	assert.Equal(t, 1, countKind(events, "done"))
	assert.Zero(t, countKind(events, "error"))

	last := events[len(events)-1]
	assert.True(t, last.Done)
	require.NotNil(t, last.Timing)
	assert.Equal(t, 5, last.Timing.TokenCount)
}

func TestComparison_WatchdogOnHang(t *testing.T) {
	start := time.Now()
	events, _ := runComparison(t, 50*time.Millisecond,
		&fakeChain{tokens: []string{"done"}},
		&fakeChain{tokens: []string{"partial"}, hang: true},
	)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "done", tokensFor(events, ModelA))
	assert.Equal(t, "partial", tokensFor(events, ModelB))
	assert.Equal(t, 1, countKind(events, "done"))

	require.GreaterOrEqual(t, len(events), 2)
	warning := events[len(events)-2]
	assert.Equal(t, "warning", warning.Kind())
	assert.Contains(t, warning.Warning, "Model B")
	assert.NotContains(t, warning.Warning, "A and")
	assert.True(t, events[len(events)-1].Done)
}

func TestComparison_ModelFailure(t *testing.T) {
	quota := &domain.GenerationError{Model: "m2", StatusCode: 429, Err: errors.New("too many requests")}
	events, alert := runComparison(t, time.Second,
		&fakeChain{tokens: []string{"a1"}, hang: true},
		&fakeChain{err: quota},
	)

	require.Equal(t, 1, countKind(events, "error"))
	require.Equal(t, 1, countKind(events, "done"))

	errEv := events[len(events)-2]
	assert.True(t, strings.HasPrefix(errEv.Error, "Comparison failed for model B: "), errEv.Error)
	assert.Equal(t, string(KindQuotaExceeded), errEv.Type)

	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Nil(t, last.Timing)
	assert.Equal(t, []string{"ragchat: quota_exceeded"}, alert.Subjects())
}

func TestComparison_RetrievalFailure(t *testing.T) {
	alert := &recordingAlert{}
	runner := &waitRunner{}
	classifier := NewErrorClassifier(alert, runner, nil, zap.NewNop())
	retriever := &fakeRetriever{err: &domain.RetrievalError{Err: domain.ErrConnectivity}}
	orch := NewComparisonOrchestrator(retriever, classifier, nil, time.Second, 0, zap.NewNop())

	site := testSite()
	req := &domain.ComparisonRequest{ChatRequest: *testRequest(), ModelA: "m1", ModelB: "m2"}
	req.Normalize(site)

	var buf syncBuffer
	em := NewStreamEmitter(&buf, nil, zap.NewNop())
	orch.Run(context.Background(), ComparisonTurn{Request: req, Site: site, ChainA: &fakeChain{}, ChainB: &fakeChain{}}, em)
	runner.Wait()

	events := parseEvents(t, buf.String())
	require.Equal(t, []string{"siteId", "error"}, kinds(events))
	assert.Equal(t, string(KindConnectionError), events[1].Type)
	assert.Equal(t, []string{"ragchat: connection_error"}, alert.Subjects())
}

func TestComparison_WatchdogRacesCompletion(t *testing.T) {
	for i := 0; i < 200; i++ {
		events, _ := runComparison(t, time.Nanosecond,
			&fakeChain{tokens: []string{"a"}},
			&fakeChain{tokens: []string{"b"}},
		)

		require.Equal(t, 1, countKind(events, "done"), "iteration %d", i)
		assert.True(t, events[len(events)-1].Done, "iteration %d", i)
		assert.LessOrEqual(t, countKind(events, "warning"), 1, "iteration %d", i)
		assert.Zero(t, countKind(events, "error"), "iteration %d", i)
	}
}
