package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/metrics"
)

// PerformanceTracker records stage timestamps for one stream. Each stage is
// marked at most once and never earlier than the stage before it.
type PerformanceTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	metrics *metrics.StreamMetrics

	start          time.Time
	retrievalReady time.Time
	firstToken     time.Time
	firstByte      time.Time
	done           time.Time
	tokens         int
	finished       *domain.TimingMetrics
}

// NewPerformanceTracker starts tracking at start; m may be nil
func NewPerformanceTracker(start time.Time, m *metrics.StreamMetrics) *PerformanceTracker {
	if start.IsZero() {
		start = time.Now()
	}
	return &PerformanceTracker{now: time.Now, metrics: m, start: start}
}

// MarkFirstByte records the first write to the client
func (p *PerformanceTracker) MarkFirstByte() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstByte.IsZero() {
		p.firstByte = p.monotonic(p.start)
	}
}

// MarkRetrievalReady records that documents were retrieved
func (p *PerformanceTracker) MarkRetrievalReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retrievalReady.IsZero() {
		p.retrievalReady = p.monotonic(p.start)
	}
}

// MarkToken counts one streamed token and records the first
func (p *PerformanceTracker) MarkToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens++
	if p.firstToken.IsZero() {
		p.firstToken = p.monotonic(latest(p.start, p.retrievalReady))
	}
}

// Finish marks the stream done and returns its timing. Later calls return
// the same value.
func (p *PerformanceTracker) Finish() *domain.TimingMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished != nil {
		return p.finished
	}
	p.done = p.monotonic(latest(p.start, p.retrievalReady, p.firstToken, p.firstByte))

	t := &domain.TimingMetrics{
		StartTime:  p.start,
		TotalMs:    p.done.Sub(p.start).Milliseconds(),
		TokenCount: p.tokens,
	}
	if !p.retrievalReady.IsZero() {
		t.RetrievalMs = p.retrievalReady.Sub(p.start).Milliseconds()
		p.metrics.RecordRetrieval(p.retrievalReady.Sub(p.start))
	}
	if !p.firstByte.IsZero() {
		t.TTFBMs = p.firstByte.Sub(p.start).Milliseconds()
	}
	if !p.firstToken.IsZero() {
		t.FirstTokenMs = p.firstToken.Sub(p.start).Milliseconds()
		p.metrics.RecordFirstToken(p.firstToken.Sub(p.start))

		if gen := p.done.Sub(p.firstToken).Seconds(); gen > 0 {
			t.TokensPerSecond = float64(p.tokens) / gen
		}
	}
	p.metrics.RecordTokens(p.tokens, t.TokensPerSecond)

	t.Summary = fmt.Sprintf("retrieval %dms, ttfb %dms, first token %dms, total %dms, %d tokens (%.1f tok/s)",
		t.RetrievalMs, t.TTFBMs, t.FirstTokenMs, t.TotalMs, t.TokenCount, t.TokensPerSecond)

	p.finished = t
	return t
}

func (p *PerformanceTracker) monotonic(floor time.Time) time.Time {
	now := p.now()
	if now.Before(floor) {
		return floor
	}
	return now
}

func latest(ts ...time.Time) time.Time {
	var max time.Time
	for _, t := range ts {
		if t.After(max) {
			max = t
		}
	}
	return max
}
