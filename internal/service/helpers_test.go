package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/stretchr/testify/require"
)

func testSite() *domain.SitePolicy {
	return &domain.SitePolicy{
		ID:                "site-1",
		Name:              "Test Library",
		Collections:       map[string]string{"main": "Main", "archive": "Archive"},
		DefaultCollection: "main",
		EnabledMediaTypes: []string{"article", "video", "book"},
		RestrictedCollections: map[string][]string{
			"archive": {"Ada", "Grace"},
		},
		LibraryFilterMode:  domain.LibraryFilterAlways,
		FilterFields:       domain.DefaultFilterFields(),
		DefaultSourceCount: 4,
	}
}

func testRequest() *domain.ChatRequest {
	return &domain.ChatRequest{
		Question:   "What is a monad?",
		Collection: "main",
		UUID:       uuid.New().String(),
	}
}

func testDocs() []domain.Document {
	return []domain.Document{
		{ID: "d1", Content: "first", Metadata: map[string]any{"title": "One"}},
		{ID: "d2", Content: "second", Metadata: map[string]any{"title": "Two"}},
	}
}

// parseEvents decodes every "data:" line written to an SSE body
func parseEvents(t *testing.T, body string) []domain.StreamEvent {
	t.Helper()

	var events []domain.StreamEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func kinds(events []domain.StreamEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind())
	}
	return out
}

// syncBuffer is a bytes.Buffer safe for concurrent use
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// brokenWriter fails every write after the first n
type brokenWriter struct {
	mu sync.Mutex
	n  int
	syncBuffer
}

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n <= 0 {
		return 0, errors.New("write: broken pipe")
	}
	w.n--
	return w.syncBuffer.Write(p)
}

type fakeRetriever struct {
	mu         sync.Mutex
	docs       []domain.Document
	err        error
	collection string
	filter     domain.RetrievalFilter
	k          int
}

func (r *fakeRetriever) Retrieve(_ context.Context, collection string, filter domain.RetrievalFilter, _ string, k int) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collection, r.filter, r.k = collection, filter, k
	if r.err != nil {
		return nil, r.err
	}
	return r.docs, nil
}

// fakeChain streams tokens, then a result, an error, or nothing at all
type fakeChain struct {
	tokens    []string
	err       error
	invokeErr error
	hang      bool
	delay     time.Duration
	result    *domain.GenerationResult
}

func (c *fakeChain) Invoke(ctx context.Context, in domain.GenerationInput) (<-chan domain.ChainEvent, error) {
	if c.invokeErr != nil {
		return nil, c.invokeErr
	}

	ch := make(chan domain.ChainEvent)
	send := func(ev domain.ChainEvent) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		for _, tok := range c.tokens {
			if c.delay > 0 {
				time.Sleep(c.delay)
			}
			if !send(domain.ChainEvent{Token: tok}) {
				return
			}
		}
		if c.hang {
			<-ctx.Done()
			return
		}
		if c.err != nil {
			send(domain.ChainEvent{Err: c.err})
			return
		}
		res := c.result
		if res == nil {
			res = &domain.GenerationResult{
				Answer:         strings.Join(c.tokens, ""),
				FinalDocuments: in.Documents,
			}
		}
		send(domain.ChainEvent{Result: res})
	}()
	return ch, nil
}

type fakeChains map[string]domain.GenerationChain

func (f fakeChains) Chain(name string) (domain.GenerationChain, error) {
	if name == "" {
		name = "default"
	}
	c, ok := f[name]
	if !ok {
		return nil, errors.New("unknown model " + name)
	}
	return c, nil
}

// memStore records every create and update
type memStore struct {
	mu        sync.Mutex
	records   map[string]*domain.ConversationRecord
	creates   int
	updates   []domain.RecordPatch
	failFirst int
	err       error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*domain.ConversationRecord{}}
}

func (s *memStore) Create(_ context.Context, rec *domain.ConversationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.err != nil {
		return "", s.err
	}
	if s.failFirst > 0 {
		s.failFirst--
		return "", errors.New("store unavailable")
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return rec.ID, nil
}

func (s *memStore) Update(_ context.Context, id string, patch domain.RecordPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.updates = append(s.updates, patch)
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	return nil
}

func (s *memStore) snapshot() ([]*domain.ConversationRecord, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ConversationRecord
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, s.creates, len(s.updates)
}

// gatedTitles returns title once release is closed
type gatedTitles struct {
	title   string
	release chan struct{}
	err     error
}

func (g *gatedTitles) Generate(ctx context.Context, _ string) (string, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.title, g.err
}

type recordingAlert struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (a *recordingAlert) Notify(_ context.Context, subject, _ string, _ map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return a.err
}

func (a *recordingAlert) Subjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.subjects...)
}

// waitRunner runs tasks on goroutines and lets tests wait for them
type waitRunner struct {
	wg sync.WaitGroup
}

func (r *waitRunner) Go(_ string, task func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		task()
	}()
}

func (r *waitRunner) Wait() { r.wg.Wait() }
