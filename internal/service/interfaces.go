package service

import (
	"context"

	"github.com/liliang-cn/ragchat/internal/domain"
)

// Retriever returns ranked documents for a filtered query
type Retriever interface {
	Retrieve(ctx context.Context, collection string, filter domain.RetrievalFilter, query string, k int) ([]domain.Document, error)
}

// ChainProvider resolves a model name to its generation chain.
// An empty name selects the default model.
type ChainProvider interface {
	Chain(name string) (domain.GenerationChain, error)
}

// RecordStore persists conversation records
type RecordStore interface {
	Create(ctx context.Context, rec *domain.ConversationRecord) (string, error)
	Update(ctx context.Context, id string, patch domain.RecordPatch) error
}

// RecordReader reads persisted conversation records
type RecordReader interface {
	Get(ctx context.Context, id string) (*domain.ConversationRecord, error)
	ListByUUID(ctx context.Context, clientUUID string, limit int) ([]*domain.ConversationRecord, error)
	ListByConvID(ctx context.Context, convID string) ([]*domain.ConversationRecord, error)
	Count(ctx context.Context) (int, error)
}

// TitleGenerator names a conversation from its first question
type TitleGenerator interface {
	Generate(ctx context.Context, question string) (string, error)
}

// OperatorAlert notifies operators about failures that need attention
type OperatorAlert interface {
	Notify(ctx context.Context, subject, body string, fields map[string]string) error
}

// RateLimiter admits or rejects a request for a client key
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// TaskRunner runs fire-and-forget work outside the request goroutine
type TaskRunner interface {
	Go(name string, task func())
}

// goRunner runs each task on its own goroutine
type goRunner struct{}

func (goRunner) Go(_ string, task func()) { go task() }
