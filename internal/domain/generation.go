package domain

import "context"

// GenerationInput is everything a generation chain needs for one answer
type GenerationInput struct {
	Question  string
	History   []HistoryMessage
	Documents []Document
}

// GenerationResult is the final structured output of a chain
type GenerationResult struct {
	Answer           string
	RestatedQuestion string
	Suggestions      []string
	FinalDocuments   []Document
}

// ChainEvent is one item on a chain's output channel: a token,
// the final result, or an error. Exactly one field is set.
type ChainEvent struct {
	Token  string
	Result *GenerationResult
	Err    error
}

// GenerationChain answers one question from retrieved documents.
// Invoke returns a channel carrying tokens, then one Result or Err event,
// and is closed afterwards. Implementations stop sending once ctx is done.
type GenerationChain interface {
	Invoke(ctx context.Context, in GenerationInput) (<-chan ChainEvent, error)
}
