// Package llm wraps the language model clients used to answer and title conversations
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

const answerSystemPrompt = `You are a helpful assistant answering questions about a document library.
Answer using only the numbered sources below. If they do not contain the answer, say so.

Sources:
%s`

const restatePrompt = `Given the conversation below, rewrite the final question so it can be understood without the conversation. Reply with the rewritten question only.

%s
Final question: %s`

const suggestionsPrompt = `Question: %s
Answer: %s

Suggest %d short follow-up questions the user might ask next. Reply with one question per line and nothing else.`

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// ChainOptions configures generation parameters
type ChainOptions struct {
	Temperature float64
	MaxTokens   int
	Suggestions int
}

// Chain answers a question from retrieved documents with one chat model
type Chain struct {
	name   string
	model  llms.Model
	opts   ChainOptions
	logger *zap.Logger
}

// NewChain creates a chain named name over model
func NewChain(name string, model llms.Model, opts ChainOptions, logger *zap.Logger) *Chain {
	return &Chain{
		name:   name,
		model:  model,
		opts:   opts,
		logger: logger.With(zap.String("model", name)),
	}
}

// Name returns the configured model name
func (c *Chain) Name() string {
	return c.name
}

// Invoke starts generation and returns a channel of token events followed
// by exactly one result or error event. The channel is closed afterwards.
// Nothing is sent once ctx is done.
func (c *Chain) Invoke(ctx context.Context, in domain.GenerationInput) (<-chan domain.ChainEvent, error) {
	events := make(chan domain.ChainEvent, 64)

	go func() {
		defer close(events)

		send := func(ev domain.ChainEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		result, err := c.run(ctx, in, func(token string) error {
			if !send(domain.ChainEvent{Token: token}) {
				return ctx.Err()
			}
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			send(domain.ChainEvent{Err: c.wrapError(err)})
			return
		}
		send(domain.ChainEvent{Result: result})
	}()

	return events, nil
}

func (c *Chain) run(ctx context.Context, in domain.GenerationInput, onToken func(string) error) (*domain.GenerationResult, error) {
	question := in.Question
	restated := ""
	if len(in.History) > 0 {
		r, err := c.restate(ctx, in)
		if err != nil {
			return nil, err
		}
		restated = r
		question = r
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(answerSystemPrompt, formatSources(in.Documents))),
	}
	for _, h := range in.History {
		role := llms.ChatMessageTypeHuman
		if h.Role == "assistant" {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, h.Content))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, question))

	var answer strings.Builder
	callOpts := []llms.CallOption{
		llms.WithTemperature(c.opts.Temperature),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			answer.Write(chunk)
			return onToken(string(chunk))
		}),
	}
	if c.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.opts.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return nil, err
	}

	text := answer.String()
	if text == "" && len(resp.Choices) > 0 {
		// Non-streaming providers return the whole answer at once
		text = resp.Choices[0].Content
		if text != "" {
			if err := onToken(text); err != nil {
				return nil, err
			}
		}
	}

	return &domain.GenerationResult{
		Answer:           text,
		RestatedQuestion: restated,
		Suggestions:      c.suggest(ctx, question, text),
		FinalDocuments:   in.Documents,
	}, nil
}

func (c *Chain) restate(ctx context.Context, in domain.GenerationInput) (string, error) {
	var transcript strings.Builder
	for _, h := range in.History {
		fmt.Fprintf(&transcript, "%s: %s\n", h.Role, h.Content)
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model,
		fmt.Sprintf(restatePrompt, transcript.String(), in.Question),
		llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return in.Question, nil
	}
	return out, nil
}

// Suggestion failures leave the list empty
func (c *Chain) suggest(ctx context.Context, question, answer string) []string {
	if c.opts.Suggestions <= 0 || answer == "" {
		return nil
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model,
		fmt.Sprintf(suggestionsPrompt, question, answer, c.opts.Suggestions))
	if err != nil {
		c.logger.Debug("suggestion generation failed", zap.Error(err))
		return nil
	}
	return parseSuggestions(out, c.opts.Suggestions)
}

func parseSuggestions(out string, limit int) []string {
	var suggestions []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line == "" {
			continue
		}
		suggestions = append(suggestions, line)
		if len(suggestions) == limit {
			break
		}
	}
	return suggestions
}

func formatSources(docs []domain.Document) string {
	if len(docs) == 0 {
		return "(no sources found)"
	}
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d]", i+1)
		if title := d.Title(); title != "" {
			fmt.Fprintf(&b, " %s", title)
		}
		fmt.Fprintf(&b, "\n%s\n\n", d.Content)
	}
	return b.String()
}

func (c *Chain) wrapError(err error) error {
	var genErr *domain.GenerationError
	if errors.As(err, &genErr) {
		return err
	}

	code := statusCode(err)
	var llmErr *llms.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case llms.ErrCodeRateLimit, llms.ErrCodeQuotaExceeded:
			err = fmt.Errorf("%w: %v", domain.ErrGenerationQuota, err)
			if code == 0 {
				code = 429
			}
		case llms.ErrCodeProviderUnavailable:
			err = fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
		}
	}
	return &domain.GenerationError{Model: c.name, StatusCode: code, Err: err}
}

func statusCode(err error) int {
	m := statusCodePattern.FindStringSubmatch(strings.ToLower(err.Error()))
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}
