package llm

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const titleSystemPrompt = "Write a short title (at most six words) for a conversation that starts with the user's question. Reply with the title only, without quotes."

const maxTitleLength = 80

// TitleGenerator names new conversations with a small chat model
type TitleGenerator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewTitleGenerator creates a generator for an OpenAI-compatible endpoint
func NewTitleGenerator(baseURL, apiKey, model string, logger *zap.Logger) *TitleGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &TitleGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Generate returns a title for question, or "" when none could be produced
func (g *TitleGenerator) Generate(ctx context.Context, question string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		Temperature: 0.3,
		MaxTokens:   24,
	})
	if err != nil {
		g.logger.Debug("title generation failed", zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return cleanTitle(resp.Choices[0].Message.Content), nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimPrefix(s, "Title:")
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if r := []rune(s); len(r) > maxTitleLength {
		s = string(r[:maxTitleLength])
	}
	return s
}
