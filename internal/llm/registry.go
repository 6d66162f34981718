package llm

import (
	"fmt"

	"github.com/liliang-cn/ragchat/internal/config"
	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Registry resolves configured model names to generation chains
type Registry struct {
	chains       map[string]*Chain
	defaultModel string
}

// NewRegistry creates a registry from pre-built chains
func NewRegistry(defaultModel string, chains ...*Chain) *Registry {
	r := &Registry{chains: make(map[string]*Chain, len(chains)), defaultModel: defaultModel}
	for _, c := range chains {
		r.chains[c.Name()] = c
	}
	if r.defaultModel == "" && len(chains) > 0 {
		r.defaultModel = chains[0].Name()
	}
	return r
}

// NewRegistryFromConfig builds one OpenAI-compatible chain per configured model
func NewRegistryFromConfig(cfg config.LLMConfig, logger *zap.Logger) (*Registry, error) {
	models := cfg.Models
	if len(models) == 0 {
		models = []config.ModelConfig{{Name: cfg.DefaultModel, Model: cfg.DefaultModel}}
	}

	opts := ChainOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Suggestions: cfg.Suggestions,
	}

	chains := make([]*Chain, 0, len(models))
	for _, m := range models {
		model, err := newOpenAIModel(cfg, m)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		chains = append(chains, NewChain(m.Name, model, opts, logger))
	}

	return NewRegistry(cfg.DefaultModel, chains...), nil
}

func newOpenAIModel(cfg config.LLMConfig, m config.ModelConfig) (llms.Model, error) {
	baseURL, apiKey := m.BaseURL, m.APIKey
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		// Local OpenAI-compatible servers accept any token
		apiKey = "none"
	}
	name := m.Model
	if name == "" {
		name = m.Name
	}

	return openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithModel(name),
	)
}

// Chain returns the chain for name; an empty name selects the default model
func (r *Registry) Chain(name string) (domain.GenerationChain, error) {
	if name == "" {
		name = r.defaultModel
	}
	c, ok := r.chains[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	return c, nil
}

// Names returns the registered model names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	return names
}
