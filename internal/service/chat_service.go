package service

import (
	"context"
	"errors"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"go.uber.org/zap"
)

// ChatService admits chat requests and hands them to the orchestrators
type ChatService struct {
	site         *domain.SitePolicy
	chains       ChainProvider
	limiter      RateLimiter
	orchestrator *Orchestrator
	comparison   *ComparisonOrchestrator
	logger       *zap.Logger
}

// NewChatService creates a new chat service. site may be nil when the
// deployment has no site configured; limiter may be nil.
func NewChatService(
	site *domain.SitePolicy,
	chains ChainProvider,
	limiter RateLimiter,
	orchestrator *Orchestrator,
	comparison *ComparisonOrchestrator,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		site:         site,
		chains:       chains,
		limiter:      limiter,
		orchestrator: orchestrator,
		comparison:   comparison,
		logger:       logger,
	}
}

// Site returns the site policy, or nil if none is configured
func (s *ChatService) Site() *domain.SitePolicy {
	return s.site
}

// Prepare validates and admits a chat request. Errors are ConfigError,
// ValidationError or RateLimitError and must be answered before any
// stream is opened.
func (s *ChatService) Prepare(ctx context.Context, req *domain.ChatRequest, clientIP, requestID string) (*Turn, error) {
	started := time.Now()
	state := newTurnState(s.logger.With(zap.String("request_id", requestID)))

	if err := s.admit(ctx, req, clientIP, state); err != nil {
		return nil, err
	}

	chain, err := s.chains.Chain("")
	if err != nil {
		return nil, &domain.ConfigError{Reason: "no default model configured"}
	}

	state.to(StateRetrieving)
	return &Turn{
		Request:   req,
		Site:      s.site,
		Chain:     chain,
		ClientIP:  clientIP,
		RequestID: requestID,
		Started:   started,
	}, nil
}

// PrepareComparison validates and admits a comparison request, resolving
// both models.
func (s *ChatService) PrepareComparison(ctx context.Context, req *domain.ComparisonRequest, clientIP, requestID string) (*ComparisonTurn, error) {
	started := time.Now()
	state := newTurnState(s.logger.With(zap.String("request_id", requestID)))

	if s.site == nil || s.site.ID == "" {
		return nil, &domain.ConfigError{Reason: "site configuration missing"}
	}
	req.Normalize(s.site)
	if err := req.Validate(s.site); err != nil {
		return nil, err
	}

	chainA, err := s.chains.Chain(req.ModelA)
	if err != nil {
		return nil, &domain.ValidationError{Field: "modelA", Reason: err.Error()}
	}
	chainB, err := s.chains.Chain(req.ModelB)
	if err != nil {
		return nil, &domain.ValidationError{Field: "modelB", Reason: err.Error()}
	}

	if err := s.allow(ctx, clientIP, state); err != nil {
		return nil, err
	}

	state.to(StateRetrieving)
	return &ComparisonTurn{
		Request:   req,
		Site:      s.site,
		ChainA:    chainA,
		ChainB:    chainB,
		ClientIP:  clientIP,
		RequestID: requestID,
		Started:   started,
	}, nil
}

// Stream runs an admitted turn over em
func (s *ChatService) Stream(ctx context.Context, turn *Turn, em *StreamEmitter) {
	s.orchestrator.Run(ctx, *turn, em)
}

// StreamComparison runs an admitted comparison over em
func (s *ChatService) StreamComparison(ctx context.Context, turn *ComparisonTurn, em *StreamEmitter) {
	s.comparison.Run(ctx, *turn, em)
}

func (s *ChatService) admit(ctx context.Context, req *domain.ChatRequest, clientIP string, state *turnState) error {
	if s.site == nil || s.site.ID == "" {
		return &domain.ConfigError{Reason: "site configuration missing"}
	}
	req.Normalize(s.site)
	if err := req.Validate(s.site); err != nil {
		return err
	}
	return s.allow(ctx, clientIP, state)
}

func (s *ChatService) allow(ctx context.Context, clientIP string, state *turnState) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Allow(ctx, clientIP)
	if err == nil {
		return nil
	}

	var rlErr *domain.RateLimitError
	if errors.As(err, &rlErr) {
		state.to(StateRateLimited)
		return rlErr
	}
	s.logger.Warn("rate limiter failed, admitting request", zap.String("client_ip", clientIP), zap.Error(err))
	return nil
}
