package service

import (
	"context"

	"github.com/liliang-cn/ragchat/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// AdminService handles admin operations
type AdminService struct {
	records RecordReader
	siteID  string
}

// NewAdminService creates a new admin service
func NewAdminService(records RecordReader, siteID string) *AdminService {
	return &AdminService{records: records, siteID: siteID}
}

// GetConversation returns one record by id
func (s *AdminService) GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// ListConversations returns a client's most recent records, newest first
func (s *AdminService) ListConversations(ctx context.Context, clientUUID string, limit int) ([]*domain.ConversationRecord, error) {
	if clientUUID == "" {
		return nil, &domain.ValidationError{Field: "uuid", Reason: "is required"}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.records.ListByUUID(ctx, clientUUID, limit)
}

// ListByConversation returns the turns of one conversation in order
func (s *AdminService) ListByConversation(ctx context.Context, convID string) ([]*domain.ConversationRecord, error) {
	return s.records.ListByConvID(ctx, convID)
}

// GetStats returns system statistics
func (s *AdminService) GetStats(ctx context.Context) (*domain.Stats, error) {
	total, err := s.records.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.Stats{TotalConversations: total, SiteID: s.siteID}, nil
}
