package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/liliang-cn/ragchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService(t *testing.T) {
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewConversationRepository(db)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, q := range []string{"first", "second", "third"} {
		_, err := repo.Create(ctx, &domain.ConversationRecord{
			ID:        q,
			Question:  q,
			ConvID:    "conv-1",
			UUID:      "client-1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	s := NewAdminService(repo, "site-1")

	rec, err := s.GetConversation(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Question)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recent, err := s.ListConversations(ctx, "client-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Question)

	_, err = s.ListConversations(ctx, "", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	turns, err := s.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "first", turns[0].Question)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalConversations)
	assert.Equal(t, "site-1", stats.SiteID)
}
