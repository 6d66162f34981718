package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *ConversationRepository {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewConversationRepository(db)
}

func sampleRecord(convID string, ts time.Time) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		Question:   "What is RAG?",
		Answer:     "Retrieval augmented generation.",
		Collection: "docs",
		Sources: []domain.Document{
			{Content: "passage", Metadata: map[string]any{"title": "Intro"}},
		},
		History:     []domain.HistoryMessage{{Role: "user", Content: "hello"}},
		ClientIP:    "10.0.0.1",
		Timestamp:   ts,
		ConvID:      convID,
		Suggestions: []string{"Tell me more"},
		UUID:        "3f1c2b7e-8a4d-4c6e-9b1a-2d3e4f5a6b7c",
	}
}

func TestConversationRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := sampleRecord("conv-1", time.Now().UTC())
	id, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Question, got.Question)
	assert.Equal(t, "Intro", got.Sources[0].Title())
	assert.Equal(t, []string{"Tell me more"}, got.Suggestions)
	assert.Empty(t, got.Title)

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConversationRepository_CreateConflictAppends(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := sampleRecord("conv-1", time.Now().UTC())
	first.ID = "fixed-id"
	id1, err := repo.Create(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id1)

	retry := sampleRecord("conv-1", time.Now().UTC())
	retry.ID = "fixed-id"
	id2, err := repo.Create(ctx, retry)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConversationRepository_TitleWrittenOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, sampleRecord("conv-1", time.Now().UTC()))
	require.NoError(t, err)

	first, second := "First title", "Second title"
	require.NoError(t, repo.Update(ctx, id, domain.RecordPatch{Title: &first}))
	require.NoError(t, repo.Update(ctx, id, domain.RecordPatch{Title: &second}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, got.Title)

	assert.ErrorIs(t, repo.Update(ctx, "missing", domain.RecordPatch{Title: &first}), domain.ErrNotFound)
}

func TestConversationRepository_List(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, sampleRecord("conv-a", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, sampleRecord("conv-b", base.Add(10*time.Minute)))
	require.NoError(t, err)

	turns, err := repo.ListByConvID(ctx, "conv-a")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.True(t, turns[0].Timestamp.Before(turns[2].Timestamp))

	recent, err := repo.ListByUUID(ctx, "3f1c2b7e-8a4d-4c6e-9b1a-2d3e4f5a6b7c", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "conv-b", recent[0].ConvID)
}
