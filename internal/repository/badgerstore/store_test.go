package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(convID string, ts time.Time) *domain.ConversationRecord {
	return &domain.ConversationRecord{
		Question:  "q",
		Answer:    "a",
		ConvID:    convID,
		UUID:      "3f1c2b7e-8a4d-4c6e-9b1a-2d3e4f5a6b7c",
		Timestamp: ts,
	}
}

func TestStore_CreateGetUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, record("conv-1", time.Now()))
	require.NoError(t, err)

	title := "Vector search basics"
	require.NoError(t, s.Update(ctx, id, domain.RecordPatch{Title: &title}))
	other := "Something else"
	require.NoError(t, s.Update(ctx, id, domain.RecordPatch{Title: &other}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, title, got.Title)

	missing, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.Update(ctx, "missing", domain.RecordPatch{Title: &title}), domain.ErrNotFound)
}

func TestStore_CreateConflictAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := record("conv-1", time.Now())
	a.ID = "same"
	b := record("conv-1", time.Now())
	b.ID = "same"

	id1, err := s.Create(ctx, a)
	require.NoError(t, err)
	id2, err := s.Create(ctx, b)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_Lists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := s.Create(ctx, record("conv-a", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, record("conv-b", base.Add(time.Hour)))
	require.NoError(t, err)

	turns, err := s.ListByConvID(ctx, "conv-a")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.True(t, turns[0].Timestamp.Before(turns[1].Timestamp))

	recent, err := s.ListByUUID(ctx, "3f1c2b7e-8a4d-4c6e-9b1a-2d3e4f5a6b7c", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "conv-b", recent[0].ConvID)
}

func TestStore_OwnersWithSeparatorStayApart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.Create(ctx, record("a", now))
	require.NoError(t, err)
	_, err = s.Create(ctx, record("a:x", now.Add(time.Second)))
	require.NoError(t, err)

	turns, err := s.ListByConvID(ctx, "a")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a", turns[0].ConvID)

	other := record("b", now)
	other.UUID = "client"
	_, err = s.Create(ctx, other)
	require.NoError(t, err)
	spoofed := record("c", now)
	spoofed.UUID = "client:evil"
	_, err = s.Create(ctx, spoofed)
	require.NoError(t, err)

	recent, err := s.ListByUUID(ctx, "client", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "b", recent[0].ConvID)
}
