package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunner_RunsAndWaits(t *testing.T) {
	r, err := NewRunner(2, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		r.Go("count", func() {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
		})
	}
	r.Wait()

	assert.Equal(t, int32(10), n.Load())
}

func TestRunner_RecoversPanic(t *testing.T) {
	r, err := NewRunner(1, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	r.Go("boom", func() { panic("boom") })
	r.Wait()

	done := false
	r.Go("after", func() { done = true })
	r.Wait()
	assert.True(t, done)
}

func TestRetry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 2, calls)

	assert.ErrorIs(t, Retry(context.Background(), 0, 0, func() error { return nil }), ErrInvalidMaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Retry(ctx, 3, time.Millisecond, func() error { return nil }), context.Canceled)
}
