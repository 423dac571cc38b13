package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRefresher struct {
	calls     atomic.Int32
	cancelled atomic.Bool
	block     bool
}

func (r *blockingRefresher) Refresh(ctx context.Context) (int, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		r.cancelled.Store(true)
		return 0, ctx.Err()
	}
	return 500, nil
}

func TestUniverseScheduler_RefreshNow(t *testing.T) {
	r := &blockingRefresher{}
	u := NewUniverseScheduler(r, "@every 1h", nil)

	require.NoError(t, u.Start(context.Background(), true))
	defer u.Stop()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Error(t, u.Start(context.Background(), false))
}

func TestUniverseScheduler_InvalidSchedule(t *testing.T) {
	u := NewUniverseScheduler(&blockingRefresher{}, "every tuesday", nil)
	err := u.Start(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid universe schedule")
}

func TestUniverseScheduler_StopCancelsRefresh(t *testing.T) {
	r := &blockingRefresher{block: true}
	u := NewUniverseScheduler(r, "@daily", nil)

	require.NoError(t, u.Start(context.Background(), true))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	u.Stop()
	require.Eventually(t, r.cancelled.Load, time.Second, 5*time.Millisecond)

	// idempotent
	u.Stop()
}
