package ctxsync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinicius-lino-figueiredo/liveview/pkg/ctxsync"
)

func TestBroadcast(t *testing.T) {
	var mu sync.Mutex
	c := ctxsync.NewCond(&mu)

	const waiters = 10
	ready := false
	var started, finished sync.WaitGroup
	started.Add(waiters)
	finished.Add(waiters)

	for range waiters {
		go func() {
			defer finished.Done()
			mu.Lock()
			started.Done()
			for !ready {
				assert.NoError(t, c.WaitWithContext(context.Background()))
			}
			mu.Unlock()
		}()
	}

	started.Wait()
	mu.Lock()
	ready = true
	mu.Unlock()
	c.Broadcast()

	finished.Wait()
}

func TestWaitCancelled(t *testing.T) {
	var mu sync.Mutex
	c := ctxsync.NewCond(&mu)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	mu.Lock()
	err := c.WaitWithContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the lock is held again after returning
	assert.False(t, mu.TryLock())
	mu.Unlock()
}

func TestBroadcastWithoutWaiters(t *testing.T) {
	var mu sync.Mutex
	c := ctxsync.NewCond(&mu)
	assert.NotPanics(t, c.Broadcast)
	assert.NotPanics(t, c.Broadcast)
}
