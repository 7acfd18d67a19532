package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilController(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	n, err := c.WaitMemory(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.TryAcquireMemory(100))
	c.ReleaseMemory(100)
	assert.NoError(t, c.AcquireBackground(ctx))
	c.ReleaseBackground()
	assert.NoError(t, c.AcquireIO(ctx, 1<<20))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MemoryLimitBytes: 100})

	n, err := c.WaitMemory(ctx, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(60), n)
	assert.Equal(t, int64(60), c.MemoryUsage())

	assert.ErrorIs(t, c.TryAcquireMemory(50), ErrMemoryLimitExceeded)

	// Blocks until released.
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = c.WaitMemory(tctx, 50)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	c.ReleaseMemory(n)
	assert.Zero(t, c.MemoryUsage())

	// Oversized requests reserve the whole limit.
	n, err = c.WaitMemory(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	c.ReleaseMemory(n)
}

func TestBackground(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxBackgroundJobs: 1})
	require.NoError(t, c.AcquireBackground(ctx))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireBackground(tctx))

	c.ReleaseBackground()
	require.NoError(t, c.AcquireBackground(ctx))
	c.ReleaseBackground()
}

func TestAcquireIOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	assert.NoError(t, c.AcquireIO(context.Background(), 1<<19))
}
