package regret

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tasm/internal/selection"
)

func TestTrackerIgnoresInactive(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Record("v", "v", "car", 1, 100))
	assert.Zero(t, tr.Regret("v", "car"))

	tr.Activate("v", "meta")
	assert.False(t, tr.Record("v", "other", "car", 1, 100), "different metadata id")
	assert.True(t, tr.Record("v", "meta", "car", 1, 100))
	assert.Equal(t, int64(100), tr.Regret("v", "car"))

	tr.Deactivate("v")
	assert.Zero(t, tr.Regret("v", "car"))
	_, ok := tr.Active("v")
	assert.False(t, ok)
}

func TestTrackerMonotonic(t *testing.T) {
	tr := NewTracker()
	tr.Activate("v", "v")
	var last int64
	for i := range 20 {
		tr.Record("v", "v", "car", 1, int64(i%3))
		// Negative regret is never subtracted.
		tr.Record("v", "v", "car", 1, -5)
		cur := tr.Regret("v", "car")
		require.GreaterOrEqual(t, cur, last)
		last = cur
	}
	assert.Equal(t, int64(19), last)
}

func TestTrackerReactivateKeepsRegret(t *testing.T) {
	tr := NewTracker()
	tr.Activate("v", "v")
	tr.Record("v", "v", "car", 1, 10)
	tr.Activate("v", "v")
	assert.Equal(t, int64(10), tr.Regret("v", "car"))

	tr.Activate("v", "other")
	assert.Zero(t, tr.Regret("v", "car"))
}

func TestTrackerResetDropsStaleSamples(t *testing.T) {
	tr := NewTracker()
	tr.Activate("v", "v")
	tr.Record("v", "v", "car", 1, 50)
	tr.Record("v", "v", "person", 1, 20)

	tr.Reset("v", []string{"car"}, 2)
	assert.Zero(t, tr.Regret("v", "car"))
	assert.Equal(t, int64(20), tr.Regret("v", "person"), "labels not reset are kept")

	assert.False(t, tr.Record("v", "v", "car", 1, 50), "sample from the superseded layout")
	assert.Zero(t, tr.Regret("v", "car"))
	assert.True(t, tr.Record("v", "v", "car", 2, 7))
	assert.Equal(t, map[string]int64{"car": 7, "person": 20}, tr.Snapshot("v"))
}

func TestTrackerResetAll(t *testing.T) {
	tr := NewTracker()
	tr.ResetAll("v", 3) // untracked videos are ignored

	tr.Activate("v", "v")
	tr.Record("v", "v", "car", 1, 50)
	tr.Record("v", "v", "person", 1, 20)

	tr.ResetAll("v", 2)
	assert.Equal(t, map[string]int64{"car": 0, "person": 0}, tr.Snapshot("v"))
	id, ok := tr.Active("v")
	require.True(t, ok, "tracking stays active")
	assert.Equal(t, "v", id)

	assert.False(t, tr.Record("v", "v", "car", 1, 50), "sample from the replaced content")
	assert.True(t, tr.Record("v", "v", "car", 2, 9))
	assert.Equal(t, int64(9), tr.Regret("v", "car"))
}

func TestTrackerObserve(t *testing.T) {
	tr := NewTracker()
	tr.Activate("v", "v")

	base := selection.Sample{Video: "v", MetadataID: "v", Label: "car", Version: 1, Decoded: 100, Ideal: 40}
	assert.True(t, tr.Observe(base))

	frames := base
	frames.Mode = selection.Frames
	assert.False(t, tr.Observe(frames))

	failed := base
	failed.Err = errors.New("boom")
	assert.False(t, tr.Observe(failed))

	assert.Equal(t, int64(60), tr.Regret("v", "car"))
}

func TestTrackerConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	tr.Activate("v", "v")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				tr.Record("v", "v", "car", 1, 3)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8*1000*3), tr.Regret("v", "car"))
}

func TestAbove(t *testing.T) {
	got := above(map[string]int64{"a": 10, "b": 11, "c": 12, "d": 0}, 10)
	assert.Equal(t, []string{"b", "c"}, got)
	assert.Empty(t, above(map[string]int64{}, 0))
}
