// Package regret tracks the excess decode cost of queries and re-tiles videos
// whose accumulated regret exceeds the cost of re-encoding them.
package regret

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tasm/internal/selection"
)

type videoState struct {
	// Record holds mu for reading, Reset for writing, so a reset is never
	// interleaved with the version check of a sample.
	mu         sync.RWMutex
	metadataID string
	minVersion uint64
	labels     sync.Map // label -> *atomic.Int64
}

func (v *videoState) counter(label string) *atomic.Int64 {
	if c, ok := v.labels.Load(label); ok {
		return c.(*atomic.Int64)
	}
	c, _ := v.labels.LoadOrStore(label, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Tracker accumulates regret per (video, label) for activated videos.
type Tracker struct {
	mu     sync.RWMutex
	videos map[string]*videoState
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{videos: make(map[string]*videoState)}
}

// Activate starts tracking queries of video against metadataID. Activating an
// already tracked video with the same id keeps its regret.
func (t *Tracker) Activate(video, metadataID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.videos[video]; ok && v.metadataID == metadataID {
		return
	}
	t.videos[video] = &videoState{metadataID: metadataID}
}

// Deactivate stops tracking video and discards its regret.
func (t *Tracker) Deactivate(video string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.videos, video)
}

// Active returns the metadata id tracked for video.
func (t *Tracker) Active(video string) (string, bool) {
	v := t.state(video)
	if v == nil {
		return "", false
	}
	return v.metadataID, true
}

func (t *Tracker) state(video string) *videoState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.videos[video]
}

// Record adds regret observed by a query against layout version. Samples for
// untracked pairings and superseded layout versions are discarded. It reports
// whether the sample was counted.
func (t *Tracker) Record(video, metadataID, label string, version uint64, regret int64) bool {
	v := t.state(video)
	if v == nil || v.metadataID != metadataID {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if version < v.minVersion {
		return false
	}
	if regret > 0 {
		v.counter(label).Add(regret)
	}
	return true
}

// Observe records the regret of a finished query. Full-frame queries and
// failed queries are not counted.
func (t *Tracker) Observe(s selection.Sample) bool {
	if s.Mode == selection.Frames || s.Err != nil {
		return false
	}
	return t.Record(s.Video, s.MetadataID, s.Label, s.Version, s.Regret())
}

// Regret returns the accumulated regret of (video, label).
func (t *Tracker) Regret(video, label string) int64 {
	v := t.state(video)
	if v == nil {
		return 0
	}
	if c, ok := v.labels.Load(label); ok {
		return c.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot returns the accumulated regret of every label of video.
func (t *Tracker) Snapshot(video string) map[string]int64 {
	out := make(map[string]int64)
	v := t.state(video)
	if v == nil {
		return out
	}
	v.labels.Range(func(k, c any) bool {
		out[k.(string)] = c.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Reset zeroes labels of video after a retile published version. Samples from
// queries against earlier versions are ignored from now on.
func (t *Tracker) Reset(video string, labels []string, version uint64) {
	v := t.state(video)
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.minVersion = max(v.minVersion, version)
	for _, l := range labels {
		if c, ok := v.labels.Load(l); ok {
			c.(*atomic.Int64).Store(0)
		}
	}
}

// ResetAll zeroes every label of video once its content was replaced by
// version. Tracking stays active.
func (t *Tracker) ResetAll(video string, version uint64) {
	v := t.state(video)
	if v == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.minVersion = max(v.minVersion, version)
	v.labels.Range(func(_, c any) bool {
		c.(*atomic.Int64).Store(0)
		return true
	})
}

// above returns the labels whose regret strictly exceeds threshold, sorted.
func above(snapshot map[string]int64, threshold int64) []string {
	var out []string
	for l, r := range snapshot {
		if r > threshold {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
