// Package tileset provides reference-counted snapshots of a video's published tiles.
//
// The Video Store holds one reference to the active TileSet of every video and
// each in-flight selection holds another. A retile publishes a new TileSet and
// drops the store's reference to the old one; the old tiles are released when
// the last selection using them finishes.
package tileset

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/model"
)

// TileSet is an immutable published layout and its tile chunks.
type TileSet struct {
	manifest  *manifest.Manifest
	offsets   []int // index of the first tile of each segment
	refs      atomic.Int64
	onRelease func(*manifest.Manifest)
	released  sync.Once
}

// New returns a TileSet with one reference held by the caller.
// onRelease runs once, after the last reference is dropped.
func New(m *manifest.Manifest, onRelease func(*manifest.Manifest)) *TileSet {
	t := &TileSet{manifest: m, onRelease: onRelease}
	if m.Layout != nil {
		t.offsets = make([]int, len(m.Layout.Segments))
		n := 0
		for i, seg := range m.Layout.Segments {
			t.offsets[i] = n
			n += len(seg.Tiles)
		}
	}
	t.refs.Store(1)
	return t
}

// Segment returns the segment containing frame and the manifest index of its first tile.
func (t *TileSet) Segment(frame int) (model.Segment, int, bool) {
	l := t.manifest.Layout
	if l == nil {
		return model.Segment{}, 0, false
	}
	i := l.SegmentIndex(frame)
	if i < 0 {
		return model.Segment{}, 0, false
	}
	return l.Segments[i], t.offsets[i], true
}

// Tile returns the manifest entry of tile index i.
func (t *TileSet) Tile(i int) *manifest.TileInfo {
	return &t.manifest.Tiles[i]
}

// Manifest returns the manifest describing the tiles.
func (t *TileSet) Manifest() *manifest.Manifest { return t.manifest }

// Layout returns the layout descriptor.
func (t *TileSet) Layout() *model.Layout { return t.manifest.Layout }

// Version returns the manifest version the tiles were published under.
func (t *TileSet) Version() uint64 { return t.manifest.ID }

// Video returns the owning video name.
func (t *TileSet) Video() string { return t.manifest.Video }

// Refs returns the current reference count.
func (t *TileSet) Refs() int64 { return t.refs.Load() }

// IncRef adds a reference. The caller must already hold one.
func (t *TileSet) IncRef() {
	t.refs.Add(1)
}

// TryIncRef attempts to increment the reference count.
// Returns false if the tile set is already released (refs == 0).
func (t *TileSet) TryIncRef() bool {
	for {
		refs := t.refs.Load()
		if refs <= 0 {
			return false
		}
		if t.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops a reference and releases the tiles when it was the last one.
func (t *TileSet) DecRef() {
	if t.refs.Add(-1) == 0 {
		t.released.Do(func() {
			if t.onRelease != nil {
				t.onRelease(t.manifest)
			}
		})
	}
}

// Handle is the swappable pointer to a video's active TileSet.
type Handle struct {
	current atomic.Pointer[TileSet]
}

// NewHandle returns a Handle publishing ts. The handle owns the reference passed in.
func NewHandle(ts *TileSet) *Handle {
	h := &Handle{}
	h.current.Store(ts)
	return h
}

// Acquire returns the active TileSet with a reference held for the caller.
// The caller must DecRef it when done.
func (h *Handle) Acquire() *TileSet {
	for {
		ts := h.current.Load()
		if ts == nil {
			return nil
		}
		if ts.TryIncRef() {
			return ts
		}
		// Swapped and released between Load and TryIncRef; retry with the new one.
	}
}

// Peek returns the active TileSet without taking a reference.
func (h *Handle) Peek() *TileSet { return h.current.Load() }

// Swap publishes next and drops the handle's reference to the previous set.
func (h *Handle) Swap(next *TileSet) {
	if prev := h.current.Swap(next); prev != nil {
		prev.DecRef()
	}
}

// Clear unpublishes the active set and drops the handle's reference to it.
func (h *Handle) Clear() {
	h.Swap(nil)
}
