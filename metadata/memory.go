package metadata

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tasm/model"
)

type labelIndex struct {
	frames  *roaring.Bitmap
	byFrame map[int][]model.Rect
	seen    map[model.Key]struct{}
}

type partition struct {
	bounds *model.FrameSize
	labels map[string]*labelIndex
}

// MemoryCatalog is an in-process Catalog.
// It is safe for concurrent use.
type MemoryCatalog struct {
	mu     sync.RWMutex
	parts  map[string]*partition
	closed bool
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{parts: make(map[string]*partition)}
}

// Add implements Catalog.
func (c *MemoryCatalog) Add(ctx context.Context, dets ...model.Detection) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	err := validate(dets, func(id string) (*model.FrameSize, error) {
		if p, ok := c.parts[id]; ok {
			return p.bounds, nil
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	added := 0
	for _, d := range dets {
		p, ok := c.parts[d.MetadataID]
		if !ok {
			p = &partition{labels: make(map[string]*labelIndex)}
			c.parts[d.MetadataID] = p
		}
		li, ok := p.labels[d.Label]
		if !ok {
			li = &labelIndex{
				frames:  roaring.New(),
				byFrame: make(map[int][]model.Rect),
				seen:    make(map[model.Key]struct{}),
			}
			p.labels[d.Label] = li
		}
		k := d.Key()
		if _, dup := li.seen[k]; dup {
			continue
		}
		li.seen[k] = struct{}{}
		li.frames.Add(uint32(d.Frame)) // bounded by model.MaxFrame in validate
		li.byFrame[d.Frame] = append(li.byFrame[d.Frame], d.Box)
		added++
	}
	return added, nil
}

// lookup returns a clone of the matching frame bitmap.
func (c *MemoryCatalog) lookup(metadataID, label string, frames *model.FrameRange) (*FrameSet, *labelIndex, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, nil, ErrClosed
	}
	p, ok := c.parts[metadataID]
	if !ok {
		return nil, nil, ErrUnknownMetadata
	}
	li, ok := p.labels[label]
	if !ok {
		return NewFrameSet(), nil, nil
	}
	fs := &FrameSet{rb: li.frames.Clone()}
	if frames != nil {
		fs.Restrict(*frames)
	}
	return fs, li, nil
}

// Query implements Catalog.
func (c *MemoryCatalog) Query(ctx context.Context, metadataID, label string, frames *model.FrameRange) iter.Seq2[model.Detection, error] {
	fs, li, err := c.lookup(metadataID, label, frames)
	if err != nil {
		return errSeq(err)
	}
	return func(yield func(model.Detection, error) bool) {
		if li == nil {
			return
		}
		for f := range fs.All() {
			if err := ctx.Err(); err != nil {
				yield(model.Detection{}, err)
				return
			}
			c.mu.RLock()
			boxes := slices.Clone(li.byFrame[f])
			c.mu.RUnlock()
			for _, b := range boxes {
				if !yield(model.Detection{MetadataID: metadataID, Label: label, Frame: f, Box: b}, nil) {
					return
				}
			}
		}
	}
}

// Frames implements Catalog.
func (c *MemoryCatalog) Frames(ctx context.Context, metadataID, label string, frames *model.FrameRange) (*FrameSet, error) {
	fs, _, err := c.lookup(metadataID, label, frames)
	return fs, err
}

// Labels implements Catalog.
func (c *MemoryCatalog) Labels(ctx context.Context, metadataID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	p, ok := c.parts[metadataID]
	if !ok {
		return nil, ErrUnknownMetadata
	}
	return slices.Sorted(maps.Keys(p.labels)), nil
}

// Has implements Catalog.
func (c *MemoryCatalog) Has(ctx context.Context, metadataID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, ErrClosed
	}
	_, ok := c.parts[metadataID]
	return ok, nil
}

// SetBounds implements Catalog.
func (c *MemoryCatalog) SetBounds(ctx context.Context, metadataID string, size model.FrameSize) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	p, ok := c.parts[metadataID]
	if !ok {
		p = &partition{labels: make(map[string]*labelIndex)}
		c.parts[metadataID] = p
	}
	p.bounds = &size
	return nil
}

// Bounds implements Catalog.
func (c *MemoryCatalog) Bounds(ctx context.Context, metadataID string) (model.FrameSize, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return model.FrameSize{}, false, ErrClosed
	}
	p, ok := c.parts[metadataID]
	if !ok || p.bounds == nil {
		return model.FrameSize{}, false, nil
	}
	return *p.bounds, true, nil
}

// Close implements Catalog.
func (c *MemoryCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.parts = nil
	return nil
}
