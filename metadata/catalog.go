package metadata

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/tasm/model"
)

var (
	// ErrUnknownMetadata is returned when a metadata id has never been registered.
	ErrUnknownMetadata = errors.New("unknown metadata")

	// ErrClosed is returned when the catalog has been closed.
	ErrClosed = errors.New("catalog closed")
)

// Catalog is a store of detections.
//
// Add is atomic: either every detection of a call becomes visible or none does.
// Exact duplicates are ignored.
type Catalog interface {
	// Add stores detections and returns how many were new.
	Add(ctx context.Context, dets ...model.Detection) (int, error)

	// Query returns the detections of (metadataID, label), optionally restricted to a
	// frame range, in ascending frame order.
	Query(ctx context.Context, metadataID, label string, frames *model.FrameRange) iter.Seq2[model.Detection, error]

	// Frames returns the set of frames with at least one matching detection.
	Frames(ctx context.Context, metadataID, label string, frames *model.FrameRange) (*FrameSet, error)

	// Labels returns the labels recorded for metadataID in sorted order.
	Labels(ctx context.Context, metadataID string) ([]string, error)

	// Has reports whether metadataID is registered.
	Has(ctx context.Context, metadataID string) (bool, error)

	// SetBounds binds metadataID to a frame size. Later detections for that id must
	// lie inside it. Binding registers the id.
	SetBounds(ctx context.Context, metadataID string, size model.FrameSize) error

	// Bounds returns the frame size bound to metadataID, if any.
	Bounds(ctx context.Context, metadataID string) (model.FrameSize, bool, error)

	Close() error
}

// Collect drains a query sequence into a slice.
func Collect(seq iter.Seq2[model.Detection, error]) ([]model.Detection, error) {
	var out []model.Detection
	for d, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// validate checks every detection against the bounds returned by lookup.
func validate(dets []model.Detection, lookup func(id string) (*model.FrameSize, error)) error {
	cache := map[string]*model.FrameSize{}
	for i, d := range dets {
		b, ok := cache[d.MetadataID]
		if !ok {
			var err error
			if b, err = lookup(d.MetadataID); err != nil {
				return err
			}
			cache[d.MetadataID] = b
		}
		if err := d.Validate(b); err != nil {
			return fmt.Errorf("detection %d: %w", i, err)
		}
	}
	return nil
}

func errSeq(err error) iter.Seq2[model.Detection, error] {
	return func(yield func(model.Detection, error) bool) {
		yield(model.Detection{}, err)
	}
}
