package tasm

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/regret"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
)

var (
	// ErrInvalidDetection is returned when a bounding box or frame violates its invariants.
	// Invalid detections are rejected, never clamped.
	ErrInvalidDetection = model.ErrInvalidDetection

	// ErrUnknownVideo is returned for a video name that was never stored.
	ErrUnknownVideo = store.ErrUnknownVideo

	// ErrUnknownMetadata is returned for a metadata id without detections or bounds.
	ErrUnknownMetadata = metadata.ErrUnknownMetadata

	// ErrEmptyDetectionSet is returned when a non-uniform layout is requested for a label
	// without detections. Callers should fall back to a uniform or untiled layout.
	ErrEmptyDetectionSet = layout.ErrEmptyDetectionSet

	// ErrCodecFailure classifies encode and decode failures. The affected call aborts
	// and the stored video is left unchanged.
	ErrCodecFailure = codec.ErrCodecFailure

	// ErrInvalidLayout is returned for layout descriptors that do not partition their frames.
	ErrInvalidLayout = model.ErrInvalidLayout

	// ErrInvalidName is returned for video names that cannot be stored.
	ErrInvalidName = store.ErrInvalidName

	// ErrRegretNotActive is returned by RetileBasedOnRegret for untracked videos.
	ErrRegretNotActive = regret.ErrNotActive

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tasm: closed")
)

// CodecError describes a failed encode or decode of a single tile.
//
// Use errors.As to inspect it; errors.Is(err, ErrCodecFailure) reports true.
type CodecError = codec.Error

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
