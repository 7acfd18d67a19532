package model

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDetection is returned when a detection violates its geometric invariants.
var ErrInvalidDetection = errors.New("invalid detection")

// MaxFrame is the largest frame index a detection may carry. Frame indexes are
// stored in 32-bit frame bitmaps.
const MaxFrame = math.MaxUint32

// Detection is a labeled bounding box on a single frame.
//
// Detections are immutable once stored and are partitioned by MetadataID.
type Detection struct {
	MetadataID string `json:"metadata_id"`
	Label      string `json:"label"`
	Frame      int    `json:"frame"`
	Box        Rect   `json:"box"`
}

// NewDetection builds a detection from raw corner coordinates.
func NewDetection(metadataID, label string, frame, x1, y1, x2, y2 int) Detection {
	return Detection{
		MetadataID: metadataID,
		Label:      label,
		Frame:      frame,
		Box:        R(x1, y1, x2, y2),
	}
}

// Validate checks the structural invariants of d. If bounds is non-nil the box must also
// lie inside the frame.
func (d Detection) Validate(bounds *FrameSize) error {
	switch {
	case d.MetadataID == "":
		return fmt.Errorf("%w: empty metadata id", ErrInvalidDetection)
	case d.Label == "":
		return fmt.Errorf("%w: empty label", ErrInvalidDetection)
	case d.Frame < 0:
		return fmt.Errorf("%w: negative frame %d", ErrInvalidDetection, d.Frame)
	case uint64(d.Frame) > MaxFrame:
		return fmt.Errorf("%w: frame %d exceeds %d", ErrInvalidDetection, d.Frame, uint64(MaxFrame))
	case d.Box.X1 < 0 || d.Box.Y1 < 0:
		return fmt.Errorf("%w: negative coordinate in %s", ErrInvalidDetection, d.Box)
	case d.Box.X1 >= d.Box.X2 || d.Box.Y1 >= d.Box.Y2:
		return fmt.Errorf("%w: degenerate box %s", ErrInvalidDetection, d.Box)
	}
	if bounds != nil && (d.Box.X2 > bounds.Width || d.Box.Y2 > bounds.Height) {
		return fmt.Errorf("%w: box %s outside %dx%d frame", ErrInvalidDetection, d.Box, bounds.Width, bounds.Height)
	}
	return nil
}

// Key identifies a detection for duplicate elimination.
type Key struct {
	Frame int
	Box   Rect
}

// Key returns the identity of d within its (metadata id, label) partition.
func (d Detection) Key() Key {
	return Key{Frame: d.Frame, Box: d.Box}
}
