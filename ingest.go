package tasm

import (
	"context"

	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
)

// Detection is a labeled bounding box on one frame of a video.
type Detection = model.Detection

// NewDetection returns a detection of label on frame with box [x1,x2) x [y1,y2).
func NewDetection(metadataID, label string, frame, x1, y1, x2, y2 int) Detection {
	return model.NewDetection(metadataID, label, frame, x1, y1, x2, y2)
}

// AddMetadata adds one detection. Adding an exact duplicate is a no-op.
func (t *TASM) AddMetadata(ctx context.Context, metadataID, label string, frame, x1, y1, x2, y2 int) error {
	_, err := t.AddBulkMetadata(ctx, NewDetection(metadataID, label, frame, x1, y1, x2, y2))
	return err
}

// AddBulkMetadata adds detections in one batch and returns how many were new.
// If any detection is invalid the whole batch is rejected with ErrInvalidDetection.
func (t *TASM) AddBulkMetadata(ctx context.Context, dets ...Detection) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	n, err := t.catalog.Add(ctx, dets...)
	t.logger.LogIngest(ctx, len(dets), n, err)
	return n, err
}

// Detections returns the detections of label under metadataID, optionally
// restricted to a frame range. Order is not guaranteed.
func (t *TASM) Detections(ctx context.Context, metadataID, label string, opts ...SelectOption) ([]Detection, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	var so selectOptions
	for _, fn := range opts {
		fn(&so)
	}
	return metadata.Collect(t.catalog.Query(ctx, metadataID, label, so.frames))
}

// Labels returns the distinct labels recorded under metadataID.
func (t *TASM) Labels(ctx context.Context, metadataID string) ([]string, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.catalog.Labels(ctx, metadataID)
}
