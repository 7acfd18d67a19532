package tasm

import (
	"context"

	"github.com/hupe1980/tasm/internal/selection"
)

// Image is one query result. The exhaustion marker is an Image whose IsEmpty
// reports true.
type Image = selection.Image

// Cursor is a lazy, pull-based query result. Call Next until it returns an empty
// Image, or range over All. A cursor keeps the tiles it reads alive until it is
// exhausted or closed, and is not safe for concurrent use.
type Cursor = selection.Cursor

// Select yields the pixels of every detection of label under metadataID, cropped
// to its bounding box.
func (t *TASM) Select(ctx context.Context, video, metadataID, label string, opts ...SelectOption) (*Cursor, error) {
	return t.selectMode(ctx, selection.Objects, video, metadataID, label, opts)
}

// SelectTiles yields every decoded tile that contains a detection of label, once
// per (frame, tile) pair.
func (t *TASM) SelectTiles(ctx context.Context, video, metadataID, label string, opts ...SelectOption) (*Cursor, error) {
	return t.selectMode(ctx, selection.Tiles, video, metadataID, label, opts)
}

// SelectFrames yields every full frame that contains a detection of label, once
// per frame.
func (t *TASM) SelectFrames(ctx context.Context, video, metadataID, label string, opts ...SelectOption) (*Cursor, error) {
	return t.selectMode(ctx, selection.Frames, video, metadataID, label, opts)
}

func (t *TASM) selectMode(ctx context.Context, mode selection.Mode, video, metadataID, label string, opts []SelectOption) (*Cursor, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	var so selectOptions
	for _, fn := range opts {
		fn(&so)
	}
	c, err := t.engine.Select(ctx, selection.Request{
		Video:      video,
		MetadataID: metadataID,
		Label:      label,
		Frames:     so.frames,
		Mode:       mode,
	})
	if err != nil {
		t.logger.LogSelect(ctx, video, label, mode.String(), 0, err)
		return nil, err
	}
	return c, nil
}
