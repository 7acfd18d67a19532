// Package selection implements object, tile and frame queries over tiled videos.
//
// A query captures the video's active tile set when it starts, pulls matching
// detections from the catalog one frame at a time, decodes only the tiles those
// detections intersect, and hands results out through a pull cursor. Exhaustion
// is signalled by an empty Image, never by an error.
package selection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/hupe1980/tasm/internal/resource"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/internal/workerpool"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
)

// Mode selects what a query yields.
type Mode int

const (
	// Objects yields one crop per matching detection.
	Objects Mode = iota
	// Tiles yields each distinct (frame, tile) intersecting a matching detection once.
	Tiles
	// Frames yields each distinct frame with a matching detection once.
	Frames
)

func (m Mode) String() string {
	switch m {
	case Objects:
		return "objects"
	case Tiles:
		return "tiles"
	case Frames:
		return "frames"
	default:
		return "unknown"
	}
}

// Image is one query result. The zero Image marks exhaustion.
type Image struct {
	Frame int
	// Rect is the region of the frame covered by Pixels.
	Rect model.Rect
	// Tile is the tile index within the layout for Tiles results, -1 otherwise.
	Tile  int
	Label string
	// Pixels has bounds equal to Rect in frame coordinates.
	Pixels *image.RGBA
}

// IsEmpty reports whether the image is the exhaustion marker.
func (i Image) IsEmpty() bool { return i.Pixels == nil }

// Request describes a query.
type Request struct {
	Video      string
	MetadataID string
	Label      string
	// Frames restricts the query; nil means every frame with a matching detection.
	Frames *model.FrameRange
	Mode   Mode
}

// Sample summarizes the decode cost of one query. It is reported once, when the
// cursor is exhausted or closed.
type Sample struct {
	Video      string
	MetadataID string
	Label      string
	Mode       Mode
	// Version is the layout version the query ran against.
	Version uint64
	// Decoded is the pixel area of every (tile, frame) decoded.
	Decoded int64
	// Ideal is the summed area of the detections served.
	Ideal    int64
	Results  int
	Duration time.Duration
	Err      error
}

// Regret returns the excess decoded area of the sample.
func (s Sample) Regret() int64 {
	return max(0, s.Decoded-s.Ideal)
}

// Options configures an Engine.
type Options struct {
	Resources *resource.Controller
	Logger    *slog.Logger
	// Report receives the sample of every finished query.
	Report func(Sample)
}

// Engine executes queries.
type Engine struct {
	store   *store.Store
	catalog metadata.Catalog
	pool    *workerpool.Pool
	opts    Options
	logger  *slog.Logger
}

// New creates an Engine decoding tiles on pool.
func New(st *store.Store, catalog metadata.Catalog, pool *workerpool.Pool, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{store: st, catalog: catalog, pool: pool, opts: opts, logger: logger}
}

// Select starts a query. The returned cursor holds a reference to the video's
// tile set until it is exhausted or closed.
func (e *Engine) Select(ctx context.Context, req Request) (*Cursor, error) {
	if req.Frames != nil && (req.Frames.Start < 0 || req.Frames.End < req.Frames.Start) {
		return nil, fmt.Errorf("invalid frame range %v", *req.Frames)
	}
	ok, err := e.catalog.Has(ctx, req.MetadataID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", metadata.ErrUnknownMetadata, req.MetadataID)
	}

	ts, err := e.store.Acquire(req.Video)
	if err != nil {
		return nil, err
	}

	c := newCursor(ctx, e, req, ts)
	e.logger.Debug("select started", "video", req.Video, "metadata_id", req.MetadataID,
		"label", req.Label, "mode", req.Mode, "version", ts.Version())
	return c, nil
}
