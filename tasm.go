package tasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/cache"
	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/internal/regret"
	"github.com/hupe1980/tasm/internal/resource"
	"github.com/hupe1980/tasm/internal/selection"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/internal/workerpool"
	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/video"
)

// VideoInfo summarizes the active tile set of a stored video.
type VideoInfo = store.Info

// TASM is a tiled video storage manager. It is safe for concurrent use.
type TASM struct {
	opts options

	catalog     metadata.Catalog
	ownsCatalog bool
	store       *store.Store
	pool        *workerpool.Pool
	engine      *selection.Engine
	tracker     *regret.Tracker
	controller  *regret.Controller
	strategy    layout.Strategy

	logger  *Logger
	metrics MetricsCollector

	closed atomic.Bool
}

// Open opens or creates a TASM instance.
//
// Videos stored by an earlier instance with the same blob store are available
// immediately; detections persist only with the SQLite catalog.
func Open(ctx context.Context, optFns ...Option) (*TASM, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if o.opener == nil {
		o.opener = video.Open
	}

	t := &TASM{
		opts:     o,
		logger:   o.logger,
		metrics:  o.metrics,
		tracker:  regret.NewTracker(),
		strategy: o.layoutStrategy(),
	}

	dbPath, resources := o.paths()

	catalog := o.catalog
	switch {
	case catalog != nil:
	case o.inMemoryIndex:
		catalog = metadata.NewMemoryCatalog()
		t.ownsCatalog = true
	default:
		c, err := metadata.OpenSQLite(ctx, dbPath, metadata.WithLogger(o.logger.Logger))
		if err != nil {
			return nil, err
		}
		catalog = c
		t.ownsCatalog = true
	}
	t.catalog = catalog

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		MaxBackgroundJobs:  1,
		IOLimitBytesPerSec: o.encodeRateLimit,
	})

	blobs := o.blobs
	if blobs == nil {
		local, err := blobstore.NewLocalStore(resources)
		if err != nil {
			t.closeCatalog()
			return nil, err
		}
		blobs = local
	}
	if o.blockCacheSize > 0 {
		blobs = blobstore.NewCachingStore(blobs, cache.NewLRU(o.blockCacheSize, nil), 0)
	}

	enc := o.codec
	if enc == nil {
		enc = codec.NewRaw(o.compression)
	}
	st, err := store.Open(ctx, blobs,
		store.WithCodec(enc),
		store.WithCodecs(func(name string) (codec.Codec, bool) {
			if name == enc.Name() {
				return enc, true
			}
			return codec.ByName(name)
		}),
		store.WithGOPLength(o.gopLength),
		store.WithEncodeParallelism(o.workers),
		store.WithResources(rc),
		store.WithLogger(o.logger.Logger),
	)
	if err != nil {
		t.closeCatalog()
		return nil, err
	}
	t.store = st
	t.pool = workerpool.New(o.workers)

	t.engine = selection.New(st, catalog, t.pool, selection.Options{
		Resources: rc,
		Logger:    o.logger.Logger,
		Report:    t.observe,
	})
	t.controller = regret.NewController(t.tracker, st, catalog, t.strategy, o.costFactor, o.logger.Logger)

	o.logger.InfoContext(ctx, "tasm opened", "videos", len(st.Videos()), "workers", o.workers, "codec", enc.Name())
	return t, nil
}

func (t *TASM) observe(s selection.Sample) {
	t.metrics.RecordSelect(s.Mode.String(), s.Results, s.Decoded, s.Duration, s.Err)
	t.logger.LogSelect(context.Background(), s.Video, s.Label, s.Mode.String(), s.Results, s.Err)
	if t.tracker.Observe(s) {
		t.metrics.RecordRegret(s.Video, s.Label, t.tracker.Regret(s.Video, s.Label))
	}
}

func (t *TASM) closeCatalog() {
	if t.ownsCatalog {
		_ = t.catalog.Close()
	}
}

func (t *TASM) checkOpen() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close releases all resources. Stored tiles and detections in the SQLite
// catalog persist. Open cursors must be closed before Close.
func (t *TASM) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.pool.Close()
	err := t.store.Close()
	if t.ownsCatalog {
		err = errors.Join(err, t.catalog.Close())
	}
	return err
}

// openSource opens path and buffers it when the frame count is not known up front.
func (t *TASM) openSource(ctx context.Context, path string) (video.Source, error) {
	src, err := t.opts.opener(path)
	if err != nil {
		return nil, err
	}
	if src.Info().FrameCount > 0 {
		return src, nil
	}
	defer src.Close()
	frames, err := video.ReadAll(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", io.ErrUnexpectedEOF, path)
	}
	return video.FromFrames(frames, src.Info().FrameRate)
}

type layoutFunc func(ctx context.Context, info video.Info) (*model.Layout, store.Meta, error)

func (t *TASM) ingest(ctx context.Context, path, name string, fn layoutFunc) (err error) {
	if err := t.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	tiles := 0
	defer func() {
		t.metrics.RecordStore(tiles, time.Since(start), err)
		t.logger.LogStore(ctx, name, tiles, time.Since(start), err)
	}()

	if err := store.ValidateName(name); err != nil {
		return err
	}
	src, err := t.openSource(ctx, path)
	if err != nil {
		return err
	}
	defer src.Close()

	info := src.Info()
	l, meta, err := fn(ctx, info)
	if err != nil {
		return err
	}
	stored, err := t.store.Store(ctx, name, src, l, meta)
	if err != nil {
		return translateError(err)
	}
	// Regret measured against replaced content no longer applies.
	t.tracker.ResetAll(name, stored.Version)
	tiles = l.NumTiles()
	return t.catalog.SetBounds(ctx, name, info.Size)
}

// Store ingests the video at path as a single untiled bitstream under name.
// Storing an existing name replaces it.
func (t *TASM) Store(ctx context.Context, path, name string) error {
	return t.ingest(ctx, path, name, func(_ context.Context, info video.Info) (*model.Layout, store.Meta, error) {
		l, err := layout.Single(info.Size, info.FrameCount)
		return l, store.Meta{Kind: manifest.KindUntiled}, err
	})
}

// StoreWithUniformLayout ingests the video at path split into a rows x cols grid.
func (t *TASM) StoreWithUniformLayout(ctx context.Context, path, name string, rows, cols int) error {
	return t.ingest(ctx, path, name, func(_ context.Context, info video.Info) (*model.Layout, store.Meta, error) {
		l, err := layout.Uniform(rows, cols, info.Size, info.FrameCount)
		return l, store.Meta{Kind: manifest.KindUniform}, err
	})
}

// StoreWithNonuniformLayout ingests the video at path with tiles built around the
// detections of label under metadataID. It fails with ErrEmptyDetectionSet when
// there are none; callers should fall back to Store or StoreWithUniformLayout.
func (t *TASM) StoreWithNonuniformLayout(ctx context.Context, path, name, metadataID, label string) error {
	return t.ingest(ctx, path, name, func(ctx context.Context, info video.Info) (*model.Layout, store.Meta, error) {
		all := model.Frames(0, info.FrameCount)
		dets, err := metadata.Collect(t.catalog.Query(ctx, metadataID, label, &all))
		if errors.Is(err, metadata.ErrUnknownMetadata) {
			return nil, store.Meta{}, fmt.Errorf("%w: %w", layout.ErrEmptyDetectionSet, err)
		}
		if err != nil {
			return nil, store.Meta{}, err
		}
		l, err := t.strategy.Layout(dets, info.Size, info.FrameCount)
		return l, store.Meta{Kind: manifest.KindNonUniform, Labels: []string{label}}, err
	})
}

// Retile replaces the layout of a stored video. Cursors opened before the call
// keep reading the previous tiles.
func (t *TASM) Retile(ctx context.Context, name string, l *model.Layout) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	start := time.Now()
	prev, err := t.store.Info(name)
	if err != nil {
		return err
	}
	next, err := t.store.Retile(ctx, name, l, store.Meta{Kind: manifest.KindCustom})
	if err != nil {
		t.metrics.RecordRetile(false, time.Since(start), err)
		t.logger.LogRetile(ctx, name, prev.Version, 0, err)
		return translateError(err)
	}
	t.metrics.RecordRetile(next.Version != prev.Version, time.Since(start), nil)
	t.logger.LogRetile(ctx, name, prev.Version, next.Version, nil)
	return nil
}

// Layout returns the active layout descriptor of a video.
func (t *TASM) Layout(name string) (*model.Layout, error) {
	info, err := t.Info(name)
	if err != nil {
		return nil, err
	}
	return info.Layout, nil
}

// Info returns a summary of the active tile set of a video.
func (t *TASM) Info(name string) (*VideoInfo, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.store.Info(name)
}

// Videos returns the names of all stored videos, sorted.
func (t *TASM) Videos() []string {
	return t.store.Videos()
}

// Delete removes a stored video and stops tracking its regret. Detections are kept.
func (t *TASM) Delete(ctx context.Context, name string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.tracker.Deactivate(name)
	return translateError(t.store.Delete(ctx, name))
}
