package selection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/internal/resource"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/internal/workerpool"
	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/testutil"
)

var testSize = model.FrameSize{Width: 64, Height: 48}

type env struct {
	store   *store.Store
	catalog *metadata.MemoryCatalog
	engine  *Engine

	mu      sync.Mutex
	samples []Sample
}

func newEnv(t *testing.T, rc *resource.Controller) *env {
	t.Helper()
	st, err := store.Open(context.Background(), blobstore.NewMemoryStore(), store.WithGOPLength(10))
	require.NoError(t, err)
	pool := workerpool.New(4)
	t.Cleanup(pool.Close)

	e := &env{store: st, catalog: metadata.NewMemoryCatalog()}
	e.engine = New(st, e.catalog, pool, Options{
		Resources: rc,
		Report: func(s Sample) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.samples = append(e.samples, s)
		},
	})
	return e
}

func (e *env) storeVideo(t *testing.T, name string, frames, rows, cols int) {
	t.Helper()
	l, err := layout.Uniform(rows, cols, testSize, frames)
	require.NoError(t, err)
	_, err = e.store.Store(context.Background(), name, testutil.Source(t, testSize, frames, 30), l, store.Meta{Kind: manifest.KindUniform})
	require.NoError(t, err)
	require.NoError(t, e.catalog.SetBounds(context.Background(), name, testSize))
}

func (e *env) add(t *testing.T, dets ...model.Detection) {
	t.Helper()
	_, err := e.catalog.Add(context.Background(), dets...)
	require.NoError(t, err)
}

func (e *env) lastSample(t *testing.T) Sample {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.samples)
	return e.samples[len(e.samples)-1]
}

func drain(t *testing.T, c *Cursor) []Image {
	t.Helper()
	var out []Image
	for {
		img, err := c.Next()
		require.NoError(t, err)
		if img.IsEmpty() {
			return out
		}
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
		assert.Equal(t, img.Rect.Image(), img.Pixels.Bounds())
		out = append(out, img)
	}
}

func frameRange(start, end int) *model.FrameRange {
	r := model.Frames(start, end)
	return &r
}

func TestSelectObjectsBirdScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "birds", 150, 1, 1)
	e.add(t, testutil.Track("birds", "bird", model.Frames(0, 150), model.R(2, 2, 12, 10), 0, 0)...)

	c, err := e.engine.Select(ctx, Request{Video: "birds", MetadataID: "birds", Label: "bird", Frames: frameRange(0, 5)})
	require.NoError(t, err)
	assert.Len(t, drain(t, c), 5)

	c, err = e.engine.Select(ctx, Request{Video: "birds", MetadataID: "birds", Label: "bird"})
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 150)
	assert.Equal(t, model.R(2, 2, 12, 10), results[0].Rect)

	// Exhaustion is sticky and not an error.
	for range 3 {
		img, err := c.Next()
		require.NoError(t, err)
		assert.True(t, img.IsEmpty())
	}

	s := e.lastSample(t)
	assert.Equal(t, 150, s.Results)
	assert.Equal(t, int64(150*64*48), s.Decoded)
	assert.Equal(t, int64(150*10*8), s.Ideal)
	assert.Equal(t, s.Decoded-s.Ideal, s.Regret())
	assert.Equal(t, uint64(1), s.Version)
}

func TestSelectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 20, 2, 2)
	e.add(t, testutil.NewRNG(7).Detections("cars", "car", testSize, 20, 2)...)

	run := func() []Image {
		c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car"})
		require.NoError(t, err)
		return drain(t, c)
	}
	first := run()
	for range 3 {
		assert.Equal(t, first, run())
	}
}

func TestSelectObjectsStitchesAcrossTiles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 4, 2, 2)
	e.add(t, model.NewDetection("cars", "car", 1, 20, 10, 50, 40))

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car"})
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Frame)
	assert.Equal(t, model.R(20, 10, 50, 40), results[0].Rect)

	s := e.lastSample(t)
	assert.Equal(t, testSize.Area(), s.Decoded, "all four tiles are decoded once")
	assert.Equal(t, int64(30*30), s.Ideal)
}

func TestSelectTilesDeduplicates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 4, 2, 2)
	e.add(t,
		model.NewDetection("cars", "car", 0, 1, 1, 5, 5),
		model.NewDetection("cars", "car", 0, 2, 2, 8, 8),
		model.NewDetection("cars", "car", 0, 40, 30, 50, 40),
		model.NewDetection("cars", "car", 2, 1, 1, 60, 44),
		model.NewDetection("cars", "person", 3, 1, 1, 5, 5),
	)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car", Mode: Tiles})
	require.NoError(t, err)
	results := drain(t, c)

	got := map[[2]int]model.Rect{}
	for _, img := range results {
		key := [2]int{img.Frame, img.Tile}
		_, dup := got[key]
		require.False(t, dup, "tile %v yielded twice", key)
		got[key] = img.Rect
	}
	assert.Len(t, got, 2+4)
	assert.Equal(t, model.R(0, 0, 32, 24), got[[2]int{0, 0}])
	assert.Equal(t, model.R(32, 24, 64, 48), got[[2]int{0, 3}])
}

func TestSelectFramesMatchesDetectionFrames(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 40, 2, 2)

	dets := testutil.NewRNG(42).Sparse("cars", "car", testSize, 40, 0.3)
	require.NotEmpty(t, dets)
	want := map[int]struct{}{}
	for _, d := range dets {
		want[d.Frame] = struct{}{}
	}
	// A second detection on an existing frame must not duplicate the frame.
	dup := dets[0]
	dup.Box = model.R(0, 0, 3, 3)
	e.add(t, append(dets, dup)...)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car", Mode: Frames})
	require.NoError(t, err)

	got := map[int]struct{}{}
	for img, err := range c.All() {
		require.NoError(t, err)
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
		assert.Equal(t, testSize.Rect(), img.Rect)
		_, seen := got[img.Frame]
		require.False(t, seen)
		got[img.Frame] = struct{}{}
	}
	assert.Equal(t, want, got)
	assert.Equal(t, int64(0), e.lastSample(t).Regret())
}

func TestSelectIgnoresFramesPastEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 10, 1, 1)
	e.add(t,
		model.NewDetection("cars", "car", 9, 0, 0, 4, 4),
		model.NewDetection("cars", "car", 10, 0, 0, 4, 4),
		model.NewDetection("cars", "car", 500, 0, 0, 4, 4),
	)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car"})
	require.NoError(t, err)
	assert.Len(t, drain(t, c), 1)
}

func TestSelectErrors(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 5, 1, 1)

	_, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "nobody", Label: "car"})
	assert.ErrorIs(t, err, metadata.ErrUnknownMetadata)

	e.add(t, model.NewDetection("trucks", "truck", 0, 0, 0, 1, 1))
	_, err = e.engine.Select(ctx, Request{Video: "trucks", MetadataID: "trucks", Label: "truck"})
	assert.ErrorIs(t, err, store.ErrUnknownVideo)

	_, err = e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car", Frames: frameRange(5, 2)})
	assert.Error(t, err)

	// A known id without matching detections yields nothing.
	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "unicorn"})
	require.NoError(t, err)
	assert.Empty(t, drain(t, c))
}

func TestRetileDuringIteration(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 30, 1, 1)
	e.add(t, testutil.Track("cars", "car", model.Frames(0, 30), model.R(0, 0, 8, 8), 1, 1)...)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car", Mode: Tiles})
	require.NoError(t, err)

	first, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, testSize.Rect(), first.Rect)

	l, err := layout.Uniform(3, 3, testSize, 30)
	require.NoError(t, err)
	info, err := e.store.Retile(ctx, "cars", l, store.Meta{Kind: manifest.KindUniform})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)

	rest := drain(t, c)
	require.Len(t, rest, 29)
	for _, img := range rest {
		assert.Equal(t, testSize.Rect(), img.Rect, "cursor keeps reading the layout it started on")
	}
	assert.Equal(t, uint64(1), e.lastSample(t).Version)

	c2, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car", Mode: Tiles})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c2.Version())
	require.NoError(t, c2.Close())
}

func TestCloseReportsOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	e.storeVideo(t, "cars", 10, 1, 1)
	e.add(t, testutil.Track("cars", "car", model.Frames(0, 10), model.R(0, 0, 4, 4), 0, 0)...)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car"})
	require.NoError(t, err)
	_, err = c.Next()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	e.mu.Lock()
	assert.Len(t, e.samples, 1)
	assert.Equal(t, 1, e.samples[0].Results)
	e.mu.Unlock()

	img, err := c.Next()
	require.NoError(t, err)
	assert.True(t, img.IsEmpty())
}

func TestSelectWithMemoryLimit(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4096})
	e := newEnv(t, rc)
	e.storeVideo(t, "cars", 10, 2, 2)
	e.add(t, testutil.NewRNG(1).Detections("cars", "car", testSize, 10, 3)...)

	want, err := metadata.Collect(e.catalog.Query(ctx, "cars", "car", nil))
	require.NoError(t, err)

	c, err := e.engine.Select(ctx, Request{Video: "cars", MetadataID: "cars", Label: "car"})
	require.NoError(t, err)
	assert.Len(t, drain(t, c), len(want))
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "objects", Objects.String())
	assert.Equal(t, "tiles", Tiles.String())
	assert.Equal(t, "frames", Frames.String())
}
