package tasm_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tasm"
	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/testutil"
	"github.com/hupe1980/tasm/video"
)

var testSize = model.FrameSize{Width: 64, Height: 48}

// openTest opens an in-memory instance whose source paths have the form
// "<frames>.raw".
func openTest(t *testing.T, opts ...tasm.Option) *tasm.TASM {
	t.Helper()
	base := []tasm.Option{
		tasm.WithInMemoryIndex(),
		tasm.WithBlobStore(blobstore.NewMemoryStore()),
		tasm.WithGOPLength(10),
		tasm.WithWorkers(4),
		tasm.WithSourceOpener(func(path string) (video.Source, error) {
			var n int
			if _, err := fmt.Sscanf(path, "%d.raw", &n); err != nil {
				return nil, os.ErrNotExist
			}
			return video.FromFrames(testutil.Frames(testSize, n), 30)
		}),
	}
	db, err := tasm.Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func drain(t *testing.T, c *tasm.Cursor) []tasm.Image {
	t.Helper()
	defer c.Close()
	var out []tasm.Image
	for {
		img, err := c.Next()
		require.NoError(t, err)
		if img.IsEmpty() {
			return out
		}
		out = append(out, img)
	}
}

func TestBirdScenario(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	require.NoError(t, db.Store(ctx, "150.raw", "birds"))
	_, err := db.AddBulkMetadata(ctx, testutil.Track("birds", "bird", model.Frames(0, 150), model.R(20, 10, 30, 20), 0, 0)...)
	require.NoError(t, err)

	c, err := db.Select(ctx, "birds", "birds", "bird", tasm.WithFrameRange(0, 5))
	require.NoError(t, err)
	assert.Len(t, drain(t, c), 5)

	c, err = db.Select(ctx, "birds", "birds", "bird")
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 150)
	for _, img := range results {
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
	}

	l, err := db.Layout("birds")
	require.NoError(t, err)
	assert.Equal(t, 1, l.NumTiles())
	assert.Equal(t, 150, l.FrameCount)
}

func TestStoreWithUniformLayout(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.StoreWithUniformLayout(ctx, "20.raw", "grid", 2, 2))

	l, err := db.Layout("grid")
	require.NoError(t, err)
	require.NoError(t, l.Validate())
	regions := l.Regions()
	require.Len(t, regions, 4)

	var area int64
	for i, r := range regions {
		area += r.Rect.Area()
		for _, o := range regions[i+1:] {
			assert.False(t, r.Rect.Intersects(o.Rect), "%v overlaps %v", r.Rect, o.Rect)
		}
	}
	assert.Equal(t, testSize.Area(), area)

	info, err := db.Info("grid")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, []string{"grid"}, db.Videos())
}

func TestStoreWithNonuniformLayout(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	err := db.StoreWithNonuniformLayout(ctx, "30.raw", "cars", "cars", "car")
	require.ErrorIs(t, err, tasm.ErrEmptyDetectionSet)
	_, err = db.Info("cars")
	require.ErrorIs(t, err, tasm.ErrUnknownVideo, "a failed store leaves nothing behind")

	dets := testutil.NewRNG(3).Detections("cars", "car", testSize, 30, 2)
	_, err = db.AddBulkMetadata(ctx, dets...)
	require.NoError(t, err)
	require.NoError(t, db.StoreWithNonuniformLayout(ctx, "30.raw", "cars", "cars", "car"))

	l, err := db.Layout("cars")
	require.NoError(t, err)
	for _, d := range dets {
		n := 0
		for _, tile := range l.TilesFor(d.Frame) {
			if tile.Contains(d.Box) {
				n++
			}
		}
		assert.Equal(t, 1, n, "detection %v on frame %d", d.Box, d.Frame)
	}

	c, err := db.Select(ctx, "cars", "cars", "car")
	require.NoError(t, err)
	for _, img := range drain(t, c) {
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
	}
}

func TestSelectFramesReturnsDetectionFrames(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.StoreWithUniformLayout(ctx, "40.raw", "v", 3, 2))

	dets := testutil.NewRNG(11).Sparse("v", "person", testSize, 40, 0.25)
	require.NotEmpty(t, dets)
	_, err := db.AddBulkMetadata(ctx, dets...)
	require.NoError(t, err)

	want := map[int]bool{}
	for _, d := range dets {
		want[d.Frame] = true
	}

	c, err := db.SelectFrames(ctx, "v", "v", "person")
	require.NoError(t, err)
	got := map[int]bool{}
	for _, img := range drain(t, c) {
		assert.False(t, got[img.Frame], "frame %d yielded twice", img.Frame)
		got[img.Frame] = true
		assert.Equal(t, testSize.Rect().Image(), img.Pixels.Bounds())
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
	}
	assert.Equal(t, want, got)
}

func TestSelectTilesOncePerTile(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.StoreWithUniformLayout(ctx, "4.raw", "v", 2, 2))
	_, err := db.AddBulkMetadata(ctx,
		tasm.NewDetection("v", "car", 1, 2, 2, 6, 6),
		tasm.NewDetection("v", "car", 1, 8, 8, 12, 12),
	)
	require.NoError(t, err)

	c, err := db.SelectTiles(ctx, "v", "v", "car")
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 1)
	assert.Equal(t, model.R(0, 0, 32, 24), results[0].Rect)
}

func TestAddMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	dets := testutil.NewRNG(5).Detections("m", "dog", testSize, 10, 3)
	n, err := db.AddBulkMetadata(ctx, dets...)
	require.NoError(t, err)
	assert.Equal(t, len(dets), n)

	n, err = db.AddBulkMetadata(ctx, dets...)
	require.NoError(t, err)
	assert.Zero(t, n, "exact duplicates are ignored")

	got, err := db.Detections(ctx, "m", "dog")
	require.NoError(t, err)
	assert.ElementsMatch(t, dets, got)

	labels, err := db.Labels(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"dog"}, labels)
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.Store(ctx, "5.raw", "v"))

	t.Run("InvalidDetection", func(t *testing.T) {
		require.ErrorIs(t, db.AddMetadata(ctx, "v", "car", 0, 10, 10, 5, 20), tasm.ErrInvalidDetection)
		require.ErrorIs(t, db.AddMetadata(ctx, "v", "car", -1, 0, 0, 5, 5), tasm.ErrInvalidDetection)
		require.ErrorIs(t, db.AddMetadata(ctx, "v", "car", 0, 0, 0, 65, 5), tasm.ErrInvalidDetection, "outside the stored frame")
	})

	t.Run("UnknownVideo", func(t *testing.T) {
		_, err := db.Select(ctx, "missing", "v", "car")
		require.ErrorIs(t, err, tasm.ErrUnknownVideo)
		require.ErrorIs(t, db.ActivateRegretBasedTiling("missing", "v"), tasm.ErrUnknownVideo)
	})

	t.Run("UnknownMetadata", func(t *testing.T) {
		_, err := db.Select(ctx, "v", "nope", "car")
		require.ErrorIs(t, err, tasm.ErrUnknownMetadata)
	})

	t.Run("InvalidName", func(t *testing.T) {
		require.ErrorIs(t, db.Store(ctx, "5.raw", "a/b"), tasm.ErrInvalidName)
	})

	t.Run("MissingSource", func(t *testing.T) {
		require.ErrorIs(t, db.Store(ctx, "missing.y4m", "x"), os.ErrNotExist)
	})

	t.Run("RegretNotActive", func(t *testing.T) {
		_, err := db.RetileBasedOnRegret(ctx, "v")
		require.ErrorIs(t, err, tasm.ErrRegretNotActive)
	})
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	require.ErrorIs(t, db.Store(ctx, "5.raw", "v"), tasm.ErrClosed)
	_, err := db.Select(ctx, "v", "v", "car")
	require.ErrorIs(t, err, tasm.ErrClosed)
	require.ErrorIs(t, db.AddMetadata(ctx, "v", "car", 0, 0, 0, 1, 1), tasm.ErrClosed)
}

func TestRegretBasedRetiling(t *testing.T) {
	ctx := context.Background()
	metrics := &tasm.BasicMetricsCollector{}
	db := openTest(t, tasm.WithMetricsCollector(metrics))

	for _, name := range []string{"hot", "cold"} {
		require.NoError(t, db.Store(ctx, "30.raw", name))
		_, err := db.AddBulkMetadata(ctx, testutil.Track(name, "bird", model.Frames(0, 30), model.R(20, 10, 30, 20), 1, 0)...)
		require.NoError(t, err)
		require.NoError(t, db.ActivateRegretBasedTiling(name, name))
	}

	// Untracked: positive regret, but not for a tracked pairing.
	c, err := db.Select(ctx, "hot", "cold", "bird")
	require.NoError(t, err)
	drain(t, c)
	assert.Zero(t, db.Regret("hot", "bird"))

	var last int64
	for range 2 {
		c, err := db.Select(ctx, "hot", "hot", "bird")
		require.NoError(t, err)
		drain(t, c)
		cur := db.Regret("hot", "bird")
		assert.Greater(t, cur, last)
		last = cur
	}
	c, err = db.Select(ctx, "cold", "cold", "bird", tasm.WithFrameRange(0, 2))
	require.NoError(t, err)
	drain(t, c)
	coldRegret := db.Regret("cold", "bird")
	require.Positive(t, coldRegret)

	coldBefore, err := db.Layout("cold")
	require.NoError(t, err)

	report, err := db.RetileBasedOnRegret(ctx, "hot")
	require.NoError(t, err)
	assert.True(t, report.Changed())
	assert.Equal(t, []string{"bird"}, report.Retiled)
	assert.Zero(t, db.Regret("hot", "bird"))

	hot, err := db.Info("hot")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hot.Version)
	assert.Greater(t, hot.Layout.NumTiles(), 1)

	report, err = db.RetileBasedOnRegret(ctx, "cold")
	require.NoError(t, err)
	assert.False(t, report.Changed())
	coldAfter, err := db.Layout("cold")
	require.NoError(t, err)
	assert.True(t, coldBefore.Equal(coldAfter))
	assert.Equal(t, coldRegret, db.Regret("cold", "bird"))

	// Queries against the new layout still return correct pixels.
	c, err = db.Select(ctx, "hot", "hot", "bird")
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 30)
	for _, img := range results {
		require.NoError(t, testutil.CheckRegion(img.Pixels, img.Frame))
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.StoreCount)
	assert.Equal(t, int64(5), stats.SelectCount)
	assert.Equal(t, int64(2), stats.RetileCount)
	assert.Equal(t, int64(1), stats.RetileApplied)
	assert.Equal(t, int64(4), stats.RegretUpdates)

	db.DeactivateRegretBasedTiling("cold")
	assert.Zero(t, db.Regret("cold", "bird"))
}

func TestStoreReplacingVideoResetsRegret(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	require.NoError(t, db.Store(ctx, "30.raw", "hot"))
	_, err := db.AddBulkMetadata(ctx, testutil.Track("hot", "bird", model.Frames(0, 30), model.R(20, 10, 30, 20), 1, 0)...)
	require.NoError(t, err)
	require.NoError(t, db.ActivateRegretBasedTiling("hot", "hot"))

	c, err := db.Select(ctx, "hot", "hot", "bird")
	require.NoError(t, err)
	drain(t, c)
	require.Positive(t, db.Regret("hot", "bird"))

	stale, err := db.Select(ctx, "hot", "hot", "bird")
	require.NoError(t, err)
	img, err := stale.Next()
	require.NoError(t, err)
	require.False(t, img.IsEmpty())

	require.NoError(t, db.Store(ctx, "30.raw", "hot"))
	assert.Zero(t, db.Regret("hot", "bird"))

	// The cursor opened on the replaced content does not count.
	drain(t, stale)
	assert.Zero(t, db.Regret("hot", "bird"))

	c, err = db.Select(ctx, "hot", "hot", "bird")
	require.NoError(t, err)
	drain(t, c)
	assert.Positive(t, db.Regret("hot", "bird"), "tracking stays active")
}

func TestRetileDuringIteration(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	require.NoError(t, db.StoreWithUniformLayout(ctx, "20.raw", "v", 2, 2))
	_, err := db.AddBulkMetadata(ctx, testutil.NewRNG(9).Detections("v", "car", testSize, 20, 2)...)
	require.NoError(t, err)

	c, err := db.Select(ctx, "v", "v", "car")
	require.NoError(t, err)
	want := drain(t, c)

	c, err = db.Select(ctx, "v", "v", "car")
	require.NoError(t, err)
	first, err := c.Next()
	require.NoError(t, err)

	single, err := db.Layout("v")
	require.NoError(t, err)
	single.Segments = []model.Segment{{Frames: model.Frames(0, 20), Tiles: []model.Rect{testSize.Rect()}}}
	require.NoError(t, db.Retile(ctx, "v", single))

	got := append([]tasm.Image{first}, drain(t, c)...)
	assert.Equal(t, want, got)

	info, err := db.Info("v")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Version)
	assert.Equal(t, 1, info.Layout.NumTiles())
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	path := filepath.Join(root, "clip.y4m")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := video.NewY4MWriter(f, testSize, 30)
	require.NoError(t, err)
	for _, frame := range testutil.Frames(testSize, 12) {
		require.NoError(t, w.WriteFrame(frame))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	db, err := tasm.Open(ctx, tasm.WithRoot(root), tasm.WithGOPLength(5))
	require.NoError(t, err)
	require.NoError(t, db.StoreWithUniformLayout(ctx, path, "clip", 2, 3))
	_, err = db.AddBulkMetadata(ctx, testutil.Track("clip", "car", model.Frames(0, 12), model.R(4, 4, 20, 20), 2, 1)...)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.FileExists(t, filepath.Join(root, tasm.DefaultDatabaseName))
	assert.DirExists(t, filepath.Join(root, tasm.DefaultCatalogName, "clip"))

	db, err = tasm.Open(ctx, tasm.WithRoot(root))
	require.NoError(t, err)
	defer db.Close()

	l, err := db.Layout("clip")
	require.NoError(t, err)
	assert.Equal(t, 6, l.NumTiles())
	assert.Equal(t, 12, l.FrameCount)

	c, err := db.Select(ctx, "clip", "clip", "car")
	require.NoError(t, err)
	results := drain(t, c)
	require.Len(t, results, 12)
	for _, img := range results {
		assert.Equal(t, img.Rect.Image(), img.Pixels.Bounds())
	}
}
