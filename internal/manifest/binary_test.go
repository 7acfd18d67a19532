package manifest

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tasm/model"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	l := &model.Layout{
		Size:       model.FrameSize{Width: 64, Height: 32},
		FrameCount: 60,
		Segments: []model.Segment{
			{Frames: model.Frames(0, 30), Tiles: []model.Rect{model.R(0, 0, 64, 32)}},
			{Frames: model.Frames(30, 60), Tiles: []model.Rect{model.R(0, 0, 32, 32), model.R(32, 0, 64, 32)}},
		},
	}
	require.NoError(t, l.Validate())

	m := &Manifest{
		Version:   CurrentVersion,
		ID:        3,
		CreatedAt: time.Unix(0, 1700000000000000000),
		Video:     "cars",
		Codec:     "raw",
		Kind:      KindNonUniform,
		Labels:    []string{"car", "person"},
		FrameRate: 29.97,
		TileDir:   "cars/tiles/abc",
		Layout:    l,
	}
	for _, r := range l.Regions() {
		ti := TileInfo{Region: r}
		for start := r.Frames.Start; start < r.Frames.End; start += 15 {
			ti.Chunks = append(ti.Chunks, ChunkInfo{
				Frames: model.Frames(start, start+15),
				Path:   "cars/tiles/abc/chunk.bin",
				Size:   int64(100 + start),
			})
		}
		m.Tiles = append(m.Tiles, ti)
	}
	require.NoError(t, m.Validate())
	return m
}

func TestBinaryRoundTrip(t *testing.T) {
	m := testManifest(t)

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))

	got, err := ReadBinary(&buf)
	require.NoError(t, err)

	assert.Equal(t, m.ID, got.ID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, m.Video, got.Video)
	assert.Equal(t, m.Codec, got.Codec)
	assert.Equal(t, m.Kind, got.Kind)
	assert.Equal(t, m.Labels, got.Labels)
	assert.InDelta(t, m.FrameRate, got.FrameRate, 1e-9)
	assert.Equal(t, m.TileDir, got.TileDir)
	assert.True(t, m.Layout.Equal(got.Layout))
	assert.Equal(t, m.Tiles, got.Tiles)
	assert.Equal(t, m.Size(), got.Size())
}

func TestBinaryCorruption(t *testing.T) {
	m := testManifest(t)

	var buf bytes.Buffer
	require.NoError(t, m.WriteBinary(&buf))
	data := buf.Bytes()

	t.Run("Checksum", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[len(bad)-1] ^= 0xFF
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] = 'X'
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Version", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[4] = 99
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(data[:len(data)/2]))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestTileChunkLookup(t *testing.T) {
	m := testManifest(t)
	tile := m.Tiles[1] // frames [30, 60)

	c, ok := tile.Chunk(44)
	require.True(t, ok)
	assert.Equal(t, model.Frames(30, 45), c.Frames)

	c, ok = tile.Chunk(45)
	require.True(t, ok)
	assert.Equal(t, model.Frames(45, 60), c.Frames)

	_, ok = tile.Chunk(10)
	assert.False(t, ok)
	_, ok = tile.Chunk(60)
	assert.False(t, ok)
}
