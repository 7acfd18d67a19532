package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRect(t *testing.T) {
	a := R(0, 0, 10, 10)
	b := R(10, 0, 20, 10)
	c := R(5, 5, 15, 15)

	assert.False(t, a.Intersects(b))
	assert.True(t, a.Touches(b))
	assert.True(t, a.Intersects(c))
	assert.Equal(t, R(5, 5, 10, 10), a.Intersect(c))
	assert.Equal(t, Rect{}, a.Intersect(b))
	assert.Equal(t, R(0, 0, 15, 15), a.Union(c))
	assert.Equal(t, int64(100), a.Area())
	assert.Equal(t, 40, a.Perimeter())
	assert.True(t, R(0, 0, 20, 20).Contains(c))
}

func TestRectAlign(t *testing.T) {
	size := FrameSize{Width: 99, Height: 50}
	assert.Equal(t, R(2, 4, 12, 8), R(3, 5, 11, 7).Align(2, size))
	assert.Equal(t, R(96, 0, 99, 50), R(97, 1, 99, 49).Align(4, size))
	assert.Equal(t, R(3, 5, 11, 7), R(3, 5, 11, 7).Align(1, size))
}

func TestDetectionValidate(t *testing.T) {
	bounds := &FrameSize{Width: 100, Height: 100}
	tests := []struct {
		name string
		det  Detection
		ok   bool
	}{
		{"valid", NewDetection("v", "bird", 0, 0, 0, 10, 10), true},
		{"edge", NewDetection("v", "bird", 3, 90, 90, 100, 100), true},
		{"empty id", NewDetection("", "bird", 0, 0, 0, 10, 10), false},
		{"empty label", NewDetection("v", "", 0, 0, 0, 10, 10), false},
		{"negative frame", NewDetection("v", "bird", -1, 0, 0, 10, 10), false},
		{"inverted", NewDetection("v", "bird", 0, 10, 0, 5, 10), false},
		{"zero width", NewDetection("v", "bird", 0, 5, 0, 5, 10), false},
		{"negative", NewDetection("v", "bird", 0, -1, 0, 5, 10), false},
		{"out of bounds", NewDetection("v", "bird", 0, 50, 50, 101, 60), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.det.Validate(bounds)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDetection)
			}
		})
	}

	// Without bounds only the structural checks apply.
	assert.NoError(t, NewDetection("v", "bird", 0, 500, 500, 600, 600).Validate(nil))
}

func TestLayoutValidate(t *testing.T) {
	size := FrameSize{Width: 10, Height: 10}
	valid := &Layout{
		Size:       size,
		FrameCount: 20,
		Segments: []Segment{
			{Frames: Frames(0, 10), Tiles: []Rect{size.Rect()}},
			{Frames: Frames(10, 20), Tiles: []Rect{R(0, 0, 5, 10), R(5, 0, 10, 10)}},
		},
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, 1, valid.SegmentIndex(12))
	assert.Equal(t, 0, valid.SegmentIndex(0))
	assert.Equal(t, -1, valid.SegmentIndex(20))
	assert.Len(t, valid.Regions(), 3)
	assert.True(t, valid.Equal(valid.Clone()))

	gap := valid.Clone()
	gap.Segments[1].Tiles = []Rect{R(0, 0, 5, 10)}
	assert.ErrorIs(t, gap.Validate(), ErrInvalidLayout)

	overlap := valid.Clone()
	overlap.Segments[1].Tiles = []Rect{R(0, 0, 6, 10), R(5, 0, 10, 10)}
	assert.ErrorIs(t, overlap.Validate(), ErrInvalidLayout)

	hole := valid.Clone()
	hole.Segments[1].Frames = Frames(11, 20)
	assert.ErrorIs(t, hole.Validate(), ErrInvalidLayout)

	short := valid.Clone()
	short.FrameCount = 25
	assert.ErrorIs(t, short.Validate(), ErrInvalidLayout)
}
