package model

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidLayout is returned when a layout descriptor does not partition its frames.
var ErrInvalidLayout = errors.New("invalid layout")

// Segment is the tile partition used for a contiguous frame range.
type Segment struct {
	Frames FrameRange `json:"frames"`
	Tiles  []Rect     `json:"tiles"`
}

// Layout is the layout descriptor of a video: contiguous segments covering
// [0, FrameCount), each of which partitions the frame plane.
type Layout struct {
	Size       FrameSize `json:"size"`
	FrameCount int       `json:"frame_count"`
	Segments   []Segment `json:"segments"`
}

// TileRegion is a tile rectangle together with the frames it is valid for.
type TileRegion struct {
	Rect   Rect       `json:"rect"`
	Frames FrameRange `json:"frames"`
}

// Regions flattens the layout into its ordered tile regions.
func (l *Layout) Regions() []TileRegion {
	var out []TileRegion
	for _, seg := range l.Segments {
		for _, r := range seg.Tiles {
			out = append(out, TileRegion{Rect: r, Frames: seg.Frames})
		}
	}
	return out
}

// NumTiles returns the number of tile regions in the layout.
func (l *Layout) NumTiles() int {
	n := 0
	for _, seg := range l.Segments {
		n += len(seg.Tiles)
	}
	return n
}

// SegmentIndex returns the index of the segment containing frame, or -1.
func (l *Layout) SegmentIndex(frame int) int {
	i, found := slices.BinarySearchFunc(l.Segments, frame, func(s Segment, f int) int {
		switch {
		case s.Frames.End <= f:
			return -1
		case s.Frames.Start > f:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return -1
	}
	return i
}

// TilesFor returns the tiles of the segment containing frame.
func (l *Layout) TilesFor(frame int) []Rect {
	i := l.SegmentIndex(frame)
	if i < 0 {
		return nil
	}
	return l.Segments[i].Tiles
}

// Equal reports whether two layouts describe the same partition over time.
func (l *Layout) Equal(o *Layout) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l.Size != o.Size || l.FrameCount != o.FrameCount || len(l.Segments) != len(o.Segments) {
		return false
	}
	for i := range l.Segments {
		a, b := l.Segments[i], o.Segments[i]
		if a.Frames != b.Frames || !slices.Equal(a.Tiles, b.Tiles) {
			return false
		}
	}
	return true
}

// Validate checks that segments are contiguous over [0, FrameCount) and that the
// tiles of every segment partition the frame with no gaps and no overlap.
func (l *Layout) Validate() error {
	if !l.Size.Valid() {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidLayout, l.Size.Width, l.Size.Height)
	}
	if l.FrameCount <= 0 {
		return fmt.Errorf("%w: frame count %d", ErrInvalidLayout, l.FrameCount)
	}
	if len(l.Segments) == 0 {
		return fmt.Errorf("%w: no segments", ErrInvalidLayout)
	}

	next := 0
	frame := l.Size.Rect()
	for i, seg := range l.Segments {
		if seg.Frames.Start != next || seg.Frames.Empty() {
			return fmt.Errorf("%w: segment %d has range %s, want start %d", ErrInvalidLayout, i, seg.Frames, next)
		}
		next = seg.Frames.End

		if len(seg.Tiles) == 0 {
			return fmt.Errorf("%w: segment %d has no tiles", ErrInvalidLayout, i)
		}
		var area int64
		for j, t := range seg.Tiles {
			if t.Empty() || !frame.Contains(t) {
				return fmt.Errorf("%w: segment %d tile %s outside frame", ErrInvalidLayout, i, t)
			}
			for _, u := range seg.Tiles[j+1:] {
				if t.Intersects(u) {
					return fmt.Errorf("%w: segment %d tiles %s and %s overlap", ErrInvalidLayout, i, t, u)
				}
			}
			area += t.Area()
		}
		// Tiles are disjoint and inside the frame, so equal area means full coverage.
		if area != frame.Area() {
			return fmt.Errorf("%w: segment %d covers %d of %d pixels", ErrInvalidLayout, i, area, frame.Area())
		}
	}
	if next != l.FrameCount {
		return fmt.Errorf("%w: segments end at %d, want %d", ErrInvalidLayout, next, l.FrameCount)
	}
	return nil
}

// Clone returns a deep copy of l.
func (l *Layout) Clone() *Layout {
	out := &Layout{Size: l.Size, FrameCount: l.FrameCount, Segments: make([]Segment, len(l.Segments))}
	for i, seg := range l.Segments {
		out.Segments[i] = Segment{Frames: seg.Frames, Tiles: slices.Clone(seg.Tiles)}
	}
	return out
}
