package model

import (
	"fmt"
	"image"
)

// Rect is a half-open pixel rectangle [X1,X2) x [Y1,Y2).
type Rect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// R is shorthand for Rect{x1, y1, x2, y2}.
func R(x1, y1, x2, y2 int) Rect {
	return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// Width returns the horizontal extent.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the vertical extent.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Area returns the number of pixels covered by r, or 0 if r is empty.
func (r Rect) Area() int64 {
	if r.Empty() {
		return 0
	}
	return int64(r.Width()) * int64(r.Height())
}

// Perimeter returns the perimeter of r.
func (r Rect) Perimeter() int {
	if r.Empty() {
		return 0
	}
	return 2 * (r.Width() + r.Height())
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool {
	return r.X1 >= r.X2 || r.Y1 >= r.Y2
}

// Intersects reports whether r and o share at least one pixel.
func (r Rect) Intersects(o Rect) bool {
	return r.X1 < o.X2 && o.X1 < r.X2 && r.Y1 < o.Y2 && o.Y1 < r.Y2
}

// Touches reports whether r and o overlap or share an edge.
func (r Rect) Touches(o Rect) bool {
	return r.X1 <= o.X2 && o.X1 <= r.X2 && r.Y1 <= o.Y2 && o.Y1 <= r.Y2
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return r.X1 <= o.X1 && r.Y1 <= o.Y1 && o.X2 <= r.X2 && o.Y2 <= r.Y2
}

// Intersect returns the overlap of r and o. The result is empty if they do not intersect.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X1: min(r.X1, o.X1),
		Y1: min(r.Y1, o.Y1),
		X2: max(r.X2, o.X2),
		Y2: max(r.Y2, o.Y2),
	}
}

// Align expands r outward so every edge is a multiple of n, then clamps it to bounds.
func (r Rect) Align(n int, bounds FrameSize) Rect {
	if n > 1 {
		r.X1 -= r.X1 % n
		r.Y1 -= r.Y1 % n
		if m := r.X2 % n; m != 0 {
			r.X2 += n - m
		}
		if m := r.Y2 % n; m != 0 {
			r.Y2 += n - m
		}
	}
	return r.Intersect(bounds.Rect())
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// String returns a compact representation of r.
func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
}

// FrameSize is the pixel size of a video frame.
type FrameSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the rectangle covering the whole frame.
func (s FrameSize) Rect() Rect {
	return Rect{X2: s.Width, Y2: s.Height}
}

// Area returns the number of pixels in one frame.
func (s FrameSize) Area() int64 {
	return int64(s.Width) * int64(s.Height)
}

// Valid reports whether both dimensions are positive.
func (s FrameSize) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// FrameRange is the half-open frame interval [Start,End).
type FrameRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Frames is shorthand for FrameRange{start, end}.
func Frames(start, end int) FrameRange {
	return FrameRange{Start: start, End: end}
}

// Len returns the number of frames in the range.
func (f FrameRange) Len() int {
	if f.End <= f.Start {
		return 0
	}
	return f.End - f.Start
}

// Empty reports whether the range contains no frames.
func (f FrameRange) Empty() bool { return f.End <= f.Start }

// Contains reports whether frame lies in the range.
func (f FrameRange) Contains(frame int) bool {
	return frame >= f.Start && frame < f.End
}

// Overlaps reports whether the two ranges share a frame.
func (f FrameRange) Overlaps(o FrameRange) bool {
	return f.Start < o.End && o.Start < f.End
}

// Intersect returns the frames common to both ranges.
func (f FrameRange) Intersect(o FrameRange) FrameRange {
	out := FrameRange{Start: max(f.Start, o.Start), End: min(f.End, o.End)}
	if out.Empty() {
		return FrameRange{}
	}
	return out
}

// String returns a compact representation of f.
func (f FrameRange) String() string {
	return fmt.Sprintf("[%d,%d)", f.Start, f.End)
}
