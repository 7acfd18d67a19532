package layout

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/tasm/model"
)

const (
	// DefaultWindow is the number of frames sharing one tile partition.
	DefaultWindow = 30
	// DefaultAlignment keeps tile edges on even pixel coordinates.
	DefaultAlignment = 2
)

// NonUniform builds tiles shaped around detections.
//
// Frames are grouped into windows of Window frames. Within a window each detection box
// is aligned outward to Alignment pixels and the boxes are greedily merged until no two
// candidates overlap or share an edge. The remaining frame area is filled with background
// tiles. Consecutive windows with identical geometry are coalesced into one segment.
type NonUniform struct {
	Window    int
	Alignment int
}

// Layout implements Strategy.
func (n NonUniform) Layout(dets []model.Detection, size model.FrameSize, frameCount int) (*model.Layout, error) {
	if !size.Valid() || frameCount <= 0 {
		return nil, fmt.Errorf("%w: %dx%d with %d frames", model.ErrInvalidLayout, size.Width, size.Height, frameCount)
	}
	window := n.Window
	if window <= 0 {
		window = DefaultWindow
	}
	align := n.Alignment
	if align <= 0 {
		align = DefaultAlignment
	}

	windows := (frameCount + window - 1) / window
	boxes := make([][]model.Rect, windows)
	used := 0
	for _, d := range dets {
		if d.Frame < 0 || d.Frame >= frameCount {
			continue
		}
		r := d.Box.Align(align, size)
		if r.Empty() {
			continue
		}
		w := d.Frame / window
		boxes[w] = append(boxes[w], r)
		used++
	}
	if used == 0 {
		return nil, ErrEmptyDetectionSet
	}

	segs := make([]model.Segment, 0, windows)
	for w := 0; w < windows; w++ {
		frames := model.Frames(w*window, min((w+1)*window, frameCount))
		var tiles []model.Rect
		if len(boxes[w]) == 0 {
			tiles = []model.Rect{size.Rect()}
		} else {
			tiles = Partition(Merge(boxes[w]), size)
		}
		segs = append(segs, model.Segment{Frames: frames, Tiles: tiles})
	}

	l := &model.Layout{Size: size, FrameCount: frameCount, Segments: coalesce(segs)}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Merge greedily combines rectangles until no two of them overlap or share an edge.
//
// Each step merges the touching pair whose union has the smallest area. Ties prefer
// the pair with the smaller combined perimeter. The result is sorted by (Y1, X1).
func Merge(rects []model.Rect) []model.Rect {
	cands := slices.Clone(rects)
	slices.SortFunc(cands, compareRect)
	cands = slices.Compact(cands)

	for {
		bi, bj := -1, -1
		var bestArea int64
		var bestPerim int
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				if !cands[i].Touches(cands[j]) {
					continue
				}
				area := cands[i].Union(cands[j]).Area()
				perim := cands[i].Perimeter() + cands[j].Perimeter()
				if bi < 0 || area < bestArea || (area == bestArea && perim < bestPerim) {
					bi, bj, bestArea, bestPerim = i, j, area, perim
				}
			}
		}
		if bi < 0 {
			break
		}
		cands[bi] = cands[bi].Union(cands[bj])
		cands = slices.Delete(cands, bj, bj+1)
	}

	slices.SortFunc(cands, compareRect)
	return cands
}

// Partition fills the frame area not covered by objects with background tiles and
// returns the full tile set sorted by (Y1, X1). The object rectangles must be pairwise
// disjoint.
//
// The frame is cut into horizontal bands at every object edge. Within a band the gaps
// between objects become background pieces, and pieces with the same horizontal span in
// adjacent bands are joined vertically.
func Partition(objects []model.Rect, size model.FrameSize) []model.Rect {
	ys := []int{0, size.Height}
	for _, o := range objects {
		ys = append(ys, o.Y1, o.Y2)
	}
	slices.Sort(ys)
	ys = slices.Compact(ys)

	type span struct{ x1, x2 int }
	tiles := slices.Clone(objects)
	open := map[span]int{} // span -> index in tiles of a piece ending at the current band

	for b := 0; b+1 < len(ys); b++ {
		y1, y2 := ys[b], ys[b+1]

		var row []model.Rect
		for _, o := range objects {
			if o.Y1 < y2 && o.Y2 > y1 {
				row = append(row, o)
			}
		}
		slices.SortFunc(row, func(a, b model.Rect) int { return cmp.Compare(a.X1, b.X1) })

		next := map[span]int{}
		x := 0
		emit := func(x1, x2 int) {
			s := span{x1, x2}
			if i, ok := open[s]; ok && tiles[i].Y2 == y1 {
				tiles[i].Y2 = y2
				next[s] = i
				return
			}
			tiles = append(tiles, model.R(x1, y1, x2, y2))
			next[s] = len(tiles) - 1
		}
		for _, o := range row {
			if o.X1 > x {
				emit(x, o.X1)
			}
			x = max(x, o.X2)
		}
		if x < size.Width {
			emit(x, size.Width)
		}
		open = next
	}

	slices.SortFunc(tiles, compareRect)
	return tiles
}

func compareRect(a, b model.Rect) int {
	return cmp.Or(
		cmp.Compare(a.Y1, b.Y1),
		cmp.Compare(a.X1, b.X1),
		cmp.Compare(a.Y2, b.Y2),
		cmp.Compare(a.X2, b.X2),
	)
}
