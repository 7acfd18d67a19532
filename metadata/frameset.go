package metadata

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/tasm/internal/conv"
	"github.com/hupe1980/tasm/model"
)

// FrameSet is a set of frame indexes.
// It wraps a roaring bitmap.
type FrameSet struct {
	rb *roaring.Bitmap
}

// NewFrameSet creates a frame set holding frames.
func NewFrameSet(frames ...int) *FrameSet {
	s := &FrameSet{rb: roaring.New()}
	for _, f := range frames {
		s.Add(f)
	}
	return s
}

// Add adds a frame to the set. Frames outside [0, model.MaxFrame] are ignored.
func (s *FrameSet) Add(frame int) {
	if f, err := conv.IntToUint32(frame); err == nil {
		s.rb.Add(f)
	}
}

// Contains reports whether frame is in the set.
func (s *FrameSet) Contains(frame int) bool {
	f, err := conv.IntToUint32(frame)
	return err == nil && s.rb.Contains(f)
}

// Len returns the number of frames in the set.
func (s *FrameSet) Len() int {
	return int(s.rb.GetCardinality())
}

// IsEmpty returns true if the set is empty.
func (s *FrameSet) IsEmpty() bool {
	return s.rb.IsEmpty()
}

// Clone returns a deep copy of the set.
func (s *FrameSet) Clone() *FrameSet {
	return &FrameSet{rb: s.rb.Clone()}
}

// Or adds every frame of other to s.
func (s *FrameSet) Or(other *FrameSet) {
	s.rb.Or(other.rb)
}

// Restrict removes every frame outside r.
func (s *FrameSet) Restrict(r model.FrameRange) {
	if r.Empty() || r.End <= 0 {
		s.rb.Clear()
		return
	}
	keep := roaring.New()
	keep.AddRange(uint64(max(r.Start, 0)), min(uint64(r.End), uint64(model.MaxFrame)+1))
	s.rb.And(keep)
}

// Slice returns the frames in ascending order.
func (s *FrameSet) Slice() []int {
	out := make([]int, 0, s.Len())
	for f := range s.All() {
		out = append(out, f)
	}
	return out
}

// All returns an iterator over the frames in ascending order.
func (s *FrameSet) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}
