// Package layout computes tile layouts for videos.
//
// A Strategy turns a detection set into a model.Layout. Three strategies are
// provided: Single (one tile covering the frame), Uniform (a fixed grid) and
// NonUniform (tiles shaped around the detected objects).
package layout

import (
	"errors"

	"github.com/hupe1980/tasm/model"
)

// ErrEmptyDetectionSet is returned by detection driven strategies when there is nothing
// to build a layout around. Callers should fall back to a uniform or untiled layout.
var ErrEmptyDetectionSet = errors.New("empty detection set")

// Strategy computes a layout descriptor for a video of the given size and length.
type Strategy interface {
	Layout(dets []model.Detection, size model.FrameSize, frameCount int) (*model.Layout, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(dets []model.Detection, size model.FrameSize, frameCount int) (*model.Layout, error)

// Layout implements Strategy.
func (f StrategyFunc) Layout(dets []model.Detection, size model.FrameSize, frameCount int) (*model.Layout, error) {
	return f(dets, size, frameCount)
}

// Single returns the untiled layout: one tile covering the whole frame for the whole video.
func Single(size model.FrameSize, frameCount int) (*model.Layout, error) {
	l := &model.Layout{
		Size:       size,
		FrameCount: frameCount,
		Segments: []model.Segment{{
			Frames: model.Frames(0, frameCount),
			Tiles:  []model.Rect{size.Rect()},
		}},
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// coalesce merges consecutive segments with identical tile geometry.
func coalesce(segs []model.Segment) []model.Segment {
	out := segs[:0:0]
	for _, s := range segs {
		if n := len(out); n > 0 && sameTiles(out[n-1].Tiles, s.Tiles) && out[n-1].Frames.End == s.Frames.Start {
			out[n-1].Frames.End = s.Frames.End
			continue
		}
		out = append(out, s)
	}
	return out
}

func sameTiles(a, b []model.Rect) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
