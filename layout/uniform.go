package layout

import (
	"fmt"

	"github.com/hupe1980/tasm/model"
)

// Uniform returns a rows x cols grid layout used for the whole video.
//
// Column i spans [i*W/cols, (i+1)*W/cols), so tile sizes differ by at most one pixel
// and always sum to the frame size.
func Uniform(rows, cols int, size model.FrameSize, frameCount int) (*model.Layout, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", model.ErrInvalidLayout, rows, cols)
	}
	if rows > size.Height || cols > size.Width {
		return nil, fmt.Errorf("%w: grid %dx%d exceeds frame %dx%d", model.ErrInvalidLayout, rows, cols, size.Width, size.Height)
	}

	tiles := make([]model.Rect, 0, rows*cols)
	for r := 0; r < rows; r++ {
		y1, y2 := r*size.Height/rows, (r+1)*size.Height/rows
		for c := 0; c < cols; c++ {
			x1, x2 := c*size.Width/cols, (c+1)*size.Width/cols
			tiles = append(tiles, model.R(x1, y1, x2, y2))
		}
	}

	l := &model.Layout{
		Size:       size,
		FrameCount: frameCount,
		Segments:   []model.Segment{{Frames: model.Frames(0, frameCount), Tiles: tiles}},
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// UniformStrategy is a Strategy that ignores detections and returns a fixed grid.
type UniformStrategy struct {
	Rows, Cols int
}

// Layout implements Strategy.
func (u UniformStrategy) Layout(_ []model.Detection, size model.FrameSize, frameCount int) (*model.Layout, error) {
	return Uniform(u.Rows, u.Cols, size, frameCount)
}
