// Package video reads raw frames for ingestion.
//
// Sources produce full RGBA frames one at a time so that callers never hold more
// than the frames they are actively encoding.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/tasm/model"
)

// ErrUnsupportedFormat is returned by Open for files it cannot read.
var ErrUnsupportedFormat = errors.New("unsupported video format")

// Info describes a video stream.
type Info struct {
	Size      model.FrameSize
	FrameRate float64
	// FrameCount is 0 if the number of frames is not known up front.
	FrameCount int
}

// Source is a sequential reader of video frames.
type Source interface {
	Info() Info
	// ReadFrame returns the next frame or io.EOF after the last one.
	ReadFrame(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Opener maps a path to a Source.
type Opener func(path string) (Source, error)

// Open opens a raw video file. Y4M (.y4m) is supported.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".y4m":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r, err := NewY4MReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if fi, err := f.Stat(); err == nil {
			r.estimateFrames(fi.Size())
		}
		r.closer = f
		return r, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ReadChunk reads up to n frames. It returns io.EOF only when no frame was read.
func ReadChunk(ctx context.Context, src Source, n int) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, 0, n)
	for len(out) < n {
		f, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// ReadAll reads every remaining frame of src.
func ReadAll(ctx context.Context, src Source) ([]*image.RGBA, error) {
	var out []*image.RGBA
	for {
		f, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
}

type memorySource struct {
	info   Info
	frames []*image.RGBA
	next   int
}

// FromFrames returns a Source over in-memory frames. All frames must share the bounds
// of the first one, which must start at the origin.
func FromFrames(frames []*image.RGBA, frameRate float64) (Source, error) {
	if len(frames) == 0 {
		return nil, errors.New("no frames")
	}
	b := frames[0].Bounds()
	if b.Min != (image.Point{}) {
		return nil, fmt.Errorf("frame bounds %v do not start at the origin", b)
	}
	for i, f := range frames {
		if f.Bounds() != b {
			return nil, fmt.Errorf("frame %d has bounds %v, want %v", i, f.Bounds(), b)
		}
	}
	return &memorySource{
		info: Info{
			Size:       model.FrameSize{Width: b.Dx(), Height: b.Dy()},
			FrameRate:  frameRate,
			FrameCount: len(frames),
		},
		frames: frames,
	}, nil
}

func (s *memorySource) Info() Info { return s.info }

func (s *memorySource) ReadFrame(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *memorySource) Close() error { return nil }
