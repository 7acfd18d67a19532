package testutil

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sync"
	"testing"

	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/video"
)

// Pixel returns the synthetic color of (x, y) in frame.
func Pixel(x, y, frame int) color.RGBA {
	return color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8(frame % 256), A: 255}
}

// Frame returns synthetic frame number frame.
func Frame(size model.FrameSize, frame int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := range size.Height {
		for x := range size.Width {
			img.SetRGBA(x, y, Pixel(x, y, frame))
		}
	}
	return img
}

// Frames returns n synthetic frames.
func Frames(size model.FrameSize, n int) []*image.RGBA {
	out := make([]*image.RGBA, n)
	for i := range out {
		out[i] = Frame(size, i)
	}
	return out
}

// Source returns an in-memory source over n synthetic frames.
func Source(tb testing.TB, size model.FrameSize, n int, fps float64) video.Source {
	tb.Helper()
	src, err := video.FromFrames(Frames(size, n), fps)
	if err != nil {
		tb.Fatalf("synthetic source: %v", err)
	}
	return src
}

// CheckRegion verifies that every pixel of img matches the synthetic frame.
func CheckRegion(img *image.RGBA, frame int) error {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if got, want := img.RGBAAt(x, y), Pixel(x, y, frame); got != want {
				return fmt.Errorf("frame %d pixel (%d,%d) = %v, want %v", frame, x, y, got, want)
			}
		}
	}
	return nil
}

// Track returns one detection per frame of an object moving by (dx, dy) per frame.
func Track(id, label string, frames model.FrameRange, box model.Rect, dx, dy int) []model.Detection {
	out := make([]model.Detection, 0, frames.Len())
	for f := frames.Start; f < frames.End; f++ {
		n := f - frames.Start
		out = append(out, model.NewDetection(id, label, f,
			box.X1+n*dx, box.Y1+n*dy, box.X2+n*dx, box.Y2+n*dy))
	}
	return out
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Box returns a random valid box inside size with sides in [1, maxSide].
func (r *RNG) Box(size model.FrameSize, maxSide int) model.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.boxLocked(size, maxSide)
}

func (r *RNG) boxLocked(size model.FrameSize, maxSide int) model.Rect {
	w := 1 + r.rand.Intn(min(maxSide, size.Width))
	h := 1 + r.rand.Intn(min(maxSide, size.Height))
	x := r.rand.Intn(size.Width - w + 1)
	y := r.rand.Intn(size.Height - h + 1)
	return model.R(x, y, x+w, y+h)
}

// Detections returns perFrame random detections on each of frames frames.
// Boxes cover at most a quarter of each frame dimension.
func (r *RNG) Detections(id, label string, size model.FrameSize, frames, perFrame int) []model.Detection {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxSide := max(1, min(size.Width, size.Height)/4)
	out := make([]model.Detection, 0, frames*perFrame)
	for f := range frames {
		for range perFrame {
			b := r.boxLocked(size, maxSide)
			out = append(out, model.NewDetection(id, label, f, b.X1, b.Y1, b.X2, b.Y2))
		}
	}
	return out
}

// Sparse returns detections on roughly rate * frames frames, each with one box.
func (r *RNG) Sparse(id, label string, size model.FrameSize, frames int, rate float64) []model.Detection {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxSide := max(1, min(size.Width, size.Height)/4)
	var out []model.Detection
	for f := range frames {
		if r.rand.Float64() >= rate {
			continue
		}
		b := r.boxLocked(size, maxSide)
		out = append(out, model.NewDetection(id, label, f, b.X1, b.Y1, b.X2, b.Y2))
	}
	return out
}
