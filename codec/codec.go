// Package codec defines the video codec capability used to encode and decode tiles.
//
// A codec turns the pixels of one tile region over a run of frames into an
// independently decodable bitstream, and decodes any sub-range of those frames
// back into pixels without touching sibling tiles. Codec selection is recorded in
// each video manifest: changing codecs for stored videos requires a re-encode.
package codec

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/hupe1980/tasm/model"
)

// ErrCodecFailure classifies every encode or decode failure.
var ErrCodecFailure = errors.New("codec failure")

// Codec encodes and decodes tile bitstreams.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Name returns the stable name stored in manifests.
	Name() string

	// Encode crops region out of every frame and encodes the result as one bitstream.
	Encode(ctx context.Context, frames []*image.RGBA, region model.Rect) ([]byte, error)

	// Decode reads frames (relative to the first encoded frame) of a bitstream of the
	// given size. The returned images have bounds equal to region in frame coordinates.
	Decode(ctx context.Context, r io.ReaderAt, size int64, region model.Rect, frames model.FrameRange) ([]*image.RGBA, error)
}

// Error describes a failed encode or decode of a single tile.
//
// errors.Is(err, ErrCodecFailure) reports true for every *Error. The underlying
// error can be accessed via errors.Unwrap.
type Error struct {
	Op     string
	Tile   model.Rect
	Frames model.FrameRange
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s tile %s frames %s: %v", e.Op, e.Tile, e.Frames, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrCodecFailure.
func (e *Error) Is(target error) bool { return target == ErrCodecFailure }

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case RawName:
		return NewRaw(CompressionZSTD), true
	case RawName + "-lz4":
		return NewRaw(CompressionLZ4), true
	case RawName + "-none":
		return NewRaw(CompressionNone), true
	default:
		return nil, false
	}
}

// Crop copies region out of img into a new image whose bounds equal region.
func Crop(img *image.RGBA, region model.Rect) *image.RGBA {
	r := image.Rect(region.X1, region.Y1, region.X2, region.Y2).Intersect(img.Bounds())
	out := image.NewRGBA(r)
	rowLen := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := img.PixOffset(r.Min.X, y)
		dst := out.PixOffset(r.Min.X, y)
		copy(out.Pix[dst:dst+rowLen], img.Pix[src:src+rowLen])
	}
	return out
}
