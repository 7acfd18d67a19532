package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/hupe1980/tasm/internal/conv"
	"github.com/hupe1980/tasm/model"
)

// RawName is the stable name of the raw codec.
const RawName = "raw"

const (
	rawMagic      = "TSMR"
	rawVersion    = 1
	rawHeaderSize = 20
)

// Raw stores every frame of a tile as one compressed RGBA block and keeps an offset
// table so that any frame range can be read without scanning the whole bitstream.
//
// Layout:
//
//	[magic "TSMR"][version u8][compression u8][reserved u16]
//	[width u32][height u32][frames u32]
//	[offset u64] * (frames+1)
//	[block] * frames
type Raw struct {
	compression CompressionType
}

// NewRaw returns a raw codec using the given block compression.
func NewRaw(ct CompressionType) *Raw {
	return &Raw{compression: ct}
}

// Name implements Codec.
func (c *Raw) Name() string {
	switch c.compression {
	case CompressionZSTD:
		return RawName
	default:
		return RawName + "-" + c.compression.String()
	}
}

// Encode implements Codec.
func (c *Raw) Encode(ctx context.Context, frames []*image.RGBA, region model.Rect) ([]byte, error) {
	if region.Empty() {
		return nil, fail("encode", region, model.Frames(0, len(frames)), errors.New("empty region"))
	}
	if len(frames) == 0 {
		return nil, fail("encode", region, model.Frames(0, 0), errors.New("no frames"))
	}

	count, err := conv.IntToUint32(len(frames))
	if err != nil {
		return nil, fail("encode", region, model.Frames(0, len(frames)), err)
	}

	w, h := region.Width(), region.Height()
	tableSize := 8 * (len(frames) + 1)
	out := make([]byte, rawHeaderSize+tableSize, rawHeaderSize+tableSize+len(frames)*w*h*4/2)
	copy(out, rawMagic)
	out[4] = rawVersion
	out[5] = byte(c.compression)
	binary.LittleEndian.PutUint32(out[8:], uint32(w))
	binary.LittleEndian.PutUint32(out[12:], uint32(h))
	binary.LittleEndian.PutUint32(out[16:], count)

	pix := make([]byte, w*h*4)
	bounds := image.Rect(region.X1, region.Y1, region.X2, region.Y2)
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !bounds.In(f.Bounds()) {
			return nil, fail("encode", region, model.Frames(i, i+1), fmt.Errorf("region outside frame bounds %v", f.Bounds()))
		}
		for y := 0; y < h; y++ {
			off := f.PixOffset(region.X1, region.Y1+y)
			copy(pix[y*w*4:(y+1)*w*4], f.Pix[off:off+w*4])
		}

		binary.LittleEndian.PutUint64(out[rawHeaderSize+8*i:], uint64(len(out)))
		out, err = appendBlock(out, pix, c.compression)
		if err != nil {
			return nil, fail("encode", region, model.Frames(i, i+1), err)
		}
	}
	binary.LittleEndian.PutUint64(out[rawHeaderSize+8*len(frames):], uint64(len(out)))
	return out, nil
}

// Decode implements Codec.
func (c *Raw) Decode(ctx context.Context, r io.ReaderAt, size int64, region model.Rect, frames model.FrameRange) ([]*image.RGBA, error) {
	if size < rawHeaderSize {
		return nil, fail("decode", region, frames, errors.New("bitstream too small"))
	}
	var hdr [rawHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fail("decode", region, frames, err)
	}
	if string(hdr[:4]) != rawMagic || hdr[4] != rawVersion {
		return nil, fail("decode", region, frames, errors.New("bad header"))
	}
	ct := CompressionType(hdr[5])
	w, werr := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[8:]))
	h, herr := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[12:]))
	n, nerr := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[16:]))
	if err := errors.Join(werr, herr, nerr); err != nil {
		return nil, fail("decode", region, frames, err)
	}

	if w != region.Width() || h != region.Height() {
		return nil, fail("decode", region, frames, fmt.Errorf("bitstream is %dx%d, region is %dx%d", w, h, region.Width(), region.Height()))
	}
	if frames.Start < 0 || frames.End > n || frames.Empty() {
		return nil, fail("decode", region, frames, fmt.Errorf("frame range outside [0,%d)", n))
	}

	table := make([]byte, 8*(frames.Len()+1))
	if _, err := r.ReadAt(table, int64(rawHeaderSize+8*frames.Start)); err != nil {
		return nil, fail("decode", region, frames, err)
	}
	offsets, err := readOffsets(table)
	if err != nil {
		return nil, fail("decode", region, frames, err)
	}
	start, end := offsets[0], offsets[len(offsets)-1]
	if start < rawHeaderSize || end < start || int64(end) > size {
		return nil, fail("decode", region, frames, errors.New("corrupt offset table"))
	}

	data := make([]byte, end-start)
	if n, err := r.ReadAt(data, int64(start)); err != nil && !(errors.Is(err, io.EOF) && n == len(data)) {
		return nil, fail("decode", region, frames, err)
	}

	bounds := image.Rect(region.X1, region.Y1, region.X2, region.Y2)
	out := make([]*image.RGBA, 0, frames.Len())
	for i := 0; i < frames.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo, hi := offsets[i]-start, offsets[i+1]-start
		if lo < 0 || hi < lo || hi > len(data) {
			return nil, fail("decode", region, model.Frames(frames.Start+i, frames.Start+i+1), errors.New("corrupt offset table"))
		}
		img := image.NewRGBA(bounds)
		if err := decodeBlock(img.Pix, data[lo:hi], ct); err != nil {
			return nil, fail("decode", region, model.Frames(frames.Start+i, frames.Start+i+1), err)
		}
		out = append(out, img)
	}
	return out, nil
}

func readOffsets(table []byte) ([]int, error) {
	out := make([]int, len(table)/8)
	for i := range out {
		v, err := conv.Uint64ToInt(binary.LittleEndian.Uint64(table[8*i:]))
		if err != nil {
			return nil, fmt.Errorf("corrupt offset table: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

func fail(op string, tile model.Rect, frames model.FrameRange, err error) error {
	return &Error{Op: op, Tile: tile, Frames: frames, Err: err}
}
