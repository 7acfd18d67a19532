package store

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/internal/tileset"
	"github.com/hupe1980/tasm/model"
)

// DecodeTile decodes frames of tile i of ts. The returned images have bounds equal
// to the tile rectangle.
func (s *Store) DecodeTile(ctx context.Context, ts *tileset.TileSet, i int, frames model.FrameRange) ([]*image.RGBA, error) {
	m := ts.Manifest()
	if i < 0 || i >= len(m.Tiles) {
		return nil, fmt.Errorf("tile %d out of range [0, %d)", i, len(m.Tiles))
	}
	tile := ts.Tile(i)
	if frames.Empty() || frames.Intersect(tile.Region.Frames) != frames {
		return nil, fmt.Errorf("frames %v outside tile %d frames %v", frames, i, tile.Region.Frames)
	}
	c, err := s.codecFor(m)
	if err != nil {
		return nil, err
	}

	out := make([]*image.RGBA, 0, frames.Len())
	for _, ch := range tile.Chunks {
		r := ch.Frames.Intersect(frames)
		if r.Empty() {
			continue
		}
		pix, err := s.decodeChunk(ctx, c, tile.Region.Rect, ch, r)
		if err != nil {
			return nil, err
		}
		out = append(out, pix...)
	}
	return out, nil
}

func (s *Store) decodeChunk(ctx context.Context, c codec.Codec, rect model.Rect, ch manifest.ChunkInfo, r model.FrameRange) ([]*image.RGBA, error) {
	b, err := s.blobs.Open(ctx, ch.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ch.Path, err)
	}
	defer b.Close()

	rel := model.Frames(r.Start-ch.Frames.Start, r.End-ch.Frames.Start)
	pix, err := c.Decode(ctx, blobstore.ReaderAt(ctx, b), b.Size(), rect, rel)
	if err != nil {
		return nil, codecError("decode", rect, r, err)
	}
	if len(pix) != r.Len() {
		return nil, codecError("decode", rect, r, fmt.Errorf("decoded %d frames, want %d", len(pix), r.Len()))
	}
	return pix, nil
}

// ReadFrames reconstructs full frames from every tile of ts.
func (s *Store) ReadFrames(ctx context.Context, ts *tileset.TileSet, frames model.FrameRange) ([]*image.RGBA, error) {
	l := ts.Layout()
	if frames.Empty() || frames.Start < 0 || frames.End > l.FrameCount {
		return nil, fmt.Errorf("frames %v outside video frames [0, %d)", frames, l.FrameCount)
	}

	bounds := image.Rect(0, 0, l.Size.Width, l.Size.Height)
	out := make([]*image.RGBA, frames.Len())
	for i := range out {
		out[i] = image.NewRGBA(bounds)
	}

	for f := frames.Start; f < frames.End; {
		seg, offset, ok := ts.Segment(f)
		if !ok {
			return nil, fmt.Errorf("%w: no segment for frame %d", model.ErrInvalidLayout, f)
		}
		r := seg.Frames.Intersect(frames)

		decoded := make([][]*image.RGBA, len(seg.Tiles))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.EncodeParallelism)
		for j := range seg.Tiles {
			g.Go(func() error {
				pix, err := s.DecodeTile(gctx, ts, offset+j, r)
				decoded[j] = pix
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, pix := range decoded {
			for k, p := range pix {
				draw.Draw(out[r.Start-frames.Start+k], p.Bounds(), p, p.Bounds().Min, draw.Src)
			}
		}
		f = r.End
	}
	return out, nil
}
