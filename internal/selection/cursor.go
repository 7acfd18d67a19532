package selection

import (
	"context"
	"image"
	"image/draw"
	"iter"
	"time"

	"github.com/hupe1980/tasm/internal/tileset"
	"github.com/hupe1980/tasm/model"
)

// Cursor is a pull-based sequence of query results. It is not safe for
// concurrent use.
type Cursor struct {
	ctx    context.Context
	engine *Engine
	req    Request
	ts     *tileset.TileSet

	next func() (model.Detection, error, bool)
	stop func()

	pending   *model.Detection
	exhausted bool
	buf       []Image

	sample Sample
	start  time.Time
	done   bool
	err    error
}

func newCursor(ctx context.Context, e *Engine, req Request, ts *tileset.TileSet) *Cursor {
	next, stop := iter.Pull2(e.catalog.Query(ctx, req.MetadataID, req.Label, req.Frames))
	return &Cursor{
		ctx:    ctx,
		engine: e,
		req:    req,
		ts:     ts,
		next:   next,
		stop:   stop,
		start:  time.Now(),
		sample: Sample{
			Video:      req.Video,
			MetadataID: req.MetadataID,
			Label:      req.Label,
			Mode:       req.Mode,
			Version:    ts.Version(),
		},
	}
}

// Version returns the layout version the cursor reads from.
func (c *Cursor) Version() uint64 { return c.sample.Version }

// Next returns the next result. Once the results are exhausted it returns an
// empty Image and a nil error on every call. After a failure every call returns
// the same error.
func (c *Cursor) Next() (Image, error) {
	for len(c.buf) == 0 {
		if c.done {
			return Image{}, c.err
		}
		group, err := c.pull()
		if err != nil {
			c.finish(err)
			return Image{}, err
		}
		if len(group) == 0 {
			c.finish(nil)
			return Image{}, nil
		}
		if c.buf, err = c.resolve(group); err != nil {
			c.finish(err)
			return Image{}, err
		}
	}

	img := c.buf[0]
	c.buf[0] = Image{}
	c.buf = c.buf[1:]
	c.sample.Results++
	return img, nil
}

// All returns the remaining results as an iterator. The cursor is closed when
// the iteration ends.
func (c *Cursor) All() iter.Seq2[Image, error] {
	return func(yield func(Image, error) bool) {
		defer c.Close()
		for {
			img, err := c.Next()
			if err != nil {
				yield(Image{}, err)
				return
			}
			if img.IsEmpty() || !yield(img, nil) {
				return
			}
		}
	}
}

// Close releases the tile set early. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.finish(nil)
	c.buf = nil
	return nil
}

// finish stops the detection stream, drops the tile set and reports the sample once.
func (c *Cursor) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.err = err
	c.stop()
	c.ts.DecRef()

	c.sample.Duration = time.Since(c.start)
	c.sample.Err = err
	if c.engine.opts.Report != nil {
		c.engine.opts.Report(c.sample)
	}
	if err != nil {
		c.engine.logger.Error("select failed", "video", c.req.Video, "label", c.req.Label, "mode", c.req.Mode, "error", err)
		return
	}
	c.engine.logger.Debug("select finished", "video", c.req.Video, "label", c.req.Label, "mode", c.req.Mode,
		"results", c.sample.Results, "decoded", c.sample.Decoded, "ideal", c.sample.Ideal)
}

// pull returns the detections of the next frame inside the video.
func (c *Cursor) pull() ([]model.Detection, error) {
	if c.exhausted {
		return nil, nil
	}
	frameCount := c.ts.Layout().FrameCount

	var group []model.Detection
	for {
		var d model.Detection
		if c.pending != nil {
			d, c.pending = *c.pending, nil
		} else {
			det, err, ok := c.next()
			if !ok {
				c.exhausted = true
				return group, nil
			}
			if err != nil {
				return nil, err
			}
			d = det
		}

		// Detections arrive in ascending frame order.
		if d.Frame >= frameCount {
			c.exhausted = true
			return group, nil
		}
		if len(group) > 0 && d.Frame != group[0].Frame {
			c.pending = &d
			return group, nil
		}
		group = append(group, d)
	}
}

// resolve decodes the tiles one frame's detections need and builds the results.
func (c *Cursor) resolve(group []model.Detection) ([]Image, error) {
	frame := group[0].Frame
	seg, offset, ok := c.ts.Segment(frame)
	if !ok {
		return nil, nil
	}
	bounds := c.ts.Layout().Size.Rect()

	boxes := make([]model.Rect, 0, len(group))
	for _, d := range group {
		if box := d.Box.Intersect(bounds); !box.Empty() {
			boxes = append(boxes, box)
		}
	}
	if len(boxes) == 0 {
		return nil, nil
	}

	var needed []int
	for j, r := range seg.Tiles {
		if c.req.Mode == Frames {
			needed = append(needed, j)
			continue
		}
		for _, b := range boxes {
			if r.Intersects(b) {
				needed = append(needed, j)
				break
			}
		}
	}

	tiles, err := c.decode(frame, offset, seg.Tiles, needed)
	if err != nil {
		return nil, err
	}

	var out []Image
	switch c.req.Mode {
	case Objects:
		for _, b := range boxes {
			px := image.NewRGBA(b.Image())
			for _, j := range needed {
				if inter := seg.Tiles[j].Intersect(b); !inter.Empty() {
					draw.Draw(px, inter.Image(), tiles[j], inter.Image().Min, draw.Src)
				}
			}
			out = append(out, Image{Frame: frame, Rect: b, Tile: -1, Label: c.req.Label, Pixels: px})
			c.sample.Ideal += b.Area()
		}
	case Tiles:
		for _, j := range needed {
			out = append(out, Image{Frame: frame, Rect: seg.Tiles[j], Tile: offset + j, Label: c.req.Label, Pixels: tiles[j]})
		}
		for _, b := range boxes {
			c.sample.Ideal += b.Area()
		}
	case Frames:
		px := image.NewRGBA(bounds.Image())
		for _, j := range needed {
			draw.Draw(px, seg.Tiles[j].Image(), tiles[j], seg.Tiles[j].Image().Min, draw.Src)
		}
		out = append(out, Image{Frame: frame, Rect: bounds, Tile: -1, Label: c.req.Label, Pixels: px})
	}
	for _, j := range needed {
		c.sample.Decoded += seg.Tiles[j].Area()
	}
	if c.req.Mode == Frames {
		c.sample.Ideal = c.sample.Decoded
	}
	return out, nil
}

// decode decodes frame of the needed tiles in parallel, bounded by the memory limit.
func (c *Cursor) decode(frame, offset int, rects []model.Rect, needed []int) ([]*image.RGBA, error) {
	var bytes int64
	for _, j := range needed {
		bytes += rects[j].Area() * 4
	}
	rc := c.engine.opts.Resources
	reserved, err := rc.WaitMemory(c.ctx, bytes)
	if err != nil {
		return nil, err
	}
	defer rc.ReleaseMemory(reserved)

	out := make([]*image.RGBA, len(rects))
	err = c.engine.pool.Do(c.ctx, len(needed), func(ctx context.Context, k int) error {
		j := needed[k]
		pix, err := c.engine.store.DecodeTile(ctx, c.ts, offset+j, model.Frames(frame, frame+1))
		if err != nil {
			return err
		}
		out[j] = pix[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
