package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"path"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/video"
)

// frameFunc returns the full frames of r. Calls arrive in ascending, contiguous order.
type frameFunc func(ctx context.Context, r model.FrameRange) ([]*image.RGBA, error)

// Store encodes src under l and publishes it as the active tile set of name.
// Storing an existing name replaces its tiles.
func (s *Store) Store(ctx context.Context, name string, src video.Source, l *model.Layout, meta Meta) (*Info, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	info := src.Info()
	if l.Size != info.Size {
		return nil, fmt.Errorf("%w: layout size %v, video size %v", model.ErrInvalidLayout, l.Size, info.Size)
	}
	if info.FrameCount > 0 && l.FrameCount != info.FrameCount {
		return nil, fmt.Errorf("%w: layout covers %d frames, video has %d", model.ErrInvalidLayout, l.FrameCount, info.FrameCount)
	}

	e, err := s.entryFor(name)
	if err != nil {
		return nil, err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	baseID, err := s.latestVersion(ctx, name, e)
	if err != nil {
		s.dropIfEmpty(name, e)
		return nil, err
	}

	m, err := s.encode(ctx, name, l, meta, info.FrameRate, sequential(src, info.Size), baseID)
	if err != nil {
		s.dropIfEmpty(name, e)
		return nil, err
	}
	e.handle.Swap(s.newTileSet(m))

	s.logger.Info("stored video", "video", name, "version", m.ID, "kind", m.Kind, "tiles", len(m.Tiles), "bytes", m.Size())
	return infoOf(m), nil
}

// Retile re-encodes the active tiles of name under l, reconstructing frames from
// the stored tiles. Readers holding the previous tile set are unaffected.
// If l equals the active layout nothing is encoded.
func (s *Store) Retile(ctx context.Context, name string, l *model.Layout, meta Meta) (*Info, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	prev := e.handle.Acquire()
	if prev == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVideo, name)
	}
	defer prev.DecRef()

	cur := prev.Layout()
	if l.Size != cur.Size || l.FrameCount != cur.FrameCount {
		return nil, fmt.Errorf("%w: layout %v x %d frames, video %v x %d frames",
			model.ErrInvalidLayout, l.Size, l.FrameCount, cur.Size, cur.FrameCount)
	}
	if l.Equal(cur) {
		s.logger.Debug("retile skipped, layout unchanged", "video", name, "version", prev.Version())
		return infoOf(prev.Manifest()), nil
	}

	reconstruct := func(ctx context.Context, r model.FrameRange) ([]*image.RGBA, error) {
		return s.ReadFrames(ctx, prev, r)
	}
	m, err := s.encode(ctx, name, l, meta, prev.Manifest().FrameRate, reconstruct, prev.Version())
	if err != nil {
		return nil, err
	}
	e.handle.Swap(s.newTileSet(m))

	s.logger.Info("retiled video", "video", name, "from", prev.Version(), "to", m.ID, "kind", m.Kind, "tiles", len(m.Tiles))
	return infoOf(m), nil
}

// latestVersion returns the highest manifest version name has ever used. Versions
// of a deleted video can outlive it while readers still hold them, so a new
// video under the same name continues after them instead of reusing their ids.
func (s *Store) latestVersion(ctx context.Context, name string, e *entry) (uint64, error) {
	var id uint64
	if prev := e.handle.Acquire(); prev != nil {
		id = prev.Version()
		prev.DecRef()
	}
	ids, err := s.manifests.ListVersions(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("list versions: %w", err)
	}
	if len(ids) > 0 {
		id = max(id, ids[len(ids)-1])
	}
	return id, nil
}

// encode writes a complete tile set under a fresh directory and saves its manifest.
// On failure every written chunk is removed.
func (s *Store) encode(ctx context.Context, name string, l *model.Layout, meta Meta, fps float64, frames frameFunc, baseID uint64) (*manifest.Manifest, error) {
	rc := s.opts.Resources
	if err := rc.AcquireBackground(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseBackground()

	m := &manifest.Manifest{
		ID:        baseID,
		Video:     name,
		Codec:     s.opts.Codec.Name(),
		Kind:      meta.Kind,
		Labels:    slices.Clone(meta.Labels),
		FrameRate: fps,
		TileDir:   path.Join(name, tilesDir, uuid.NewString()),
		Layout:    l.Clone(),
	}
	for _, r := range m.Layout.Regions() {
		m.Tiles = append(m.Tiles, manifest.TileInfo{Region: r})
	}

	published := false
	defer func() {
		if !published {
			if err := blobstore.DeletePrefix(context.WithoutCancel(ctx), s.blobs, m.TileDir+"/"); err != nil {
				s.logger.Warn("failed to clean up tiles", "video", name, "dir", m.TileDir, "error", err)
			}
		}
	}()

	offset := 0
	for _, seg := range m.Layout.Segments {
		for _, chunk := range splitGOP(seg.Frames, s.opts.GOPLength) {
			pix, err := frames(ctx, chunk)
			if err != nil {
				return nil, err
			}
			if err := s.encodeChunk(ctx, m, seg.Tiles, offset, chunk, pix); err != nil {
				return nil, err
			}
		}
		offset += len(seg.Tiles)
	}

	if err := s.manifests.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}
	published = true
	return m, nil
}

// encodeChunk encodes every tile of one chunk in parallel and writes the bitstreams.
func (s *Store) encodeChunk(ctx context.Context, m *manifest.Manifest, tiles []model.Rect, offset int, chunk model.FrameRange, pix []*image.RGBA) error {
	rc := s.opts.Resources
	chunks := make([]manifest.ChunkInfo, len(tiles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.EncodeParallelism)
	for i, r := range tiles {
		g.Go(func() error {
			data, err := s.opts.Codec.Encode(gctx, pix, r)
			if err != nil {
				return codecError("encode", r, chunk, err)
			}
			p := path.Join(m.TileDir, fmt.Sprintf("tile-%04d-%06d.bin", offset+i, chunk.Start))
			if err := rc.AcquireIO(gctx, len(data)); err != nil {
				return err
			}
			if err := s.blobs.Put(gctx, p, data); err != nil {
				return fmt.Errorf("write %s: %w", p, err)
			}
			chunks[i] = manifest.ChunkInfo{Frames: chunk, Path: p, Size: int64(len(data))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range chunks {
		m.Tiles[offset+i].Chunks = append(m.Tiles[offset+i].Chunks, c)
	}
	return nil
}

// splitGOP cuts r at multiples of gop.
func splitGOP(r model.FrameRange, gop int) []model.FrameRange {
	var out []model.FrameRange
	for start := r.Start; start < r.End; {
		end := min((start/gop+1)*gop, r.End)
		out = append(out, model.Frames(start, end))
		start = end
	}
	return out
}

// sequential reads chunks from src in order and checks their geometry.
func sequential(src video.Source, size model.FrameSize) frameFunc {
	next := 0
	bounds := image.Rect(0, 0, size.Width, size.Height)
	return func(ctx context.Context, r model.FrameRange) ([]*image.RGBA, error) {
		if r.Start != next {
			return nil, fmt.Errorf("non-sequential read at frame %d, want %d", r.Start, next)
		}
		pix, err := video.ReadChunk(ctx, src, r.Len())
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read frames %v: %w", r, err)
		}
		if len(pix) < r.Len() {
			return nil, fmt.Errorf("%w: %d frames read, %d announced", ErrShortSource, r.Start+len(pix), r.End)
		}
		for i, f := range pix {
			if f.Bounds() != bounds {
				return nil, fmt.Errorf("frame %d has bounds %v, want %v", r.Start+i, f.Bounds(), bounds)
			}
		}
		next = r.End
		return pix, nil
	}
}

// codecError attaches tile context, keeping cancellation errors as they are.
func codecError(op string, tile model.Rect, frames model.FrameRange, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ce *codec.Error
	if errors.As(err, &ce) {
		return &codec.Error{Op: ce.Op, Tile: tile, Frames: frames, Err: ce.Err}
	}
	return &codec.Error{Op: op, Tile: tile, Frames: frames, Err: err}
}
