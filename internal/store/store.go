// Package store implements the Video Store: tiled encoding, versioned publication
// and copy-on-write re-tiling of videos.
//
// Every video has one active tile set. Readers acquire it with a reference and
// keep decoding from it while a retile encodes and publishes a replacement. The
// superseded tiles are deleted once the last reader releases them.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/manifest"
	"github.com/hupe1980/tasm/internal/resource"
	"github.com/hupe1980/tasm/internal/tileset"
	"github.com/hupe1980/tasm/model"
)

var (
	// ErrUnknownVideo is returned for a video name that was never stored.
	ErrUnknownVideo = errors.New("unknown video")

	// ErrInvalidName is returned for names that cannot be used as a blob directory.
	ErrInvalidName = errors.New("invalid video name")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")

	// ErrShortSource is returned when a source yields fewer frames than it announced.
	ErrShortSource = errors.New("video source ended early")
)

// DefaultGOPLength is the number of frames per encoded chunk.
const DefaultGOPLength = 30

const tilesDir = "tiles"

// Options configures a Store.
type Options struct {
	// Codec encodes new tile sets. Defaults to the zstd raw codec.
	Codec codec.Codec
	// Codecs resolves the codec recorded in a manifest. Defaults to codec.ByName.
	Codecs func(name string) (codec.Codec, bool)
	// GOPLength is the number of frames per independently decodable chunk.
	GOPLength int
	// EncodeParallelism bounds concurrent tile encodes of one chunk.
	EncodeParallelism int
	Resources         *resource.Controller
	Logger            *slog.Logger
}

// Option configures a Store.
type Option func(*Options)

// WithCodec sets the codec for new tile sets.
func WithCodec(c codec.Codec) Option {
	return func(o *Options) { o.Codec = c }
}

// WithCodecs sets the codec resolver for stored tile sets.
func WithCodecs(fn func(name string) (codec.Codec, bool)) Option {
	return func(o *Options) { o.Codecs = fn }
}

// WithGOPLength sets the frames per encoded chunk.
func WithGOPLength(n int) Option {
	return func(o *Options) { o.GOPLength = n }
}

// WithEncodeParallelism bounds concurrent tile encodes.
func WithEncodeParallelism(n int) Option {
	return func(o *Options) { o.EncodeParallelism = n }
}

// WithResources sets the resource controller.
func WithResources(rc *resource.Controller) Option {
	return func(o *Options) { o.Resources = rc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Meta describes how a layout was chosen.
type Meta struct {
	Kind   manifest.Kind
	Labels []string
}

// Info summarizes a published tile set.
type Info struct {
	Video     string
	Version   uint64
	Kind      manifest.Kind
	Labels    []string
	Codec     string
	FrameRate float64
	Layout    *model.Layout
	Bytes     int64
	CreatedAt time.Time
}

func infoOf(m *manifest.Manifest) *Info {
	return &Info{
		Video:     m.Video,
		Version:   m.ID,
		Kind:      m.Kind,
		Labels:    slices.Clone(m.Labels),
		Codec:     m.Codec,
		FrameRate: m.FrameRate,
		Layout:    m.Layout.Clone(),
		Bytes:     m.Size(),
		CreatedAt: m.CreatedAt,
	}
}

type entry struct {
	handle  *tileset.Handle
	writeMu sync.Mutex // serializes publication per video
}

// Store is the Video Store.
type Store struct {
	blobs     blobstore.BlobStore
	manifests *manifest.Store
	opts      Options
	logger    *slog.Logger

	mu     sync.RWMutex
	videos map[string]*entry
	closed atomic.Bool
}

// Open loads every published video from blobs and removes tile sets that no
// manifest references.
func Open(ctx context.Context, blobs blobstore.BlobStore, optFns ...Option) (*Store, error) {
	opts := Options{
		Codecs:            codec.ByName,
		GOPLength:         DefaultGOPLength,
		EncodeParallelism: runtime.GOMAXPROCS(0),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewRaw(codec.CompressionZSTD)
	}
	if opts.GOPLength <= 0 {
		opts.GOPLength = DefaultGOPLength
	}
	if opts.EncodeParallelism <= 0 {
		opts.EncodeParallelism = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		blobs:     blobs,
		manifests: manifest.NewStore(blobs),
		opts:      opts,
		logger:    logger,
		videos:    make(map[string]*entry),
	}

	videos, err := s.manifests.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	for _, video := range videos {
		m, err := s.manifests.Load(ctx, video)
		if errors.Is(err, manifest.ErrNotFound) {
			// A first publish crashed before CURRENT was written.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load video %q: %w", video, err)
		}
		s.videos[video] = &entry{handle: tileset.NewHandle(s.newTileSet(m))}
	}

	if err := s.vacuum(ctx); err != nil {
		return nil, fmt.Errorf("vacuum: %w", err)
	}
	return s, nil
}

// ValidateName reports whether name can be used as a video name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) newTileSet(m *manifest.Manifest) *tileset.TileSet {
	return tileset.New(m, s.release)
}

// release deletes the tiles and manifest of a superseded tile set.
func (s *Store) release(m *manifest.Manifest) {
	ctx := context.Background()
	if err := blobstore.DeletePrefix(ctx, s.blobs, m.TileDir+"/"); err != nil {
		s.logger.Warn("failed to delete superseded tiles", "video", m.Video, "version", m.ID, "error", err)
	}
	if err := s.manifests.DeleteVersion(ctx, m.Video, m.ID); err != nil {
		s.logger.Warn("failed to delete superseded manifest", "video", m.Video, "version", m.ID, "error", err)
	}
	s.logger.Debug("released tile set", "video", m.Video, "version", m.ID)
}

func (s *Store) lookup(name string) (*entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.videos[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVideo, name)
	}
	return e, nil
}

// entryFor returns the entry of name, creating an unpublished one if needed.
func (s *Store) entryFor(name string) (*entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.videos[name]
	if !ok {
		e = &entry{handle: &tileset.Handle{}}
		s.videos[name] = e
	}
	return e, nil
}

// dropIfEmpty removes an entry whose first publication failed.
func (s *Store) dropIfEmpty(name string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.videos[name] == e && e.handle.Peek() == nil {
		delete(s.videos, name)
	}
}

// Acquire returns the active tile set of a video with a reference held for the
// caller, who must DecRef it.
func (s *Store) Acquire(name string) (*tileset.TileSet, error) {
	e, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	ts := e.handle.Acquire()
	if ts == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVideo, name)
	}
	return ts, nil
}

// Info describes the active tile set of a video.
func (s *Store) Info(name string) (*Info, error) {
	ts, err := s.Acquire(name)
	if err != nil {
		return nil, err
	}
	defer ts.DecRef()
	return infoOf(ts.Manifest()), nil
}

// Has reports whether a video is published.
func (s *Store) Has(name string) bool {
	ts, err := s.Acquire(name)
	if err != nil {
		return false
	}
	ts.DecRef()
	return true
}

// Videos returns the published video names in sorted order.
func (s *Store) Videos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, e := range s.videos {
		if e.handle.Peek() != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Delete unpublishes a video. Its tiles are removed once in-flight readers finish.
func (s *Store) Delete(ctx context.Context, name string) error {
	e, err := s.lookup(name)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := s.blobs.Delete(ctx, path.Join(name, manifest.CurrentFileName)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.videos, name)
	s.mu.Unlock()

	e.handle.Clear()
	s.logger.Info("deleted video", "video", name)
	return nil
}

// Close stops accepting requests. Published tiles are left in place.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) codecFor(m *manifest.Manifest) (codec.Codec, error) {
	if m.Codec == s.opts.Codec.Name() {
		return s.opts.Codec, nil
	}
	c, ok := s.opts.Codecs(m.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", codec.ErrCodecFailure, m.Codec)
	}
	return c, nil
}
