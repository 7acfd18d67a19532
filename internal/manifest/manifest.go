package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/model"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	// CurrentVersion is the version of the manifest format.
	CurrentVersion = 1
)

// Kind records how a layout was chosen.
type Kind string

const (
	KindUntiled    Kind = "untiled"
	KindUniform    Kind = "uniform"
	KindNonUniform Kind = "nonuniform"
	KindCustom     Kind = "custom"
)

// Manifest describes the published tile set of a video.
type Manifest struct {
	Version   int
	ID        uint64
	CreatedAt time.Time
	Video     string
	Codec     string
	Kind      Kind
	// Labels are the labels a non-uniform layout was shaped around.
	Labels    []string
	FrameRate float64
	// TileDir is the blob directory holding every chunk of this tile set.
	TileDir string
	Layout  *model.Layout
	// Tiles is parallel to Layout.Regions().
	Tiles []TileInfo
}

// TileInfo describes the encoded chunks of one tile region.
type TileInfo struct {
	Region model.TileRegion
	Chunks []ChunkInfo
}

// ChunkInfo is one independently decodable bitstream covering Frames of a tile.
type ChunkInfo struct {
	Frames model.FrameRange
	Path   string
	Size   int64
}

// Chunk returns the chunk containing frame, or false.
func (t *TileInfo) Chunk(frame int) (ChunkInfo, bool) {
	i := sort.Search(len(t.Chunks), func(i int) bool { return t.Chunks[i].Frames.End > frame })
	if i < len(t.Chunks) && t.Chunks[i].Frames.Contains(frame) {
		return t.Chunks[i], true
	}
	return ChunkInfo{}, false
}

// Size returns the total encoded size of the tile set.
func (m *Manifest) Size() int64 {
	var n int64
	for _, t := range m.Tiles {
		for _, c := range t.Chunks {
			n += c.Size
		}
	}
	return n
}

// Validate checks that tiles and chunks match the layout.
func (m *Manifest) Validate() error {
	if m.Layout == nil {
		return fmt.Errorf("%w: missing layout", ErrCorrupt)
	}
	if err := m.Layout.Validate(); err != nil {
		return err
	}
	regions := m.Layout.Regions()
	if len(regions) != len(m.Tiles) {
		return fmt.Errorf("%w: %d tiles for %d regions", ErrCorrupt, len(m.Tiles), len(regions))
	}
	for i, t := range m.Tiles {
		if t.Region != regions[i] {
			return fmt.Errorf("%w: tile %d region mismatch", ErrCorrupt, i)
		}
		next := t.Region.Frames.Start
		for _, c := range t.Chunks {
			if c.Frames.Start != next || c.Frames.Empty() {
				return fmt.Errorf("%w: tile %d chunks not contiguous at frame %d", ErrCorrupt, i, next)
			}
			next = c.Frames.End
		}
		if next != t.Region.Frames.End {
			return fmt.Errorf("%w: tile %d chunks end at %d, want %d", ErrCorrupt, i, next, t.Region.Frames.End)
		}
	}
	return nil
}

// Store manages per-video manifests and atomic CURRENT updates.
type Store struct {
	store blobstore.BlobStore
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{store: store}
}

func versionName(video string, id uint64) string {
	return path.Join(video, fmt.Sprintf("%s-%06d.bin", ManifestFileName, id))
}

func parseVersion(name string) (uint64, bool) {
	base := path.Base(name)
	if !strings.HasPrefix(base, ManifestFileName+"-") || path.Ext(base) != ".bin" {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(base, ManifestFileName+"-"), ".bin"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Load loads the current manifest of a video.
func (s *Store) Load(ctx context.Context, video string) (*Manifest, error) {
	return s.LoadVersion(ctx, video, 0)
}

// LoadVersion loads a specific version ID. 0 means the version named by CURRENT.
func (s *Store) LoadVersion(ctx context.Context, video string, versionID uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := versionName(video, versionID)
	if versionID == 0 {
		content, err := blobstore.ReadAll(ctx, s.store, path.Join(video, CurrentFileName))
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		name = strings.TrimSpace(string(content))
	}

	b, err := s.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) && versionID != 0 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open manifest %s: %w", name, err)
	}
	defer b.Close()

	m, err := ReadBinary(io.NewSectionReader(blobstore.ReaderAt(ctx, b), 0, b.Size()))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", name, err)
	}
	return m, nil
}

// Save atomically publishes m as the next version of its video.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m.Version = CurrentVersion
	m.ID++
	m.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := m.WriteBinary(&buf); err != nil {
		return err
	}

	name := versionName(m.Video, m.ID)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return err
	}
	return s.store.Put(ctx, path.Join(m.Video, CurrentFileName), []byte(name))
}

// DeleteVersion deletes the manifest file for the given version.
func (s *Store) DeleteVersion(ctx context.Context, video string, versionID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, versionName(video, versionID))
}

// ListVersions returns the stored manifest versions of a video in ascending order.
func (s *Store) ListVersions(ctx context.Context, video string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, video+"/")
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, name := range names {
		if path.Dir(name) != video {
			continue
		}
		if id, ok := parseVersion(name); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListVideos returns every video that has at least one manifest version.
// Discovery relies on manifest blobs because CURRENT may live outside the blob store.
func (s *Store) ListVideos(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var videos []string
	for _, name := range names {
		dir := path.Dir(name)
		if dir == "." || strings.Contains(dir, "/") {
			continue
		}
		if _, ok := parseVersion(name); !ok {
			continue
		}
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			videos = append(videos, dir)
		}
	}
	sort.Strings(videos)
	return videos, nil
}
