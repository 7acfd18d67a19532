package tasm

import (
	"log/slog"
	"path/filepath"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/codec"
	"github.com/hupe1980/tasm/internal/regret"
	"github.com/hupe1980/tasm/internal/store"
	"github.com/hupe1980/tasm/layout"
	"github.com/hupe1980/tasm/metadata"
	"github.com/hupe1980/tasm/model"
	"github.com/hupe1980/tasm/video"
)

const (
	// DefaultDatabaseName is the detection database created under the root.
	DefaultDatabaseName = "labels.db"
	// DefaultCatalogName is the tile directory created under the root.
	DefaultCatalogName = "resources"
	// DefaultCostFactor scales frame area times frame count into the regret
	// a label must exceed before RetileBasedOnRegret re-tiles it.
	DefaultCostFactor = regret.DefaultCostFactor
)

type options struct {
	root            string
	databasePath    string
	catalogPath     string
	inMemoryIndex   bool
	catalog         metadata.Catalog
	blobs           blobstore.BlobStore
	codec           codec.Codec
	compression     codec.CompressionType
	logger          *Logger
	metrics         MetricsCollector
	workers         int
	gopLength       int
	window          int
	alignment       int
	strategy        layout.Strategy
	costFactor      float64
	memoryLimit     int64
	encodeRateLimit int64
	blockCacheSize  int64
	opener          video.Opener
}

func defaultOptions() options {
	return options{
		root:        ".",
		compression: codec.CompressionZSTD,
		gopLength:   store.DefaultGOPLength,
		costFactor:  DefaultCostFactor,
		opener:      video.Open,
	}
}

func (o *options) paths() (db, resources string) {
	db, resources = o.databasePath, o.catalogPath
	if db == "" {
		db = filepath.Join(o.root, DefaultDatabaseName)
	}
	if resources == "" {
		resources = filepath.Join(o.root, DefaultCatalogName)
	}
	return db, resources
}

func (o *options) layoutStrategy() layout.Strategy {
	if o.strategy != nil {
		return o.strategy
	}
	window := o.window
	if window <= 0 {
		window = o.gopLength
	}
	return layout.NonUniform{Window: window, Alignment: o.alignment}
}

// Option configures Open.
type Option func(*options)

// WithRoot sets the directory holding the detection database and the tile directory.
//
// Example:
//
//	db, _ := tasm.Open(ctx, tasm.WithRoot("./data"))
//	// ./data/labels.db and ./data/resources/
func WithRoot(dir string) Option {
	return func(o *options) {
		o.root = dir
	}
}

// WithDatabasePath overrides the path of the SQLite detection database.
func WithDatabasePath(path string) Option {
	return func(o *options) {
		o.databasePath = path
	}
}

// WithCatalogPath overrides the directory tiles are written to.
// It is ignored when WithBlobStore is used.
func WithCatalogPath(path string) Option {
	return func(o *options) {
		o.catalogPath = path
	}
}

// WithInMemoryIndex keeps detections in memory instead of the SQLite database.
// Detections are lost on Close; tiles are still written to the blob store.
func WithInMemoryIndex() Option {
	return func(o *options) {
		o.inMemoryIndex = true
	}
}

// WithCatalog uses an existing detection catalog. The catalog is not closed by Close.
func WithCatalog(c metadata.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithBlobStore stores tiles and manifests in bs instead of the local resource directory.
//
// Example with MinIO:
//
//	bs := minio.NewStore(client, "videos", "tasm")
//	db, _ := tasm.Open(ctx, tasm.WithBlobStore(bs), tasm.WithBlockCache(256<<20))
func WithBlobStore(bs blobstore.BlobStore) Option {
	return func(o *options) {
		o.blobs = bs
	}
}

// WithCodec configures the codec used to encode new tiles.
// Stored tiles are always decoded with the codec recorded in their manifest.
//
// If nil is passed, the raw codec with the configured compression is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithCompression selects the block compression of the raw codec.
func WithCompression(ct codec.CompressionType) Option {
	return func(o *options) {
		o.compression = ct
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := tasm.NewJSONLogger(slog.LevelInfo)
//	db, _ := tasm.Open(ctx, tasm.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tasm.BasicMetricsCollector{}
//	db, _ := tasm.Open(ctx, tasm.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Selects: %d, decoded px: %d\n", stats.SelectCount, stats.SelectDecoded)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithWorkers sets the number of goroutines decoding and encoding tiles.
// Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithGOPLength sets the number of frames per independently encoded chunk.
func WithGOPLength(n int) Option {
	return func(o *options) {
		o.gopLength = n
	}
}

// WithNonuniformWindow sets the number of frames sharing one non-uniform tile
// partition. Defaults to the GOP length.
func WithNonuniformWindow(frames int) Option {
	return func(o *options) {
		o.window = frames
	}
}

// WithTileAlignment sets the pixel alignment of non-uniform tile edges.
func WithTileAlignment(px int) Option {
	return func(o *options) {
		o.alignment = px
	}
}

// WithLayoutStrategy replaces the non-uniform layout strategy used by
// StoreWithNonuniformLayout and RetileBasedOnRegret.
func WithLayoutStrategy(s layout.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithRetileCostFactor sets the factor applied to width * height * frames to get
// the regret threshold of a video.
func WithRetileCostFactor(f float64) Option {
	return func(o *options) {
		o.costFactor = f
	}
}

// WithMemoryLimit bounds the pixel memory held by in-flight tile decodes.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithEncodeRateLimit throttles tile writes to bytes per second.
func WithEncodeRateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.encodeRateLimit = bytesPerSec
	}
}

// WithBlockCache caches tile reads in an LRU of up to size bytes.
// Mostly useful with remote blob stores.
func WithBlockCache(size int64) Option {
	return func(o *options) {
		o.blockCacheSize = size
	}
}

// WithSourceOpener maps the path arguments of the Store calls to video sources.
// Defaults to video.Open.
func WithSourceOpener(fn video.Opener) Option {
	return func(o *options) {
		o.opener = fn
	}
}

// SelectOption configures a query.
type SelectOption func(*selectOptions)

type selectOptions struct {
	frames *model.FrameRange
}

// WithFrameRange restricts a query to frames [start, end).
func WithFrameRange(start, end int) SelectOption {
	return func(o *selectOptions) {
		r := model.Frames(start, end)
		o.frames = &r
	}
}
