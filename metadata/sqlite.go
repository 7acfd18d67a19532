package metadata

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/tasm/model"
)

const defaultQueryPageSize = 512

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteOption configures a SQLiteCatalog.
type SQLiteOption func(*SQLiteCatalog)

// WithLogger sets the logger used for migration output.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(c *SQLiteCatalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithQueryPageSize sets how many detections Query reads per round trip.
func WithQueryPageSize(n int) SQLiteOption {
	return func(c *SQLiteCatalog) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMaxOpenConns sets the connection pool size.
func WithMaxOpenConns(n int) SQLiteOption {
	return func(c *SQLiteCatalog) {
		if n > 0 {
			c.maxConns = n
		}
	}
}

// SQLiteCatalog is a durable Catalog stored in a SQLite database.
type SQLiteCatalog struct {
	db       *sql.DB
	logger   *slog.Logger
	maxConns int
	pageSize int
	closed   atomic.Bool
}

// OpenSQLite opens (creating if needed) the catalog database at path and applies
// pending schema migrations.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteCatalog, error) {
	c := &SQLiteCatalog{
		logger:   slog.New(slog.DiscardHandler),
		maxConns: 8,
		pageSize: defaultQueryPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapError("open", err)
	}
	db.SetMaxOpenConns(c.maxConns)
	db.SetMaxIdleConns(c.maxConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapError("ping", err)
	}
	c.db = db

	if err := c.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCatalog) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return wrapError("migrate", err)
	}
	driver, err := msqlite.WithInstance(c.db, &msqlite.Config{})
	if err != nil {
		return wrapError("migrate", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return wrapError("migrate", err)
	}
	// m is not closed: closing it would close the shared *sql.DB.
	m.Log = &migrateLogger{logger: c.logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return wrapError("migrate", err)
	}
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool { return false }

func wrapError(op string, err error) error {
	return fmt.Errorf("metadata: %s: %w", op, err)
}

// Add implements Catalog.
func (c *SQLiteCatalog) Add(ctx context.Context, dets ...model.Detection) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if len(dets) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapError("add", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = validate(dets, func(id string) (*model.FrameSize, error) {
		return boundsOf(ctx, tx, id)
	})
	if err != nil {
		return 0, err
	}

	reg, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO metadata_ids (metadata_id) VALUES (?)`)
	if err != nil {
		return 0, wrapError("add", err)
	}
	defer reg.Close()
	ins, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO detections
		(metadata_id, label, frame, x1, y1, x2, y2) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, wrapError("add", err)
	}
	defer ins.Close()

	registered := map[string]bool{}
	added := 0
	for _, d := range dets {
		if !registered[d.MetadataID] {
			if _, err := reg.ExecContext(ctx, d.MetadataID); err != nil {
				return 0, wrapError("add", err)
			}
			registered[d.MetadataID] = true
		}
		res, err := ins.ExecContext(ctx, d.MetadataID, d.Label, d.Frame, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
		if err != nil {
			return 0, wrapError("add", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapError("add", err)
	}
	return added, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func boundsOf(ctx context.Context, q queryer, id string) (*model.FrameSize, error) {
	var w, h sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT width, height FROM metadata_ids WHERE metadata_id = ?`, id).Scan(&w, &h)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("bounds", err)
	}
	if !w.Valid || !h.Valid {
		return nil, nil
	}
	return &model.FrameSize{Width: int(w.Int64), Height: int(h.Int64)}, nil
}

func (c *SQLiteCatalog) requireKnown(ctx context.Context, metadataID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	ok, err := c.Has(ctx, metadataID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownMetadata
	}
	return nil
}

// Query implements Catalog.
//
// Rows are fetched in keyset pages of queryPageSize detections and each page's
// result set is closed before the first of its detections is yielded, so a
// paused iteration never holds a pooled connection.
func (c *SQLiteCatalog) Query(ctx context.Context, metadataID, label string, frames *model.FrameRange) iter.Seq2[model.Detection, error] {
	if err := c.requireKnown(ctx, metadataID); err != nil {
		return errSeq(err)
	}

	lo, hi := 0, -1
	if frames != nil {
		lo, hi = frames.Start, frames.End
	}

	return func(yield func(model.Detection, error) bool) {
		var after *model.Detection
		for {
			page, err := c.queryPage(ctx, metadataID, label, lo, hi, after)
			if err != nil {
				yield(model.Detection{}, wrapError("query", err))
				return
			}
			for _, d := range page {
				if !yield(d, nil) {
					return
				}
			}
			if len(page) < c.pageSize {
				return
			}
			after = &page[len(page)-1]
		}
	}
}

// queryPage returns up to pageSize detections ordered by (frame, box) that sort
// after the given detection. hi < 0 means no upper frame bound.
func (c *SQLiteCatalog) queryPage(ctx context.Context, metadataID, label string, lo, hi int, after *model.Detection) ([]model.Detection, error) {
	q := `SELECT frame, x1, y1, x2, y2 FROM detections WHERE metadata_id = ? AND label = ? AND frame >= ?`
	args := []any{metadataID, label, lo}
	if hi >= 0 {
		q += ` AND frame < ?`
		args = append(args, hi)
	}
	if after != nil {
		q += ` AND (frame, x1, y1, x2, y2) > (?, ?, ?, ?, ?)`
		args = append(args, after.Frame, after.Box.X1, after.Box.Y1, after.Box.X2, after.Box.Y2)
	}
	q += ` ORDER BY frame, x1, y1, x2, y2 LIMIT ?`
	args = append(args, c.pageSize)

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]model.Detection, 0, c.pageSize)
	for rows.Next() {
		d := model.Detection{MetadataID: metadataID, Label: label}
		if err := rows.Scan(&d.Frame, &d.Box.X1, &d.Box.Y1, &d.Box.X2, &d.Box.Y2); err != nil {
			return nil, err
		}
		page = append(page, d)
	}
	return page, rows.Err()
}

// Frames implements Catalog.
func (c *SQLiteCatalog) Frames(ctx context.Context, metadataID, label string, frames *model.FrameRange) (*FrameSet, error) {
	if err := c.requireKnown(ctx, metadataID); err != nil {
		return nil, err
	}

	q := `SELECT DISTINCT frame FROM detections WHERE metadata_id = ? AND label = ?`
	args := []any{metadataID, label}
	if frames != nil {
		q += ` AND frame >= ? AND frame < ?`
		args = append(args, frames.Start, frames.End)
	}
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapError("frames", err)
	}
	defer rows.Close()

	fs := NewFrameSet()
	for rows.Next() {
		var f int
		if err := rows.Scan(&f); err != nil {
			return nil, wrapError("frames", err)
		}
		fs.Add(f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("frames", err)
	}
	return fs, nil
}

// Labels implements Catalog.
func (c *SQLiteCatalog) Labels(ctx context.Context, metadataID string) ([]string, error) {
	if err := c.requireKnown(ctx, metadataID); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT label FROM detections WHERE metadata_id = ? ORDER BY label`, metadataID)
	if err != nil {
		return nil, wrapError("labels", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, wrapError("labels", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("labels", err)
	}
	return out, nil
}

// Has implements Catalog.
func (c *SQLiteCatalog) Has(ctx context.Context, metadataID string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM metadata_ids WHERE metadata_id = ?`, metadataID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapError("has", err)
	}
	return true, nil
}

// SetBounds implements Catalog.
func (c *SQLiteCatalog) SetBounds(ctx context.Context, metadataID string, size model.FrameSize) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.db.ExecContext(ctx, `INSERT INTO metadata_ids (metadata_id, width, height) VALUES (?, ?, ?)
		ON CONFLICT (metadata_id) DO UPDATE SET width = excluded.width, height = excluded.height`,
		metadataID, size.Width, size.Height)
	if err != nil {
		return wrapError("set bounds", err)
	}
	return nil
}

// Bounds implements Catalog.
func (c *SQLiteCatalog) Bounds(ctx context.Context, metadataID string) (model.FrameSize, bool, error) {
	if c.closed.Load() {
		return model.FrameSize{}, false, ErrClosed
	}
	b, err := boundsOf(ctx, c.db, metadataID)
	if err != nil || b == nil {
		return model.FrameSize{}, false, err
	}
	return *b, true, nil
}

// Close implements Catalog.
func (c *SQLiteCatalog) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.db.Close()
}
