package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// FormatVersion is written to the meta table of every native file.
const FormatVersion = "1"

const (
	// DefaultPointLimit caps Points when the query sets no limit.
	DefaultPointLimit = 1000
	// MaxPointLimit caps Points regardless of the query.
	MaxPointLimit = 100000
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS points (
	mz REAL NOT NULL,
	rt REAL NOT NULL,
	intensity REAL NOT NULL
);
`

const insertPoint = `INSERT INTO points (mz, rt, intensity) VALUES (?, ?, ?)`

// Point is one sample.
type Point struct {
	Mz        float64 `json:"mz"`
	Rt        float64 `json:"rt"`
	Intensity float64 `json:"intensity"`
}

// Summary describes the whole dataset.
type Summary struct {
	Points       int64   `json:"points"`
	MzMin        float64 `json:"mz_min"`
	MzMax        float64 `json:"mz_max"`
	RtMin        float64 `json:"rt_min"`
	RtMax        float64 `json:"rt_max"`
	IntensityMin float64 `json:"intensity_min"`
	IntensityMax float64 `json:"intensity_max"`
}

// Query selects points inside a window. A range whose max is not greater
// than its min is unbounded.
type Query struct {
	MzMin, MzMax float64
	RtMin, RtMax float64
	Limit        int
}

// dsn builds a sqlite URI for path. The path is escaped so characters such
// as '#', '?' and '%' stay part of the file name.
func dsn(path, mode string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(path),
		RawQuery: "mode=" + mode + "&_busy_timeout=5000",
	}
	return u.String()
}

// openNative opens an existing native file and checks its format version.
func openNative(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", dsn(path, "rw"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	var version string
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'format_version'`).Scan(&version)
	if err != nil {
		db.Close()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s is not a native dataset: %v", ErrFormat, filepath.Base(path), err)
	}
	if version != FormatVersion {
		db.Close()
		return nil, fmt.Errorf("%w: unsupported format version %q", ErrFormat, version)
	}
	return db, nil
}

// createNative creates an empty native file at path.
func createNative(ctx context.Context, path, source string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(path, "rwc"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	meta := map[string]string{
		"format_version": FormatVersion,
		"source":         source,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			db.Close()
			return nil, fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return db, nil
}

// finalizeImport indexes the imported points and records their count.
func finalizeImport(ctx context.Context, db *sql.DB, count int) error {
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_points_mz_rt ON points(mz, rt)`); err != nil {
		return fmt.Errorf("index points: %w", err)
	}
	_, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('point_count', ?)`, strconv.Itoa(count))
	if err != nil {
		return fmt.Errorf("write point count: %w", err)
	}
	return nil
}

// removeDatabaseFiles removes a partially written database and its journal.
func removeDatabaseFiles(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		os.Remove(p)
	}
}

// sqlSink writes point batches, one transaction per batch.
type sqlSink struct {
	db    *sql.DB
	count int
}

func (s *sqlSink) WritePoints(ctx context.Context, pts []Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertPoint)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pts {
		if _, err := stmt.ExecContext(ctx, p.Mz, p.Rt, p.Intensity); err != nil {
			return fmt.Errorf("insert point: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	s.count += len(pts)
	return nil
}

// Summary returns the point count and value bounds.
func (d *Dataset) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := d.withDB(func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				COALESCE(MIN(mz), 0), COALESCE(MAX(mz), 0),
				COALESCE(MIN(rt), 0), COALESCE(MAX(rt), 0),
				COALESCE(MIN(intensity), 0), COALESCE(MAX(intensity), 0)
			FROM points`).Scan(
			&s.Points, &s.MzMin, &s.MzMax, &s.RtMin, &s.RtMax, &s.IntensityMin, &s.IntensityMax)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}

// Points returns the most intense points inside q's window.
func (d *Dataset) Points(ctx context.Context, q Query) ([]Point, error) {
	var (
		where []string
		args  []any
	)
	if q.MzMax > q.MzMin {
		where = append(where, "mz BETWEEN ? AND ?")
		args = append(args, q.MzMin, q.MzMax)
	}
	if q.RtMax > q.RtMin {
		where = append(where, "rt BETWEEN ? AND ?")
		args = append(args, q.RtMin, q.RtMax)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPointLimit
	}
	limit = min(limit, MaxPointLimit)

	query := "SELECT mz, rt, intensity FROM points"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY intensity DESC LIMIT ?"
	args = append(args, limit)

	var pts []Point
	err := d.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p Point
			if err := rows.Scan(&p.Mz, &p.Rt, &p.Intensity); err != nil {
				return err
			}
			pts = append(pts, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	return pts, nil
}
