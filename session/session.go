package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/logger"
)

// Status is the lifecycle state of a Dataset.
type Status int

const (
	StatusNotLoaded Status = iota
	StatusLoading
	StatusReady
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNotLoaded:
		return "not_loaded"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

var (
	// ErrUserCancelled means the user declined to choose a destination.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrFormat means the input could not be read as a supported format.
	ErrFormat = errors.New("unsupported or malformed data")

	// ErrNotReady is returned by operations that need a loaded dataset.
	ErrNotReady = errors.New("dataset not ready")

	// ErrTargetExists is returned when a save or conversion target exists.
	ErrTargetExists = errors.New("target file already exists")
)

// DestinationFunc picks where converted output goes. It is called from the
// loading goroutine and may block. Returning an error wrapping
// ErrUserCancelled ends the load as cancelled.
type DestinationFunc func(ctx context.Context, suggested string) (string, error)

// Options configures a Dataset.
type Options struct {
	Destination     DestinationFunc
	Importers       *Registry
	NativeExtension string
}

// OptionsFromConfig builds Options from the import section of cfg, with the
// default importers registered.
func OptionsFromConfig(ic config.ImportConfig, dest DestinationFunc) Options {
	return Options{
		Destination:     dest,
		Importers:       DefaultRegistry(ic.BatchSize),
		NativeExtension: ic.NativeExtension,
	}
}

// Dataset is one open data file.
type Dataset struct {
	id   string
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	status   Status
	path     string
	db       *sql.DB
	onStatus func(string)
}

// New creates an unloaded dataset with a fresh ID.
func New(opts Options) *Dataset {
	if opts.NativeExtension == "" {
		opts.NativeExtension = config.DefaultNativeExtension
	}
	if opts.Importers == nil {
		opts.Importers = DefaultRegistry(config.DefaultBatchSize)
	}
	id := uuid.New().String()
	return &Dataset{
		id:   id,
		opts: opts,
		log:  logger.WithSession(id),
	}
}

// ID returns the dataset's unique ID.
func (d *Dataset) ID() string {
	return d.id
}

// Status returns the current lifecycle state. Safe from any goroutine.
func (d *Dataset) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// FilePath returns the backing file once Ready, or "" before that.
func (d *Dataset) FilePath() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.status != StatusReady {
		return ""
	}
	return d.path
}

// OnStatus registers fn to receive status text. Replaces any earlier fn.
func (d *Dataset) OnStatus(fn func(text string)) {
	d.mu.Lock()
	d.onStatus = fn
	d.mu.Unlock()
}

func (d *Dataset) publish(text string) {
	d.mu.RLock()
	fn := d.onStatus
	d.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

// Load opens path, converting it first when it is not in the native format.
// It must be called at most once, off the foreground.
func (d *Dataset) Load(ctx context.Context, path string) (err error) {
	d.mu.Lock()
	if d.status != StatusNotLoaded {
		st := d.status
		d.mu.Unlock()
		return fmt.Errorf("load called on %s dataset", st)
	}
	d.status = StatusLoading
	d.mu.Unlock()

	start := time.Now()
	d.log.Info("load started", "path", path)

	defer func() {
		if err == nil {
			d.log.Info("load complete", "path", d.FilePath(), "duration", time.Since(start))
			return
		}
		d.mu.Lock()
		if d.status != StatusClosed {
			d.status = StatusFailed
		}
		d.mu.Unlock()
		d.log.Warn("load failed", "path", path, "error", err, "duration", time.Since(start))
		d.publish(failureText(err))
	}()

	name := filepath.Base(path)
	ext := filepath.Ext(path)

	if strings.EqualFold(ext, d.opts.NativeExtension) {
		d.publish("Opening " + name)
		db, err := openNative(ctx, path)
		if err != nil {
			return err
		}
		if err := d.becomeReady(db, path); err != nil {
			return err
		}
		d.publish("Ready")
		return nil
	}

	imp, ok := d.opts.Importers.Lookup(ext)
	if !ok {
		return fmt.Errorf("%w: no importer for %q files", ErrFormat, ext)
	}
	if d.opts.Destination == nil {
		return fmt.Errorf("%w: no destination provider", ErrUserCancelled)
	}

	dest, err := d.opts.Destination(ctx, SuggestDestination(path, d.opts.NativeExtension))
	if err != nil {
		return err
	}
	dest, err = NormalizeTarget(dest, d.opts.NativeExtension)
	if err != nil {
		return err
	}

	d.publish("Converting " + name)
	db, err := d.convert(ctx, imp, path, dest)
	if err != nil {
		return err
	}
	if err := d.becomeReady(db, dest); err != nil {
		removeDatabaseFiles(dest)
		return err
	}
	d.publish("Ready")
	return nil
}

func (d *Dataset) convert(ctx context.Context, imp Importer, src, dest string) (_ *sql.DB, err error) {
	db, err := createNative(ctx, dest, src)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
			removeDatabaseFiles(dest)
		}
	}()

	sink := &sqlSink{db: db}
	progress := func(n int) {
		d.publish(fmt.Sprintf("Importing: %d points", n))
	}
	if err := imp.Convert(ctx, src, sink, progress); err != nil {
		return nil, fmt.Errorf("import %s: %w", filepath.Base(src), err)
	}
	if err := finalizeImport(ctx, db, sink.count); err != nil {
		return nil, err
	}
	d.log.Info("import complete", "source", src, "dest", dest, "points", sink.count)
	return db, nil
}

func (d *Dataset) becomeReady(db *sql.DB, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		db.Close()
		return errors.New("dataset closed during load")
	}
	d.db = db
	d.path = path
	d.status = StatusReady
	return nil
}

// SaveAs writes the dataset to target and continues from the new file.
// On failure the dataset keeps serving the original file. Callers must not
// run SaveAs concurrently with Close or another SaveAs.
func (d *Dataset) SaveAs(target string) error {
	d.mu.RLock()
	st, db := d.status, d.db
	d.mu.RUnlock()

	if st != StatusReady {
		return fmt.Errorf("%w: status is %s", ErrNotReady, st)
	}
	target, err := NormalizeTarget(target, d.opts.NativeExtension)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	if _, err := db.Exec(`VACUUM INTO ?`, target); err != nil {
		removeDatabaseFiles(target)
		return fmt.Errorf("write %s: %w", target, err)
	}

	saved, err := openNative(context.Background(), target)
	if err != nil {
		removeDatabaseFiles(target)
		return err
	}

	d.mu.Lock()
	old := d.db
	d.db = saved
	d.path = target
	d.mu.Unlock()

	if err := old.Close(); err != nil {
		d.log.Warn("failed to close previous database", "error", err)
	}
	d.log.Info("dataset saved", "path", target)
	return nil
}

// Close releases the database. Safe to call more than once.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == StatusClosed {
		return nil
	}
	d.status = StatusClosed
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.log.Debug("dataset closed", "path", d.path)
	return err
}

// withDB runs fn with the open database while holding a read lock, so Close
// and SaveAs wait for it.
func (d *Dataset) withDB(fn func(db *sql.DB) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.status != StatusReady {
		return fmt.Errorf("%w: status is %s", ErrNotReady, d.status)
	}
	return fn(d.db)
}

func failureText(err error) string {
	switch {
	case errors.Is(err, ErrUserCancelled):
		return "Failed: cancelled by user"
	case errors.Is(err, ErrTargetExists):
		return "Failed: target file already exists"
	case errors.Is(err, context.Canceled):
		return "Failed: cancelled"
	default:
		return "Failed: " + err.Error()
	}
}
