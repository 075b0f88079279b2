package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zhubert/msviz-core/bridge"
	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/metrics"
	"github.com/zhubert/msviz-core/session"
	"github.com/zhubert/msviz-core/status"
)

// saveNameLayout names suggested save targets, e.g. 10-19-2026_14-03-59.
const saveNameLayout = "01-02-2006_15-04-05"

// Options wires a Controller. Dispatcher and Surface are required.
type Options struct {
	Dispatcher dispatch.Dispatcher
	Surface    Surface
	Exposer    Exposer
	Config     ControllerConfig
	NewSession SessionFactory
	Metrics    *metrics.Metrics

	// Status carries status text to the surface. A channel on Dispatcher is
	// created when nil; pass one to share it with other subscribers.
	Status *status.Channel

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// worker is one Open's loading goroutine.
type worker struct {
	gen     uint64
	sess    Session
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

func (w *worker) finished() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Controller drives the single-session lifecycle.
type Controller struct {
	dispatcher dispatch.Dispatcher
	surface    Surface
	exposer    Exposer
	cfg        ControllerConfig
	newSession SessionFactory
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *slog.Logger

	status *status.Channel
	bridge *bridge.Bridge

	// opMu serializes Open, Save and Close. Save releases it while SaveAs
	// runs; Open and Close arriving meanwhile are queued in afterSave.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	gen       uint64
	current   Session
	active    *worker // worker of the current session
	tail      *worker // most recently started worker
	lastErr   error
	shutdown  bool
	saving    bool
	afterSave []func()

	workers  sync.WaitGroup
	persists sync.WaitGroup // recent-file writes; Add only while !shutdown
}

// New creates a controller in StateEmpty.
func New(opts Options) (*Controller, error) {
	if opts.Dispatcher == nil {
		return nil, errors.New("manager: dispatcher is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("manager: surface is required")
	}

	c := &Controller{
		dispatcher: opts.Dispatcher,
		surface:    opts.Surface,
		exposer:    opts.Exposer,
		cfg:        opts.Config,
		newSession: opts.NewSession,
		metrics:    opts.Metrics,
		now:        opts.Now,
		log:        logger.WithComponent("controller"),
	}
	if c.cfg == nil {
		c.cfg = config.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newSession == nil {
		ic := c.cfg.GetImportConfig()
		c.newSession = func(dest session.DestinationFunc) Session {
			return session.New(session.OptionsFromConfig(ic, dest))
		}
	}

	c.status = opts.Status
	if c.status == nil {
		c.status = status.New(c.dispatcher)
	}
	c.status.Subscribe(func(r status.Record) {
		c.surface.NotifyStatus(r.Text)
	})

	c.bridge = bridge.New(c.dispatcher, c.presentPathRequest,
		bridge.WithTimeout(c.cfg.GetImportConfig().PathRequestTimeout),
		bridge.WithOutcomeHook(func(o bridge.Outcome) {
			c.metrics.PathRequest(string(o))
		}),
	)

	c.status.Publish(NoFileText)
	return c, nil
}

// Status returns the channel that carries status text to the surface.
func (c *Controller) Status() *status.Channel {
	return c.status
}

// Bridge returns the bridge used for destination requests.
func (c *Controller) Bridge() *bridge.Bridge {
	return c.bridge
}

// Snapshot returns the current state. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		StatusText: c.status.Latest().Text,
		LastError:  c.lastErr,
		Saving:     c.saving,
	}
	if c.current != nil {
		snap.SessionID = c.current.ID()
		snap.SessionStatus = c.current.Status()
		snap.FilePath = c.current.FilePath()
	}
	return snap
}

// Open replaces any current session with a new one loading path. It returns
// immediately; the outcome reaches the surface through NotifyFileState.
func (c *Controller) Open(path string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		c.log.Warn("open after shutdown ignored", "path", path)
		return
	}
	if c.saving {
		c.afterSave = append(c.afterSave, func() { c.Open(path) })
		c.mu.Unlock()
		c.log.Info("open queued until the save finishes", "path", path)
		return
	}
	stale := c.releaseLocked()

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		gen:     gen,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: c.now(),
	}
	w.sess = c.newSession(c.destinationFor(gen))
	w.sess.OnStatus(func(text string) { c.forwardStatus(gen, text) })

	prev := c.tail
	c.current = w.sess
	c.active = w
	c.tail = w
	c.state = StateOpening
	c.lastErr = nil
	c.mu.Unlock()

	closeSession(stale)
	c.metrics.SessionOpened()
	c.metrics.SetActive(false)
	c.notifyFileState(false, "")

	c.log.Info("opening", "path", path, "sessionID", w.sess.ID(), "generation", gen)

	c.workers.Add(1)
	go c.run(ctx, w, prev, path)
}

// run is the worker goroutine for w.
func (c *Controller) run(ctx context.Context, w *worker, prev *worker, path string) {
	defer c.workers.Done()
	defer close(w.done)

	// Wait for the superseded worker, which has already been cancelled.
	if prev != nil {
		<-prev.done
	}

	var err error
	if err = ctx.Err(); err == nil {
		err = c.load(ctx, w, path)
	}

	if !c.isCurrent(w.gen) {
		c.discard(w)
		return
	}
	if !c.dispatcher.Post(func() { c.complete(w, err) }) {
		c.mu.Lock()
		if c.gen == w.gen {
			c.current = nil
			c.active = nil
			c.state = StateEmpty
		}
		c.mu.Unlock()
		c.log.Warn("foreground gone before load completed", "sessionID", w.sess.ID())
		closeSession(w.sess)
	}
}

// load calls Session.Load, turning a panic into an error.
func (c *Controller) load(ctx context.Context, w *worker, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("load panicked: %v", r)
			logger.WithSession(w.sess.ID()).Error("panic during load", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return w.sess.Load(ctx, path)
}

// complete runs on the foreground once w's Load has returned.
func (c *Controller) complete(w *worker, loadErr error) {
	took := c.now().Sub(w.started)
	log := logger.WithSession(w.sess.ID())

	c.mu.Lock()
	if w.gen != c.gen || c.current != w.sess {
		c.mu.Unlock()
		c.discard(w)
		return
	}

	if loadErr == nil && w.sess.Status() == session.StatusReady {
		c.state = StateActive
		if c.exposer != nil {
			c.exposer.Attach(w.sess)
		}
		path := w.sess.FilePath()
		c.mu.Unlock()

		c.metrics.LoadFinished(metrics.LoadReady, took)
		c.metrics.SetActive(true)
		c.surface.NotifyFileState(true, filepath.Base(path), path)
		c.persistRecent(path)
		log.Info("session active", "path", path, "duration", took)
		return
	}

	if loadErr == nil {
		loadErr = fmt.Errorf("load finished with status %s", w.sess.Status())
	}
	c.current = nil
	c.active = nil
	c.state = StateEmpty
	c.lastErr = loadErr
	c.mu.Unlock()

	closeSession(w.sess)
	if errors.Is(loadErr, session.ErrUserCancelled) {
		c.metrics.LoadFinished(metrics.LoadCancelled, took)
		log.Info("load cancelled", "error", loadErr)
	} else {
		c.metrics.LoadFinished(metrics.LoadFailed, took)
		log.Warn("load failed", "error", loadErr, "duration", took)
	}
	c.surface.NotifyFileState(false, "", "")
}

// discard drops a superseded worker's session.
func (c *Controller) discard(w *worker) {
	logger.WithSession(w.sess.ID()).Debug("discarding stale session", "generation", w.gen)
	c.metrics.LoadFinished(metrics.LoadStale, 0)
	closeSession(w.sess)
}

// Save writes the active session to path. The exposer is detached for the
// duration and reattached afterwards whether or not the save succeeded.
// Open and Close called while SaveAs runs do not wait for it; they are
// queued and run, in order, once it returns.
func (c *Controller) Save(path string) error {
	c.opMu.Lock()
	c.mu.Lock()
	if c.state != StateActive || c.current == nil {
		st := c.state
		c.mu.Unlock()
		c.opMu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotReady, st)
	}
	if c.saving {
		c.mu.Unlock()
		c.opMu.Unlock()
		return ErrSaveInProgress
	}
	sess := c.current
	c.saving = true
	if c.exposer != nil {
		c.exposer.Attach(nil)
	}
	c.mu.Unlock()
	c.opMu.Unlock()

	log := logger.WithSession(sess.ID())
	log.Info("saving", "target", path)
	err := sess.SaveAs(path)

	c.opMu.Lock()
	c.mu.Lock()
	if c.exposer != nil && c.current == sess {
		c.exposer.Attach(sess)
	}
	newPath := sess.FilePath()
	c.saving = false
	queued := c.afterSave
	c.afterSave = nil
	c.mu.Unlock()
	c.opMu.Unlock()

	c.metrics.SaveFinished(err)
	if err != nil {
		log.Warn("save failed", "target", path, "error", err)
		err = fmt.Errorf("save %s: %w", path, err)
	} else {
		log.Info("saved", "path", newPath)
		c.status.Publish("Saved " + filepath.Base(newPath))
		c.notifyFileState(true, newPath)
		c.rememberRecent(newPath)
	}

	for _, fn := range queued {
		fn()
	}
	return err
}

// Close drops the current session, if any. A pending destination prompt is
// cancelled and a running load is abandoned.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return
	}
	if c.saving {
		c.afterSave = append(c.afterSave, c.Close)
		c.mu.Unlock()
		c.log.Info("close queued until the save finishes")
		return
	}
	id := c.current.ID()
	stale := c.releaseLocked()
	c.status.Publish(NoFileText)
	c.mu.Unlock()

	closeSession(stale)
	c.metrics.SetActive(false)
	c.notifyFileState(false, "")
	c.log.Info("session closed", "sessionID", id)
}

// releaseLocked runs the close sequence on the current session: detach the
// exposer, cancel its worker and any pending destination request, and
// invalidate the generation. It returns the session if it can be closed
// right away; otherwise the stale completion closes it. Caller holds mu.
func (c *Controller) releaseLocked() Session {
	if c.current == nil {
		return nil
	}
	if c.exposer != nil {
		c.exposer.Attach(nil)
	}
	sess := c.current
	w := c.active
	completed := c.state == StateActive

	c.gen++
	c.current = nil
	c.active = nil
	c.state = StateEmpty

	if w != nil {
		w.cancel()
	}
	c.bridge.CancelPending()

	if completed || w == nil || w.finished() {
		return sess
	}
	return nil
}

// PromptSave asks the surface for a save target, suggesting a time-stamped
// file next to the current one. Must be called on the foreground.
func (c *Controller) PromptSave() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		c.log.Debug("save requested with no active session")
		return
	}
	if c.saving {
		c.mu.Unlock()
		c.log.Debug("save requested while another save runs")
		return
	}
	current := c.current.FilePath()
	ext := c.cfg.GetImportConfig().NativeExtension
	c.mu.Unlock()

	suggested := filepath.Join(filepath.Dir(current), c.now().Format(saveNameLayout)+ext)
	c.surface.PromptForPath(suggested, func(target string, ok bool) {
		if !ok || target == "" {
			c.log.Debug("save prompt dismissed")
			return
		}
		// SaveAs can take a while; keep it off the foreground.
		c.workers.Go(func() {
			if err := c.Save(target); err != nil {
				c.status.Publish(saveFailureText(err))
			}
		})
	})
}

// PromptOpen asks the surface for a file to open. Must be called on the
// foreground.
func (c *Controller) PromptOpen() {
	c.surface.PromptForPath("", func(path string, ok bool) {
		if !ok || path == "" {
			return
		}
		c.Open(path)
	})
}

// Wait blocks until every worker, including superseded ones, has returned.
func (c *Controller) Wait(ctx context.Context) error {
	return waitGroup(ctx, &c.workers)
}

// Shutdown closes the current session, refuses further opens, cancels any
// pending destination request, and waits for workers and recent-file writes
// to finish.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()

	c.Close()
	c.bridge.Close()
	if err := c.Wait(ctx); err != nil {
		return err
	}
	return waitGroup(ctx, &c.persists)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// destinationFor returns the destination provider for the session of gen.
func (c *Controller) destinationFor(gen uint64) session.DestinationFunc {
	return func(ctx context.Context, suggested string) (string, error) {
		if !c.isCurrent(gen) {
			return "", fmt.Errorf("%w: session superseded", session.ErrUserCancelled)
		}
		path, err := c.bridge.RequestPath(ctx, suggested)
		if err != nil {
			if errors.Is(err, bridge.ErrCancelled) || errors.Is(err, bridge.ErrRequestOutstanding) {
				return "", fmt.Errorf("%w: %w", session.ErrUserCancelled, err)
			}
			return "", err
		}
		return path, nil
	}
}

// presentPathRequest is the bridge handler; it runs on the foreground. The
// bridge withdraws the prompt if the request ends unanswered.
func (c *Controller) presentPathRequest(req bridge.Request) (withdraw func()) {
	return c.surface.PromptForPath(req.Suggested, func(path string, ok bool) {
		if err := c.bridge.ResolveRequest(req.ID, path, ok); err != nil {
			c.log.Debug("answer for ended path request ignored", "id", req.ID)
		}
	})
}

// forwardStatus publishes text only while gen is current.
func (c *Controller) forwardStatus(gen uint64, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.status.Publish(text)
	c.metrics.StatusUpdate()
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

// notifyFileState posts a file-state change to the foreground.
func (c *Controller) notifyFileState(open bool, path string) {
	name := ""
	if open {
		name = filepath.Base(path)
	}
	c.dispatcher.Post(func() {
		c.surface.NotifyFileState(open, name, path)
	})
}

// persistRecent records path off the foreground; config.Save writes a file.
func (c *Controller) persistRecent(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return
	}
	c.persists.Go(func() { c.rememberRecent(path) })
}

func (c *Controller) rememberRecent(path string) {
	if !c.cfg.AddRecentFile(path) {
		return
	}
	if err := c.cfg.Save(); err != nil {
		c.log.Debug("recent files not persisted", "error", err)
	}
}

func closeSession(s Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		logger.WithSession(s.ID()).Warn("failed to close session", "error", err)
	}
}

func saveFailureText(err error) string {
	switch {
	case errors.Is(err, session.ErrTargetExists):
		return "Save failed: target file already exists"
	case errors.Is(err, ErrNotReady):
		return "Save failed: no file open"
	default:
		return "Save failed: " + err.Error()
	}
}
