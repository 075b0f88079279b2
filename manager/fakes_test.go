package manager

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/session"
)

// fakeSession mimics session.Dataset without touching the filesystem.
// Native (.mzMD) paths open directly; anything else asks for a destination.
type fakeSession struct {
	id   string
	dest session.DestinationFunc

	// gate, when set, blocks Load until closed. Load ignores ctx while
	// waiting so tests can finish a superseded load successfully.
	gate chan struct{}
	// progress is published before the terminal status.
	progress []string
	loadErr  error
	panicMsg string
	saveErr  error
	// saveGate, when set, blocks SaveAs until closed.
	saveGate chan struct{}

	mu       sync.Mutex
	status   session.Status
	path     string
	statusFn func(string)
	closes   int
	loads    int
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) OnStatus(fn func(string)) {
	s.mu.Lock()
	s.statusFn = fn
	s.mu.Unlock()
}

func (s *fakeSession) publish(text string) {
	s.mu.Lock()
	fn := s.statusFn
	s.mu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (s *fakeSession) setStatus(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != session.StatusClosed {
		s.status = st
	}
}

func (s *fakeSession) fail(err error) error {
	s.setStatus(session.StatusFailed)
	if errors.Is(err, session.ErrUserCancelled) {
		s.publish("Failed: cancelled by user")
	} else {
		s.publish("Failed: " + err.Error())
	}
	return err
}

func (s *fakeSession) Load(ctx context.Context, path string) error {
	s.mu.Lock()
	s.loads++
	s.status = session.StatusLoading
	s.mu.Unlock()

	if s.gate != nil {
		<-s.gate
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}

	name := filepath.Base(path)
	target := path
	if strings.EqualFold(filepath.Ext(path), ".mzMD") {
		s.publish("Opening " + name)
	} else {
		s.publish("Converting " + name)
		suggested := strings.TrimSuffix(path, filepath.Ext(path)) + ".mzMD"
		chosen, err := s.dest(ctx, suggested)
		if err != nil {
			return s.fail(err)
		}
		target = chosen
	}
	for _, p := range s.progress {
		s.publish(p)
	}
	if s.loadErr != nil {
		return s.fail(s.loadErr)
	}

	s.mu.Lock()
	if s.status == session.StatusClosed {
		s.mu.Unlock()
		return errors.New("closed during load")
	}
	s.status = session.StatusReady
	s.path = target
	s.mu.Unlock()
	s.publish("Ready")
	return nil
}

func (s *fakeSession) SaveAs(path string) error {
	if s.saveGate != nil {
		<-s.saveGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != session.StatusReady {
		return session.ErrNotReady
	}
	if s.saveErr != nil {
		return s.saveErr
	}
	s.path = path
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.status = session.StatusClosed
	return nil
}

func (s *fakeSession) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) FilePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != session.StatusReady {
		return ""
	}
	return s.path
}

func (s *fakeSession) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// waitLoading blocks until s has entered Load.
func (s *fakeSession) waitLoading(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.loadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%s never started loading", s.id)
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// fakeFactory hands out prepared sessions in order, then plain ones.
type fakeFactory struct {
	mu       sync.Mutex
	prepared []*fakeSession
	created  []*fakeSession
}

func (f *fakeFactory) prepare(s *fakeSession) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, s)
	return s
}

func (f *fakeFactory) New(dest session.DestinationFunc) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s *fakeSession
	if len(f.prepared) > 0 {
		s, f.prepared = f.prepared[0], f.prepared[1:]
	} else {
		s = &fakeSession{}
	}
	s.id = "fake-" + string(rune('a'+len(f.created)))
	s.dest = dest
	f.created = append(f.created, s)
	return s
}

// fakeExposer records attachments and flags any attach that would expose a
// second session without detaching the first.
type fakeExposer struct {
	t *testing.T

	mu       sync.Mutex
	attached Session
	history  []Session
}

func (e *fakeExposer) Attach(s Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s != nil && e.attached != nil && e.attached != s {
		e.t.Errorf("attach %s while %s is still attached", s.ID(), e.attached.ID())
	}
	e.attached = s
	e.history = append(e.history, s)
}

func (e *fakeExposer) current() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

func (e *fakeExposer) everAttached(s Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.history {
		if h == s {
			return true
		}
	}
	return false
}

type fileState struct {
	open     bool
	name     string
	fullPath string
}

type prompt struct {
	suggested string
	answer    func(string, bool)
	withdrawn bool
}

// fakeSurface answers prompts with reply when set; otherwise prompts are
// held until the test answers them.
type fakeSurface struct {
	reply func(suggested string) (string, bool)

	statuses   []string
	fileStates []fileState
	prompts    []*prompt
	held       []*prompt
}

func (s *fakeSurface) PromptForPath(suggested string, answer func(string, bool)) func() {
	p := &prompt{suggested: suggested, answer: answer}
	s.prompts = append(s.prompts, p)
	if s.reply != nil {
		answer(s.reply(suggested))
		return func() { p.withdrawn = true }
	}
	s.held = append(s.held, p)
	return func() { p.withdrawn = true }
}

func (s *fakeSurface) NotifyStatus(text string) {
	s.statuses = append(s.statuses, text)
}

func (s *fakeSurface) NotifyFileState(open bool, name, fullPath string) {
	s.fileStates = append(s.fileStates, fileState{open, name, fullPath})
}

func (s *fakeSurface) lastStatus() string {
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *fakeSurface) lastFileState() fileState {
	if len(s.fileStates) == 0 {
		return fileState{}
	}
	return s.fileStates[len(s.fileStates)-1]
}

type fakeConfig struct {
	// saveGate, when set, blocks Save until closed.
	saveGate chan struct{}

	mu     sync.Mutex
	recent []string
	saves  int
}

func (c *fakeConfig) GetImportConfig() config.ImportConfig {
	return config.ImportConfig{
		NativeExtension:    ".mzMD",
		PathRequestTimeout: time.Minute,
		BatchSize:          10,
	}
}

func (c *fakeConfig) AddRecentFile(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, path)
	return true
}

func (c *fakeConfig) Save() error {
	if c.saveGate != nil {
		<-c.saveGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	return nil
}

func (c *fakeConfig) recentFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.recent...)
}

func (c *fakeConfig) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

// harness bundles a controller with its fakes. The test goroutine is the
// foreground: surface callbacks only run inside pump.
type harness struct {
	t       *testing.T
	loop    *dispatch.Loop
	ctrl    *Controller
	factory *fakeFactory
	exposer *fakeExposer
	surface *fakeSurface
	cfg     *fakeConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		loop:    dispatch.NewLoop(),
		factory: &fakeFactory{},
		surface: &fakeSurface{},
		cfg:     &fakeConfig{},
	}
	h.exposer = &fakeExposer{t: t}
	ctrl, err := New(Options{
		Dispatcher: h.loop,
		Surface:    h.surface,
		Exposer:    h.exposer,
		Config:     h.cfg,
		NewSession: h.factory.New,
		Now:        func() time.Time { return time.Date(2026, 10, 19, 14, 3, 59, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ctrl.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		h.loop.Close()
	})
	return h
}

// pump runs the foreground until cond holds.
func (h *harness) pump(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.loop.Drain()
		if cond() {
			return
		}
		select {
		case <-h.loop.Ready():
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s (snapshot %+v)", what, h.ctrl.Snapshot())
		}
	}
}

func (h *harness) pumpState(want State) {
	h.t.Helper()
	h.pump("state "+want.String(), func() bool { return h.ctrl.Snapshot().State == want })
}

// settle waits for all workers and runs everything they posted.
func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Wait(ctx) }()
	for {
		select {
		case err := <-done:
			if err != nil {
				h.t.Fatalf("Wait: %v", err)
			}
			h.loop.Drain()
			return
		case <-h.loop.Ready():
			h.loop.Drain()
		}
	}
}
