package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/manager"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)
	code := m.Run()
	logger.Reset()
	os.Exit(code)
}

// fakeController prompts through the surface the way manager.Controller does.
type fakeController struct {
	surface *Surface
	calls   []string
	opened  []string
}

func (c *fakeController) PromptOpen() {
	c.calls = append(c.calls, "open")
	c.surface.PromptForPath("", func(path string, ok bool) {
		if ok {
			c.opened = append(c.opened, path)
		}
	})
}

func (c *fakeController) PromptSave() { c.calls = append(c.calls, "save") }
func (c *fakeController) Close()      { c.calls = append(c.calls, "close") }
func (c *fakeController) Open(p string) {
	c.calls = append(c.calls, "open:"+p)
}

func newTestModel() (*Model, *fakeController, *dispatch.Loop) {
	loop := dispatch.NewLoop()
	surface := NewSurface()
	ctrl := &fakeController{surface: surface}
	return New(loop, ctrl, surface), ctrl, loop
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_ForegroundMessageDrainsLoop(t *testing.T) {
	m, _, loop := newTestModel()
	defer loop.Close()

	loop.Post(func() { m.surface.NotifyStatus("Importing: 5000 points") })
	_, cmd := m.Update(foregroundMsg{})

	if cmd == nil {
		t.Error("Update should keep waiting for foreground work")
	}
	if !strings.Contains(m.View(), "Importing: 5000 points") {
		t.Errorf("view does not show the status:\n%s", m.View())
	}
}

func TestModel_OpenPromptConfirm(t *testing.T) {
	m, ctrl, loop := newTestModel()
	defer loop.Close()

	m.Update(runeKey('o'))
	if m.shown == nil {
		t.Fatal("open prompt should be shown")
	}
	if !strings.Contains(m.View(), "Choose a path") {
		t.Errorf("view should render the prompt:\n%s", m.View())
	}

	m.input.SetValue("  /data/run.csv ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if len(ctrl.opened) != 1 || ctrl.opened[0] != "/data/run.csv" {
		t.Errorf("opened = %v", ctrl.opened)
	}
	if m.shown != nil || m.surface.Prompting() {
		t.Error("prompt should be dismissed after confirming")
	}
}

func TestModel_PromptCancel(t *testing.T) {
	m, ctrl, loop := newTestModel()
	defer loop.Close()

	m.Update(runeKey('o'))
	m.Update(runeKey('x'))
	if got := m.input.Value(); got != "x" {
		t.Errorf("typed input = %q, keys should go to the prompt", got)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	if len(ctrl.opened) != 0 {
		t.Errorf("cancelled prompt opened %v", ctrl.opened)
	}
	if m.shown != nil {
		t.Error("prompt should be dismissed")
	}
}

func TestModel_PromptPrefillsSuggestion(t *testing.T) {
	m, _, loop := newTestModel()
	defer loop.Close()

	loop.Post(func() {
		m.surface.PromptForPath("/data/run.mzMD", func(string, bool) {})
	})
	m.Update(foregroundMsg{})

	if m.input.Value() != "/data/run.mzMD" {
		t.Errorf("input = %q, want the suggestion", m.input.Value())
	}
}

func TestModel_SaveNeedsOpenFile(t *testing.T) {
	m, ctrl, loop := newTestModel()
	defer loop.Close()

	m.Update(runeKey('s'))
	if len(ctrl.calls) != 0 {
		t.Errorf("save with no file should do nothing, calls %v", ctrl.calls)
	}

	m.surface.NotifyFileState(true, "run.mzMD", "/data/run.mzMD")
	m.Update(runeKey('s'))
	m.Update(runeKey('c'))

	if strings.Join(ctrl.calls, ",") != "save,close" {
		t.Errorf("calls = %v", ctrl.calls)
	}
	if !strings.Contains(m.View(), "File: run.mzMD") {
		t.Errorf("view should show the file:\n%s", m.View())
	}
}

func TestModel_QuitCancelsPromptsAndClosesLoop(t *testing.T) {
	m, _, loop := newTestModel()

	var declined bool
	loop.Post(func() {
		m.surface.PromptForPath("/x", func(_ string, ok bool) { declined = !ok })
	})
	m.Update(foregroundMsg{})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("quit should return a command")
	}
	if !declined {
		t.Error("open prompt should be declined on quit")
	}
	select {
	case <-loop.Done():
	default:
		t.Error("loop should be closed")
	}
	if m.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

// pumpUntil plays the bubbletea runtime: it waits for foreground work and
// feeds it to Update until cond holds.
func pumpUntil(t *testing.T, m *Model, loop *dispatch.Loop, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-loop.Ready():
			m.Update(foregroundMsg{})
		case <-time.After(5 * time.Millisecond):
			m.Update(foregroundMsg{})
		case <-deadline:
			t.Fatalf("timed out waiting for %s; status %q", what, m.surface.StatusText())
		}
	}
}

func TestModel_ConvertsThroughController(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "run.csv")
	if err := os.WriteFile(src, []byte("mz,rt,intensity\n1,2,3\n4,5,6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loop := dispatch.NewLoop()
	surface := NewSurface()
	ctrl, err := manager.New(manager.Options{
		Dispatcher: loop,
		Surface:    surface,
		Config:     config.Default(),
	})
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	m := New(loop, ctrl, surface)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
		loop.Close()
	})

	m.Update(runeKey('o'))
	m.input.SetValue(src)
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	pumpUntil(t, m, loop, "destination prompt", func() bool { return m.shown != nil })
	if want := filepath.Join(dir, "run.mzMD"); m.input.Value() != want {
		t.Errorf("suggested destination = %q, want %q", m.input.Value(), want)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	pumpUntil(t, m, loop, "file to open", surface.FileOpen)
	if surface.FilePath() != filepath.Join(dir, "run.mzMD") {
		t.Errorf("file = %q", surface.FilePath())
	}
	pumpUntil(t, m, loop, "ready status", func() bool { return surface.StatusText() == "Ready" })
	if !strings.Contains(m.View(), "File: run.mzMD") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestModel_WithdrawnPromptIsHidden(t *testing.T) {
	m, _, loop := newTestModel()
	defer loop.Close()

	var withdraw func()
	loop.Post(func() {
		withdraw = m.surface.PromptForPath("/data/run.mzMD", func(string, bool) {
			t.Error("withdrawn prompt was answered")
		})
	})
	m.Update(foregroundMsg{})
	if m.shown == nil {
		t.Fatal("prompt should be shown")
	}

	loop.Post(withdraw)
	m.Update(foregroundMsg{})

	if m.shown != nil || strings.Contains(m.View(), "Choose a path") {
		t.Errorf("withdrawn prompt still shown:\n%s", m.View())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}
