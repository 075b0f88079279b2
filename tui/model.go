// Package tui is the interactive front end.
//
// The bubbletea event loop is the foreground. A command waits for work on
// the dispatch.Loop; when it fires, Update drains the loop, so everything the
// controller posts (status text, file-state changes, path prompts) runs
// inside Update and never races with rendering.
package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/manager"
)

// foregroundMsg means work may be pending on the loop.
type foregroundMsg struct{}

// loopClosedMsg means the loop shut down underneath the program.
type loopClosedMsg struct{}

// Controller is the part of manager.Controller the TUI drives.
type Controller interface {
	PromptOpen()
	PromptSave()
	Close()
	Open(path string)
}

// Compile-time interface satisfaction check.
var _ Controller = (*manager.Controller)(nil)

// Model is the root bubbletea model.
type Model struct {
	loop    *dispatch.Loop
	ctrl    Controller
	surface *Surface
	keys    KeyMap
	input   textinput.Model

	// shown is the prompt the input is currently editing.
	shown    *pendingPrompt
	width    int
	quitting bool
}

// New creates the model. surface must be the one given to the controller.
func New(loop *dispatch.Loop, ctrl Controller, surface *Surface) *Model {
	ti := textinput.New()
	ti.Placeholder = "path/to/file"
	ti.CharLimit = 4096
	ti.Width = 60
	ti.Prompt = "> "

	return &Model{
		loop:    loop,
		ctrl:    ctrl,
		surface: surface,
		keys:    DefaultKeyMap(),
		input:   ti,
	}
}

// waitForWork blocks until the loop has work or closes.
func waitForWork(loop *dispatch.Loop) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-loop.Ready():
			return foregroundMsg{}
		case <-loop.Done():
			return loopClosedMsg{}
		}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(waitForWork(m.loop), textinput.Blink)
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case foregroundMsg:
		cmds = append(cmds, waitForWork(m.loop))

	case loopClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-8)

	case tea.KeyMsg:
		if m.surface.Prompting() {
			cmds = append(cmds, m.handlePromptKey(msg))
		} else if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}

	default:
		if m.shown != nil {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.loop.Drain()
	if cmd := m.syncPrompt(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Open):
		m.ctrl.PromptOpen()
	case key.Matches(msg, m.keys.Save):
		if m.surface.FileOpen() {
			m.ctrl.PromptSave()
		}
	case key.Matches(msg, m.keys.Close):
		// Also abandons a load in progress.
		m.ctrl.Close()
	}
	return nil
}

func (m *Model) handlePromptKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		value := strings.TrimSpace(m.input.Value())
		m.shown = nil
		m.surface.Answer(value, value != "")
		return nil
	case key.Matches(msg, m.keys.Cancel):
		m.shown = nil
		m.surface.Answer("", false)
		return nil
	case msg.Type == tea.KeyCtrlC:
		return m.quit()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// syncPrompt points the input at the surface's current prompt.
func (m *Model) syncPrompt() tea.Cmd {
	p := m.surface.prompt
	if p == m.shown {
		return nil
	}
	m.shown = p
	if p == nil {
		m.input.Blur()
		m.input.SetValue("")
		return nil
	}
	m.input.SetValue(p.suggested)
	m.input.CursorEnd()
	return m.input.Focus()
}

// quit declines outstanding prompts and closes the loop so any waiting
// destination request is cancelled. The caller shuts the controller down
// after the program exits.
func (m *Model) quit() tea.Cmd {
	logger.WithComponent("tui").Debug("quit requested")
	m.quitting = true
	m.shown = nil
	m.surface.CancelAll()
	m.loop.Drain()
	m.loop.Close()
	return tea.Quit
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("msviz"))
	b.WriteString("\n\n")

	if m.surface.FileOpen() {
		b.WriteString(FileStyle.Render("File: " + m.surface.fileName))
	} else {
		b.WriteString(NoFileStyle.Render(manager.NoFileText))
	}
	b.WriteString("\n")
	b.WriteString(statusStyle(m.surface.StatusText()).Render(m.surface.StatusText()))
	b.WriteString("\n\n")

	if m.shown != nil {
		title := "Choose a path"
		if m.shown.suggested != "" {
			title = "Choose a path (suggested shown)"
		}
		prompt := PromptTitleStyle.Render(title) + "\n" + m.input.View() + "\n" +
			helpItem(m.keys.Confirm, true) + "  " + helpItem(m.keys.Cancel, true)
		b.WriteString(PromptStyle.Render(prompt))
		b.WriteString("\n")
		return b.String()
	}

	open := m.surface.FileOpen()
	b.WriteString(" ")
	b.WriteString(strings.Join([]string{
		helpItem(m.keys.Open, true),
		helpItem(m.keys.Save, open),
		helpItem(m.keys.Close, open),
		helpItem(m.keys.Quit, true),
	}, "  "))
	b.WriteString("\n")
	return b.String()
}

func statusStyle(text string) lipgloss.Style {
	switch {
	case strings.HasPrefix(text, "Failed"), strings.HasPrefix(text, "Save failed"):
		return StatusFailedStyle
	case text == "Ready", strings.HasPrefix(text, "Saved"):
		return StatusReadyStyle
	default:
		return StatusStyle
	}
}

func helpItem(b key.Binding, enabled bool) string {
	h := b.Help()
	if !enabled {
		return HelpDisabledStyle.Render(h.Key + " " + h.Desc)
	}
	return HelpKeyStyle.Render(h.Key) + " " + HelpDescStyle.Render(h.Desc)
}
