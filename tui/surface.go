package tui

import (
	"slices"

	"github.com/zhubert/msviz-core/manager"
)

// Compile-time interface satisfaction check.
var _ manager.Surface = (*Surface)(nil)

type pendingPrompt struct {
	suggested string
	answer    func(path string, ok bool)
}

// Surface holds what the TUI shows. Its methods run on the foreground,
// which is the bubbletea Update loop.
type Surface struct {
	statusText string
	fileOpen   bool
	fileName   string
	filePath   string

	prompt *pendingPrompt
	queue  []*pendingPrompt
}

// NewSurface returns a surface showing no file.
func NewSurface() *Surface {
	return &Surface{statusText: manager.NoFileText}
}

// PromptForPath implements manager.Surface. Prompts are shown one at a time
// in arrival order.
func (s *Surface) PromptForPath(suggested string, answer func(path string, ok bool)) (withdraw func()) {
	p := &pendingPrompt{suggested: suggested, answer: answer}
	if s.prompt == nil {
		s.prompt = p
	} else {
		s.queue = append(s.queue, p)
	}
	return func() { s.withdraw(p) }
}

// withdraw drops p without answering it.
func (s *Surface) withdraw(p *pendingPrompt) {
	if s.prompt == p {
		s.advance()
		return
	}
	s.queue = slices.DeleteFunc(s.queue, func(q *pendingPrompt) bool { return q == p })
}

func (s *Surface) advance() {
	s.prompt = nil
	if len(s.queue) > 0 {
		s.prompt, s.queue = s.queue[0], s.queue[1:]
	}
}

// NotifyStatus implements manager.Surface.
func (s *Surface) NotifyStatus(text string) {
	s.statusText = text
}

// NotifyFileState implements manager.Surface.
func (s *Surface) NotifyFileState(open bool, displayName, fullPath string) {
	s.fileOpen = open
	s.fileName = displayName
	s.filePath = fullPath
}

// Prompting reports whether a prompt is waiting for an answer.
func (s *Surface) Prompting() bool {
	return s.prompt != nil
}

// Answer resolves the current prompt and moves to the next queued one.
func (s *Surface) Answer(path string, ok bool) {
	p := s.prompt
	if p == nil {
		return
	}
	s.advance()
	p.answer(path, ok)
}

// CancelAll declines every outstanding prompt.
func (s *Surface) CancelAll() {
	for s.prompt != nil {
		s.Answer("", false)
	}
}

func (s *Surface) StatusText() string { return s.statusText }
func (s *Surface) FileOpen() bool     { return s.fileOpen }
func (s *Surface) FilePath() string   { return s.filePath }
