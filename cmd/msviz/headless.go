package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/manager"
	"github.com/zhubert/msviz-core/paths"
)

// loadResult is how the first load ended.
type loadResult struct {
	path string
	err  error
}

// headlessSurface answers destination prompts without a user. The first
// prompt gets output when it is set; later ones get the suggestion, moved to
// the converted-files directory when its own directory cannot be written.
//
// Like every Surface it is only called on the foreground.
type headlessSurface struct {
	output   string
	progress io.Writer
	log      *slog.Logger

	outputUsed bool
	result     chan loadResult
}

var _ manager.Surface = (*headlessSurface)(nil)

func newHeadlessSurface(output string, progress io.Writer) *headlessSurface {
	return &headlessSurface{
		output:   output,
		progress: progress,
		log:      logger.WithComponent("headless"),
		result:   make(chan loadResult, 1),
	}
}

// Result delivers the outcome of the first load that ends.
func (s *headlessSurface) Result() <-chan loadResult {
	return s.result
}

func (s *headlessSurface) finish(r loadResult) {
	select {
	case s.result <- r:
	default:
	}
}

// PromptForPath answers before returning, so there is never anything to
// withdraw.
func (s *headlessSurface) PromptForPath(suggested string, answer func(path string, ok bool)) func() {
	answer(s.choose(suggested))
	return func() {}
}

func (s *headlessSurface) choose(suggested string) (string, bool) {
	if s.output != "" && !s.outputUsed {
		s.outputUsed = true
		return s.output, true
	}
	if suggested == "" {
		return "", false
	}
	target, err := writableTarget(suggested)
	if err != nil {
		s.log.Warn("no writable destination", "suggested", suggested, "error", err)
		return "", false
	}
	s.log.Debug("answering path prompt", "suggested", suggested, "target", target)
	return target, true
}

func (s *headlessSurface) NotifyStatus(text string) {
	if s.progress != nil {
		fmt.Fprintln(s.progress, text)
	}
	if strings.HasPrefix(text, "Failed") {
		s.finish(loadResult{err: errors.New(text)})
	}
}

func (s *headlessSurface) NotifyFileState(open bool, _, fullPath string) {
	if open {
		s.finish(loadResult{path: fullPath})
	}
}

// writableTarget returns suggested, or the same file name under
// paths.ConvertedDir when suggested's directory is not writable.
func writableTarget(suggested string) (string, error) {
	if dirWritable(filepath.Dir(suggested)) {
		return suggested, nil
	}
	dir, err := paths.ConvertedDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return filepath.Join(dir, filepath.Base(suggested)), nil
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".msviz-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
