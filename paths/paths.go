// Package paths resolves where msviz keeps its configuration, converted
// datasets and logs.
//
// The root is chosen in this order:
//  1. MSVIZ_HOME, when set, holds everything.
//  2. An existing ~/.msviz/ holds everything.
//  3. Any XDG_*_HOME variable splits config, data and state the XDG way.
//  4. Otherwise ~/.msviz/ is used.
package paths

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// HomeEnv names the variable that pins every msviz directory under one root.
const HomeEnv = "MSVIZ_HOME"

const appDirName = "msviz"

// Source records which rule picked the layout.
type Source string

const (
	SourceEnv     Source = "env"
	SourceFlat    Source = "flat"
	SourceXDG     Source = "xdg"
	SourceDefault Source = "default"
)

// Layout is a resolved set of msviz directories.
type Layout struct {
	Source Source
	Config string
	Data   string
	State  string
}

// Flat reports whether config, data and state share a single root.
func (l Layout) Flat() bool {
	return l.Source != SourceXDG
}

func singleRoot(src Source, root string) Layout {
	return Layout{Source: src, Config: root, Data: root, State: root}
}

// xdgDirs pairs each XDG variable with its fallback under the home directory.
var xdgDirs = []struct {
	env      string
	fallback []string
	set      func(*Layout, string)
}{
	{"XDG_CONFIG_HOME", []string{".config"}, func(l *Layout, d string) { l.Config = d }},
	{"XDG_DATA_HOME", []string{".local", "share"}, func(l *Layout, d string) { l.Data = d }},
	{"XDG_STATE_HOME", []string{".local", "state"}, func(l *Layout, d string) { l.State = d }},
}

// detect applies the resolution rules against the current environment.
func detect() (Layout, error) {
	if root := os.Getenv(HomeEnv); root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return Layout{}, err
		}
		return singleRoot(SourceEnv, abs), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, err
	}
	if home == "" {
		return Layout{}, errors.New("home directory is empty")
	}
	flatDir := filepath.Join(home, "."+appDirName)

	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		return singleRoot(SourceFlat, flatDir), nil
	}

	l := Layout{Source: SourceXDG}
	anySet := false
	for _, x := range xdgDirs {
		base := os.Getenv(x.env)
		if base != "" {
			anySet = true
		} else {
			base = filepath.Join(append([]string{home}, x.fallback...)...)
		}
		x.set(&l, filepath.Join(base, appDirName))
	}
	if !anySet {
		return singleRoot(SourceDefault, flatDir), nil
	}
	return l, nil
}

var (
	mu     sync.Mutex
	cached *Layout
)

// Current returns the layout, resolving it on first use.
func Current() (Layout, error) {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	l, err := detect()
	if err != nil {
		return Layout{}, err
	}
	cached = &l
	return l, nil
}

func under(pick func(Layout) string, elem ...string) (string, error) {
	l, err := Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{pick(l)}, elem...)...), nil
}

func configRoot(l Layout) string { return l.Config }
func dataRoot(l Layout) string   { return l.Data }
func stateRoot(l Layout) string  { return l.State }

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() (string, error) { return under(configRoot) }

// DataDir returns the directory for persistent data.
func DataDir() (string, error) { return under(dataRoot) }

// StateDir returns the directory for logs and other runtime state.
func StateDir() (string, error) { return under(stateRoot) }

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() (string, error) { return under(configRoot, "config.yaml") }

// ConvertedDir returns the default directory for datasets written by imports
// when the source file's own directory is not writable.
func ConvertedDir() (string, error) { return under(dataRoot, "converted") }

// LogsDir returns the directory for log files.
func LogsDir() (string, error) { return under(stateRoot, "logs") }

// IsFlatLayout reports whether every directory shares one root. It is true
// when the layout cannot be resolved.
func IsFlatLayout() bool {
	l, err := Current()
	if err != nil {
		return true
	}
	return l.Flat()
}

// Reset drops the cached layout so the next call re-reads the environment.
// Tests use it after changing HOME or the XDG variables.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
