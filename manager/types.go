package manager

import (
	"context"
	"errors"

	"github.com/zhubert/msviz-core/config"
	"github.com/zhubert/msviz-core/session"
)

var (
	// ErrNotReady is returned by Save when no session is active.
	ErrNotReady = errors.New("no active session")

	// ErrSaveInProgress is returned by Save while another save is running.
	ErrSaveInProgress = errors.New("a save is already in progress")
)

// NoFileText is the status shown when nothing is open.
const NoFileText = "No file open"

// State is the controller's lifecycle state.
type State int

const (
	// StateEmpty means no session exists.
	StateEmpty State = iota

	// StateOpening means a worker is loading the current session.
	StateOpening

	// StateActive means the current session is loaded and exposed.
	StateActive
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Session is the resource the controller manages.
type Session interface {
	ID() string
	// Load runs on a worker goroutine.
	Load(ctx context.Context, path string) error
	SaveAs(path string) error
	// Close must be idempotent.
	Close() error
	Status() session.Status
	FilePath() string
	// OnStatus registers the receiver of status text published during Load.
	OnStatus(fn func(text string))
}

// Exposer makes the active session reachable from outside the process.
// Attach(nil) detaches. Attach must be idempotent and safe from any
// goroutine, and must not call back into the Controller.
type Exposer interface {
	Attach(s Session)
}

// Surface is the interactive front end. All methods are called on the
// foreground.
type Surface interface {
	// PromptForPath asks the user for a path. answer must be called at most
	// once, on the foreground, either before PromptForPath returns or later.
	// The returned withdraw removes the prompt without answering it; the
	// controller calls it on the foreground when the question no longer
	// matters. withdraw after answer is a no-op.
	PromptForPath(suggested string, answer func(path string, ok bool)) (withdraw func())
	NotifyStatus(text string)
	NotifyFileState(open bool, displayName, fullPath string)
}

// SessionFactory creates an unloaded session that asks dest for conversion
// destinations. Tests inject fakes through it.
type SessionFactory func(dest session.DestinationFunc) Session

// ControllerConfig is the configuration the controller reads and updates.
//
// *config.Config satisfies this interface implicitly.
type ControllerConfig interface {
	GetImportConfig() config.ImportConfig
	AddRecentFile(path string) bool
	Save() error
}

// Compile-time interface satisfaction checks.
var (
	_ ControllerConfig = (*config.Config)(nil)
	_ Session          = (*session.Dataset)(nil)
)

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State         State
	SessionID     string
	SessionStatus session.Status
	FilePath      string
	StatusText    string
	LastError     error
	// Saving is set while a save runs; Open and Close wait behind it.
	Saving bool
}
