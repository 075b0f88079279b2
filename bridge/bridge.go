package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zhubert/msviz-core/dispatch"
	"github.com/zhubert/msviz-core/logger"
)

// DefaultTimeout bounds how long a worker waits for the foreground to answer.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrCancelled is returned by RequestPath when no path was chosen.
	ErrCancelled = errors.New("path request cancelled")

	// ErrNoRequest is returned by Resolve when nothing is outstanding.
	ErrNoRequest = errors.New("no path request outstanding")

	// ErrRequestOutstanding is returned by RequestPath when another request
	// has not been answered yet.
	ErrRequestOutstanding = errors.New("another path request is outstanding")
)

// Reasons wrapped by ErrCancelled.
var (
	errDeclined        = errors.New("declined by user")
	errTimeout         = errors.New("timed out waiting for an answer")
	errForegroundGone  = errors.New("foreground is no longer running")
	errCancelledByHost = errors.New("cancelled by controller")
	errBridgeClosed    = errors.New("bridge closed")
)

// Request is a pending question to the foreground.
type Request struct {
	ID        uint64
	Suggested string
}

// Handler presents a request to the user. It runs on the foreground and
// arranges for a ResolveRequest(req.ID, ...) call, either before it returns
// or later from the foreground. If the request ends without an answer, the
// returned withdraw (which may be nil) is run on the foreground to take the
// prompt down.
type Handler func(req Request) (withdraw func())

// Outcome labels how a request ended, for metrics.
type Outcome string

const (
	OutcomeChosen    Outcome = "chosen"
	OutcomeDeclined  Outcome = "declined"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeGone      Outcome = "foreground_gone"
)

type result struct {
	path string
	err  error
}

type pending struct {
	req  Request
	resp chan result // capacity 1: written exactly once

	// Guarded by Bridge.mu.
	withdraw func()
	answered bool
}

// Bridge is a single-slot rendezvous between worker goroutines and the
// foreground.
type Bridge struct {
	dispatcher dispatch.Dispatcher
	handler    Handler
	timeout    time.Duration
	onOutcome  func(Outcome)

	mu      sync.Mutex
	current *pending
	nextID  uint64
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout sets how long RequestPath waits before giving up.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithOutcomeHook registers fn to observe how each request ended.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(b *Bridge) { b.onOutcome = fn }
}

// New creates a bridge that presents requests with h on d.
func New(d dispatch.Dispatcher, h Handler, opts ...Option) *Bridge {
	b := &Bridge{
		dispatcher: d,
		handler:    h,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestPath asks the foreground for a path and blocks until it answers.
// It must not be called from the foreground. Every failure to obtain a path
// is reported as an error wrapping ErrCancelled, except a concurrent request,
// which gets ErrRequestOutstanding.
func (b *Bridge) RequestPath(ctx context.Context, suggested string) (string, error) {
	log := logger.WithComponent("bridge")

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", fmt.Errorf("%w: %w", ErrCancelled, errBridgeClosed)
	}
	if b.current != nil {
		b.mu.Unlock()
		return "", ErrRequestOutstanding
	}
	b.nextID++
	p := &pending{
		req:  Request{ID: b.nextID, Suggested: suggested},
		resp: make(chan result, 1),
	}
	b.current = p
	b.mu.Unlock()

	log.Debug("path requested", "id", p.req.ID, "suggested", suggested)

	if !b.dispatcher.Post(func() { b.present(p) }) {
		b.finish(p, result{err: errForegroundGone}, false)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	var res result
	select {
	case res = <-p.resp:
	case <-ctx.Done():
		b.finish(p, result{err: ctx.Err()}, false)
		res = <-p.resp
	case <-timer.C:
		b.finish(p, result{err: errTimeout}, false)
		res = <-p.resp
	case <-b.dispatcher.Done():
		b.finish(p, result{err: errForegroundGone}, false)
		res = <-p.resp
	}

	b.report(res.err)
	if res.err != nil {
		log.Info("path request ended without a path", "id", p.req.ID, "reason", res.err)
		return "", fmt.Errorf("%w: %w", ErrCancelled, res.err)
	}
	log.Debug("path chosen", "id", p.req.ID, "path", res.path)
	return res.path, nil
}

// present runs on the foreground.
func (b *Bridge) present(p *pending) {
	b.mu.Lock()
	live := b.current == p
	b.mu.Unlock()
	if !live {
		return
	}

	withdraw := b.handler(p.req)
	if withdraw == nil {
		return
	}
	b.mu.Lock()
	if b.current == p {
		p.withdraw = withdraw
		b.mu.Unlock()
		return
	}
	answered := p.answered
	b.mu.Unlock()
	// Ended while the handler ran.
	if !answered {
		withdraw()
	}
}

// finish clears p from the slot and delivers res if p is still outstanding.
// The first finisher wins; later calls are no-ops. An ending that is not an
// answer takes the prompt down on the foreground.
func (b *Bridge) finish(p *pending, res result, answered bool) bool {
	b.mu.Lock()
	if b.current != p {
		b.mu.Unlock()
		return false
	}
	b.current = nil
	p.answered = answered
	withdraw := p.withdraw
	p.resp <- res
	b.mu.Unlock()

	if withdraw != nil && !answered {
		b.dispatcher.Post(withdraw)
	}
	return true
}

func (b *Bridge) report(err error) {
	if b.onOutcome == nil {
		return
	}
	switch {
	case err == nil:
		b.onOutcome(OutcomeChosen)
	case errors.Is(err, errDeclined):
		b.onOutcome(OutcomeDeclined)
	case errors.Is(err, errTimeout):
		b.onOutcome(OutcomeTimeout)
	case errors.Is(err, errForegroundGone):
		b.onOutcome(OutcomeGone)
	default:
		b.onOutcome(OutcomeCancelled)
	}
}

// Resolve answers the outstanding request. ok=false means the user declined.
func (b *Bridge) Resolve(path string, ok bool) error {
	b.mu.Lock()
	p := b.current
	b.mu.Unlock()
	if p == nil {
		return ErrNoRequest
	}
	return b.ResolveRequest(p.req.ID, path, ok)
}

// ResolveRequest answers request id if it is still outstanding. Answers to a
// request that already ended return ErrNoRequest.
func (b *Bridge) ResolveRequest(id uint64, path string, ok bool) error {
	b.mu.Lock()
	p := b.current
	b.mu.Unlock()
	if p == nil || p.req.ID != id {
		return ErrNoRequest
	}

	res := result{path: path}
	if !ok || path == "" {
		res = result{err: errDeclined}
	}
	if !b.finish(p, res, true) {
		return ErrNoRequest
	}
	return nil
}

// Pending returns the outstanding request, if any.
func (b *Bridge) Pending() (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Request{}, false
	}
	return b.current.req, true
}

// CancelPending ends the outstanding request, if any, as cancelled. The slot
// is free when it returns.
func (b *Bridge) CancelPending() bool {
	b.mu.Lock()
	p := b.current
	b.mu.Unlock()
	if p == nil {
		return false
	}
	return b.finish(p, result{err: errCancelledByHost}, false)
}

// Close cancels any outstanding request and makes every later RequestPath
// return ErrCancelled immediately.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	p := b.current
	b.mu.Unlock()
	if p != nil {
		b.finish(p, result{err: errBridgeClosed}, false)
	}
}
