// Package server exposes the active dataset over HTTP.
//
// DataServer implements manager.Exposer. The controller attaches the session
// once it is ready and detaches it before saving or closing; detaching waits
// for requests already reading the session to finish. While nothing is
// attached, dataset routes answer 503.
//
// Status text is pushed to websocket clients at /api/status/ws. Each client
// receives the latest record on connect and then every newer record it has
// time to read; a slow client skips intermediate values.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhubert/msviz-core/logger"
	"github.com/zhubert/msviz-core/manager"
	"github.com/zhubert/msviz-core/metrics"
	"github.com/zhubert/msviz-core/status"
)

// Options configures a DataServer.
type Options struct {
	Addr    string
	Status  *status.Channel
	Metrics *metrics.Metrics
}

// DataServer serves the attached session.
type DataServer struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	status  *status.Channel
	router  *chi.Mux
	httpSrv *http.Server

	// mu is held for reading by every request that uses sess.
	mu   sync.RWMutex
	sess manager.Session

	streams     *streamHub
	unsubscribe func()
}

// Compile-time interface satisfaction check.
var _ manager.Exposer = (*DataServer)(nil)

// New creates a server with nothing attached.
func New(opts Options) *DataServer {
	s := &DataServer{
		log:     logger.WithComponent("server"),
		metrics: opts.Metrics,
		status:  opts.Status,
		streams: newStreamHub(),
	}
	if s.status != nil {
		s.unsubscribe = s.status.Subscribe(s.streams.broadcast)
	}
	s.router = s.newRouter()
	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *DataServer) newRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.log))
	r.Use(Recovery(s.log))
	r.Use(Instrument(s.metrics))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Get("/summary", s.handleSummary)
		r.Get("/points", s.handlePoints)
		r.Get("/status/ws", s.handleStatusStream)
	})
	return r
}

// Attach implements manager.Exposer. Attach(nil) returns once in-flight
// requests on the previous session have finished.
func (s *DataServer) Attach(sess manager.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == sess {
		return
	}
	s.sess = sess
	if sess == nil {
		s.log.Debug("session detached")
		return
	}
	s.log.Info("session attached", "sessionID", sess.ID(), "path", sess.FilePath())
}

// Attached returns the attached session, or nil.
func (s *DataServer) Attached() manager.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *DataServer) Handler() http.Handler {
	return s.router
}

// Serve serves on l until Shutdown. It returns nil after a clean shutdown.
func (s *DataServer) Serve(l net.Listener) error {
	s.log.Info("data server listening", "addr", l.Addr().String())
	err := s.httpSrv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes status streams and waits for
// in-flight requests.
func (s *DataServer) Shutdown(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.streams.closeAll()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown data server: %w", err)
	}
	s.log.Info("data server stopped")
	return nil
}
