// Package metrics defines the Prometheus collectors for the viewer.
//
// Collectors live on their own registry rather than the global default, so
// tests and multiple controllers in one process do not collide. Every method
// is safe on a nil *Metrics, which components use when metrics are off.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Load results.
const (
	LoadReady     = "ready"
	LoadFailed    = "failed"
	LoadCancelled = "cancelled"
	LoadStale     = "stale"
)

// Save results.
const (
	SaveOK     = "ok"
	SaveFailed = "failed"
)

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	SessionsOpened  prometheus.Counter
	SessionLoads    *prometheus.CounterVec
	LoadDuration    prometheus.Histogram
	SessionActive   prometheus.Gauge
	PathRequests    *prometheus.CounterVec
	Saves           *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
	StatusPublished prometheus.Counter
}

// New creates the collectors on a fresh registry, along with the standard
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "msviz_sessions_opened_total",
			Help: "Total number of open requests",
		}),
		SessionLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msviz_session_loads_total",
			Help: "Completed session loads by result",
		}, []string{"result"}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "msviz_session_load_duration_seconds",
			Help:    "Time from open request to load completion",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}),
		SessionActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "msviz_session_active",
			Help: "1 while a dataset is open and ready",
		}),
		PathRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msviz_path_requests_total",
			Help: "Destination path requests by outcome",
		}, []string{"outcome"}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msviz_saves_total",
			Help: "Save operations by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msviz_http_requests_total",
			Help: "Data server requests",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msviz_http_request_duration_seconds",
			Help:    "Data server request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "msviz_status_ws_connections",
			Help: "Open status stream connections",
		}),
		StatusPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "msviz_status_published_total",
			Help: "Status texts published by sessions",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
}

// LoadFinished records a completed load and how long it took.
func (m *Metrics) LoadFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SessionLoads.WithLabelValues(result).Inc()
	if result != LoadStale {
		m.LoadDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

func (m *Metrics) PathRequest(outcome string) {
	if m == nil {
		return
	}
	m.PathRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SaveFinished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Saves.WithLabelValues(SaveFailed).Inc()
		return
	}
	m.Saves.WithLabelValues(SaveOK).Inc()
}

// HTTPRequest records one data server request.
func (m *Metrics) HTTPRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

func (m *Metrics) StatusUpdate() {
	if m == nil {
		return
	}
	m.StatusPublished.Inc()
}
