package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.LoadFinished(LoadReady, time.Second)
	m.SetActive(true)
	m.PathRequest("chosen")
	m.SaveFinished(nil)
	m.HTTPRequest("/health", 200, time.Millisecond)
	m.WSConnected()
	m.WSDisconnected()
	m.StatusUpdate()
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.LoadFinished(LoadReady, 2*time.Second)
	m.LoadFinished(LoadStale, 0)
	m.PathRequest("declined")
	m.SaveFinished(errors.New("disk full"))
	m.SaveFinished(nil)
	m.HTTPRequest("/api/summary", 503, time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"sessions opened", testutil.ToFloat64(m.SessionsOpened), 2},
		{"ready loads", testutil.ToFloat64(m.SessionLoads.WithLabelValues(LoadReady)), 1},
		{"stale loads", testutil.ToFloat64(m.SessionLoads.WithLabelValues(LoadStale)), 1},
		{"declined requests", testutil.ToFloat64(m.PathRequests.WithLabelValues("declined")), 1},
		{"failed saves", testutil.ToFloat64(m.Saves.WithLabelValues(SaveFailed)), 1},
		{"ok saves", testutil.ToFloat64(m.Saves.WithLabelValues(SaveOK)), 1},
		{"http 503", testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/summary", "503")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestActiveAndConnectionsGauges(t *testing.T) {
	m := New()

	m.SetActive(true)
	if v := testutil.ToFloat64(m.SessionActive); v != 1 {
		t.Errorf("active = %v, want 1", v)
	}
	m.SetActive(false)
	if v := testutil.ToFloat64(m.SessionActive); v != 0 {
		t.Errorf("active = %v, want 0", v)
	}

	m.WSConnected()
	m.WSConnected()
	m.WSDisconnected()
	if v := testutil.ToFloat64(m.WSConnections); v != 1 {
		t.Errorf("connections = %v, want 1", v)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"msviz_sessions_opened_total 1", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition missing %q", name)
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.SessionOpened()
	if v := testutil.ToFloat64(b.SessionsOpened); v != 0 {
		t.Errorf("registries should be independent, got %v", v)
	}
}
