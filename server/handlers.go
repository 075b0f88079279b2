package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zhubert/msviz-core/manager"
	"github.com/zhubert/msviz-core/session"
)

// Queryable is implemented by sessions that can answer data queries.
type Queryable interface {
	Summary(ctx context.Context) (session.Summary, error)
	Points(ctx context.Context, q session.Query) ([]session.Point, error)
}

type sessionResponse struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

type pointsResponse struct {
	Points []session.Point `json:"points"`
	Count  int             `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// withSession runs fn with the attached session held against Attach.
func (s *DataServer) withSession(w http.ResponseWriter, fn func(sess manager.Session)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset open")
		return
	}
	fn(s.sess)
}

func (s *DataServer) withQueryable(w http.ResponseWriter, fn func(q Queryable)) {
	s.withSession(w, func(sess manager.Session) {
		q, ok := sess.(Queryable)
		if !ok {
			writeError(w, http.StatusNotImplemented, "dataset does not support queries")
			return
		}
		fn(q)
	})
}

func (s *DataServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"attached": s.Attached() != nil,
	})
}

func (s *DataServer) handleSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, func(sess manager.Session) {
		writeJSON(w, http.StatusOK, sessionResponse{
			ID:     sess.ID(),
			Path:   sess.FilePath(),
			Status: sess.Status().String(),
		})
	})
}

func (s *DataServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.withQueryable(w, func(q Queryable) {
		sum, err := q.Summary(r.Context())
		if err != nil {
			s.writeQueryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	})
}

func (s *DataServer) handlePoints(w http.ResponseWriter, r *http.Request) {
	query, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.withQueryable(w, func(q Queryable) {
		pts, err := q.Points(r.Context(), query)
		if err != nil {
			s.writeQueryError(w, err)
			return
		}
		if pts == nil {
			pts = []session.Point{}
		}
		writeJSON(w, http.StatusOK, pointsResponse{Points: pts, Count: len(pts)})
	})
}

func (s *DataServer) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, "dataset not ready")
		return
	}
	s.log.Warn("query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "query failed")
}

// parseQuery reads mzmin, mzmax, rtmin, rtmax and limit.
func parseQuery(r *http.Request) (session.Query, error) {
	var q session.Query
	v := r.URL.Query()

	floats := []struct {
		name string
		dst  *float64
	}{
		{"mzmin", &q.MzMin},
		{"mzmax", &q.MzMax},
		{"rtmin", &q.RtMin},
		{"rtmax", &q.RtMax},
	}
	for _, f := range floats {
		raw := v.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, errors.New("invalid " + f.name)
		}
		*f.dst = n
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, errors.New("invalid limit")
		}
		q.Limit = n
	}
	return q, nil
}
