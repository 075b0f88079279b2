package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhubert/msviz-core/status"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool; clients are on this machine
	},
}

// stream is one websocket client. updates holds at most the newest record.
type stream struct {
	conn    *websocket.Conn
	updates chan status.Record
	done    chan struct{}
	once    sync.Once
}

// offer replaces any unsent record with r. Never blocks.
func (st *stream) offer(r status.Record) {
	for {
		select {
		case st.updates <- r:
			return
		default:
		}
		select {
		case old := <-st.updates:
			if old.Version > r.Version {
				r = old
			}
		default:
		}
	}
}

func (st *stream) close() {
	st.once.Do(func() {
		close(st.done)
		st.conn.Close()
	})
}

type streamHub struct {
	mu      sync.Mutex
	streams map[*stream]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{streams: make(map[*stream]struct{})}
}

func (h *streamHub) add(st *stream) {
	h.mu.Lock()
	h.streams[st] = struct{}{}
	h.mu.Unlock()
}

func (h *streamHub) remove(st *stream) {
	h.mu.Lock()
	delete(h.streams, st)
	h.mu.Unlock()
}

// broadcast is a status subscriber; it runs on the foreground.
func (h *streamHub) broadcast(r status.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for st := range h.streams {
		st.offer(r)
	}
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for st := range h.streams {
		st.close()
	}
}

func (h *streamHub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func (s *DataServer) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "status stream not available")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade status stream", "error", err)
		return
	}

	st := &stream{
		conn:    conn,
		updates: make(chan status.Record, 1),
		done:    make(chan struct{}),
	}
	st.offer(s.status.Latest())
	s.streams.add(st)
	s.metrics.WSConnected()
	s.log.Debug("status stream opened", "remote", r.RemoteAddr)

	defer func() {
		s.streams.remove(st)
		st.close()
		s.metrics.WSDisconnected()
		s.log.Debug("status stream closed", "remote", r.RemoteAddr)
	}()

	// Reader: clients send nothing meaningful, but reading notices closes.
	go func() {
		defer st.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-st.done:
			return
		case rec := <-st.updates:
			if rec.Version <= sent && sent != 0 {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
			sent = rec.Version
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
