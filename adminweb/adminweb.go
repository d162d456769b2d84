// Package adminweb implements the opt-in admin surface described in
// SPEC_FULL.md §4.7: health, Prometheus metrics, and a read-only
// WebSocket tail of reporter lifecycle events. The broadcast-with-
// slow-client-eviction shape is adapted from the teacher's
// core/controlplane/gateway/gateway.go handleStream/broadcast loop,
// applied to reporter.Event instead of a protobuf BusPacket — this
// surface is observational only, with no control-plane messages
// flowing back over the socket.
package adminweb

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ruby2elixir/kiq/internal/kiqlog"
	"github.com/ruby2elixir/kiq/kiqmetrics"
	"github.com/ruby2elixir/kiq/reporter"
)

// eventBacklog bounds the per-client buffered channel; a client that
// can't drain this many pending events before the next one arrives is
// considered slow and is dropped, mirroring the teacher's gateway.
const eventBacklog = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON shape streamed to admin clients: jid/class
// summarize the job without re-serializing its full envelope.
type wireEvent struct {
	Kind  string `json:"kind"`
	Queue string `json:"queue"`
	Jid   string `json:"jid,omitempty"`
	Class string `json:"class,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is a Reporter (tap the reporter chain with it) and an
// http.Handler (mount it, or call ListenAndServe).
type Server struct {
	mux      *http.ServeMux
	eventsCh chan reporter.Event

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan reporter.Event
}

// New builds a Server. Pass it to reporter.NewChain alongside the
// standard reporters to tap lifecycle events, and mount it (or run
// ListenAndServe) to serve /healthz, /metrics, and /stream.
func New() *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		eventsCh: make(chan reporter.Event, eventBacklog),
		clients:  make(map[*websocket.Conn]chan reporter.Event),
	}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.Handle("/metrics", kiqmetrics.Handler())
	s.mux.HandleFunc("/stream", s.handleStream)
	go s.broadcastLoop()
	return s
}

// ServeHTTP lets Server be mounted directly or wrapped by other
// middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs a plain HTTP server on addr. It blocks until the
// server fails and returns that error; it takes no context and offers
// no way to shut the server down.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Handle implements reporter.Reporter: a tick of the reporter chain
// offers its event to the broadcast channel, non-blocking — a full
// channel (an admin surface with no listeners keeping up) drops the
// event rather than ever slowing down job processing.
func (s *Server) Handle(ctx context.Context, ev reporter.Event) error {
	select {
	case s.eventsCh <- ev:
	default:
	}
	return nil
}

func (s *Server) broadcastLoop() {
	for ev := range s.eventsCh {
		var slow []*websocket.Conn
		s.mu.RLock()
		for conn, ch := range s.clients {
			select {
			case ch <- ev:
			default:
				slow = append(slow, conn)
			}
		}
		s.mu.RUnlock()

		if len(slow) > 0 {
			s.mu.Lock()
			for _, conn := range slow {
				delete(s.clients, conn)
			}
			s.mu.Unlock()
			for _, conn := range slow {
				_ = conn.Close()
			}
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		kiqlog.Error("adminweb", "ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientCh := make(chan reporter.Event, eventBacklog)
	s.mu.Lock()
	s.clients[conn] = clientCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		select {
		case ev, ok := <-clientCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(toWireEvent(ev)); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		case <-time.After(30 * time.Second):
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toWireEvent(ev reporter.Event) wireEvent {
	w := wireEvent{Kind: ev.Kind.String(), Queue: ev.Queue}
	if ev.Job != nil {
		w.Jid = ev.Job.Jid
		w.Class = ev.Job.Class
	}
	if ev.Err != nil {
		w.Error = ev.Err.Error()
	}
	return w
}
