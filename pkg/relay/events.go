package relay

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const eventRingCapacity = 256

// Event is one relayed request, kept in a bounded in-memory ring for the
// /debug/events websocket tail. Nothing here is persisted.
type Event struct {
	Time       time.Time `json:"time"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Model      string    `json:"model,omitempty"`
	Status     int       `json:"status"`
	Rewritten  bool      `json:"rewritten,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

type eventRing struct {
	mu     sync.Mutex
	events []Event
	max    int
	subs   map[chan []byte]struct{}
}

func newEventRing(max int) *eventRing {
	if max <= 0 {
		max = eventRingCapacity
	}
	return &eventRing{
		max:  max,
		subs: map[chan []byte]struct{}{},
	}
}

func (r *eventRing) add(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	for ch := range r.subs {
		select {
		case ch <- msg:
		default:
			// Slow subscriber; drop rather than stall the relay path.
		}
	}
}

func (r *eventRing) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRing) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[ch] = struct{}{}
	return ch
}

func (r *eventRing) unsubscribe(ch chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
}

// debugEventsWebsocket streams the event ring followed by live events. It is
// an operator aid and only answers loopback callers.
func (s *Server) debugEventsWebsocket(w http.ResponseWriter, r *http.Request) {
	if !requestIsLoopback(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(req *http.Request) bool {
			origin := strings.TrimSpace(req.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, req.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	for _, e := range s.events.snapshot() {
		msg, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()
	for {
		select {
		case <-done:
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
