package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
	"github.com/ivanzxc/go-glucose-stream/internal/stream"
)

// Message is the envelope of everything pushed to dashboards.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Point struct {
	Time    string  `json:"time"`
	Glucose float64 `json:"glucose"`
}

// SamplePayload carries the new tick and the series so far for a redraw.
type SamplePayload struct {
	Sample stream.SampleMsg `json:"sample"`
	Series []Point          `json:"series"`
}

func points(series []sampler.Sample) []Point {
	out := make([]Point, len(series))
	for i, s := range series {
		out[i] = Point{Time: s.Clock(), Glucose: s.Glucose}
	}
	return out
}

// StatusPayload announces the end of a run.
type StatusPayload struct {
	RunID   string         `json:"run_id"`
	Status  sampler.Status `json:"status"`
	Samples int            `json:"samples"`
}

// Hub fans text frames out to every connected dashboard.
type Hub struct {
	wmu     sync.Mutex // one writer per connection at a time
	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	log     *slog.Logger
	onCount func(n int)
}

func NewHub(log *slog.Logger, onCount func(n int)) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{conns: make(map[*websocket.Conn]bool), log: log, onCount: onCount}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	n := len(h.conns)
	h.mu.Unlock()
	h.count(n)
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	h.count(n)
}

func (h *Hub) count(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// BroadcastText writes b to every client; clients that cannot keep up are dropped.
func (h *Hub) BroadcastText(b []byte) {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
}

func (h *Hub) Send(m Message) {
	b, err := json.Marshal(m)
	if err != nil {
		h.log.Error("marshal failed", "type", m.Type, "err", err)
		return
	}
	h.BroadcastText(b)
}

// Emit pushes one tick; it satisfies sampler.Emitter.
func (h *Hub) Emit(_ context.Context, u sampler.Update) {
	h.Send(Message{Type: "sample", Payload: SamplePayload{
		Sample: stream.NewSampleMsg(u),
		Series: points(u.Series),
	}})
}
