package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/server/internal/store"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10

	// A 3-round run over the default catalog emits ~70 messages; leave room
	// for several runs back to back.
	queueDepth = 256

	// Clients only send control frames.
	maxInbound = 512
)

// EventSnapshot is the event name of the last-report message sent on connect
// and on every tick.
const EventSnapshot = "snapshot"

// Query parameters accepted on /ws/stream.
const (
	ParamRun      = "run"      // only relay events of this run id
	ParamProgress = "progress" // "false" drops per-probe progress events
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string `json:"event"`
	RunID string `json:"runId,omitempty"`
	Data  any    `json:"data"`
}

// Hub fans run events and last-report snapshots out to dashboard clients.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu    sync.RWMutex
	conns map[*subscriber]struct{}
}

// subscriber is one connected dashboard.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte

	runID      string
	noProgress bool
}

func (s *subscriber) wants(ev run.Event) bool {
	if s.runID != "" && ev.RunID != s.runID {
		return false
	}
	return !(s.noProgress && ev.Type == run.EventProgress)
}

// New creates a Hub that reads the last report from st.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		conns:    make(map[*subscriber]struct{}),
	}
}

// Publish implements run.Publisher.
func (h *Hub) Publish(ev run.Event) {
	data, err := json.Marshal(Message{Event: ev.Type, RunID: ev.RunID, Data: ev.Payload()})
	if err != nil {
		slog.Warn("ws: encode event failed", "event", ev.Type, "run_id", ev.RunID, "err", err)
		return
	}
	h.send(data, func(s *subscriber) bool { return s.wants(ev) })
}

// Run re-sends the last report every interval until ctx is cancelled, then
// disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.disconnectAll()
			return
		case <-tick.C:
			if data := h.lastReport(); data != nil {
				h.send(data, nil)
			}
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, queueDepth),
		runID: q.Get(ParamRun),
	}
	if v, err := strconv.ParseBool(q.Get(ParamProgress)); err == nil {
		s.noProgress = !v
	}

	// Queued before add so no broadcast or shutdown can race it.
	if data := h.lastReport(); data != nil {
		s.queue <- data
	}

	h.add(s)
	defer h.remove(s)

	go s.write()
	s.read()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.conns[s] = struct{}{}
	h.mu.Unlock()
	slog.Debug("ws: client connected", "run_filter", s.runID)
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[s]; !ok {
		return
	}
	delete(h.conns, s)
	close(s.queue)
}

// send queues data for every subscriber accepted by filter (nil = all).
// Subscribers with a full queue are dropped. Queueing happens under the read
// lock so remove cannot close a queue mid-send.
func (h *Hub) send(data []byte, filter func(*subscriber) bool) {
	var lagging []*subscriber

	h.mu.RLock()
	for s := range h.conns {
		if filter != nil && !filter(s) {
			continue
		}
		select {
		case s.queue <- data:
		default:
			lagging = append(lagging, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range lagging {
		slog.Warn("ws: client too slow, disconnecting", "run_filter", s.runID)
		h.remove(s)
	}
}

func (h *Hub) lastReport() []byte {
	last, ok := h.store.Last()
	if !ok {
		return nil
	}
	data, err := json.Marshal(Message{Event: EventSnapshot, RunID: last.Report.RunID, Data: last.Report})
	if err != nil {
		slog.Warn("ws: encode snapshot failed", "run_id", last.Report.RunID, "err", err)
		return nil
	}
	return data
}

func (h *Hub) disconnectAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.conns {
		delete(h.conns, s)
		close(s.queue)
	}
}

// write forwards queued messages and keeps the connection alive with pings.
// A closed queue ends the session with a close frame.
func (s *subscriber) write() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.conn.Close()

	for {
		var (
			kind = websocket.PingMessage
			body []byte
		)
		select {
		case msg, open := <-s.queue:
			if !open {
				s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
				return
			}
			kind, body = websocket.TextMessage, msg
		case <-ping.C:
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(kind, body); err != nil {
			return
		}
	}
}

// read consumes control frames until the peer disconnects or stops
// answering pings.
func (s *subscriber) read() {
	defer s.conn.Close()
	s.conn.SetReadLimit(maxInbound)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
