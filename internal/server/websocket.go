// Adapted from the teacher's internal/api/websocket.go Hub/Client
// pattern. The teacher's Hub broadcasts every message to every client;
// this one dispatches each ingested log entry through per-connection,
// per-stream_id filter predicates (spec.md's Subscription/Filter) and
// evicts dead subscribers instead of broadcasting unconditionally.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"devlogd/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsMessage struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// wsStreamData is the payload shape of start_stream/update_filters
// messages: the filter lives one level below "data", at "data.filters".
type wsStreamData struct {
	Filters models.Filter `json:"filters"`
}

// parseFilter extracts the Filter from a start_stream/update_filters
// message's data field, which nests it under a "filters" key
// (server.py:512, :538 — data.get('data', {}).get('filters', {})).
func parseFilter(data json.RawMessage) models.Filter {
	if len(data) == 0 {
		return models.Filter{}
	}
	var sd wsStreamData
	_ = json.Unmarshal(data, &sd)
	return sd.Filters
}

// client is one WebSocket connection, which may hold many concurrent
// subscriptions keyed by client-chosen stream_id.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]*models.Subscription
}

// Hub tracks live WebSocket connections and dispatches log entries to
// every subscription, across every client, whose filter matches.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

func newHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

func (h *Hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// dispatch sends entry to every subscription (across every client)
// whose filter matches, skipping unmatched subscriptions and evicting
// any client whose send channel is full (a dead or stalled client)
// instead of blocking.
func (h *Hub) dispatch(entry *models.LogEntry, alerts []models.Alert) {
	now := time.Now().UTC().Format(time.RFC3339)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !h.dispatchToClient(c, entry, alerts, now) {
			h.evict(c)
		}
	}
}

// dispatchToClient sends entry to every matching subscription on c.
// Returns false if the client's send buffer was full, signaling the
// caller to evict it as dead or stalled.
func (h *Hub) dispatchToClient(c *client, entry *models.LogEntry, alerts []models.Alert, now string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for streamID, sub := range c.subs {
		if !sub.Filter.Matches(entry) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"type":      "log_entry",
			"stream_id": streamID,
			"data":      entry,
			"alerts":    alerts,
			"timestamp": now,
		})
		if err != nil {
			continue
		}
		select {
		case c.send <- payload:
		default:
			return false
		}
	}
	return true
}

// evict closes and removes a client outside the per-client lock,
// called while holding the hub lock.
func (h *Hub) evict(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	close(c.send)
	c.conn.Close()
	delete(h.clients, c)
}

func (s *Server) registerStreamRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   r.RemoteAddr,
		conn: conn,
		send: make(chan []byte, 32),
		subs: make(map[string]*models.Subscription),
	}
	s.hub.mu.Lock()
	s.hub.clients[c] = true
	s.hub.mu.Unlock()

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
	c.conn.Close()
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.mu.Lock()
		if _, ok := s.hub.clients[c]; ok {
			delete(s.hub.clients, c)
			close(c.send)
		}
		s.hub.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.wsSendError(c, "invalid message")
			continue
		}
		s.handleWSMessage(c, msg)
	}
}

func (s *Server) handleWSMessage(c *client, msg wsMessage) {
	now := time.Now().UTC().Format(time.RFC3339)
	switch msg.Type {
	case "start_stream":
		if msg.StreamID == "" {
			s.wsSendError(c, "stream_id is required")
			return
		}
		f := parseFilter(msg.Data)
		c.mu.Lock()
		c.subs[msg.StreamID] = &models.Subscription{StreamID: msg.StreamID, Filter: f, StartedAt: time.Now().UTC()}
		c.mu.Unlock()
		s.wsSend(c, map[string]any{"type": "stream_started", "stream_id": msg.StreamID, "timestamp": now})
	case "update_filters":
		if msg.StreamID == "" {
			s.wsSendError(c, "stream_id is required")
			return
		}
		f := parseFilter(msg.Data)
		c.mu.Lock()
		sub, ok := c.subs[msg.StreamID]
		if !ok {
			sub = &models.Subscription{StreamID: msg.StreamID, StartedAt: time.Now().UTC()}
			c.subs[msg.StreamID] = sub
		}
		sub.Filter = f
		c.mu.Unlock()
		s.wsSend(c, map[string]any{"type": "filters_updated", "stream_id": msg.StreamID, "timestamp": now})
	case "stop_stream":
		c.mu.Lock()
		delete(c.subs, msg.StreamID)
		c.mu.Unlock()
		s.wsSend(c, map[string]any{"type": "stream_stopped", "stream_id": msg.StreamID, "timestamp": now})
	case "ping":
		s.wsSend(c, map[string]any{"type": "pong", "timestamp": now})
	default:
		s.wsSendError(c, "unknown message type")
	}
}

func (s *Server) wsSend(c *client, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (s *Server) wsSendError(c *client, message string) {
	s.wsSend(c, map[string]any{"type": "error", "data": map[string]any{"message": message}})
}
