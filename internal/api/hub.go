package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// EventType discriminates the payload carried by an Event, per spec §6:
// "server→client JSON messages {type, session_id, ...payload} with type ∈
// {recording_step, replay_step, replay_complete, run_status, error}".
type EventType string

const (
	EventRecordingStep  EventType = "recording_step"
	EventReplayStep     EventType = "replay_step"
	EventReplayComplete EventType = "replay_complete"
	EventRunStatus      EventType = "run_status"
	EventError          EventType = "error"
)

// Event is one message the hub fans out to every connected client. Payload
// is embedded inline at marshal time so JSON keys stay flat rather than
// nested under a "payload" field.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Payload   any       `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside type/session_id.
func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(struct {
		Type      EventType `json:"type"`
		SessionID string    `json:"session_id"`
	}{e.Type, e.SessionID})
	if err != nil {
		return nil, err
	}
	if e.Payload == nil {
		return base, nil
	}
	extra, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return mergeJSONObjects(base, extra)
}

func mergeJSONObjects(a, b []byte) ([]byte, error) {
	var am, bm map[string]json.RawMessage
	if err := json.Unmarshal(a, &am); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &bm); err != nil {
		return nil, err
	}
	for k, v := range bm {
		am[k] = v
	}
	return json.Marshal(am)
}

// hub is the single process-wide WebSocket broadcaster. Spec §4.G: "a
// single WebSocket endpoint multiplexes events... event ordering per
// session is preserved (single-producer per session)." Every connected
// client receives every event and filters by session_id client-side; the
// hub itself does no per-client subscription bookkeeping.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &hub{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  logger.With(zap.String("component", "ws_hub")),
	}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// broadcast sends ev to every connected client, dropping (and unregistering)
// any client whose write fails or stalls.
func (h *hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("dropping client after failed write", zap.Error(err))
			h.remove(c)
			_ = c.Close(websocket.StatusInternalError, "write failed")
		}
	}
}

// serveWS upgrades the connection and keeps it open until the client
// disconnects. The hub is send-only toward clients; inbound messages (if
// any) are read and discarded so the connection's read deadline keeps
// advancing.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	h.add(conn)
	defer func() {
		h.remove(conn)
		_ = conn.CloseNow()
	}()

	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
