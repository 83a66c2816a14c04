// Package realtime delivers notifications to browser sessions over websockets.
//
// Sessions join a room (the patient ID) when they connect to /ws?room=<id>.
// The Hub fans a broadcast out to every session in the room. In multi-instance
// deployments a RedisPublisher replaces the Hub as the router's sink and a
// Bridge on every instance feeds the channel back into the local Hub.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"notifyrelay/internal/types"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 16

	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
)

// ErrHubClosed is returned by Broadcast after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// Envelope is the frame written to each session.
type Envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// HubConfig tunes per-session behavior.
type HubConfig struct {
	WriteTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// Hub is the process-wide room registry. It is safe for concurrent use by the
// listener (Broadcast) and HTTP handlers (ServeWS).
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*session]struct{}
	closed bool

	cfg      HubConfig
	upgrader websocket.Upgrader
	logger   types.Logger
}

type session struct {
	room string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.send) })
}

// NewHub creates an empty Hub.
func NewHub(cfg HubConfig, logger types.Logger) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	h := &Hub{
		rooms:  make(map[string]map[*session]struct{}),
		cfg:    cfg,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Broadcast sends payload to every session in room as a "notification" event.
// An empty room is not an error. Sessions whose send buffer is full are
// disconnected rather than allowed to stall the broadcast.
func (h *Hub) Broadcast(_ context.Context, room string, payload map[string]any) error {
	frame, err := json.Marshal(Envelope{Event: types.RealtimeEventName, Data: payload})
	if err != nil {
		return fmt.Errorf("realtime: encode envelope: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}

	for s := range h.rooms[room] {
		select {
		case s.send <- frame:
		default:
			h.logger.Warn("dropping slow websocket session", "room", room)
			h.removeLocked(s)
		}
	}
	return nil
}

// RoomSize reports how many sessions are joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close disconnects every session. Later broadcasts fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, sessions := range h.rooms {
		for s := range sessions {
			h.removeLocked(s)
		}
	}
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	sessions, ok := h.rooms[s.room]
	if !ok {
		sessions = make(map[*session]struct{})
		h.rooms[s.room] = sessions
	}
	sessions[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *session) {
	sessions, ok := h.rooms[s.room]
	if !ok {
		return
	}
	if _, ok := sessions[s]; !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(h.rooms, s.room)
	}
	s.close()
}

// ServeWS upgrades the request and joins the session to the room named by the
// "room" query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "room", room, "error", err)
		return
	}

	s := &session{
		room: room,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	if !h.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.logger.Info("websocket session joined", "room", room)

	go h.writePump(s)
	h.readPump(s)
}

// readPump drains inbound frames so control messages are processed, and
// unregisters the session when the peer goes away.
func (h *Hub) readPump(s *session) {
	defer func() {
		h.remove(s)
		h.logger.Info("websocket session left", "room", s.room)
	}()

	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}
