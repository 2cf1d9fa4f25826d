// Package hub manages live websocket sessions for agents that keep a
// connection open instead of (or alongside) a registered callback URL.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/emitter"
	"github.com/beaconmesh/beacon/internal/logging"
)

const writeTimeout = 10 * time.Second

// session is one live websocket connection for an agent.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (s *session) writeEvent(event emitter.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(event)
}

// Hub tracks live sessions per agent and fans events out to them.
// Implements the emitter's broadcaster.
type Hub struct {
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[core.AgentID][]*session
	closed   bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		sessions: make(map[core.AgentID][]*session),
	}
}

// HandleWS upgrades an HTTP request to a websocket session. The agent
// identifies itself with the agentId query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	agentID := core.AgentID(r.URL.Query().Get("agentId"))
	if agentID == "" {
		http.Error(w, "agentId query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		return
	}

	s := &session{conn: conn}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.sessions[agentID] = append(h.sessions[agentID], s)
	count := len(h.sessions[agentID])
	h.mu.Unlock()

	logging.Debug("agent %s connected (%d sessions)", agentID, count)
	go h.readLoop(agentID, s)
}

// readLoop drains inbound frames so pings and close frames are processed.
// Agents receive on this socket; they don't send.
func (h *Hub) readLoop(agentID core.AgentID, s *session) {
	defer h.remove(agentID, s)
	defer s.conn.Close()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(agentID core.AgentID, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.sessions[agentID]
	for i, existing := range list {
		if existing == s {
			h.sessions[agentID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.sessions[agentID]) == 0 {
		delete(h.sessions, agentID)
	}
	logging.Debug("agent %s disconnected", agentID)
}

// Broadcast delivers an event to every live session of the agent.
// Fire-and-forget: dead sessions are dropped, never retried.
func (h *Hub) Broadcast(agentID core.AgentID, event emitter.Event) {
	h.mu.RLock()
	list := make([]*session, len(h.sessions[agentID]))
	copy(list, h.sessions[agentID])
	h.mu.RUnlock()

	for _, s := range list {
		if err := s.writeEvent(event); err != nil {
			logging.Warn("websocket write to %s failed: %v", agentID, err)
			s.conn.Close()
		}
	}
}

// SessionCount returns the number of live sessions for an agent.
func (h *Hub) SessionCount(agentID core.AgentID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[agentID])
}

// Close tears down every session and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*session
	for _, list := range h.sessions {
		all = append(all, list...)
	}
	h.sessions = make(map[core.AgentID][]*session)
	h.mu.Unlock()

	for _, s := range all {
		s.conn.Close()
	}
}
