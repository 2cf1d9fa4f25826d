package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/emitter"
)

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}

func dial(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?agentId=" + agentID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSessions(t *testing.T, h *Hub, agentID core.AgentID, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.SessionCount(agentID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session count for %s never reached %d (got %d)", agentID, want, h.SessionCount(agentID))
}

func TestBroadcast_DeliversToConnectedAgent(t *testing.T) {
	h := New()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "agent-1")
	waitForSessions(t, h, "agent-1", 1)

	h.Broadcast("agent-1", emitter.Event{
		Type:      emitter.EventSignal,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      map[string]interface{}{"signalType": "dm_received"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got emitter.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != emitter.EventSignal {
		t.Errorf("event type = %q, want %q", got.Type, emitter.EventSignal)
	}
	if got.Data["signalType"] != "dm_received" {
		t.Errorf("signalType = %v", got.Data["signalType"])
	}
}

func TestBroadcast_OnlyTargetAgentReceives(t *testing.T) {
	h := New()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()
	defer h.Close()

	target := dial(t, srv, "agent-a")
	other := dial(t, srv, "agent-b")
	waitForSessions(t, h, "agent-a", 1)
	waitForSessions(t, h, "agent-b", 1)

	h.Broadcast("agent-a", emitter.Event{Type: emitter.EventSignal})

	target.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got emitter.Event
	if err := target.ReadJSON(&got); err != nil {
		t.Fatalf("target read: %v", err)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("non-target agent received a broadcast")
	}
}

func TestBroadcast_NoSessionsIsNoOp(t *testing.T) {
	h := New()
	defer h.Close()

	// Must not panic or block.
	h.Broadcast("nobody", emitter.Event{Type: emitter.EventSignal})
}

func TestHandleWS_RequiresAgentID(t *testing.T) {
	h := New()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()
	defer h.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without agentId should fail")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("expected 400 response, got %+v", resp)
	}
}

func TestDisconnect_RemovesSession(t *testing.T) {
	h := New()
	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "agent-1")
	waitForSessions(t, h, "agent-1", 1)

	conn.Close()
	waitForSessions(t, h, "agent-1", 0)
}
