package emitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/secrets"
	"github.com/beaconmesh/beacon/internal/signal"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
	agents []core.AgentID
}

func (b *recordingBroadcaster) Broadcast(agentID core.AgentID, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.agents = append(b.agents, agentID)
	b.events = append(b.events, event)
}

func testSettings(agentID string, callbackURL string) *core.ProactiveSettings {
	return &core.ProactiveSettings{
		AgentID:     core.AgentID(agentID),
		Address:     "0x" + agentID,
		Enabled:     true,
		CallbackURL: callbackURL,
	}
}

func TestEmitSignal_BroadcastsAndPosts(t *testing.T) {
	var (
		mu       sync.Mutex
		received Event
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode callback body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bc := &recordingBroadcaster{}
	e := New(bc, nil)

	e.EmitSignal(context.Background(), testSettings("agent-1", srv.URL), core.ReactiveSignal{
		Type:          signal.KindDMReceived,
		SenderAddress: "0xsender",
	})

	mu.Lock()
	defer mu.Unlock()
	if received.Type != EventSignal {
		t.Errorf("callback event type = %q, want %q", received.Type, EventSignal)
	}
	if received.Data["agentId"] != "agent-1" {
		t.Errorf("callback agentId = %v, want agent-1", received.Data["agentId"])
	}
	if received.Data["signalType"] != signal.KindDMReceived {
		t.Errorf("callback signalType = %v", received.Data["signalType"])
	}
	if auth != "" {
		t.Errorf("no secret configured, but Authorization = %q", auth)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.events) != 1 || bc.agents[0] != core.AgentID("agent-1") {
		t.Fatalf("broadcast not delivered: %+v", bc.agents)
	}
}

func TestEmitSignal_AttachesBearerFromSealedSecret(t *testing.T) {
	salt, err := secrets.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	cipher, err := secrets.NewCipher("master", salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	sealed, err := cipher.Seal([]byte("agent-token"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var (
		mu   sync.Mutex
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(nil, cipher)
	settings := testSettings("agent-2", srv.URL)
	settings.CallbackSecret = []byte(sealed)

	e.EmitSignal(context.Background(), settings, core.ReactiveSignal{Type: signal.KindNewFollower})

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer agent-token" {
		t.Errorf("Authorization = %q, want Bearer agent-token", auth)
	}
}

func TestEmitSignal_UndecryptableSecretSendsWithoutCredential(t *testing.T) {
	salt, err := secrets.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	cipher, err := secrets.NewCipher("master", salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	var (
		mu        sync.Mutex
		delivered bool
		auth      string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered = true
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(nil, cipher)
	settings := testSettings("agent-3", srv.URL)
	settings.CallbackSecret = []byte("garbage-not-sealed")

	e.EmitSignal(context.Background(), settings, core.ReactiveSignal{Type: signal.KindNewFollower})

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		t.Fatal("signal must still be delivered when the secret cannot be opened")
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestEmitSignal_CallbackFailureDoesNotPanicOrBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(nil, nil)
	e.EmitSignal(context.Background(), testSettings("agent-4", srv.URL), core.ReactiveSignal{Type: signal.KindBounty})

	// Unroutable endpoint: delivery error is swallowed.
	e.EmitSignal(context.Background(), testSettings("agent-5", "http://127.0.0.1:1/callback"), core.ReactiveSignal{Type: signal.KindBounty})
}

func TestEmitSignal_NoCallbackURLSkipsPost(t *testing.T) {
	bc := &recordingBroadcaster{}
	e := New(bc, nil)

	e.EmitSignal(context.Background(), testSettings("agent-6", ""), core.ReactiveSignal{Type: signal.KindTimeToPost})

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.events) != 1 {
		t.Fatalf("broadcast expected even without a callback URL, got %d events", len(bc.events))
	}
}

func TestCallbackToken_CachedUntilSealedValueChanges(t *testing.T) {
	salt, err := secrets.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	cipher, err := secrets.NewCipher("master", salt)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	first, err := cipher.Seal([]byte("token-one"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	second, err := cipher.Seal([]byte("token-two"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	e := New(nil, cipher)
	settings := testSettings("agent-7", "")
	settings.CallbackSecret = []byte(first)

	if got := e.callbackToken(settings); got != "token-one" {
		t.Fatalf("token = %q, want token-one", got)
	}

	// Same sealed value hits the cache.
	if got := e.callbackToken(settings); got != "token-one" {
		t.Fatalf("cached token = %q, want token-one", got)
	}

	// A rotated secret must be re-opened, not served stale.
	settings.CallbackSecret = []byte(second)
	if got := e.callbackToken(settings); got != "token-two" {
		t.Fatalf("rotated token = %q, want token-two", got)
	}
}
