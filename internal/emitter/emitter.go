// Package emitter delivers signals to agents. Every signal goes out on two
// paths: a fire-and-forget broadcast to connected websocket sessions, and an
// optional HTTP callback to the agent's registered runtime endpoint.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/secrets"
)

// CallbackTimeout bounds a single callback delivery. A slow agent endpoint
// must not stall the scan cycle that emitted the signal.
const CallbackTimeout = 10 * time.Second

// EventSignal is the event type for both scan and reactive signals.
const EventSignal = "proactive_signal"

// Event is the wire format for delivered signals.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Broadcaster pushes an event to an agent's live connections, if any.
// Implementations must not block.
type Broadcaster interface {
	Broadcast(agentID core.AgentID, event Event)
}

// Emitter delivers signals. Construct once and share; it is safe for
// concurrent use.
type Emitter struct {
	broadcaster Broadcaster
	cipher      *secrets.Cipher
	client      *http.Client

	mu     sync.Mutex
	tokens map[core.AgentID]cachedToken
}

// cachedToken memoizes an opened callback credential per agent. The sealed
// form is kept alongside so a settings update invalidates the cache.
type cachedToken struct {
	sealed string
	token  string
}

// New creates an emitter. broadcaster may be nil (no live sessions);
// cipher may be nil (callback credentials never attached).
func New(broadcaster Broadcaster, cipher *secrets.Cipher) *Emitter {
	return &Emitter{
		broadcaster: broadcaster,
		cipher:      cipher,
		client:      &http.Client{Timeout: CallbackTimeout},
		tokens:      make(map[core.AgentID]cachedToken),
	}
}

// EmitSignal delivers a signal to the agent identified by settings. Delivery
// failures are logged, never returned: a dead callback endpoint must not make
// the scheduler treat the scan as failed.
func (e *Emitter) EmitSignal(ctx context.Context, settings *core.ProactiveSettings, sig core.ReactiveSignal) {
	event := Event{
		Type:      EventSignal,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      signalData(settings.AgentID, sig),
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(settings.AgentID, event)
	}

	if settings.CallbackURL != "" {
		e.postCallback(ctx, settings, event)
	}
}

func signalData(agentID core.AgentID, sig core.ReactiveSignal) map[string]interface{} {
	data := map[string]interface{}{
		"agentId":    string(agentID),
		"signalType": sig.Type,
	}
	if sig.ChannelID != "" {
		data["channelId"] = string(sig.ChannelID)
	}
	if sig.ChannelName != "" {
		data["channelName"] = sig.ChannelName
	}
	if sig.SenderAddress != "" {
		data["senderAddress"] = sig.SenderAddress
	}
	if sig.MessagePreview != "" {
		data["messagePreview"] = sig.MessagePreview
	}
	if sig.ProjectID != "" {
		data["projectId"] = sig.ProjectID
	}
	if sig.CommitID != "" {
		data["commitId"] = sig.CommitID
	}
	if sig.SourceID != "" {
		data["sourceId"] = sig.SourceID
	}
	return data
}

func (e *Emitter) postCallback(ctx context.Context, settings *core.ProactiveSettings, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		logging.Error("failed to marshal callback event for %s: %v", settings.AgentID, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", settings.CallbackURL, bytes.NewReader(body))
	if err != nil {
		logging.Error("failed to build callback request for %s: %v", settings.AgentID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if token := e.callbackToken(settings); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		logging.Warn("callback delivery to %s failed: %v", settings.AgentID, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn("callback for %s returned %d", settings.AgentID, resp.StatusCode)
	}
}

// callbackToken opens the agent's sealed callback credential, memoizing the
// result until the sealed value changes. Decryption failure degrades to an
// unauthenticated callback rather than dropping the signal.
func (e *Emitter) callbackToken(settings *core.ProactiveSettings) string {
	sealed := string(settings.CallbackSecret)
	if sealed == "" {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.tokens[settings.AgentID]; ok && cached.sealed == sealed {
		return cached.token
	}

	token := ""
	if e.cipher == nil {
		logging.Warn("callback secret set for %s but no cipher configured; sending without credential", settings.AgentID)
	} else if plaintext, err := e.cipher.Open(sealed); err != nil {
		logging.Warn("failed to open callback secret for %s: %v; sending without credential", settings.AgentID, err)
	} else {
		token = string(plaintext)
	}

	e.tokens[settings.AgentID] = cachedToken{sealed: sealed, token: token}
	return token
}

// Invalidate drops the cached credential for an agent. Call on settings
// updates that change the callback secret.
func (e *Emitter) Invalidate(agentID core.AgentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tokens, agentID)
}

// SealSecret encrypts a plaintext callback credential for storage.
func (e *Emitter) SealSecret(plaintext string) ([]byte, error) {
	if e.cipher == nil {
		return nil, fmt.Errorf("no cipher configured: %w", core.ErrLocked)
	}
	sealed, err := e.cipher.Seal([]byte(plaintext))
	if err != nil {
		return nil, err
	}
	return []byte(sealed), nil
}
