package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/signal"
)

// fakeClock lets tests drive the tracker's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(history HistoryReader) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	tr := New(history)
	tr.now = clock.now
	return tr, clock
}

func TestCrossPathSuppression(t *testing.T) {
	tr, clock := newTestTracker(nil)
	agentID := core.AgentID("agent-1")

	tr.RecordReactiveSignal(agentID, core.ReactiveSignal{
		Type:          signal.KindDMReceived,
		SenderAddress: "0xAAA",
	})

	opp := core.Opportunity{
		Type:     signal.KindDMReceived,
		SourceID: "dm-123",
		Metadata: map[string]string{core.MetaSenderAddress: "0xaaa"},
	}

	if !tr.ShouldSkipScanSignal(agentID, opp) {
		t.Error("scan opportunity should be suppressed inside the dedup window")
	}

	// Different agent is independent.
	if tr.ShouldSkipScanSignal("agent-2", opp) {
		t.Error("dedup state must be per-agent")
	}

	// Window expiry: entry is pruned lazily after 24h.
	clock.advance(DedupWindow + time.Minute)
	if tr.ShouldSkipScanSignal(agentID, opp) {
		t.Error("suppression should expire after the dedup window")
	}
}

func TestCrossPathSuppression_UnregisteredKind(t *testing.T) {
	tr, _ := newTestTracker(nil)

	tr.RecordReactiveSignal("a", core.ReactiveSignal{Type: "mystery_kind"})
	opp := core.Opportunity{Type: "mystery_kind", SourceID: "x"}
	if tr.ShouldSkipScanSignal("a", opp) {
		t.Error("unregistered kinds cannot be suppressed")
	}
}

func TestChannelCooldown(t *testing.T) {
	tr, clock := newTestTracker(nil)
	agentID := core.AgentID("agent-1")
	channelID := core.ChannelID("chan-1")
	cooldown := 120 * time.Second

	if !tr.IsChannelCooldownClear(agentID, channelID, cooldown) {
		t.Error("cooldown should be clear before any send")
	}

	tr.RecordChannelMessage(agentID, channelID)

	clock.advance(60 * time.Second)
	if tr.IsChannelCooldownClear(agentID, channelID, cooldown) {
		t.Error("cooldown should still be active at t0+60s")
	}

	clock.advance(61 * time.Second) // now t0+121s
	if !tr.IsChannelCooldownClear(agentID, channelID, cooldown) {
		t.Error("cooldown should be clear at t0+121s")
	}
}

func TestDailyCapReset(t *testing.T) {
	tr, clock := newTestTracker(nil)
	agentID := core.AgentID("agent-1")
	channelID := core.ChannelID("chan-1")
	maxPerDay := 3

	for i := 0; i < maxPerDay; i++ {
		if !tr.IsDailyMessageLimitClear(agentID, channelID, maxPerDay) {
			t.Fatalf("limit hit early at send %d", i)
		}
		tr.IncrementDailyMessageCount(agentID, channelID)
	}

	if tr.IsDailyMessageLimitClear(agentID, channelID, maxPerDay) {
		t.Error("limit should be reached at the cap")
	}

	// Roll past UTC midnight: counters reset lazily.
	clock.advance(15 * time.Hour)
	if !tr.IsDailyMessageLimitClear(agentID, channelID, maxPerDay) {
		t.Error("counters should reset after UTC day rollover")
	}
}

func TestDailyCap_Unlimited(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.IncrementDailyMessageCount("a", "c")
	if !tr.IsDailyMessageLimitClear("a", "c", 0) {
		t.Error("cap of zero means unlimited")
	}
}

// stubHistory serves canned channel history.
type stubHistory struct {
	msgs []ChannelMessage
	err  error
}

func (s *stubHistory) RecentMessages(ctx context.Context, channelID core.ChannelID, limit int) ([]ChannelMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.msgs) > limit {
		return s.msgs[:limit], nil
	}
	return s.msgs, nil
}

func TestAntiLoopDetection(t *testing.T) {
	allProactive := make([]ChannelMessage, DefaultLoopDepth)
	for i := range allProactive {
		allProactive[i] = ChannelMessage{SenderAddress: "0xbot", ProactiveOrigin: true}
	}

	t.Run("all proactive suppresses", func(t *testing.T) {
		tr, _ := newTestTracker(&stubHistory{msgs: allProactive})
		if tr.IsChannelLoopSafe(context.Background(), "chan-1") {
			t.Error("agent-only history should be flagged as a loop")
		}
	})

	t.Run("one human message allows", func(t *testing.T) {
		mixed := append([]ChannelMessage{}, allProactive...)
		mixed[2] = ChannelMessage{SenderAddress: "0xhuman", ProactiveOrigin: false}
		tr, _ := newTestTracker(&stubHistory{msgs: mixed})
		if !tr.IsChannelLoopSafe(context.Background(), "chan-1") {
			t.Error("a non-proactive message breaks the loop")
		}
	})

	t.Run("short history allows", func(t *testing.T) {
		tr, _ := newTestTracker(&stubHistory{msgs: allProactive[:2]})
		if !tr.IsChannelLoopSafe(context.Background(), "chan-1") {
			t.Error("fewer messages than the inspection depth should allow")
		}
	})

	t.Run("read error fails open", func(t *testing.T) {
		tr, _ := newTestTracker(&stubHistory{err: errors.New("db down")})
		if !tr.IsChannelLoopSafe(context.Background(), "chan-1") {
			t.Error("history read errors must fail open")
		}
	})

	t.Run("nil reader fails open", func(t *testing.T) {
		tr, _ := newTestTracker(nil)
		if !tr.IsChannelLoopSafe(context.Background(), "chan-1") {
			t.Error("missing history reader must fail open")
		}
	})
}

func TestReactiveRateLimit(t *testing.T) {
	tr, clock := newTestTracker(nil)
	agentID := core.AgentID("agent-1")

	for i := 0; i < ReactiveRateLimit; i++ {
		if !tr.AllowReactive(agentID) {
			t.Fatalf("signal %d should be within the limit", i+1)
		}
	}

	if tr.AllowReactive(agentID) {
		t.Error("signal over the limit should be rejected")
	}

	// Another agent has its own window.
	if !tr.AllowReactive("agent-2") {
		t.Error("rate limit must be per-agent")
	}

	// Window slides: after an hour the original agent is clear again.
	clock.advance(ReactiveRateWindow + time.Minute)
	if !tr.AllowReactive(agentID) {
		t.Error("window should slide past old entries")
	}
}
