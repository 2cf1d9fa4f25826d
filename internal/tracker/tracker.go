// Package tracker holds the in-process dedup and throttling state for the
// proactive scheduler: cross-path signal dedup, channel cooldowns, daily
// message caps, anti-loop detection, and the reactive rate limit.
//
// All state is per-process and in-memory. Restarting the daemon clears it,
// which is acceptable: every mechanism here is best-effort anti-spam, not
// correctness-critical bookkeeping.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/signal"
)

// DedupWindow is how long a signaled event suppresses its twin on the other
// path. Entries older than this are pruned lazily on access.
const DedupWindow = 24 * time.Hour

// ReactiveRateWindow and ReactiveRateLimit bound how many reactive signals a
// single agent may process per sliding window.
const (
	ReactiveRateWindow = time.Hour
	ReactiveRateLimit  = 10
)

// DefaultLoopDepth is how many recent channel messages anti-loop detection
// inspects.
const DefaultLoopDepth = 4

// ChannelMessage is the slice of channel history anti-loop detection needs.
type ChannelMessage struct {
	SenderAddress   string
	ProactiveOrigin bool // message was sent by an automated proactive response
	SentAt          time.Time
}

// HistoryReader supplies recent channel history, newest first.
type HistoryReader interface {
	RecentMessages(ctx context.Context, channelID core.ChannelID, limit int) ([]ChannelMessage, error)
}

// Tracker is safe for concurrent use. A single coarse lock guards all maps;
// contention is low because every operation is a short map touch.
type Tracker struct {
	mu sync.Mutex

	// agentID -> dedup key -> when the event was signaled
	seen map[core.AgentID]map[string]time.Time

	// agentID -> channelID -> last automated send
	channelLast map[core.AgentID]map[core.ChannelID]time.Time

	// agentID -> channelID -> sends today; countsDay is the UTC date the
	// counters belong to, reset lazily when the calendar day changes
	dailyCounts map[core.AgentID]map[core.ChannelID]int
	countsDay   string

	// agentID -> reactive signal timestamps inside the sliding window
	reactiveLog map[core.AgentID][]time.Time

	history   HistoryReader
	loopDepth int

	now func() time.Time
}

// New creates a tracker. history may be nil, in which case anti-loop
// detection always allows (fail open).
func New(history HistoryReader) *Tracker {
	return &Tracker{
		seen:        make(map[core.AgentID]map[string]time.Time),
		channelLast: make(map[core.AgentID]map[core.ChannelID]time.Time),
		dailyCounts: make(map[core.AgentID]map[core.ChannelID]int),
		reactiveLog: make(map[core.AgentID][]time.Time),
		history:     history,
		loopDepth:   DefaultLoopDepth,
		now:         time.Now,
	}
}

// -----------------------------------------------------------------------------
// Cross-path dedup
// -----------------------------------------------------------------------------

// RecordReactiveSignal marks a reactive signal as processed so a later scan
// of the same event is suppressed. Unregistered kinds cannot be recorded.
func (t *Tracker) RecordReactiveSignal(agentID core.AgentID, sig core.ReactiveSignal) {
	now := t.now()
	key, ok := signal.DedupKey(sig.Type, signal.ReactiveFields(agentID, sig, now))
	if !ok {
		logging.Warn("no dedup key derivation for signal kind %q; cross-path dedup disabled for it", sig.Type)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.seen[agentID]
	if m == nil {
		m = make(map[string]time.Time)
		t.seen[agentID] = m
	}
	m[key] = now
}

// ShouldSkipScanSignal reports whether a scanned opportunity was already
// covered by a reactive signal within the dedup window.
func (t *Tracker) ShouldSkipScanSignal(agentID core.AgentID, opp core.Opportunity) bool {
	now := t.now()
	key, ok := signal.DedupKey(opp.Type, signal.OpportunityFields(agentID, opp, now))
	if !ok {
		return false
	}
	return t.seenWithinWindow(agentID, key, now)
}

// ShouldSkipReactiveSignal reports whether an equivalent signal was already
// processed within the dedup window. Repeat pushes of the same event (two
// DMs from one sender, say) collapse to a single signal.
func (t *Tracker) ShouldSkipReactiveSignal(agentID core.AgentID, sig core.ReactiveSignal) bool {
	now := t.now()
	key, ok := signal.DedupKey(sig.Type, signal.ReactiveFields(agentID, sig, now))
	if !ok {
		return false
	}
	return t.seenWithinWindow(agentID, key, now)
}

func (t *Tracker) seenWithinWindow(agentID core.AgentID, key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.seen[agentID]
	if m == nil {
		return false
	}
	t.pruneSeenLocked(m, now)
	_, hit := m[key]
	return hit
}

// pruneSeenLocked drops entries older than the dedup window.
func (t *Tracker) pruneSeenLocked(m map[string]time.Time, now time.Time) {
	for k, ts := range m {
		if now.Sub(ts) > DedupWindow {
			delete(m, k)
		}
	}
}

// -----------------------------------------------------------------------------
// Channel cooldown
// -----------------------------------------------------------------------------

// IsChannelCooldownClear reports whether enough time has passed since the
// last automated send in the channel.
func (t *Tracker) IsChannelCooldownClear(agentID core.AgentID, channelID core.ChannelID, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.channelLast[agentID][channelID]
	if !ok {
		return true
	}
	return t.now().Sub(last) > cooldown
}

// RecordChannelMessage updates the cooldown timestamp after a send.
func (t *Tracker) RecordChannelMessage(agentID core.AgentID, channelID core.ChannelID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.channelLast[agentID]
	if m == nil {
		m = make(map[core.ChannelID]time.Time)
		t.channelLast[agentID] = m
	}
	m[channelID] = t.now()
}

// -----------------------------------------------------------------------------
// Daily message cap
// -----------------------------------------------------------------------------

// IsDailyMessageLimitClear reports whether the agent is under its daily cap
// for the channel. maxPerDay <= 0 means no cap.
func (t *Tracker) IsDailyMessageLimitClear(agentID core.AgentID, channelID core.ChannelID, maxPerDay int) bool {
	if maxPerDay <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	return t.dailyCounts[agentID][channelID] < maxPerDay
}

// IncrementDailyMessageCount bumps the per-channel counter after a send.
func (t *Tracker) IncrementDailyMessageCount(agentID core.AgentID, channelID core.ChannelID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	m := t.dailyCounts[agentID]
	if m == nil {
		m = make(map[core.ChannelID]int)
		t.dailyCounts[agentID] = m
	}
	m[channelID]++
}

// rolloverLocked resets all daily counters when the UTC calendar day changes.
func (t *Tracker) rolloverLocked() {
	day := t.now().UTC().Format("2006-01-02")
	if day != t.countsDay {
		t.dailyCounts = make(map[core.AgentID]map[core.ChannelID]int)
		t.countsDay = day
	}
}

// -----------------------------------------------------------------------------
// Anti-loop detection
// -----------------------------------------------------------------------------

// IsChannelLoopSafe inspects the most recent messages in the channel. If
// every one of them carries the proactive-origin marker, the channel is an
// agent-only echo chain and automated responses are suppressed. Fails open:
// missing history or a read error allows the send.
func (t *Tracker) IsChannelLoopSafe(ctx context.Context, channelID core.ChannelID) bool {
	if t.history == nil {
		return true
	}

	msgs, err := t.history.RecentMessages(ctx, channelID, t.loopDepth)
	if err != nil {
		logging.Warn("anti-loop history read failed for channel %s: %v", channelID, err)
		return true
	}
	if len(msgs) < t.loopDepth {
		return true
	}

	for _, m := range msgs {
		if !m.ProactiveOrigin {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Reactive rate limit
// -----------------------------------------------------------------------------

// AllowReactive records one reactive signal against the agent's sliding
// window and reports whether it is within the limit. When the limit is hit
// the signal is not recorded, so the caller's no-op leaves no trace.
func (t *Tracker) AllowReactive(agentID core.AgentID) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.reactiveLog[agentID]
	kept := log[:0]
	for _, ts := range log {
		if now.Sub(ts) < ReactiveRateWindow {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= ReactiveRateLimit {
		t.reactiveLog[agentID] = kept
		return false
	}

	t.reactiveLog[agentID] = append(kept, now)
	return true
}
