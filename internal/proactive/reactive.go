package proactive

import (
	"context"
	"fmt"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
)

// HandleReactiveSignal processes an event pushed by a sibling subsystem,
// bypassing the scan interval. The signal flows through the same dedup and
// throttle state as scanned opportunities, so the two paths never double-fire
// on one event.
//
// Dropped signals are not errors: rate limiting, dedup, and throttles return
// nil. Errors are reserved for signals the caller should not have sent at
// all (unknown agent, disabled, paused).
func (e *Engine) HandleReactiveSignal(ctx context.Context, agentID core.AgentID, sig core.ReactiveSignal) error {
	if !e.IsActive() {
		logging.Debug("engine stopped; dropping reactive %s for %s", sig.Type, agentID)
		return nil
	}

	halted, err := e.deps.Flags.EmergencyHalt(ctx)
	if err != nil {
		logging.Warn("emergency halt check failed, proceeding: %v", err)
		halted = false
	}
	if halted {
		return nil
	}

	// Rate limit before any other work: a misbehaving producer must not be
	// able to buy database reads with rejected signals.
	if !e.deps.Tracker.AllowReactive(agentID) {
		logging.Warn("reactive rate limit hit for %s; dropping %s", agentID, sig.Type)
		return nil
	}

	settings, err := e.deps.Settings.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrAgentDisabled)
	}
	if settings.Paused(e.now()) {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrAgentPaused)
	}

	if e.deps.Tracker.ShouldSkipReactiveSignal(agentID, sig) {
		logging.Debug("duplicate reactive %s for %s within dedup window", sig.Type, agentID)
		return nil
	}
	if !e.clearToEmit(ctx, settings, sig.Type, sig.ChannelID) {
		return nil
	}

	e.deps.Emitter.EmitSignal(ctx, settings, sig)

	e.deps.Tracker.RecordReactiveSignal(agentID, sig)
	e.afterEmit(settings, sig.Type, sig.ChannelID)

	logging.Debug("reactive %s delivered to %s", sig.Type, agentID)
	return nil
}
