package proactive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/signal"
	"github.com/beaconmesh/beacon/internal/tracker"
)

// maxErrorLen bounds the error text persisted to the scan log.
const maxErrorLen = 500

// scanCycleBaseCost is the credit cost of running a scan; each emitted
// signal costs one more.
const scanCycleBaseCost = 1

// scanAndAct runs one complete scan cycle for an agent: budget check,
// opportunity scan, throttling, emission, credit debit. Exactly one scan log
// entry is written no matter how the cycle ends, including panics.
func (e *Engine) scanAndAct(ctx context.Context, settings *core.ProactiveSettings) {
	start := e.now()
	entry := &core.ScanLogEntry{AgentID: settings.AgentID}

	defer func() {
		if r := recover(); r != nil {
			entry.Error = truncateError(fmt.Sprintf("panic: %v", r))
			logging.Error("scan for %s panicked: %v", settings.AgentID, r)
		}
		entry.Duration = e.now().Sub(start)
		if err := e.deps.ScanLog.Append(ctx, entry); err != nil {
			logging.Error("failed to write scan log for %s: %v", settings.AgentID, err)
		}
	}()

	budgetMode, ok := e.checkBudget(ctx, settings, entry)
	if !ok {
		return
	}
	entry.BudgetMode = budgetMode

	actx, err := e.agentContext(ctx, settings)
	if err != nil {
		entry.Error = truncateError("agent context: " + err.Error())
		logging.Error("context build failed for %s: %v", settings.AgentID, err)
		return
	}

	opps := e.deps.Scanner.ScanAll(ctx, actx)
	entry.OpportunitiesFound = len(opps)

	acted, err := e.deps.ScanLog.ActedSourceIDs(ctx, settings.AgentID, start.Add(-tracker.DedupWindow))
	if err != nil {
		logging.Warn("acted source lookup failed for %s, skipping none: %v", settings.AgentID, err)
		acted = map[string]bool{}
	}

	// Acted-upon opportunities are filtered out before the cap so they do
	// not occupy slots that fresh ones should get.
	fresh := opps[:0]
	for _, opp := range opps {
		if !acted[opp.SourceID] {
			fresh = append(fresh, opp)
		}
	}

	considered := MaxOpportunitiesPerScan
	if budgetMode {
		considered = BudgetOpportunityCap
	}
	if len(fresh) > considered {
		fresh = fresh[:considered]
	}

	emitted := 0
	for _, opp := range fresh {
		if e.deps.Tracker.ShouldSkipScanSignal(settings.AgentID, opp) {
			continue
		}

		channelID := core.ChannelID(opp.Metadata[core.MetaChannelID])
		if !e.clearToEmit(ctx, settings, opp.Type, channelID) {
			continue
		}

		e.deps.Emitter.EmitSignal(ctx, settings, signalFromOpportunity(opp))
		e.afterEmit(settings, opp.Type, channelID)
		emitted++
	}
	entry.SignalsEmitted = emitted

	e.debitScanCost(ctx, settings, emitted, entry)
}

// checkBudget verifies the agent can afford a cycle. Returns budgetMode and
// whether the scan should proceed. An absent, inactive, or critically low
// account parks the agent for the standard pause window.
func (e *Engine) checkBudget(ctx context.Context, settings *core.ProactiveSettings, entry *core.ScanLogEntry) (budgetMode, ok bool) {
	balance, err := e.deps.Credits.GetBalance(ctx, settings.AgentID)
	if errors.Is(err, core.ErrAccountNotFound) {
		e.pauseAgent(ctx, settings.AgentID, "no credit account")
		entry.Error = "no credit account"
		return false, false
	}
	if err != nil {
		entry.Error = truncateError("balance check: " + err.Error())
		return false, false
	}

	if balance.Status != core.AccountActive {
		reason := "account " + string(balance.Status)
		e.pauseAgent(ctx, settings.AgentID, reason)
		entry.Error = reason
		return false, false
	}

	switch balance.Zone() {
	case core.BudgetCritical:
		e.pauseAgent(ctx, settings.AgentID, "credits critically low")
		entry.Error = "credits critically low"
		return false, false
	case core.BudgetLow:
		return true, true
	default:
		return false, true
	}
}

// clearToEmit applies the channel-scoped throttles: cooldown, daily cap,
// anti-loop. Non-channel signals always pass.
func (e *Engine) clearToEmit(ctx context.Context, settings *core.ProactiveSettings, kind string, channelID core.ChannelID) bool {
	if !signal.ChannelScoped(kind) || channelID == "" {
		return true
	}

	cooldown := time.Duration(settings.CooldownSeconds) * time.Second
	if cooldown > 0 && !e.deps.Tracker.IsChannelCooldownClear(settings.AgentID, channelID, cooldown) {
		logging.Debug("cooldown active for %s in %s", settings.AgentID, channelID)
		return false
	}
	if !e.deps.Tracker.IsDailyMessageLimitClear(settings.AgentID, channelID, settings.MaxActionsPerDay) {
		logging.Debug("daily cap reached for %s in %s", settings.AgentID, channelID)
		return false
	}
	if !e.deps.Tracker.IsChannelLoopSafe(ctx, channelID) {
		logging.Info("channel %s looks like an agent echo chain; suppressing signal for %s", channelID, settings.AgentID)
		return false
	}
	return true
}

// afterEmit updates throttle state after a channel-scoped emission.
func (e *Engine) afterEmit(settings *core.ProactiveSettings, kind string, channelID core.ChannelID) {
	if !signal.ChannelScoped(kind) || channelID == "" {
		return
	}
	e.deps.Tracker.RecordChannelMessage(settings.AgentID, channelID)
	e.deps.Tracker.IncrementDailyMessageCount(settings.AgentID, channelID)
}

// debitScanCost charges the cycle against the agent's credit account.
// Running dry parks the agent rather than failing the completed scan.
func (e *Engine) debitScanCost(ctx context.Context, settings *core.ProactiveSettings, emitted int, entry *core.ScanLogEntry) {
	cost := int64(scanCycleBaseCost + emitted)
	if settings.MaxCreditsPerCycle > 0 && cost > settings.MaxCreditsPerCycle {
		cost = settings.MaxCreditsPerCycle
	}

	_, err := e.deps.Credits.Debit(ctx, settings.AgentID, cost, "scan cycle")
	if errors.Is(err, core.ErrInsufficient) {
		e.pauseAgent(ctx, settings.AgentID, "credits exhausted")
		return
	}
	if err != nil {
		logging.Error("debit failed for %s: %v", settings.AgentID, err)
	}
}

// signalFromOpportunity converts a scanned opportunity into the common
// delivery shape.
func signalFromOpportunity(opp core.Opportunity) core.ReactiveSignal {
	md := opp.Metadata
	get := func(key string) string {
		if md == nil {
			return ""
		}
		return md[key]
	}
	return core.ReactiveSignal{
		Type:           opp.Type,
		ChannelID:      core.ChannelID(get(core.MetaChannelID)),
		ChannelName:    get(core.MetaChannelName),
		SenderAddress:  get(core.MetaSenderAddress),
		MessagePreview: get(core.MetaPreview),
		ProjectID:      get(core.MetaProjectID),
		CommitID:       get(core.MetaCommitID),
		SourceID:       opp.SourceID,
	}
}

func truncateError(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
