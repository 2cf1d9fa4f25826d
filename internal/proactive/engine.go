// Package proactive implements the autonomous control loop: a scheduler that
// periodically scans for opportunities on behalf of enabled agents, plus a
// reactive fast path for events pushed by sibling subsystems. Both paths
// converge on the same dedup state and the same signal delivery.
package proactive

import (
	"context"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/emitter"
	"github.com/beaconmesh/beacon/internal/ledger"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/scanner"
	"github.com/beaconmesh/beacon/internal/storage"
	"github.com/beaconmesh/beacon/internal/tracker"
)

const (
	// DefaultTickInterval is how often the scheduler looks for due agents.
	DefaultTickInterval = time.Minute

	// DefaultMaxConcurrentScans bounds how many agents scan in one batch.
	DefaultMaxConcurrentScans = 5

	// MaxOpportunitiesPerScan caps how many ranked opportunities one cycle
	// considers; BudgetOpportunityCap applies instead in budget mode.
	MaxOpportunitiesPerScan = 20
	BudgetOpportunityCap    = 10

	// BudgetPauseDuration is how long an agent is parked when its credits
	// run out or its account is not active.
	BudgetPauseDuration = time.Hour

	// selfImproveEvery is the cycle cadence of the self-review pass.
	selfImproveEvery = 10

	// failStreak is how many consecutive failed scans park an agent.
	failStreak = 3

	// scanLogRetention is how long scan history and acted-source records
	// are kept before the self-review pass prunes them.
	scanLogRetention = 30 * 24 * time.Hour
)

// ContextProvider supplies the purpose and autonomy profile for an agent.
// When nil, scans run with an empty purpose (every opportunity is relevant).
// A configured provider that fails aborts the scan.
type ContextProvider interface {
	AgentContext(ctx context.Context, settings *core.ProactiveSettings) (core.AgentContext, error)
}

// Config tunes the engine.
type Config struct {
	TickInterval       time.Duration
	MaxConcurrentScans int
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		TickInterval:       DefaultTickInterval,
		MaxConcurrentScans: DefaultMaxConcurrentScans,
	}
}

// Deps are the engine's collaborators, wired once at startup.
type Deps struct {
	Settings *storage.SettingsStore
	ScanLog  *storage.ScanLogStore
	Flags    *storage.FlagStore
	Credits  *ledger.Store
	Scanner  *scanner.Scanner
	Tracker  *tracker.Tracker
	Emitter  *emitter.Emitter
	Contexts ContextProvider // optional
}

// Engine runs the control loop.
type Engine struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	active bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cycles int64

	now func() time.Time
}

// NewEngine creates an engine. Call Start to begin scheduling.
func NewEngine(cfg Config, deps Deps) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxConcurrentScans <= 0 {
		cfg.MaxConcurrentScans = DefaultMaxConcurrentScans
	}
	return &Engine{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
}

// Start launches the scheduling loop. Returns ErrAlreadyRunning when the
// engine is already active.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active {
		return core.ErrAlreadyRunning
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.active = true

	e.wg.Add(1)
	go e.run()

	logging.Info("proactive engine started (tick %s, max %d concurrent scans)",
		e.cfg.TickInterval, e.cfg.MaxConcurrentScans)
	return nil
}

// Stop halts scheduling and drains in-flight scans before returning. New
// cycles and reactive signals are refused immediately; running scans finish
// and write their scan log entries.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()
	logging.Info("proactive engine stopped")
}

// IsActive reports whether the engine is scheduling.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// run is the tick loop. One cycle executes per tick; a cycle that outlasts
// its tick simply absorbs the next one, so cycles never overlap.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	// Cycles run on a background context: Stop drains in-flight scans, and
	// a cancelled context would break their final log writes mid-drain.
	e.runCycle(context.Background())
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(context.Background())
		}
	}
}

// runCycle selects due agents and scans them concurrently, returning when
// the whole batch has completed.
func (e *Engine) runCycle(ctx context.Context) {
	halted, err := e.deps.Flags.EmergencyHalt(ctx)
	if err != nil {
		// Fail open: a broken flag store must not silently stop every agent.
		logging.Warn("emergency halt check failed, proceeding: %v", err)
		halted = false
	}
	if halted {
		logging.Info("emergency halt engaged; skipping cycle")
		return
	}

	now := e.now()
	due, err := e.deps.Settings.DueAgents(ctx, now, e.cfg.MaxConcurrentScans)
	if err != nil {
		logging.Error("due agent query failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	logging.Debug("scanning %d due agents", len(due))

	var batch sync.WaitGroup
	for _, settings := range due {
		// Claim the slot before the scan starts so a long scan doesn't get
		// re-picked by the next cycle.
		if err := e.deps.Settings.SetLastScanAt(ctx, settings.AgentID, now); err != nil {
			logging.Error("failed to claim scan slot for %s: %v", settings.AgentID, err)
			continue
		}

		batch.Add(1)
		e.wg.Add(1)
		go func(s *core.ProactiveSettings) {
			defer batch.Done()
			defer e.wg.Done()
			e.scanAndAct(ctx, s)
		}(settings)
	}
	batch.Wait()

	e.mu.Lock()
	e.cycles++
	cycles := e.cycles
	e.mu.Unlock()

	if cycles%selfImproveEvery == 0 {
		e.selfReviewCycle(ctx)
	}
}

// selfReviewCycle is the low-frequency housekeeping pass: it prunes expired
// scan history and parks agents whose scans keep failing, so a wedged
// integration doesn't burn credits every interval until an operator notices.
func (e *Engine) selfReviewCycle(ctx context.Context) {
	if err := e.deps.ScanLog.Prune(ctx, e.now().Add(-scanLogRetention)); err != nil {
		logging.Warn("scan log prune failed: %v", err)
	}

	enabled, err := e.deps.Settings.ListEnabled(ctx)
	if err != nil {
		logging.Warn("self review skipped: %v", err)
		return
	}

	for _, settings := range enabled {
		recent, err := e.deps.ScanLog.Recent(ctx, settings.AgentID, failStreak)
		if err != nil || len(recent) < failStreak {
			continue
		}
		allFailed := true
		for _, entry := range recent {
			if entry.Error == "" {
				allFailed = false
				break
			}
		}
		if allFailed {
			e.pauseAgent(ctx, settings.AgentID, "repeated scan failures")
		}
	}
}

// pauseAgent parks an agent for the standard pause window.
func (e *Engine) pauseAgent(ctx context.Context, agentID core.AgentID, reason string) {
	until := e.now().Add(BudgetPauseDuration)
	if err := e.deps.Settings.Pause(ctx, agentID, until, reason); err != nil {
		logging.Error("failed to pause %s: %v", agentID, err)
		return
	}
	logging.Info("paused %s until %s: %s", agentID, until.Format(time.RFC3339), reason)
}

// agentContext builds the scan context for an agent.
func (e *Engine) agentContext(ctx context.Context, settings *core.ProactiveSettings) (core.AgentContext, error) {
	if e.deps.Contexts != nil {
		return e.deps.Contexts.AgentContext(ctx, settings)
	}
	return core.AgentContext{
		AgentID: settings.AgentID,
		Address: settings.Address,
	}, nil
}
