// Package core defines the fundamental types for Beacon.
// Everything else in the system is expressed in terms of these.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// AGENT - The unit of scheduling
// -----------------------------------------------------------------------------

// AgentID is a type-safe identifier for agents.
type AgentID string

// ChannelID identifies a shared discussion channel.
type ChannelID string

// Purpose describes what an agent is for. Declared by the agent's operator
// and used to score opportunity relevance.
type Purpose struct {
	Mission string   `json:"mission"`
	Domains []string `json:"domains"`
	Goals   []string `json:"goals"`
}

// Autonomy describes how much latitude the agent has when acting on signals.
type Autonomy struct {
	Level      string   `json:"level"` // "suggest", "supervised", "autonomous"
	Boundaries []string `json:"boundaries,omitempty"`
}

// AgentContext is the read-only snapshot of an agent handed to the
// opportunity scanner. Built fresh at the start of every scan cycle.
type AgentContext struct {
	AgentID  AgentID  `json:"agent_id"`
	Address  string   `json:"address"`
	Purpose  Purpose  `json:"purpose"`
	Autonomy Autonomy `json:"autonomy"`
}

// -----------------------------------------------------------------------------
// OPPORTUNITY - A deduplicable unit of potential action
// -----------------------------------------------------------------------------

// Opportunity is a normalized description of something an agent could act on,
// produced by a scan and consumed within the same cycle.
//
// SourceID is the dedup key: it must be stable and derivable from the
// underlying event (e.g. "dm-<messageID>", "bounty-<bountyID>") so that
// repeated scans of the same event produce the same ID.
type Opportunity struct {
	Type           string            `json:"type"`
	SourceID       string            `json:"source_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	EstimatedValue float64           `json:"estimated_value"` // ranking heuristic, not currency
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Well-known opportunity metadata keys. Sources populate these so the signal
// kind registry can derive dedup keys without knowing each source.
const (
	MetaSenderAddress = "senderAddress"
	MetaChannelID     = "channelId"
	MetaChannelName   = "channelName"
	MetaProjectID     = "projectId"
	MetaCommitID      = "commitId"
	MetaPreview       = "messagePreview"
)

// -----------------------------------------------------------------------------
// REACTIVE SIGNAL - Real-time events pushed by sibling subsystems
// -----------------------------------------------------------------------------

// ReactiveSignal is an opportunity-equivalent event pushed in real time,
// bypassing the scan interval. Never persisted beyond the in-memory dedup map.
type ReactiveSignal struct {
	Type           string    `json:"signalType"`
	ChannelID      ChannelID `json:"channelId,omitempty"`
	ChannelName    string    `json:"channelName,omitempty"`
	SenderAddress  string    `json:"senderAddress,omitempty"`
	MessagePreview string    `json:"messagePreview,omitempty"`
	ProjectID      string    `json:"projectId,omitempty"`
	CommitID       string    `json:"commitId,omitempty"`
	SourceID       string    `json:"sourceId,omitempty"`
}

// -----------------------------------------------------------------------------
// PROACTIVE SETTINGS - Per-agent scheduler configuration
// -----------------------------------------------------------------------------

// ProactiveSettings is the per-agent scheduler configuration. Owned by the
// agent's operator via the admin API, and mutated by the scheduler itself
// (auto-pause on budget exhaustion). Rows are never deleted, only updated.
type ProactiveSettings struct {
	AgentID             AgentID    `json:"agent_id"`
	Address             string     `json:"address"`
	Enabled             bool       `json:"enabled"`
	ScanIntervalMinutes int        `json:"scan_interval_minutes"`
	MaxCreditsPerCycle  int64      `json:"max_credits_per_cycle"`
	MaxActionsPerDay    int        `json:"max_actions_per_day"`
	CooldownSeconds     int        `json:"cooldown_seconds"`
	PausedUntil         *time.Time `json:"paused_until,omitempty"`
	PauseReason         string     `json:"pause_reason,omitempty"`
	CallbackURL         string     `json:"callback_url,omitempty"`
	CallbackSecret      []byte     `json:"-"` // sealed; opened only at delivery setup
	LastScanAt          *time.Time `json:"last_scan_at,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Paused reports whether the agent is paused at the given instant.
func (s *ProactiveSettings) Paused(now time.Time) bool {
	return s.PausedUntil != nil && s.PausedUntil.After(now)
}

// ScanInterval returns the configured scan interval as a duration,
// falling back to 30 minutes when unset.
func (s *ProactiveSettings) ScanInterval() time.Duration {
	if s.ScanIntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.ScanIntervalMinutes) * time.Minute
}

// -----------------------------------------------------------------------------
// SCAN LOG - Append-only record of every scan cycle
// -----------------------------------------------------------------------------

// ScanLogEntry records the outcome of one scanAndAct invocation, including
// failures. Exactly one entry is written per invocation.
type ScanLogEntry struct {
	ID                 string        `json:"id"`
	AgentID            AgentID       `json:"agent_id"`
	OpportunitiesFound int           `json:"opportunities_found"`
	SignalsEmitted     int           `json:"signals_emitted"`
	BudgetMode         bool          `json:"budget_mode"`
	Duration           time.Duration `json:"duration"`
	Error              string        `json:"error,omitempty"` // truncated, empty on success
	CreatedAt          time.Time     `json:"created_at"`
}

// -----------------------------------------------------------------------------
// CREDIT - Budget state read from the ledger
// -----------------------------------------------------------------------------

// AccountStatus is the lifecycle state of an agent's credit account.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountPaused AccountStatus = "paused"
	AccountFrozen AccountStatus = "frozen"
)

// Balance is the scheduler's view of an agent's credit account.
type Balance struct {
	AgentID           AgentID       `json:"agent_id"`
	Credits           int64         `json:"credits"`
	Status            AccountStatus `json:"status"`
	LowThreshold      int64         `json:"low_threshold"`
	CriticalThreshold int64         `json:"critical_threshold"`
}

// Zone classifies the balance against its thresholds.
func (b Balance) Zone() BudgetZone {
	switch {
	case b.Credits <= b.CriticalThreshold:
		return BudgetCritical
	case b.Credits <= b.LowThreshold:
		return BudgetLow
	default:
		return BudgetNormal
	}
}

// BudgetZone is a throttling state derived from the remaining balance.
type BudgetZone string

const (
	BudgetNormal   BudgetZone = "normal"
	BudgetLow      BudgetZone = "low"
	BudgetCritical BudgetZone = "critical"
)
