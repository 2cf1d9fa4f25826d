package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
)

// SettingsStore persists per-agent scheduler configuration.
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a settings store
func NewSettingsStore(db *DB) *SettingsStore {
	return &SettingsStore{db: db.Conn()}
}

// Get returns the settings row for an agent, or ErrSettingsNotFound.
func (s *SettingsStore) Get(ctx context.Context, agentID core.AgentID) (*core.ProactiveSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, address, enabled, scan_interval_minutes, max_credits_per_cycle,
		       max_actions_per_day, cooldown_seconds, paused_until, pause_reason,
		       callback_url, callback_secret, last_scan_at, updated_at
		FROM proactive_settings WHERE agent_id = ?
	`, string(agentID))

	settings, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", agentID, core.ErrSettingsNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// Upsert creates or replaces the settings row for an agent.
func (s *SettingsStore) Upsert(ctx context.Context, settings *core.ProactiveSettings) error {
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proactive_settings (
			agent_id, address, enabled, scan_interval_minutes, max_credits_per_cycle,
			max_actions_per_day, cooldown_seconds, paused_until, pause_reason,
			callback_url, callback_secret, last_scan_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			address = excluded.address,
			enabled = excluded.enabled,
			scan_interval_minutes = excluded.scan_interval_minutes,
			max_credits_per_cycle = excluded.max_credits_per_cycle,
			max_actions_per_day = excluded.max_actions_per_day,
			cooldown_seconds = excluded.cooldown_seconds,
			paused_until = excluded.paused_until,
			pause_reason = excluded.pause_reason,
			callback_url = excluded.callback_url,
			callback_secret = excluded.callback_secret,
			last_scan_at = excluded.last_scan_at,
			updated_at = excluded.updated_at
	`, string(settings.AgentID), settings.Address, settings.Enabled,
		settings.ScanIntervalMinutes, settings.MaxCreditsPerCycle,
		settings.MaxActionsPerDay, settings.CooldownSeconds,
		nullTime(settings.PausedUntil), nullString(settings.PauseReason),
		nullString(settings.CallbackURL), nullString(string(settings.CallbackSecret)),
		nullTime(settings.LastScanAt), settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// Pause suspends scheduling for an agent until the given instant.
func (s *SettingsStore) Pause(ctx context.Context, agentID core.AgentID, until time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proactive_settings SET paused_until = ?, pause_reason = ?, updated_at = ?
		WHERE agent_id = ?
	`, until.UTC(), reason, time.Now().UTC(), string(agentID))
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrSettingsNotFound)
	}
	return nil
}

// Resume clears any pause on an agent.
func (s *SettingsStore) Resume(ctx context.Context, agentID core.AgentID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proactive_settings SET paused_until = NULL, pause_reason = NULL, updated_at = ?
		WHERE agent_id = ?
	`, time.Now().UTC(), string(agentID))
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrSettingsNotFound)
	}
	return nil
}

// SetLastScanAt records when an agent's scan cycle last started.
func (s *SettingsStore) SetLastScanAt(ctx context.Context, agentID core.AgentID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proactive_settings SET last_scan_at = ? WHERE agent_id = ?
	`, at.UTC(), string(agentID))
	if err != nil {
		return fmt.Errorf("set last scan: %w", err)
	}
	return nil
}

// ListEnabled returns every enabled agent's settings, regardless of pause or
// due state.
func (s *SettingsStore) ListEnabled(ctx context.Context) ([]*core.ProactiveSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, address, enabled, scan_interval_minutes, max_credits_per_cycle,
		       max_actions_per_day, cooldown_seconds, paused_until, pause_reason,
		       callback_url, callback_secret, last_scan_at, updated_at
		FROM proactive_settings WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var all []*core.ProactiveSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		all = append(all, settings)
	}
	return all, rows.Err()
}

// DueAgents returns up to limit enabled, unpaused agents whose scan interval
// has elapsed, ordered oldest-due first. Agents that have never been scanned
// are due immediately and sort before everything else.
func (s *SettingsStore) DueAgents(ctx context.Context, now time.Time, limit int) ([]*core.ProactiveSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, address, enabled, scan_interval_minutes, max_credits_per_cycle,
		       max_actions_per_day, cooldown_seconds, paused_until, pause_reason,
		       callback_url, callback_secret, last_scan_at, updated_at
		FROM proactive_settings WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var due []*core.ProactiveSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		if settings.Paused(now) {
			continue
		}
		if settings.LastScanAt != nil && now.Sub(*settings.LastScanAt) < settings.ScanInterval() {
			continue
		}
		due = append(due, settings)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(due, func(i, j int) bool {
		return dueAt(due[i]).Before(dueAt(due[j]))
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// dueAt is the instant an agent became due; zero for never-scanned agents.
func dueAt(s *core.ProactiveSettings) time.Time {
	if s.LastScanAt == nil {
		return time.Time{}
	}
	return s.LastScanAt.Add(s.ScanInterval())
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSettings(row rowScanner) (*core.ProactiveSettings, error) {
	var (
		settings    core.ProactiveSettings
		agentID     string
		pausedUntil sql.NullTime
		pauseReason sql.NullString
		callbackURL sql.NullString
		secret      sql.NullString
		lastScanAt  sql.NullTime
	)

	err := row.Scan(&agentID, &settings.Address, &settings.Enabled,
		&settings.ScanIntervalMinutes, &settings.MaxCreditsPerCycle,
		&settings.MaxActionsPerDay, &settings.CooldownSeconds,
		&pausedUntil, &pauseReason, &callbackURL, &secret, &lastScanAt,
		&settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	settings.AgentID = core.AgentID(agentID)
	if pausedUntil.Valid {
		t := pausedUntil.Time
		settings.PausedUntil = &t
	}
	settings.PauseReason = pauseReason.String
	settings.CallbackURL = callbackURL.String
	if secret.Valid && secret.String != "" {
		settings.CallbackSecret = []byte(secret.String)
	}
	if lastScanAt.Valid {
		t := lastScanAt.Time
		settings.LastScanAt = &t
	}
	return &settings, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
