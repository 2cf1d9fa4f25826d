package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beaconmesh/beacon/internal/core"
)

// ScanLogStore persists the append-only scan audit trail and the record of
// acted-upon opportunities.
type ScanLogStore struct {
	db *sql.DB
}

// NewScanLogStore creates a scan log store
func NewScanLogStore(db *DB) *ScanLogStore {
	return &ScanLogStore{db: db.Conn()}
}

// Append writes one scan log entry. Assigns ID and CreatedAt when unset.
func (s *ScanLogStore) Append(ctx context.Context, entry *core.ScanLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_log (id, agent_id, opportunities_found, signals_emitted, budget_mode, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, string(entry.AgentID), entry.OpportunitiesFound, entry.SignalsEmitted,
		entry.BudgetMode, entry.Duration.Milliseconds(), nullString(entry.Error), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append scan log: %w", err)
	}
	return nil
}

// Recent returns the newest scan log entries for an agent.
func (s *ScanLogStore) Recent(ctx context.Context, agentID core.AgentID, limit int) ([]*core.ScanLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, opportunities_found, signals_emitted, budget_mode, duration_ms, error, created_at
		FROM scan_log WHERE agent_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("query scan log: %w", err)
	}
	defer rows.Close()

	var entries []*core.ScanLogEntry
	for rows.Next() {
		var (
			entry      core.ScanLogEntry
			agentID    string
			durationMS int64
			errText    sql.NullString
		)
		if err := rows.Scan(&entry.ID, &agentID, &entry.OpportunitiesFound,
			&entry.SignalsEmitted, &entry.BudgetMode, &durationMS, &errText,
			&entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.AgentID = core.AgentID(agentID)
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entry.Error = errText.String
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// RecordAction marks an opportunity as acted upon so later scans skip it.
// Re-acting on the same source refreshes the timestamp.
func (s *ScanLogStore) RecordAction(ctx context.Context, agentID core.AgentID, sourceID, signalType string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO acted_sources (agent_id, source_id, signal_type, acted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(agent_id, source_id) DO UPDATE SET
			signal_type = excluded.signal_type,
			acted_at = excluded.acted_at
	`, string(agentID), sourceID, signalType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	return nil
}

// Prune deletes scan log entries and acted-source records older than the
// cutoff. Acted sources past the dedup window no longer influence scans, so
// they only cost table space.
func (s *ScanLogStore) Prune(ctx context.Context, before time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_log WHERE created_at < ?`, before.UTC()); err != nil {
		return fmt.Errorf("prune scan log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM acted_sources WHERE acted_at < ?`, before.UTC()); err != nil {
		return fmt.Errorf("prune acted sources: %w", err)
	}
	return nil
}

// ActedSourceIDs returns the sourceIDs the agent acted on since the cutoff.
func (s *ScanLogStore) ActedSourceIDs(ctx context.Context, agentID core.AgentID, since time.Time) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id FROM acted_sources WHERE agent_id = ? AND acted_at >= ?
	`, string(agentID), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query acted sources: %w", err)
	}
	defer rows.Close()

	acted := make(map[string]bool)
	for rows.Next() {
		var sourceID string
		if err := rows.Scan(&sourceID); err != nil {
			return nil, fmt.Errorf("scan source id: %w", err)
		}
		acted[sourceID] = true
	}
	return acted, rows.Err()
}
