package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FlagEmergencyHalt stops all scheduling when set to "1".
const FlagEmergencyHalt = "emergency_halt"

// FlagStore persists system-wide operational flags.
type FlagStore struct {
	db *sql.DB
}

// NewFlagStore creates a flag store
func NewFlagStore(db *DB) *FlagStore {
	return &FlagStore{db: db.Conn()}
}

// Get returns a flag value, or "" when unset.
func (s *FlagStore) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM system_flags WHERE name = ?
	`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get flag %s: %w", name, err)
	}
	return value, nil
}

// Set writes a flag value.
func (s *FlagStore) Set(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_flags (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set flag %s: %w", name, err)
	}
	return nil
}

// EmergencyHalt reports whether the kill switch is engaged.
func (s *FlagStore) EmergencyHalt(ctx context.Context) (bool, error) {
	value, err := s.Get(ctx, FlagEmergencyHalt)
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// SetEmergencyHalt engages or clears the kill switch.
func (s *FlagStore) SetEmergencyHalt(ctx context.Context, halted bool) error {
	value := "0"
	if halted {
		value = "1"
	}
	return s.Set(ctx, FlagEmergencyHalt, value)
}
