// Package core defines the fundamental types and errors for Beacon.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Settings errors
	ErrSettingsNotFound = errors.New("proactive settings not found")
	ErrAgentDisabled    = errors.New("agent is disabled")
	ErrAgentPaused      = errors.New("agent is paused")

	// Ledger errors
	ErrAccountNotFound = errors.New("credit account not found")
	ErrInsufficient    = errors.New("insufficient credits")
	ErrChainBroken     = errors.New("ledger hash chain broken")

	// Storage errors
	ErrRecordNotFound  = errors.New("record not found")
	ErrMigrationFailed = errors.New("migration failed")

	// Secret errors
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrLocked           = errors.New("secret store is locked")

	// Scheduler errors
	ErrAlreadyRunning = errors.New("scheduler already running")
)
