// Package ledger tracks agent credit balances in a cryptographically
// verifiable, append-only transaction log. Every transaction is hash-chained
// to the previous one, making any tampering with spend history detectable.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconmesh/beacon/internal/core"
)

// genesisHash anchors the chain before the first transaction.
const genesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// Transaction kinds.
const (
	KindCredit = "credit"
	KindDebit  = "debit"
)

// Default thresholds for newly opened accounts, in credits.
const (
	DefaultLowThreshold      = 100
	DefaultCriticalThreshold = 10
)

// Store manages credit accounts and their append-only transaction chain.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a ledger store over an already-migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Transaction is an immutable credit movement.
type Transaction struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	AgentID      string    `json:"agent_id"`
	Kind         string    `json:"kind"` // "credit" or "debit"
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reason       string    `json:"reason"`
	PrevHash     string    `json:"prev_hash"`
	Hash         string    `json:"hash"`
}

// OpenAccount creates a credit account with an opening balance. Thresholds
// of zero fall back to the defaults.
func (s *Store) OpenAccount(ctx context.Context, agentID core.AgentID, opening, low, critical int64) error {
	if low <= 0 {
		low = DefaultLowThreshold
	}
	if critical <= 0 {
		critical = DefaultCriticalThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (agent_id, credits, status, low_threshold, critical_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(agentID), int64(0), string(core.AccountActive), low, critical, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}

	if opening > 0 {
		if _, err := s.applyLocked(ctx, agentID, KindCredit, opening, "opening balance"); err != nil {
			return err
		}
	}
	return nil
}

// GetBalance returns the scheduler's view of an agent's account.
func (s *Store) GetBalance(ctx context.Context, agentID core.AgentID) (core.Balance, error) {
	var (
		b      core.Balance
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, credits, status, low_threshold, critical_threshold
		FROM credit_accounts WHERE agent_id = ?
	`, string(agentID)).Scan(&b.AgentID, &b.Credits, &status, &b.LowThreshold, &b.CriticalThreshold)
	if err == sql.ErrNoRows {
		return core.Balance{}, fmt.Errorf("agent %s: %w", agentID, core.ErrAccountNotFound)
	}
	if err != nil {
		return core.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	b.Status = core.AccountStatus(status)
	return b, nil
}

// Credit adds credits to an account.
func (s *Store) Credit(ctx context.Context, agentID core.AgentID, amount int64, reason string) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, agentID, KindCredit, amount, reason)
}

// Debit removes credits from an account. Fails with ErrInsufficient when the
// balance cannot cover the amount; the balance never goes negative.
func (s *Store) Debit(ctx context.Context, agentID core.AgentID, amount int64, reason string) (*Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, agentID, KindDebit, amount, reason)
}

// SetStatus updates the account lifecycle state.
func (s *Store) SetStatus(ctx context.Context, agentID core.AgentID, status core.AccountStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts SET status = ?, updated_at = ? WHERE agent_id = ?
	`, string(status), time.Now().UTC(), string(agentID))
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrAccountNotFound)
	}
	return nil
}

// applyLocked records one transaction and updates the account balance
// atomically. Caller holds s.mu, which serializes chain extension.
func (s *Store) applyLocked(ctx context.Context, agentID core.AgentID, kind string, amount int64, reason string) (*Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var credits int64
	err = tx.QueryRowContext(ctx, `
		SELECT credits FROM credit_accounts WHERE agent_id = ?
	`, string(agentID)).Scan(&credits)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", agentID, core.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	var after int64
	switch kind {
	case KindCredit:
		after = credits + amount
	case KindDebit:
		if credits < amount {
			return nil, fmt.Errorf("agent %s has %d credits, needs %d: %w",
				agentID, credits, amount, core.ErrInsufficient)
		}
		after = credits - amount
	default:
		return nil, fmt.Errorf("unknown transaction kind %q", kind)
	}

	prevHash, err := lastHash(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	entry := &Transaction{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		AgentID:      string(agentID),
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: after,
		Reason:       reason,
		PrevHash:     prevHash,
	}
	entry.Hash = computeHash(entry)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, timestamp, agent_id, kind, amount, balance_after, reason, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp, entry.AgentID, entry.Kind, entry.Amount,
		entry.BalanceAfter, entry.Reason, entry.PrevHash, entry.Hash); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_accounts SET credits = ?, updated_at = ? WHERE agent_id = ?
	`, after, time.Now().UTC(), string(agentID)); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return entry, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func lastHash(ctx context.Context, q queryer) (string, error) {
	var hash sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT hash FROM credit_transactions ORDER BY timestamp DESC, id DESC LIMIT 1
	`).Scan(&hash)
	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}

// computeHash hashes the canonical representation of a transaction,
// excluding the hash itself.
func computeHash(t *Transaction) string {
	canonical := struct {
		ID           string    `json:"id"`
		Timestamp    time.Time `json:"timestamp"`
		AgentID      string    `json:"agent_id"`
		Kind         string    `json:"kind"`
		Amount       int64     `json:"amount"`
		BalanceAfter int64     `json:"balance_after"`
		Reason       string    `json:"reason"`
		PrevHash     string    `json:"prev_hash"`
	}{
		ID:           t.ID,
		Timestamp:    t.Timestamp,
		AgentID:      t.AgentID,
		Kind:         t.Kind,
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Reason:       t.Reason,
		PrevHash:     t.PrevHash,
	}
	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChain walks the entire transaction chain and returns nil if intact,
// or an error wrapping ErrChainBroken describing the first bad link.
func (s *Store) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, agent_id, kind, amount, balance_after, reason, prev_hash, hash
		FROM credit_transactions ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	expectedPrev := genesisHash
	n := 0
	for rows.Next() {
		n++
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.AgentID, &t.Kind, &t.Amount,
			&t.BalanceAfter, &t.Reason, &t.PrevHash, &t.Hash); err != nil {
			return fmt.Errorf("scan transaction %d: %w", n, err)
		}

		if t.PrevHash != expectedPrev {
			return fmt.Errorf("transaction %d (%s): prev_hash does not link: %w",
				n, t.ID, core.ErrChainBroken)
		}
		if computeHash(&t) != t.Hash {
			return fmt.Errorf("transaction %d (%s): hash mismatch: %w",
				n, t.ID, core.ErrChainBroken)
		}
		expectedPrev = t.Hash
	}
	return rows.Err()
}

// History returns the most recent transactions for an agent, newest first.
func (s *Store) History(ctx context.Context, agentID core.AgentID, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, agent_id, kind, amount, balance_after, reason, prev_hash, hash
		FROM credit_transactions WHERE agent_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?
	`, string(agentID), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.AgentID, &t.Kind, &t.Amount,
			&t.BalanceAfter, &t.Reason, &t.PrevHash, &t.Hash); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
