package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/beaconmesh/beacon/internal/core"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE credit_accounts (
			agent_id TEXT PRIMARY KEY,
			credits INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			low_threshold INTEGER NOT NULL,
			critical_threshold INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE credit_transactions (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			reason TEXT,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestOpenAccount_AndBalance(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.OpenAccount(ctx, "agent-1", 500, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	b, err := store.GetBalance(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Credits != 500 {
		t.Errorf("Credits = %d, want 500", b.Credits)
	}
	if b.Status != core.AccountActive {
		t.Errorf("Status = %q, want active", b.Status)
	}
	if b.LowThreshold != DefaultLowThreshold || b.CriticalThreshold != DefaultCriticalThreshold {
		t.Errorf("thresholds = %d/%d, want defaults", b.LowThreshold, b.CriticalThreshold)
	}
	if b.Zone() != core.BudgetNormal {
		t.Errorf("Zone = %q, want normal", b.Zone())
	}
}

func TestGetBalance_UnknownAgent(t *testing.T) {
	store := NewStore(setupTestDB(t))

	_, err := store.GetBalance(context.Background(), "ghost")
	if !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestDebit_InsufficientCredits(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.OpenAccount(ctx, "agent-1", 10, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	if _, err := store.Debit(ctx, "agent-1", 50, "scan cycle"); !errors.Is(err, core.ErrInsufficient) {
		t.Fatalf("err = %v, want ErrInsufficient", err)
	}

	// A failed debit must not touch the balance.
	b, err := store.GetBalance(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Credits != 10 {
		t.Errorf("Credits = %d, want 10 after failed debit", b.Credits)
	}
}

func TestTransactions_ChainAndVerify(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.OpenAccount(ctx, "agent-1", 100, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	first, err := store.Debit(ctx, "agent-1", 30, "scan cycle")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if first.BalanceAfter != 70 {
		t.Errorf("BalanceAfter = %d, want 70", first.BalanceAfter)
	}

	second, err := store.Credit(ctx, "agent-1", 5, "bounty payout")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second.PrevHash = %s, want hash of previous transaction", second.PrevHash)
	}

	if err := store.VerifyChain(ctx); err != nil {
		t.Errorf("VerifyChain on intact chain: %v", err)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	if err := store.OpenAccount(ctx, "agent-1", 100, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if _, err := store.Debit(ctx, "agent-1", 10, "scan cycle"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	// Rewrite history: inflate a recorded amount without re-hashing.
	if _, err := db.Exec(`UPDATE credit_transactions SET amount = 1 WHERE kind = 'debit'`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := store.VerifyChain(ctx); !errors.Is(err, core.ErrChainBroken) {
		t.Errorf("VerifyChain = %v, want ErrChainBroken", err)
	}
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.OpenAccount(ctx, "agent-1", 0, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if err := store.SetStatus(ctx, "agent-1", core.AccountFrozen); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	b, err := store.GetBalance(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.Status != core.AccountFrozen {
		t.Errorf("Status = %q, want frozen", b.Status)
	}

	if err := store.SetStatus(ctx, "ghost", core.AccountPaused); !errors.Is(err, core.ErrAccountNotFound) {
		t.Errorf("SetStatus unknown agent: err = %v, want ErrAccountNotFound", err)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	if err := store.OpenAccount(ctx, "agent-1", 100, 0, 0); err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}
	if _, err := store.Debit(ctx, "agent-1", 1, "one"); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := store.Debit(ctx, "agent-1", 2, "two"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	history, err := store.History(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Reason != "two" {
		t.Errorf("history[0].Reason = %q, want newest first", history[0].Reason)
	}
}
