package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/pricing"
	"github.com/metergate/walletledger/internal/wallet"
)

// The ledger over the real store, end to end: fund, spend, overdraw,
// drain, and reject.
func TestLedgerFlowOverGormStore(t *testing.T) {
	conn := openTestDB(t)
	ledger := wallet.NewLedger(NewGormKeyStore(conn), pricing.NewPricer(nil, 0))
	ctx := context.Background()

	seedKey(t, conn, models.Key{KeyCode: "WK-FLOW", UserID: "u1", BalanceMicros: 10_000_000})

	result, errDebit := ledger.Debit(ctx, wallet.DebitRequest{UserID: "u1", CostMicros: 4_000_000, Provider: "openai"})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.KeyCode != "WK-FLOW" || result.RemainingMicros != 6_000_000 {
		t.Fatalf("unexpected result %+v", result)
	}

	_, errOverdraw := ledger.Debit(ctx, wallet.DebitRequest{UserID: "u1", CostMicros: 7_000_000})
	var insufficient *wallet.InsufficientBalanceError
	if !errors.As(errOverdraw, &insufficient) || insufficient.AvailableMicros != 6_000_000 {
		t.Fatalf("expected insufficient with available 6000000, got %v", errOverdraw)
	}

	drained, errDrain := ledger.Debit(ctx, wallet.DebitRequest{UserID: "u1", CostMicros: 6_000_000})
	if errDrain != nil {
		t.Fatalf("drain: %v", errDrain)
	}
	if drained.Status != models.KeyStatusDepleted {
		t.Fatalf("expected DEPLETED after drain, got %s", drained.Status)
	}

	if _, errAfter := ledger.Debit(ctx, wallet.DebitRequest{UserID: "u1", CostMicros: 10_000}); !errors.Is(errAfter, wallet.ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey once the only key is depleted, got %v", errAfter)
	}

	status, errStatus := ledger.WalletStatus(ctx, "u1")
	if errStatus != nil {
		t.Fatalf("status: %v", errStatus)
	}
	if status.ActiveKeyCount != 0 || status.TotalMicros != 0 {
		t.Fatalf("expected empty wallet, got %+v", status)
	}

	var rows int64
	conn.Model(&models.Transaction{}).Count(&rows)
	if rows != 2 {
		t.Fatalf("expected 2 audit rows, got %d", rows)
	}
}

// Concurrent debits against one key must spend the balance exactly once:
// with $10 on the key and twenty $1 debits, exactly ten may succeed.
func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	conn := openTestDB(t)
	ledger := wallet.NewLedger(NewGormKeyStore(conn), pricing.NewPricer(nil, 0))

	seedKey(t, conn, models.Key{KeyCode: "WK-RACE", UserID: "u1", BalanceMicros: 10_000_000})

	const workers = 20
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errDebit := ledger.Debit(context.Background(), wallet.DebitRequest{
				UserID:     "u1",
				KeyCode:    "WK-RACE",
				CostMicros: 1_000_000,
			})
			results[slot] = errDebit
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, errDebit := range results {
		if errDebit == nil {
			succeeded++
			continue
		}
		var insufficient *wallet.InsufficientBalanceError
		var notActive *wallet.KeyNotActiveError
		if !errors.As(errDebit, &insufficient) && !errors.As(errDebit, &notActive) {
			t.Fatalf("unexpected debit error: %v", errDebit)
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", succeeded)
	}

	s := NewGormKeyStore(conn)
	key, errGet := s.Get(context.Background(), "WK-RACE")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if key.UsedMicros != key.BalanceMicros {
		t.Fatalf("usage %d does not match balance %d", key.UsedMicros, key.BalanceMicros)
	}
	if key.Status != models.KeyStatusDepleted {
		t.Fatalf("expected DEPLETED, got %s", key.Status)
	}

	var rows int64
	conn.Model(&models.Transaction{}).Count(&rows)
	if rows != 10 {
		t.Fatalf("expected 10 audit rows, got %d", rows)
	}
}
