package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/pricing"
)

// memKeyStore is an in-memory KeyStore with the same guard semantics as
// the real store, plus hooks for fault injection.
type memKeyStore struct {
	mu   sync.Mutex
	keys map[string]*models.Key
	txns []*models.Transaction

	reads     int
	applies   int
	failWith  error
	applyHook func(s *memKeyStore) // runs before each ApplyDebit attempt
}

func newMemKeyStore(keys ...models.Key) *memKeyStore {
	s := &memKeyStore{keys: make(map[string]*models.Key)}
	for i := range keys {
		k := keys[i]
		s.keys[k.KeyCode] = &k
	}
	return s
}

func (s *memKeyStore) Get(_ context.Context, keyCode string) (*models.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.reads++
	key, ok := s.keys[models.NormalizeKeyCode(keyCode)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *key
	return &copied, nil
}

func (s *memKeyStore) ListByUser(_ context.Context, userID, provider string, activeOnly bool) ([]models.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []models.Key
	for _, key := range s.keys {
		if key.UserID != userID {
			continue
		}
		if activeOnly && key.Status != models.KeyStatusActive {
			continue
		}
		if provider != "" && !key.MatchesProvider(provider) {
			continue
		}
		out = append(out, *key)
	}
	return out, nil
}

func (s *memKeyStore) ApplyDebit(_ context.Context, keyCode string, amountMicros int64, provider string, at time.Time, audit *models.Transaction) (bool, *models.Key, error) {
	if s.applyHook != nil {
		s.applyHook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, nil, s.failWith
	}
	s.applies++

	key, ok := s.keys[models.NormalizeKeyCode(keyCode)]
	if !ok || key.Status != models.KeyStatusActive || key.RemainingMicros() < amountMicros {
		return false, nil, nil
	}

	key.UsedMicros += amountMicros
	usedAt := at
	key.LastUsedAt = &usedAt
	key.LastProvider = provider
	if key.RemainingMicros() <= 0 {
		key.Status = models.KeyStatusDepleted
	}
	if audit != nil {
		audit.RemainingMicros = key.RemainingMicros()
		s.txns = append(s.txns, audit)
	}
	copied := *key
	return true, &copied, nil
}

func (s *memKeyStore) usage(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[code].UsedMicros
}

func newTestLedger(store KeyStore) *Ledger {
	return NewLedger(store, pricing.NewPricer(nil, 1.3))
}

func activeKey(code, userID, provider string, balanceMicros int64) models.Key {
	return models.Key{
		KeyCode:       code,
		UserID:        userID,
		Provider:      provider,
		BalanceMicros: balanceMicros,
		Status:        models.KeyStatusActive,
	}
}

func TestDebitLifecycle(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	ledger := newTestLedger(store)
	ctx := context.Background()

	// First debit succeeds and leaves 6.00.
	result, errDebit := ledger.Debit(ctx, DebitRequest{UserID: "u1", KeyCode: "wk-1", CostMicros: 4_000_000, Provider: "openai"})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.RemainingMicros != 6_000_000 {
		t.Fatalf("expected 6000000 remaining, got %d", result.RemainingMicros)
	}
	if result.Status != models.KeyStatusActive {
		t.Fatalf("expected ACTIVE, got %s", result.Status)
	}

	// Overdraw fails with the available balance and causes no mutation.
	_, errOverdraw := ledger.Debit(ctx, DebitRequest{UserID: "u1", KeyCode: "WK-1", CostMicros: 7_000_000, Provider: "openai"})
	var insufficient *InsufficientBalanceError
	if !errors.As(errOverdraw, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", errOverdraw)
	}
	if insufficient.AvailableMicros != 6_000_000 {
		t.Fatalf("expected available 6000000, got %d", insufficient.AvailableMicros)
	}
	if got := store.usage("WK-1"); got != 4_000_000 {
		t.Fatalf("usage changed on rejected debit: %d", got)
	}

	// Draining the key flips it to DEPLETED in the same write.
	drained, errDrain := ledger.Debit(ctx, DebitRequest{UserID: "u1", KeyCode: "WK-1", CostMicros: 6_000_000, Provider: "openai"})
	if errDrain != nil {
		t.Fatalf("drain: %v", errDrain)
	}
	if drained.RemainingMicros != 0 || drained.Status != models.KeyStatusDepleted {
		t.Fatalf("expected depleted zero-balance key, got %+v", drained)
	}

	// A depleted key rejects further debits with its actual status.
	_, errAfter := ledger.Debit(ctx, DebitRequest{UserID: "u1", KeyCode: "WK-1", CostMicros: 10_000, Provider: "openai"})
	var notActive *KeyNotActiveError
	if !errors.As(errAfter, &notActive) {
		t.Fatalf("expected KeyNotActiveError, got %v", errAfter)
	}
	if notActive.Status != models.KeyStatusDepleted {
		t.Fatalf("expected DEPLETED status in error, got %s", notActive.Status)
	}
}

func TestDebitInvalidRequestNeverTouchesStorage(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	ledger := newTestLedger(store)
	ctx := context.Background()

	cases := []DebitRequest{
		{UserID: "", KeyCode: "WK-1", CostMicros: 1_000},
		{UserID: "u1", KeyCode: "WK-1", CostMicros: 0},
		{UserID: "u1", KeyCode: "WK-1", CostMicros: -5},
	}
	for _, req := range cases {
		if _, errDebit := ledger.Debit(ctx, req); !errors.Is(errDebit, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, errDebit)
		}
	}
	if store.reads != 0 || store.applies != 0 {
		t.Fatalf("storage touched on invalid request: reads=%d applies=%d", store.reads, store.applies)
	}
}

func TestDebitExplicitKeyNotFound(t *testing.T) {
	ledger := newTestLedger(newMemKeyStore())

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "u1", KeyCode: "WK-MISSING", CostMicros: 1_000})
	if !errors.Is(errDebit, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", errDebit)
	}
}

func TestDebitOwnershipMismatch(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "owner", "", 10_000_000))
	ledger := newTestLedger(store)

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "intruder", KeyCode: "WK-1", CostMicros: 1_000})
	if !errors.Is(errDebit, ErrKeyOwnershipMismatch) {
		t.Fatalf("expected ErrKeyOwnershipMismatch, got %v", errDebit)
	}
	if got := store.usage("WK-1"); got != 0 {
		t.Fatalf("foreign key mutated: %d", got)
	}
}

func TestDebitAutoSelectsLargestRemaining(t *testing.T) {
	store := newMemKeyStore(
		activeKey("WK-SMALL", "u1", "", 2_000_000),
		activeKey("WK-BIG", "u1", "", 9_000_000),
	)
	ledger := newTestLedger(store)

	result, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "u1", CostMicros: 1_000_000, Provider: "openai"})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.KeyCode != "WK-BIG" {
		t.Fatalf("expected WK-BIG selected, got %s", result.KeyCode)
	}
}

func TestDebitNoActiveKey(t *testing.T) {
	store := newMemKeyStore(models.Key{
		KeyCode: "WK-1", UserID: "u1", BalanceMicros: 1_000_000, Status: models.KeyStatusRevoked,
	})
	ledger := newTestLedger(store)

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "u1", CostMicros: 1_000})
	if !errors.Is(errDebit, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", errDebit)
	}
}

func TestDebitDerivesCostFromUnits(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	ledger := newTestLedger(store)

	result, errDebit := ledger.Debit(context.Background(), DebitRequest{
		UserID:      "u1",
		KeyCode:     "WK-1",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		InputUnits:  2_000_000,
		OutputUnits: 500_000,
	})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if result.CostMicros != 780_000 {
		t.Fatalf("expected derived cost 780000 micros, got %d", result.CostMicros)
	}
	if result.RemainingMicros != 9_220_000 {
		t.Fatalf("expected 9220000 remaining, got %d", result.RemainingMicros)
	}
}

func TestDebitRecordsAuditRow(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	ledger := newTestLedger(store)

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{
		UserID:      "u1",
		KeyCode:     "WK-1",
		CostMicros:  500_000,
		Provider:    "elevenlabs",
		Model:       "eleven_turbo_v2_5",
		Description: "intro narration",
	})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}

	if len(store.txns) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(store.txns))
	}
	row := store.txns[0]
	if row.KeyCode != "WK-1" || row.Provider != "elevenlabs" || row.CostMicros != 500_000 {
		t.Fatalf("unexpected audit row %+v", row)
	}
	if row.RemainingMicros != 9_500_000 {
		t.Fatalf("expected audit remaining 9500000, got %d", row.RemainingMicros)
	}
	if row.Description != "intro narration" {
		t.Fatalf("expected description preserved, got %q", row.Description)
	}
}

func TestDebitStorageErrorSurfaces(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	store.failWith = errors.New("connection reset")
	ledger := newTestLedger(store)

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "u1", KeyCode: "WK-1", CostMicros: 1_000})
	var storageErr *StorageError
	if !errors.As(errDebit, &storageErr) {
		t.Fatalf("expected StorageError, got %v", errDebit)
	}
}

func TestDebitRetriesAfterLostRace(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-1", "u1", "", 10_000_000))
	ledger := newTestLedger(store)

	// A rival debit lands between the read and the guarded write on the
	// first attempt only.
	fired := false
	store.applyHook = func(s *memKeyStore) {
		if fired {
			return
		}
		fired = true
		s.mu.Lock()
		s.keys["WK-1"].UsedMicros += 9_500_000
		s.mu.Unlock()
	}

	_, errDebit := ledger.Debit(context.Background(), DebitRequest{UserID: "u1", KeyCode: "WK-1", CostMicros: 1_000_000})
	var insufficient *InsufficientBalanceError
	if !errors.As(errDebit, &insufficient) {
		t.Fatalf("expected re-classification to InsufficientBalance, got %v", errDebit)
	}
	if insufficient.AvailableMicros != 500_000 {
		t.Fatalf("expected available 500000 after rival debit, got %d", insufficient.AvailableMicros)
	}
}

func TestWalletStatusAggregates(t *testing.T) {
	store := newMemKeyStore(
		activeKey("WK-A", "u1", "openai", 5_000_000),
		activeKey("WK-B", "u1", "", 9_000_000),
		models.Key{KeyCode: "WK-C", UserID: "u1", BalanceMicros: 50_000_000, UsedMicros: 50_000_000, Status: models.KeyStatusDepleted},
		activeKey("WK-D", "someone-else", "", 100_000_000),
	)
	ledger := newTestLedger(store)

	status, errStatus := ledger.WalletStatus(context.Background(), "u1")
	if errStatus != nil {
		t.Fatalf("status: %v", errStatus)
	}
	if status.ActiveKeyCount != 2 {
		t.Fatalf("expected 2 active keys, got %d", status.ActiveKeyCount)
	}
	if status.TotalMicros != 14_000_000 {
		t.Fatalf("expected total 14000000, got %d", status.TotalMicros)
	}
	if status.PrimaryKeyCode != "WK-B" || status.PrimaryRemaining != 9_000_000 {
		t.Fatalf("unexpected primary %s/%d", status.PrimaryKeyCode, status.PrimaryRemaining)
	}
}

func TestWalletStatusZeroKeys(t *testing.T) {
	ledger := newTestLedger(newMemKeyStore())

	status, errStatus := ledger.WalletStatus(context.Background(), "nobody")
	if errStatus != nil {
		t.Fatalf("status: %v", errStatus)
	}
	if status.ActiveKeyCount != 0 || status.TotalMicros != 0 || status.PrimaryKeyCode != "" {
		t.Fatalf("expected zero totals, got %+v", status)
	}
}

func TestCheckSufficientBalanceMatchesDebitSelection(t *testing.T) {
	store := newMemKeyStore(
		activeKey("WK-SMALL", "u1", "", 2_000_000),
		activeKey("WK-BIG", "u1", "", 9_000_000),
	)
	ledger := newTestLedger(store)
	ctx := context.Background()

	check, errCheck := ledger.CheckSufficientBalance(ctx, "u1", 5_000_000, "")
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if !check.Sufficient || check.KeyCode != "WK-BIG" || check.AvailableMicros != 9_000_000 {
		t.Fatalf("unexpected check %+v", check)
	}

	// The same request must then succeed on the same key.
	result, errDebit := ledger.Debit(ctx, DebitRequest{UserID: "u1", CostMicros: 5_000_000})
	if errDebit != nil {
		t.Fatalf("debit after check: %v", errDebit)
	}
	if result.KeyCode != check.KeyCode {
		t.Fatalf("check picked %s but debit charged %s", check.KeyCode, result.KeyCode)
	}
}

func TestCheckSufficientBalanceNoKey(t *testing.T) {
	ledger := newTestLedger(newMemKeyStore())

	check, errCheck := ledger.CheckSufficientBalance(context.Background(), "u1", 1_000, "")
	if errCheck != nil {
		t.Fatalf("check: %v", errCheck)
	}
	if check.Sufficient || check.KeyCode != "" {
		t.Fatalf("expected insufficient empty check, got %+v", check)
	}
}

func TestFindActiveKeyNoCandidate(t *testing.T) {
	store := newMemKeyStore(activeKey("WK-A", "u1", "openai", 1_000_000))
	ledger := newTestLedger(store)

	if _, errFind := ledger.FindActiveKey(context.Background(), "u1", "anthropic"); !errors.Is(errFind, ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", errFind)
	}
}
