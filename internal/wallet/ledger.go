// Package wallet implements the prepaid balance ledger: selecting the key
// to charge, verifying funds, and applying each debit exactly once.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/pricing"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// debitAttempts bounds how often a debit re-reads and retries after its
// conditional write loses a race to a concurrent debit on the same key.
const debitAttempts = 3

// errDebitContention is wrapped into a StorageError when the conditional
// write keeps failing even though every re-read still looks chargeable.
var errDebitContention = errors.New("conditional update kept failing")

// DebitRequest describes one charge against a user's wallet. CostMicros
// takes precedence when positive; otherwise the cost is derived from the
// provider/model/unit-count triple via the price table.
type DebitRequest struct {
	UserID      string
	KeyCode     string // optional explicit key; selection runs when empty
	CostMicros  int64
	Provider    string
	Model       string
	InputUnits  int64
	OutputUnits int64
	Description string
}

// DebitResult reports an applied debit.
type DebitResult struct {
	KeyCode         string
	CostMicros      int64
	RemainingMicros int64
	Status          string
	Message         string
}

// Status aggregates a user's wallet across all keys.
type Status struct {
	UserID           string
	TotalMicros      int64
	ActiveKeyCount   int
	PrimaryKeyCode   string
	PrimaryRemaining int64
}

// BalanceCheck is the result of a pre-flight funds check.
type BalanceCheck struct {
	Sufficient      bool
	AvailableMicros int64
	KeyCode         string
}

// Ledger orchestrates key selection, balance verification, and debit
// application on top of a KeyStore.
type Ledger struct {
	store  KeyStore
	pricer *pricing.Pricer
}

// NewLedger constructs a Ledger.
func NewLedger(store KeyStore, pricer *pricing.Pricer) *Ledger {
	if pricer == nil {
		pricer = pricing.NewPricer(nil, 0)
	}
	return &Ledger{store: store, pricer: pricer}
}

// Debit charges a user's wallet once. Preconditions are checked in order,
// each with its own failure kind, and no mutation happens before all of
// them pass: valid input, a resolvable key, ownership, ACTIVE status, and
// sufficient remaining balance. The increment, audit stamps, and the
// DEPLETED transition land in a single conditional write.
func (l *Ledger) Debit(ctx context.Context, req DebitRequest) (*DebitResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}

	cost := req.CostMicros
	if cost == 0 && req.InputUnits+req.OutputUnits > 0 {
		cost = l.pricer.CostMicros(req.Provider, req.Model, req.InputUnits, req.OutputUnits)
	}
	if cost <= 0 {
		return nil, fmt.Errorf("%w: cost must be positive", ErrInvalidRequest)
	}

	provider := strings.TrimSpace(req.Provider)

	keyCode := models.NormalizeKeyCode(req.KeyCode)
	if keyCode == "" {
		selected, errSelect := l.FindActiveKey(ctx, userID, provider)
		if errSelect != nil {
			return nil, errSelect
		}
		keyCode = selected.KeyCode
	}

	for attempt := 0; attempt < debitAttempts; attempt++ {
		key, errGet := l.store.Get(ctx, keyCode)
		if errGet != nil {
			if errors.Is(errGet, ErrKeyNotFound) {
				return nil, ErrKeyNotFound
			}
			return nil, wrapStorage("get key", errGet)
		}
		if key.UserID != userID {
			log.WithFields(log.Fields{
				"key":   maskKeyCode(keyCode),
				"user":  userID,
				"owner": key.UserID,
			}).Warn("wallet: rejected debit against foreign key")
			return nil, ErrKeyOwnershipMismatch
		}
		if key.Status != models.KeyStatusActive {
			return nil, &KeyNotActiveError{KeyCode: key.KeyCode, Status: key.Status}
		}
		if remaining := key.RemainingMicros(); remaining < cost {
			return nil, &InsufficientBalanceError{
				KeyCode:         key.KeyCode,
				RequiredMicros:  cost,
				AvailableMicros: remaining,
			}
		}

		now := time.Now().UTC()
		audit := buildAuditRow(key, req, cost, now)
		applied, fresh, errApply := l.store.ApplyDebit(ctx, keyCode, cost, provider, now, audit)
		if errApply != nil {
			return nil, wrapStorage("apply debit", errApply)
		}
		if !applied {
			// Another debit consumed the balance between the read and the
			// guarded write. Re-read and re-classify.
			continue
		}

		result := &DebitResult{
			KeyCode:         fresh.KeyCode,
			CostMicros:      cost,
			RemainingMicros: fresh.RemainingMicros(),
			Status:          fresh.Status,
			Message:         debitMessage(fresh, cost, provider, req.Description),
		}
		log.WithFields(log.Fields{
			"key":       maskKeyCode(fresh.KeyCode),
			"user":      userID,
			"provider":  provider,
			"cost":      pricing.FormatUSD(cost),
			"remaining": pricing.FormatUSD(result.RemainingMicros),
		}).Info("wallet: debit applied")
		return result, nil
	}

	return nil, wrapStorage("apply debit", errDebitContention)
}

// WalletStatus aggregates remaining balances over all of the user's ACTIVE
// keys and reports the key with the largest remaining balance as primary.
// A user with no keys gets zero totals, not an error.
func (l *Ledger) WalletStatus(ctx context.Context, userID string) (*Status, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}

	keys, errList := l.store.ListByUser(ctx, userID, "", false)
	if errList != nil {
		return nil, wrapStorage("list keys", errList)
	}

	status := &Status{UserID: userID}
	for i := range keys {
		if keys[i].Status != models.KeyStatusActive {
			continue
		}
		status.ActiveKeyCount++
		status.TotalMicros += keys[i].RemainingMicros()
	}
	if primary := SelectKey(keys, ""); primary != nil {
		status.PrimaryKeyCode = primary.KeyCode
		status.PrimaryRemaining = primary.RemainingMicros()
	}
	return status, nil
}

// CheckSufficientBalance runs the same selection as the debit path without
// mutating anything, so pre-flight outcomes match actual-debit outcomes.
// A user with no eligible key gets Sufficient=false, not an error.
func (l *Ledger) CheckSufficientBalance(ctx context.Context, userID string, requiredMicros int64, provider string) (*BalanceCheck, error) {
	if requiredMicros <= 0 {
		return nil, fmt.Errorf("%w: required amount must be positive", ErrInvalidRequest)
	}

	key, errFind := l.FindActiveKey(ctx, userID, provider)
	if errFind != nil {
		if errors.Is(errFind, ErrNoActiveKey) {
			return &BalanceCheck{}, nil
		}
		return nil, errFind
	}

	remaining := key.RemainingMicros()
	return &BalanceCheck{
		Sufficient:      remaining >= requiredMicros,
		AvailableMicros: remaining,
		KeyCode:         key.KeyCode,
	}, nil
}

// FindActiveKey exposes the selection policy standalone: the ACTIVE key
// for userID, filtered by provider when given, with the largest remaining
// balance. The decision is advisory; the debit path re-verifies the key's
// balance inside its guarded write.
func (l *Ledger) FindActiveKey(ctx context.Context, userID, provider string) (*models.Key, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}

	keys, errList := l.store.ListByUser(ctx, userID, provider, true)
	if errList != nil {
		return nil, wrapStorage("list keys", errList)
	}

	key := SelectKey(keys, provider)
	if key == nil {
		return nil, ErrNoActiveKey
	}
	return key, nil
}

// buildAuditRow prepares the transaction row persisted with a debit. The
// store fills RemainingMicros once the guarded write has landed.
func buildAuditRow(key *models.Key, req DebitRequest, costMicros int64, at time.Time) *models.Transaction {
	row := &models.Transaction{
		KeyCode:     key.KeyCode,
		UserID:      key.UserID,
		Provider:    strings.TrimSpace(req.Provider),
		Model:       strings.TrimSpace(req.Model),
		InputUnits:  req.InputUnits,
		OutputUnits: req.OutputUnits,
		CostMicros:  costMicros,
		Description: strings.TrimSpace(req.Description),
		RequestedAt: at,
	}

	detail := map[string]any{
		"provider": row.Provider,
	}
	if row.Model != "" {
		detail["model"] = row.Model
	}
	if req.InputUnits > 0 {
		detail["input_units"] = req.InputUnits
	}
	if req.OutputUnits > 0 {
		detail["output_units"] = req.OutputUnits
	}
	if req.CostMicros > 0 {
		detail["cost_supplied"] = true
	}
	if payload, errMarshal := json.Marshal(detail); errMarshal == nil {
		row.Detail = datatypes.JSON(payload)
	}
	return row
}

// debitMessage builds the human-readable confirmation for a debit.
func debitMessage(key *models.Key, costMicros int64, provider, description string) string {
	msg := fmt.Sprintf("charged %s to key %s", pricing.FormatUSD(costMicros), key.KeyCode)
	if provider != "" {
		msg += " for " + provider
	}
	if description = strings.TrimSpace(description); description != "" {
		msg += " (" + description + ")"
	}
	if key.Status == models.KeyStatusDepleted {
		msg += "; key is now depleted"
	}
	return msg
}

// maskKeyCode obscures a wallet code for logging.
func maskKeyCode(code string) string {
	if len(code) > 8 {
		return code[:4] + "..." + code[len(code)-4:]
	}
	if len(code) > 4 {
		return code[:2] + "..." + code[len(code)-2:]
	}
	return code
}
