// Package store provides the GORM-backed implementation of the ledger's
// persistence boundary.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/wallet"

	"gorm.io/gorm"
)

// GormKeyStore persists wallet keys and debit transactions through GORM.
type GormKeyStore struct {
	db *gorm.DB
}

// NewGormKeyStore constructs a GormKeyStore.
func NewGormKeyStore(db *gorm.DB) *GormKeyStore { return &GormKeyStore{db: db} }

// Get loads a key by its code.
func (s *GormKeyStore) Get(ctx context.Context, keyCode string) (*models.Key, error) {
	var key models.Key
	errFind := s.db.WithContext(ctx).
		Where("key_code = ?", models.NormalizeKeyCode(keyCode)).
		Take(&key).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, wallet.ErrKeyNotFound
		}
		return nil, errFind
	}
	return &key, nil
}

// ListByUser returns the user's keys, optionally restricted to keys
// chargeable for the given provider (scoped to it or unscoped) and to
// ACTIVE keys. Rows come back in key-code order so that selection ties
// resolve the same way on every store.
func (s *GormKeyStore) ListByUser(ctx context.Context, userID, provider string, activeOnly bool) ([]models.Key, error) {
	q := s.db.WithContext(ctx).Model(&models.Key{}).Where("user_id = ?", strings.TrimSpace(userID))
	if activeOnly {
		q = q.Where("status = ?", models.KeyStatusActive)
	}
	if provider = strings.TrimSpace(provider); provider != "" {
		q = q.Where("(provider = '' OR LOWER(provider) = ?)", strings.ToLower(provider))
	}

	var keys []models.Key
	if errFind := q.Order("key_code ASC").Find(&keys).Error; errFind != nil {
		return nil, errFind
	}
	return keys, nil
}

// ApplyDebit performs the guarded increment in one UPDATE so that two
// concurrent debits can never both spend the same remaining balance:
//
//	SET used_micros = used_micros + ?
//	WHERE key_code = ? AND status = 'ACTIVE'
//	  AND balance_micros - used_micros >= ?
//
// The DEPLETED transition rides in the same statement. When the guard
// matches no row, applied is false and nothing is written.
func (s *GormKeyStore) ApplyDebit(ctx context.Context, keyCode string, amountMicros int64, provider string, at time.Time, audit *models.Transaction) (bool, *models.Key, error) {
	code := models.NormalizeKeyCode(keyCode)

	applied := false
	var out *models.Key
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Key{}).
			Where("key_code = ? AND status = ? AND balance_micros - used_micros >= ?",
				code, models.KeyStatusActive, amountMicros).
			Updates(map[string]any{
				// Right-hand sides read pre-update column values, so the
				// CASE sees the remaining balance after this increment.
				"used_micros":   gorm.Expr("used_micros + ?", amountMicros),
				"status":        gorm.Expr("CASE WHEN balance_micros - used_micros - ? <= 0 THEN ? ELSE status END", amountMicros, models.KeyStatusDepleted),
				"last_used_at":  at,
				"last_provider": provider,
				"updated_at":    at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		var fresh models.Key
		if errRead := tx.Where("key_code = ?", code).Take(&fresh).Error; errRead != nil {
			return errRead
		}
		out = &fresh

		if audit != nil {
			audit.RemainingMicros = fresh.RemainingMicros()
			if audit.RequestedAt.IsZero() {
				audit.RequestedAt = at
			}
			if errCreate := tx.Create(audit).Error; errCreate != nil {
				return errCreate
			}
		}
		return nil
	})
	if errTx != nil {
		return false, nil, errTx
	}
	return applied, out, nil
}

// Ensure GormKeyStore satisfies the ledger's store contract.
var _ wallet.KeyStore = (*GormKeyStore)(nil)
