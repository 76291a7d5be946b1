package models

import (
	"strings"
	"time"
)

// Key statuses. Spending is only permitted while a key is active; any other
// status excludes the key from selection and from debiting.
const (
	// KeyStatusActive marks a key that can be selected and debited.
	KeyStatusActive = "ACTIVE"
	// KeyStatusDepleted marks a key whose remaining balance reached zero.
	KeyStatusDepleted = "DEPLETED"
	// KeyStatusRevoked marks a key disabled by an operator.
	KeyStatusRevoked = "REVOKED"
)

// Key represents a prepaid metered wallet scoped to a user and optionally
// to a single upstream provider. All monetary amounts are stored as int64
// micro-USD to avoid floating-point drift across many small debits.
type Key struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	KeyCode string `gorm:"type:text;not null;uniqueIndex"` // Uppercase wallet code, primary lookup key.
	UserID  string `gorm:"type:text;not null;index"`       // Owning user identity.
	Name    string `gorm:"type:text"`                      // Display name for the key.

	Provider string `gorm:"type:text;index"` // Upstream provider scope; empty means unscoped.

	BalanceMicros int64 `gorm:"not null;default:0"` // Funded amount in micro-USD; set at funding time.
	UsedMicros    int64 `gorm:"not null;default:0"` // Cumulative debited amount in micro-USD.

	Status string `gorm:"type:text;not null;default:ACTIVE;index"` // Current key status.

	LastUsedAt   *time.Time // Last successful debit time.
	LastProvider string     `gorm:"type:text"` // Provider charged by the last debit.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// RemainingMicros returns the spendable amount left on the key.
func (k *Key) RemainingMicros() int64 {
	return k.BalanceMicros - k.UsedMicros
}

// MatchesProvider reports whether the key may be charged for the given
// provider. An unscoped key (empty provider) matches any provider.
func (k *Key) MatchesProvider(provider string) bool {
	provider = strings.TrimSpace(provider)
	if provider == "" || k.Provider == "" {
		return true
	}
	return strings.EqualFold(k.Provider, provider)
}

// NormalizeKeyCode canonicalizes a wallet code for lookup.
func NormalizeKeyCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
