package wallet

import (
	"context"
	"time"

	"github.com/metergate/walletledger/internal/models"
)

// KeyStore is the persistence boundary the ledger depends on. The concrete
// store must provide read-your-writes consistency on a single key; it is
// not assumed to provide multi-operation transactions, which is why
// ApplyDebit carries the balance guard into a single storage operation.
type KeyStore interface {
	// Get loads a key by its normalized code. Returns ErrKeyNotFound when
	// no such key exists; any other error is a storage failure.
	Get(ctx context.Context, keyCode string) (*models.Key, error)

	// ListByUser returns all keys owned by userID. A non-empty provider
	// restricts the result to keys chargeable for that provider, and
	// activeOnly restricts it to ACTIVE keys.
	ListByUser(ctx context.Context, userID, provider string, activeOnly bool) ([]models.Key, error)

	// ApplyDebit atomically adds amountMicros to the key's usage, stamps
	// the audit fields, and flips the key to DEPLETED when the write
	// consumes the remaining balance. The increment is applied only while
	// the key is ACTIVE and amountMicros does not exceed the remaining
	// balance; otherwise applied is false and nothing is written. On
	// success the audit row, when non-nil, is persisted with the debit and
	// the returned key reflects the post-debit state.
	ApplyDebit(ctx context.Context, keyCode string, amountMicros int64, provider string, at time.Time, audit *models.Transaction) (applied bool, key *models.Key, err error)
}
