package wallet

import (
	"github.com/metergate/walletledger/internal/models"
)

// SelectKey picks the key to charge among candidates: the ACTIVE key
// matching the provider filter with the largest remaining balance. Equal
// balances are broken by the lexicographically smallest key code so that
// selection is deterministic for a fixed snapshot. Returns nil when no
// candidate qualifies.
func SelectKey(keys []models.Key, provider string) *models.Key {
	var best *models.Key
	for i := range keys {
		key := &keys[i]
		if key.Status != models.KeyStatusActive {
			continue
		}
		if !key.MatchesProvider(provider) {
			continue
		}
		if best == nil {
			best = key
			continue
		}
		remaining, bestRemaining := key.RemainingMicros(), best.RemainingMicros()
		if remaining > bestRemaining {
			best = key
			continue
		}
		if remaining == bestRemaining && key.KeyCode < best.KeyCode {
			best = key
		}
	}
	return best
}
