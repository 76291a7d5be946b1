// Package cache provides a short-lived Redis cache for wallet status
// queries, the one read path hot enough to sit in front of the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/metergate/walletledger/internal/config"
	"github.com/metergate/walletledger/internal/wallet"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Key prefixes namespacing cache entries in Redis.
const (
	statusKeyPrefix  = "walletledger:status:"
	versionKeyPrefix = "walletledger:statusver:"
)

// statusEnvelope is the stored payload. Version records the per-user
// write counter the snapshot was computed against; a snapshot whose
// version no longer matches the counter is never served.
type statusEnvelope struct {
	Version uint64        `json:"version"`
	Status  wallet.Status `json:"status"`
}

// StatusCache caches wallet status per user. Every balance write bumps the
// user's version counter, so a status snapshot read from the database
// before a concurrent debit cannot be stored over that debit's
// invalidation and then served stale. All methods are safe on a nil
// receiver so callers can wire it unconditionally; a nil cache is a miss.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache builds a StatusCache from configuration. Returns nil when
// no Redis address is configured.
func NewStatusCache(cfg config.RedisConfig) *StatusCache {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &StatusCache{client: client, ttl: cfg.StatusTTLDuration()}
}

// GetStatus returns the cached status for userID, if present and still
// current. The returned version token must be read before the caller
// recomputes the status and passed back to SetStatus, so that any write
// landing in between makes the recomputed snapshot unservable.
func (c *StatusCache) GetStatus(ctx context.Context, userID string) (*wallet.Status, uint64, bool) {
	if c == nil || c.client == nil {
		return nil, 0, false
	}

	version := c.currentVersion(ctx, userID)

	payload, errGet := c.client.Get(ctx, statusKeyPrefix+userID).Bytes()
	if errGet != nil {
		if !errors.Is(errGet, redis.Nil) {
			log.WithError(errGet).Debug("status cache: get failed")
		}
		return nil, version, false
	}

	var envelope statusEnvelope
	if errUnmarshal := json.Unmarshal(payload, &envelope); errUnmarshal != nil {
		return nil, version, false
	}
	if envelope.Version != version {
		return nil, version, false
	}
	return &envelope.Status, version, true
}

// SetStatus stores a status snapshot with the configured TTL, stamped with
// the version token its read started from.
func (c *StatusCache) SetStatus(ctx context.Context, status *wallet.Status, version uint64) {
	if c == nil || c.client == nil || status == nil {
		return
	}

	payload, errMarshal := json.Marshal(statusEnvelope{Version: version, Status: *status})
	if errMarshal != nil {
		return
	}
	if errSet := c.client.Set(ctx, statusKeyPrefix+status.UserID, payload, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("status cache: set failed")
	}
}

// Invalidate bumps the user's version counter and drops the stored
// snapshot. Called after any write that changes the user's balances. The
// counter outlives the snapshot TTL so a stale snapshot can never outlive
// the counter that rejects it.
func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.client == nil {
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, versionKeyPrefix+userID)
	pipe.Expire(ctx, versionKeyPrefix+userID, 10*c.ttl)
	pipe.Del(ctx, statusKeyPrefix+userID)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		log.WithError(errExec).Debug("status cache: invalidate failed")
	}
}

// Close releases the underlying Redis connection.
func (c *StatusCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// currentVersion reads the user's write counter; a missing counter is
// version zero.
func (c *StatusCache) currentVersion(ctx context.Context, userID string) uint64 {
	version, errGet := c.client.Get(ctx, versionKeyPrefix+userID).Uint64()
	if errGet != nil {
		return 0
	}
	return version
}
