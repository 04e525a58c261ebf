package tenantcache

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const invalidationChannel = "promptgate:tenant_cache:invalidate"

// Invalidator fans out cache invalidations across every gateway instance
// via Redis pub/sub, so a key revocation or config edit on one instance
// evicts the entry everywhere rather than only locally (a single-process
// Cache has no way to see writes made through another instance's API).
type Invalidator struct {
	rdb    *redis.Client
	cache  *Cache
	logger *slog.Logger
}

// NewInvalidator wires cache to rdb. Call Run in a goroutine to start
// listening for invalidations published by other instances.
func NewInvalidator(rdb *redis.Client, cache *Cache, logger *slog.Logger) *Invalidator {
	return &Invalidator{rdb: rdb, cache: cache, logger: logger}
}

// PublishKeyHash evicts keyHash locally and tells every other instance to
// do the same.
func (inv *Invalidator) PublishKeyHash(ctx context.Context, keyHash string) {
	inv.cache.Invalidate(keyHash)
	if err := inv.rdb.Publish(ctx, invalidationChannel, "key:"+keyHash).Err(); err != nil {
		inv.logger.Error("publishing cache invalidation", "error", err)
	}
}

// PublishTenant evicts every entry for tenantID locally and tells every
// other instance to do the same.
func (inv *Invalidator) PublishTenant(ctx context.Context, tenantID uuid.UUID) {
	inv.cache.InvalidateAllForTenant(tenantID)
	if err := inv.rdb.Publish(ctx, invalidationChannel, "tenant:"+tenantID.String()).Err(); err != nil {
		inv.logger.Error("publishing cache invalidation", "error", err)
	}
}

// Run subscribes to the invalidation channel and applies every message,
// including those this instance published itself (re-applying a
// self-originated invalidation is harmless — the entry is already gone —
// so no origin tagging is needed). It blocks until ctx is cancelled.
func (inv *Invalidator) Run(ctx context.Context) error {
	pubsub := inv.rdb.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	inv.logger.Info("tenant cache invalidation listener started", "channel", invalidationChannel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			inv.apply(msg.Payload)
		}
	}
}

func (inv *Invalidator) apply(payload string) {
	switch {
	case strings.HasPrefix(payload, "key:"):
		inv.cache.Invalidate(strings.TrimPrefix(payload, "key:"))
	case strings.HasPrefix(payload, "tenant:"):
		id, err := uuid.Parse(strings.TrimPrefix(payload, "tenant:"))
		if err != nil {
			inv.logger.Warn("invalid tenant invalidation payload", "payload", payload)
			return
		}
		inv.cache.InvalidateAllForTenant(id)
	default:
		inv.logger.Warn("unrecognized cache invalidation payload", "payload", payload)
	}
}
