// Package cache keeps per-actor membership snapshots in Redis so the
// identity layer does not hit PostgreSQL on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/config"
	"github.com/unionlegal/platform/internal/shared/types"
)

const keyPrefix = "platform:memberships:"

// MembershipLoader reads an actor's memberships from the system of record.
type MembershipLoader interface {
	MembershipsOf(ctx context.Context, actorID types.ID) ([]auth.Membership, error)
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// MembershipCache is a read-through cache in front of a MembershipLoader.
// Redis failures degrade to the loader.
type MembershipCache struct {
	client *redis.Client
	loader MembershipLoader
	ttl    time.Duration
	log    *zap.Logger
}

// NewMembershipCache creates a membership cache.
func NewMembershipCache(client *redis.Client, loader MembershipLoader, ttl time.Duration, log *zap.Logger) *MembershipCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MembershipCache{client: client, loader: loader, ttl: ttl, log: log}
}

// Key returns the cache key for an actor.
func Key(actorID types.ID) string {
	return keyPrefix + actorID.String()
}

// MembershipsOf returns the cached memberships for actorID, loading them on a miss.
func (c *MembershipCache) MembershipsOf(ctx context.Context, actorID types.ID) ([]auth.Membership, error) {
	raw, err := c.client.Get(ctx, Key(actorID)).Bytes()
	switch {
	case err == nil:
		var memberships []auth.Membership
		if jsonErr := json.Unmarshal(raw, &memberships); jsonErr == nil {
			return memberships, nil
		}
		c.log.Warn("discarding corrupt membership cache entry", zap.String("actor_id", actorID.String()))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("membership cache read failed", zap.String("actor_id", actorID.String()), zap.Error(err))
	}

	memberships, err := c.loader.MembershipsOf(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(memberships); err == nil {
		if err := c.client.Set(ctx, Key(actorID), data, c.ttl).Err(); err != nil {
			c.log.Warn("membership cache write failed", zap.String("actor_id", actorID.String()), zap.Error(err))
		}
	}
	return memberships, nil
}

// Invalidate drops the cached entry for actorID.
func (c *MembershipCache) Invalidate(ctx context.Context, actorID types.ID) error {
	if err := c.client.Del(ctx, Key(actorID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate membership cache: %w", err)
	}
	return nil
}
