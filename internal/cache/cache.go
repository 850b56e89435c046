// Package cache keeps session revocations and the public map list in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terrahash/landregistry/internal/config"
)

// SessionStore tracks logged out session ids until they would expire anyway
type SessionStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ListCache caches public list queries under a version; Invalidate moves to a
// new version so every older entry is dropped at once. Callers read Version
// once per lookup and use it for both Get and Set, so a result computed before
// an invalidation is never stored under the newer version.
type ListCache interface {
	Version(ctx context.Context) (int64, error)
	Get(ctx context.Context, version int64, key string, dst any) (bool, error)
	Set(ctx context.Context, version int64, key string, v any) error
	Invalidate(ctx context.Context) error
}

const (
	revokedPrefix  = "session:revoked:"
	listVersionKey = "publiclist:version"
)

// Redis implements SessionStore and ListCache
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var (
	_ SessionStore = (*Redis)(nil)
	_ ListCache    = (*Redis)(nil)
)

func NewRedis(cfg config.RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisWithClient(client, cfg.CacheTTL)
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

// Client exposes the connection for other Redis backed stores
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revokedPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Version(ctx context.Context) (int64, error) {
	version, err := r.client.Get(ctx, listVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read list version: %w", err)
	}
	return version, nil
}

func listKey(version int64, key string) string {
	return fmt.Sprintf("publiclist:v%d:%s", version, key)
}

func (r *Redis) Get(ctx context.Context, version int64, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, listKey(version, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, version int64, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, listKey(version, key), data, r.ttl).Err()
}

// Invalidate bumps the version; stale entries age out on their TTL.
func (r *Redis) Invalidate(ctx context.Context) error {
	return r.client.Incr(ctx, listVersionKey).Err()
}

// Noop is used when Redis is not configured
type Noop struct{}

var (
	_ SessionStore = Noop{}
	_ ListCache    = Noop{}
)

func (Noop) Revoke(context.Context, string, time.Time) error       { return nil }
func (Noop) IsRevoked(context.Context, string) (bool, error)       { return false, nil }
func (Noop) Version(context.Context) (int64, error)                { return 0, nil }
func (Noop) Get(context.Context, int64, string, any) (bool, error) { return false, nil }
func (Noop) Set(context.Context, int64, string, any) error         { return nil }
func (Noop) Invalidate(context.Context) error                      { return nil }
