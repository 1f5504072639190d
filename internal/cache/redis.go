package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached session may lag behind the store when
// an invalidation is lost. Entries live between DefaultTTL and 1.2x of it.
const DefaultTTL = 10 * time.Minute

// Sessions are stored as JSON under cartsubs:session:<id>.
const keyPrefix = "cartsubs:session:"

type Option func(*RedisCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// RedisCache keeps read copies of sessions in front of the session store.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, opts ...Option) *RedisCache {
	c := &RedisCache{rdb: rdb, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// expiry spreads entries written together so they do not lapse together.
func (c *RedisCache) expiry() time.Duration {
	spread := c.ttl / 5
	if spread <= 0 {
		return c.ttl
	}
	return c.ttl + rand.N(spread)
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := c.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("read cached session %s: %w", sessionID, err)
	}

	sess := new(domain.Session)
	if err := json.Unmarshal(raw, sess); err != nil {
		return nil, fmt.Errorf("decode cached session %s: %w", sessionID, err)
	}
	return sess, nil
}

func (c *RedisCache) Set(ctx context.Context, sessionID string, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	if err := c.rdb.Set(ctx, sessionKey(sessionID), raw, c.expiry()).Err(); err != nil {
		return fmt.Errorf("write cached session %s: %w", sessionID, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("evict cached session %s: %w", sessionID, err)
	}
	return nil
}
