// Package cache holds the Redis read-through cache for open carts.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/hanko-field/cart/internal/domain"
)

const defaultBaseTTL = 15 * time.Minute

// CartCache stores open carts as JSON under cart:{userID}. Entries expire after the
// base TTL plus up to five minutes of jitter so a burst of writes does not expire together.
type CartCache struct {
	client  *redis.Client
	baseTTL time.Duration
	jitter  func() time.Duration
	observe func(result string)
}

type Option func(*CartCache)

// WithTTL overrides the base TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *CartCache) {
		if ttl > 0 {
			c.baseTTL = ttl
		}
	}
}

// WithObserver receives "hit", "miss" or "error" for every Get.
func WithObserver(observe func(result string)) Option {
	return func(c *CartCache) {
		if observe != nil {
			c.observe = observe
		}
	}
}

func withJitter(jitter func() time.Duration) Option {
	return func(c *CartCache) { c.jitter = jitter }
}

func NewCartCache(client *redis.Client, opts ...Option) *CartCache {
	c := &CartCache{
		client:  client,
		baseTTL: defaultBaseTTL,
		jitter:  func() time.Duration { return time.Duration(rand.Intn(5)) * time.Minute },
		observe: func(string) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached cart for userID; a miss is (zero, false, nil).
func (c *CartCache) Get(ctx context.Context, userID string) (domain.Cart, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.observe("miss")
		return domain.Cart{}, false, nil
	}
	if err != nil {
		c.observe("error")
		return domain.Cart{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		c.observe("error")
		return domain.Cart{}, false, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	c.observe("hit")
	return cart, true, nil
}

func (c *CartCache) Set(ctx context.Context, cart domain.Cart) error {
	if cart.UserID == "" {
		return errors.New("cache: cart without user id")
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(cart.UserID), payload, c.baseTTL+c.jitter()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CartCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable; used by the readiness probe.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
