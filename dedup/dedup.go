// Package dedup hands out short-lived claims on product URLs so that two
// sessions never process the same candidate at once.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "harvester:claim:url:"

// Claimer grants exclusive, expiring claims on URLs.
type Claimer interface {
	// Claim reports whether the caller now holds url.
	Claim(ctx context.Context, url string) (bool, error)
	Release(ctx context.Context, url string) error
}

// RedisClaims shares claims between processes through Redis.
type RedisClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClaims(rdb *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisClaims{
		rdb: rdb,
		ttl: ttl,
	}
}

func (c *RedisClaims) Claim(ctx context.Context, url string) (bool, error) {
	if c == nil || c.rdb == nil || url == "" {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, keyPrefix+hashURL(url), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim setnx: %w", err)
	}
	return ok, nil
}

func (c *RedisClaims) Release(ctx context.Context, url string) error {
	if c == nil || c.rdb == nil || url == "" {
		return nil
	}
	if err := c.rdb.Del(ctx, keyPrefix+hashURL(url)).Err(); err != nil {
		return fmt.Errorf("claim del: %w", err)
	}
	return nil
}

// LocalClaims keeps claims in process memory.
type LocalClaims struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewLocalClaims(ttl time.Duration) *LocalClaims {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LocalClaims{
		ttl:    ttl,
		now:    time.Now,
		claims: make(map[string]time.Time),
	}
}

func (c *LocalClaims) Claim(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.claims[url]; ok && now.Before(exp) {
		return false, nil
	}
	c.claims[url] = now.Add(c.ttl)
	return true, nil
}

func (c *LocalClaims) Release(_ context.Context, url string) error {
	c.mu.Lock()
	delete(c.claims, url)
	c.mu.Unlock()
	return nil
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
