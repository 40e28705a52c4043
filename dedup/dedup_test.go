package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisClaims(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	c := NewRedisClaims(rdb, time.Minute)
	ctx := context.Background()
	const url = "https://shop.test/product/gecko-hide"

	ok, err := c.Claim(ctx, url)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected first claim to succeed")
	}

	ok, err = c.Claim(ctx, url)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("expected second claim to be refused")
	}

	if ttl := s.TTL(keyPrefix + hashURL(url)); ttl != time.Minute {
		t.Fatalf("ttl = %s, want 1m", ttl)
	}

	if err := c.Release(ctx, url); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = c.Claim(ctx, url)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim after release to succeed")
	}
}

func TestRedisClaimsExpire(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	c := NewRedisClaims(rdb, time.Minute)
	ctx := context.Background()
	if ok, _ := c.Claim(ctx, "https://shop.test/p/1"); !ok {
		t.Fatalf("expected claim")
	}
	s.FastForward(2 * time.Minute)
	if ok, _ := c.Claim(ctx, "https://shop.test/p/1"); !ok {
		t.Fatalf("expected expired claim to be reclaimable")
	}
}

func TestRedisClaimsUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s.Close()

	if _, err := NewRedisClaims(rdb, time.Minute).Claim(context.Background(), "https://shop.test/p/1"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

func TestLocalClaims(t *testing.T) {
	c := NewLocalClaims(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := c.Claim(ctx, "a"); !ok {
		t.Fatalf("expected first claim")
	}
	if ok, _ := c.Claim(ctx, "a"); ok {
		t.Fatalf("expected second claim to be refused")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := c.Claim(ctx, "a"); !ok {
		t.Fatalf("expected expired claim to be reclaimable")
	}
	_ = c.Release(ctx, "a")
	if ok, _ := c.Claim(ctx, "a"); !ok {
		t.Fatalf("expected claim after release")
	}
}
