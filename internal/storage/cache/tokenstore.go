// Package cache decorates a TokenStore with read-aside caching for the hot
// read paths: broadcast audience listing and stats.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the keys.
	Del(ctx context.Context, keys ...string) error
}

const (
	keyPrefix = "pushrelay:active:"
	statsKey  = "pushrelay:stats"
)

// CachedTokenStore is a decorator that adds read-aside caching to any
// TokenStore. Writes go to the source of truth first, then invalidate.
type CachedTokenStore struct {
	realStore push.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTokenStore(realStore push.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATHS (Read-Aside) ---

func (s *CachedTokenStore) ListActive(ctx context.Context, platform push.Platform) ([]push.Registration, error) {
	key := listKey(platform)

	var cached []push.Registration
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ListActive(ctx, platform)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down, we
	// just serve from the real store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

func (s *CachedTokenStore) Stats(ctx context.Context) (push.TokenStats, error) {
	var cached push.TokenStats
	if err := s.cache.Get(ctx, statsKey, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Stats(ctx)
	if err != nil {
		return push.TokenStats{}, err
	}
	_ = s.cache.Set(ctx, statsKey, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Upsert(ctx context.Context, reg push.Registration) (push.Registration, error) {
	saved, err := s.realStore.Upsert(ctx, reg)
	if err != nil {
		return push.Registration{}, err
	}
	return saved, s.invalidate(ctx)
}

// Deactivate must clear the cache even on a zero-row result so a removed
// device stops receiving broadcasts immediately.
func (s *CachedTokenStore) Deactivate(ctx context.Context, userID, token string) (int, error) {
	n, err := s.realStore.Deactivate(ctx, userID, token)
	if err != nil {
		return 0, err
	}
	return n, s.invalidate(ctx)
}

func (s *CachedTokenStore) DeactivateToken(ctx context.Context, token string) error {
	if err := s.realStore.DeactivateToken(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// --- Helpers ---

// invalidate drops every cached view. The next read is forced back to the
// source of truth.
func (s *CachedTokenStore) invalidate(ctx context.Context) error {
	return s.cache.Del(ctx,
		listKey(""),
		listKey(push.PlatformIOS),
		listKey(push.PlatformAndroid),
		statsKey,
	)
}

func listKey(platform push.Platform) string {
	if platform == "" {
		return keyPrefix + "all"
	}
	return fmt.Sprintf("%s%s", keyPrefix, platform)
}
