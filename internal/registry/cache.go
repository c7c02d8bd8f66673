package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"seedwatch/internal/metrics"
	"seedwatch/internal/model"
)

// dueListKey and entryKeyPrefix are the Redis key scheme; InMemoryCache uses
// equivalent map keys for symmetry.
const (
	dueListKey     = "registry:due"
	entryKeyPrefix = "registry:entry:"
)

// Backend is the cache storage interface Cache drives. Either backend may
// be consulted and found empty (a miss), in which case Cache falls through
// to Store and repopulates it.
type Backend interface {
	GetEntry(ctx context.Context, authID string) (model.UserRegistryEntry, bool, error)
	SetEntry(ctx context.Context, entry model.UserRegistryEntry) error
	InvalidateEntry(ctx context.Context, authID string) error

	GetDueList(ctx context.Context) ([]model.UserRegistryEntry, bool, error)
	SetDueList(ctx context.Context, entries []model.UserRegistryEntry) error
	InvalidateDueList(ctx context.Context) error
}

// Cache wraps a Store with a Backend, invalidating the single affected entry
// and the due-user list synchronously inside every mutating call, per
// spec.md §9's cache-invalidation design note. It implements Registry.
type Cache struct {
	store   Store
	backend Backend
}

// New wraps store with backend to produce the Registry the scheduler and
// poller depend on.
func New(store Store, backend Backend) *Cache {
	return &Cache{store: store, backend: backend}
}

func (c *Cache) DueUsers(ctx context.Context, now time.Time) ([]model.UserRegistryEntry, error) {
	if cached, ok, err := c.backend.GetDueList(ctx); err == nil && ok {
		metrics.RegistryCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.RegistryCacheHits.WithLabelValues("miss").Inc()
	entries, err := c.store.DueUsers(ctx, now)
	if err != nil {
		return nil, err
	}
	_ = c.backend.SetDueList(ctx, entries)
	return entries, nil
}

func (c *Cache) Get(ctx context.Context, authID string) (model.UserRegistryEntry, error) {
	if cached, ok, err := c.backend.GetEntry(ctx, authID); err == nil && ok {
		metrics.RegistryCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.RegistryCacheHits.WithLabelValues("miss").Inc()
	entry, err := c.store.Get(ctx, authID)
	if err != nil {
		return model.UserRegistryEntry{}, err
	}
	_ = c.backend.SetEntry(ctx, entry)
	return entry, nil
}

func (c *Cache) UpdateNextPoll(ctx context.Context, authID string, nextPollAt *time.Time, nonTerminalCount int) error {
	if err := c.store.UpdateNextPoll(ctx, authID, nextPollAt, nonTerminalCount); err != nil {
		return err
	}
	return c.invalidate(ctx, authID)
}

func (c *Cache) SetStatus(ctx context.Context, authID string, status model.RegistryStatus) error {
	if err := c.store.SetStatus(ctx, authID, status); err != nil {
		return err
	}
	return c.invalidate(ctx, authID)
}

func (c *Cache) SetHasActiveRules(ctx context.Context, authID string, has bool) error {
	if err := c.store.SetHasActiveRules(ctx, authID, has); err != nil {
		return err
	}
	return c.invalidate(ctx, authID)
}

// invalidate drops the cached row for authID and the due-user list, since a
// next_poll_at/status/has_active_rules change can move this user in or out
// of the due set.
func (c *Cache) invalidate(ctx context.Context, authID string) error {
	if err := c.backend.InvalidateEntry(ctx, authID); err != nil {
		return err
	}
	return c.backend.InvalidateDueList(ctx)
}

// InMemoryCache is the Backend used when Registry.CacheBackend is not "redis": a
// single-process map guarded by a mutex, adequate for a one-instance
// deployment and for tests.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]model.UserRegistryEntry
	dueList []model.UserRegistryEntry
	hasDue  bool
}

// NewInMemoryCache returns an empty InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]model.UserRegistryEntry)}
}

func (c *InMemoryCache) GetEntry(_ context.Context, authID string) (model.UserRegistryEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[authID]
	return e, ok, nil
}

func (c *InMemoryCache) SetEntry(_ context.Context, entry model.UserRegistryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.AuthID] = entry
	return nil
}

func (c *InMemoryCache) InvalidateEntry(_ context.Context, authID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, authID)
	return nil
}

func (c *InMemoryCache) GetDueList(_ context.Context) ([]model.UserRegistryEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasDue {
		return nil, false, nil
	}
	out := make([]model.UserRegistryEntry, len(c.dueList))
	copy(out, c.dueList)
	return out, true, nil
}

func (c *InMemoryCache) SetDueList(_ context.Context, entries []model.UserRegistryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dueList = make([]model.UserRegistryEntry, len(entries))
	copy(c.dueList, entries)
	c.hasDue = true
	return nil
}

func (c *InMemoryCache) InvalidateDueList(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dueList = nil
	c.hasDue = false
	return nil
}

// RedisCache is the Backend used when Registry.CacheBackend is "redis", so the
// due-user list and registry rows survive controller restarts and can be
// shared by multiple controller instances polling the same registry.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// DefaultCacheTTL bounds staleness beyond explicit invalidation, in case an
// invalidating write is lost (process crash between store write and cache
// invalidate); one scheduler tick plus margin.
const DefaultCacheTTL = 90 * time.Second

// NewRedisCache returns a RedisCache backed by client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ttl: DefaultCacheTTL}
}

func (c *RedisCache) GetEntry(ctx context.Context, authID string) (model.UserRegistryEntry, bool, error) {
	raw, err := c.client.Get(ctx, entryKeyPrefix+authID).Bytes()
	if err == redis.Nil {
		return model.UserRegistryEntry{}, false, nil
	}
	if err != nil {
		return model.UserRegistryEntry{}, false, err
	}
	var e model.UserRegistryEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.UserRegistryEntry{}, false, err
	}
	return e, true, nil
}

func (c *RedisCache) SetEntry(ctx context.Context, entry model.UserRegistryEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKeyPrefix+entry.AuthID, raw, c.ttl).Err()
}

func (c *RedisCache) InvalidateEntry(ctx context.Context, authID string) error {
	return c.client.Del(ctx, entryKeyPrefix+authID).Err()
}

func (c *RedisCache) GetDueList(ctx context.Context) ([]model.UserRegistryEntry, bool, error) {
	raw, err := c.client.Get(ctx, dueListKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []model.UserRegistryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (c *RedisCache) SetDueList(ctx context.Context, entries []model.UserRegistryEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, dueListKey, raw, c.ttl).Err()
}

func (c *RedisCache) InvalidateDueList(ctx context.Context) error {
	return c.client.Del(ctx, dueListKey).Err()
}
