package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-content/local"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type Option func(*Bridge)

// WithLocalFallback serves values from the local snapshot when the remote
// store fails and nothing is cached.
func WithLocalFallback(store *local.Store) Option {
	return func(b *Bridge) {
		b.local = store
	}
}

func WithClock(clock types.Clock) Option {
	return func(b *Bridge) {
		b.clock = clock
	}
}

// Bridge reads content through the cache, falls back to stale or local
// values when the remote store is down, and keeps the cache current from
// real-time watches.
type Bridge struct {
	logger   types.Logger
	policies types.PolicyManager
	cache    types.CacheStore
	store    types.DocumentStore
	recorder types.EventRecorder
	local    *local.Store
	clock    types.Clock

	mu            sync.Mutex
	subscriptions map[string]*subscription
}

func NewBridge(logger types.Logger, policies types.PolicyManager, cache types.CacheStore, store types.DocumentStore, recorder types.EventRecorder, opts ...Option) *Bridge {
	b := &Bridge{
		logger:        logger,
		policies:      policies,
		cache:         cache,
		store:         store,
		recorder:      recorder,
		subscriptions: make(map[string]*subscription),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.clock == nil {
		b.clock = utils.NewSystemClock()
	}

	return b
}

// GetContent returns the value of key. The bool is false only when neither
// the remote store, the cache nor the local snapshot has it.
func (b *Bridge) GetContent(ctx context.Context, key string) (interface{}, bool) {
	// an expired entry is evicted by Get, keep it for the stale fallback
	stale, hasStale := b.cache.Peek(key)

	if value, ok := b.cache.Get(key); ok {
		b.record(types.SyncEvent{Type: types.EventCacheHit, ContentKey: key, Success: true})
		return value, true
	}

	b.record(types.SyncEvent{Type: types.EventCacheMiss, ContentKey: key, Success: true})

	start := b.clock.Now()
	var doc *types.Document
	err := b.withRetry(ctx, "fetch", key, func(ctx context.Context) error {
		var err error
		doc, err = b.store.Get(ctx, key)
		return err
	})
	elapsed := b.clock.Now().Sub(start)

	if err == nil {
		b.cache.Set(key, doc.Data)
		b.record(types.SyncEvent{Type: types.EventFetch, ContentKey: key, Duration: &elapsed, Success: true})
		return doc.Data, true
	}

	b.logger.Error("Failed to fetch content", zap.String("key", key), zap.Error(err))
	b.record(types.SyncEvent{Type: types.EventFetch, ContentKey: key, Duration: &elapsed, Error: err.Error()})

	if hasStale {
		return b.serveStale(stale)
	}
	return b.fallback(key)
}

// Get decodes the content of key into T.
func Get[T any](ctx context.Context, b *Bridge, key string) (T, bool) {
	var out T

	value, ok := b.GetContent(ctx, key)
	if !ok || value == nil {
		return out, false
	}

	if err := utils.Decode(value, &out); err != nil {
		b.logger.Warn("Content does not match requested type", zap.String("key", key), zap.Error(err))
		return out, false
	}

	return out, true
}

// serveStale returns an expired entry and puts it back so later reads keep
// finding it while the remote store stays down.
func (b *Bridge) serveStale(entry types.ContentEntry) (interface{}, bool) {
	b.cache.Restore(entry)
	b.logger.Warn("Serving stale content", zap.String("key", entry.Key), zap.Time("fetched_at", entry.FetchedAt))
	return entry.Value, true
}

// fallback serves the local snapshot when nothing was ever cached.
func (b *Bridge) fallback(key string) (interface{}, bool) {
	if b.local == nil {
		return nil, false
	}

	if key == types.AllContentKey {
		db, err := b.local.Load()
		if err != nil {
			b.logger.Warn("Local fallback unavailable", zap.Error(err))
			return nil, false
		}
		b.logger.Warn("Serving local content snapshot", zap.Int("keys", len(db)))
		return db, true
	}

	value, ok, err := b.local.Value(key)
	if err != nil {
		b.logger.Warn("Local fallback unavailable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if ok {
		b.logger.Warn("Serving local content", zap.String("key", key))
	}
	return value, ok
}

// GetAllContent returns every document keyed by content key, cached under
// the reserved "_all" slot.
func (b *Bridge) GetAllContent(ctx context.Context) (types.ContentDatabase, bool) {
	stale, hasStale := b.cache.Peek(types.AllContentKey)

	if value, ok := b.cache.Get(types.AllContentKey); ok {
		b.record(types.SyncEvent{Type: types.EventCacheHit, ContentKey: types.AllContentKey, Success: true})
		return toDatabase(value), true
	}

	b.record(types.SyncEvent{Type: types.EventCacheMiss, ContentKey: types.AllContentKey, Success: true})

	start := b.clock.Now()
	var docs map[string]*types.Document
	err := b.withRetry(ctx, "fetch", types.AllContentKey, func(ctx context.Context) error {
		var err error
		docs, err = b.store.List(ctx)
		return err
	})
	elapsed := b.clock.Now().Sub(start)

	if err == nil {
		db := make(types.ContentDatabase, len(docs))
		for key, doc := range docs {
			db[key] = doc.Data
		}

		b.cache.Set(types.AllContentKey, db)
		b.record(types.SyncEvent{Type: types.EventFetch, ContentKey: types.AllContentKey, Duration: &elapsed, Success: true})
		return db, true
	}

	b.logger.Error("Failed to fetch all content", zap.Error(err))
	b.record(types.SyncEvent{Type: types.EventFetch, ContentKey: types.AllContentKey, Duration: &elapsed, Error: err.Error()})

	if hasStale {
		value, _ := b.serveStale(stale)
		return toDatabase(value), true
	}

	value, ok := b.fallback(types.AllContentKey)
	if !ok {
		return nil, false
	}
	return toDatabase(value), true
}

func toDatabase(value interface{}) types.ContentDatabase {
	switch db := value.(type) {
	case types.ContentDatabase:
		return db
	case map[string]interface{}:
		return db
	default:
		return types.ContentDatabase{}
	}
}

// PushContent merge-upserts value under key with fresh metadata. It never
// returns an error; a false result means every attempt failed.
func (b *Bridge) PushContent(ctx context.Context, key string, value interface{}) bool {
	global := b.policies.GetGlobalConfig()

	doc := types.NewDocument(value, types.DocumentMeta{
		UpdatedAt: b.clock.Now().UTC(),
		Source:    global.Source,
		Version:   global.Version,
	})

	start := b.clock.Now()
	err := b.withRetry(ctx, "push", key, func(ctx context.Context) error {
		return b.store.Upsert(ctx, key, doc)
	})
	elapsed := b.clock.Now().Sub(start)

	if err != nil {
		b.logger.Error("Failed to push content", zap.String("key", key), zap.Error(err))
		b.record(types.SyncEvent{Type: types.EventError, ContentKey: key, Duration: &elapsed, Error: err.Error()})
		return false
	}

	b.cache.Set(key, value)
	b.cache.Clear(types.AllContentKey)
	b.record(types.SyncEvent{Type: types.EventPush, ContentKey: key, Duration: &elapsed, Success: true})
	return true
}

// PushAllContent pushes every key concurrently and waits for all of them.
func (b *Bridge) PushAllContent(ctx context.Context, db types.ContentDatabase) bool {
	var failed atomic.Int32
	var g errgroup.Group

	for key, value := range db {
		g.Go(func() error {
			if !b.PushContent(ctx, key, value) {
				failed.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		b.logger.Warn("Bulk push incomplete", zap.Int32("failed", n), zap.Int("total", len(db)))
		return false
	}
	return true
}

// ShouldRevalidate reports whether key has no cache entry or its entry is
// older than the revalidation interval.
func (b *Bridge) ShouldRevalidate(key string) bool {
	entry, ok := b.cache.Peek(key)
	if !ok {
		return true
	}

	ttl := b.policies.GetContentConfig(key).TTL()
	if ttl <= 0 {
		ttl = b.policies.GetGlobalConfig().CacheTimeout
	}

	return b.clock.Now().Sub(entry.FetchedAt) > ttl
}

// InvalidateContent drops key and, transitively, every key that depends on
// it. It returns the dependents that were invalidated.
func (b *Bridge) InvalidateContent(key string) []string {
	return b.invalidate(key, true)
}

func (b *Bridge) invalidate(key string, includeSelf bool) []string {
	if includeSelf {
		b.cache.Clear(key, types.AllContentKey)
	}

	visited := map[string]bool{key: true}
	queue := []string{key}
	var invalidated []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependent := range b.policies.GetDependentKeys(current) {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true

			b.cache.Clear(dependent)
			b.record(types.SyncEvent{Type: types.EventRevalidation, ContentKey: dependent, Success: true})
			invalidated = append(invalidated, dependent)
			queue = append(queue, dependent)
		}
	}

	if len(invalidated) > 0 {
		b.logger.Debug("Dependent content invalidated", zap.String("key", key), zap.Strings("dependents", invalidated))
	}

	return invalidated
}

func (b *Bridge) ClearCache(keys ...string) {
	b.cache.Clear(keys...)
}

func (b *Bridge) CacheStats() types.CacheStats {
	return b.cache.Stats()
}

// Close tears down every real-time subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
}

// withRetry runs op up to RetryAttempts times, sleeping RetryDelay*attempt
// between tries. A missing document is final and is not retried.
func (b *Bridge) withRetry(ctx context.Context, operation, key string, op func(ctx context.Context) error) error {
	global := b.policies.GetGlobalConfig()
	attempts := global.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}

		if types.IsError(err, types.ErrDocumentNotFound) || ctx.Err() != nil {
			return err
		}

		b.logger.Warn("Content operation failed",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err))

		if attempt == attempts {
			break
		}

		if sleepErr := b.clock.Sleep(ctx, global.RetryDelay*time.Duration(attempt)); sleepErr != nil {
			return types.WrapError(err, sleepErr.Error())
		}
	}

	return err
}

func (b *Bridge) record(event types.SyncEvent) {
	if b.recorder == nil {
		return
	}
	b.recorder.RecordEvent(event)
}
