package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
)

type ChangeHandler func(value interface{})

type subscription struct {
	key         string
	unsubscribe types.Unsubscribe
	closed      atomic.Bool
	once        sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(func() {
		s.closed.Store(true)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// SubscribeToContent keeps key current from the remote store while real-time
// updates are enabled. Each change refreshes the cache, invalidates the
// dependents of key and is handed to onChange (nil on deletion). Only one
// watch per key exists; subscribing again replaces the previous one.
func (b *Bridge) SubscribeToContent(ctx context.Context, key string, onChange ChangeHandler) types.Unsubscribe {
	if !b.policies.GetGlobalConfig().EnableRealtime {
		b.logger.Debug("Real-time updates disabled, subscription ignored", zap.String("key", key))
		return func() {}
	}

	b.mu.Lock()
	previous := b.subscriptions[key]
	delete(b.subscriptions, key)
	b.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}

	sub := &subscription{key: key}

	unsubscribe, err := b.store.Watch(ctx, key, func(doc *types.Document) {
		if sub.closed.Load() {
			return
		}
		b.applyChange(key, doc, onChange)
	})
	if err != nil {
		b.logger.Error("Failed to subscribe to content", zap.String("key", key), zap.Error(err))
		b.record(types.SyncEvent{Type: types.EventError, ContentKey: key, Error: err.Error()})
		return func() {}
	}
	sub.unsubscribe = unsubscribe

	b.mu.Lock()
	displaced := b.subscriptions[key]
	b.subscriptions[key] = sub
	b.mu.Unlock()

	if displaced != nil {
		displaced.cancel()
	}

	b.logger.Debug("Subscribed to content", zap.String("key", key))

	return func() {
		b.mu.Lock()
		if b.subscriptions[key] == sub {
			delete(b.subscriptions, key)
		}
		b.mu.Unlock()

		sub.cancel()
	}
}

// applyChange treats the remote value as authoritative and overwrites the
// cached one without a version check.
func (b *Bridge) applyChange(key string, doc *types.Document, onChange ChangeHandler) {
	var value interface{}

	if doc == nil {
		b.cache.Clear(key, types.AllContentKey)
	} else {
		value = doc.Data
		b.cache.Set(key, value)
		b.cache.Clear(types.AllContentKey)
	}

	b.InvalidateDependents(key)

	if onChange != nil {
		onChange(value)
	}
}

// InvalidateDependents clears every key that transitively depends on key,
// leaving key itself untouched.
func (b *Bridge) InvalidateDependents(key string) []string {
	return b.invalidate(key, false)
}
