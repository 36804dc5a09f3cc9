package database

import (
	"sync"

	"github.com/saiset-co/sai-content/types"
)

// listenerRegistry fans document changes out to in-process watchers.
type listenerRegistry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]types.DocumentListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		listeners: make(map[string]map[uint64]types.DocumentListener),
	}
}

func (r *listenerRegistry) add(key string, listener types.DocumentListener) types.Unsubscribe {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.listeners[key] == nil {
		r.listeners[key] = make(map[uint64]types.DocumentListener)
	}
	r.listeners[key][id] = listener
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			delete(r.listeners[key], id)
			if len(r.listeners[key]) == 0 {
				delete(r.listeners, key)
			}
		})
	}
}

func (r *listenerRegistry) notify(key string, doc *types.Document) {
	r.mu.Lock()
	out := make([]types.DocumentListener, 0, len(r.listeners[key]))
	for _, l := range r.listeners[key] {
		out = append(out, l)
	}
	r.mu.Unlock()

	for _, l := range out {
		l(doc)
	}
}

func (r *listenerRegistry) reset() {
	r.mu.Lock()
	r.listeners = make(map[string]map[uint64]types.DocumentListener)
	r.mu.Unlock()
}
