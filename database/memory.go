package database

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// MemoryStore is an in-process document collection. Listeners are called
// synchronously after each write.
type MemoryStore struct {
	logger     types.Logger
	collection string
	docs       map[string]map[string]interface{}
	listeners  *listenerRegistry
	mu         sync.RWMutex
	state      atomic.Value
}

func NewMemoryStore(logger types.Logger, collection string) *MemoryStore {
	m := &MemoryStore{
		logger:     logger,
		collection: collection,
		docs:       make(map[string]map[string]interface{}),
		listeners:  newListenerRegistry(),
	}

	m.state.Store(StateStopped)
	return m
}

func (m *MemoryStore) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Debug("Memory document store started", zap.String("collection", m.collection))
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopped) {
		return types.ErrServerNotRunning
	}

	m.listeners.reset()
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

func (m *MemoryStore) Get(_ context.Context, key string) (*types.Document, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrDocumentNotFound, "key: %s", key)
	}

	return snapshot(raw), nil
}

func (m *MemoryStore) List(_ context.Context) (map[string]*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make(map[string]*types.Document, len(m.docs))
	for key, raw := range m.docs {
		docs[key] = snapshot(raw)
	}

	return docs, nil
}

func (m *MemoryStore) Upsert(_ context.Context, key string, doc *types.Document) error {
	if key == "" {
		return types.ErrDocumentKeyEmpty
	}
	if doc == nil {
		return types.ErrDocumentMalformed
	}

	fields, err := toRawFields(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	merged := mergeFields(m.docs[key], fields)
	m.docs[key] = merged
	m.mu.Unlock()

	m.listeners.notify(key, snapshot(merged))
	return nil
}

// Put stores a raw record as is. Used to seed legacy flat documents.
func (m *MemoryStore) Put(key string, raw map[string]interface{}) error {
	normalized, err := utils.Normalize(raw)
	if err != nil {
		return types.WrapError(err, "failed to normalize document")
	}

	fields, ok := normalized.(map[string]interface{})
	if !ok {
		return types.ErrDocumentMalformed
	}

	m.mu.Lock()
	m.docs[key] = fields
	m.mu.Unlock()

	m.listeners.notify(key, snapshot(fields))
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.docs[key]
	delete(m.docs, key)
	m.mu.Unlock()

	if existed {
		m.listeners.notify(key, nil)
	}
	return nil
}

// Watch delivers the current document, when there is one, and every later change.
func (m *MemoryStore) Watch(_ context.Context, key string, listener types.DocumentListener) (types.Unsubscribe, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	unsubscribe := m.listeners.add(key, listener)

	m.mu.RLock()
	raw, exists := m.docs[key]
	m.mu.RUnlock()

	if exists {
		listener(snapshot(raw))
	}

	return unsubscribe, nil
}

func toRawFields(doc *types.Document) (map[string]interface{}, error) {
	normalized, err := utils.Normalize(doc.Fields())
	if err != nil {
		return nil, types.Errorf(types.ErrDocumentMalformed, "%v", err)
	}

	fields, ok := normalized.(map[string]interface{})
	if !ok {
		return nil, types.ErrDocumentMalformed
	}

	return fields, nil
}

// snapshot detaches a stored record from the map held by the store.
func snapshot(raw map[string]interface{}) *types.Document {
	copied, err := utils.Normalize(raw)
	if err != nil {
		return types.NormalizeDocument(raw)
	}

	fields, ok := copied.(map[string]interface{})
	if !ok {
		return types.NormalizeDocument(raw)
	}

	return types.NormalizeDocument(fields)
}
