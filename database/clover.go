package database

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
)

// keyField holds the content key inside clover documents. Leading underscore
// keeps it out of legacy document bodies.
const keyField = "_key"

type CloverStore struct {
	db         *clover.DB
	logger     types.Logger
	config     *types.DatabaseConfig
	collection string
	listeners  *listenerRegistry
	writeMu    sync.Mutex
	state      atomic.Value
}

func NewCloverStore(logger types.Logger, config *types.DatabaseConfig, collection string) (*CloverStore, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.Errorf(types.ErrDatabaseConnectFailed, "clover %s: %v", config.Path, err)
	}

	cs := &CloverStore{
		db:         db,
		logger:     logger,
		config:     config,
		collection: collection,
		listeners:  newListenerRegistry(),
	}

	cs.state.Store(StateStopped)
	return cs, nil
}

func (c *CloverStore) Start() error {
	if !c.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := c.ensureCollection(); err != nil {
		c.state.Store(StateStopped)
		return err
	}

	c.state.Store(StateRunning)
	c.logger.Info("CloverDB started", zap.String("path", c.config.Path), zap.String("collection", c.collection))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer c.state.Store(StateStopped)

	c.listeners.reset()

	if err := c.db.Close(); err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}

	c.logger.Info("CloverDB stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.state.Load().(State) == StateRunning
}

func (c *CloverStore) ensureCollection() error {
	exists, err := c.db.HasCollection(c.collection)
	if err != nil {
		return types.WrapError(err, "failed to check collection existence")
	}

	if exists {
		return nil
	}

	if err := c.db.CreateCollection(c.collection); err != nil {
		return types.WrapError(err, "failed to create collection")
	}

	return nil
}

func (c *CloverStore) query(key string) *clover.Query {
	return c.db.Query(c.collection).Where(clover.Field(keyField).Eq(key))
}

func (c *CloverStore) Get(_ context.Context, key string) (*types.Document, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	raw, found, err := c.find(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.Errorf(types.ErrDocumentNotFound, "key: %s", key)
	}

	return types.NormalizeDocument(raw), nil
}

func (c *CloverStore) find(key string) (map[string]interface{}, bool, error) {
	docs, err := c.query(key).FindAll()
	if err != nil {
		return nil, false, types.WrapError(err, "failed to find document")
	}

	if len(docs) == 0 {
		return nil, false, nil
	}

	raw, err := unmarshalCloverDoc(docs[0])
	if err != nil {
		return nil, false, err
	}

	return raw, true, nil
}

func (c *CloverStore) List(_ context.Context) (map[string]*types.Document, error) {
	docs, err := c.db.Query(c.collection).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to list documents")
	}

	out := make(map[string]*types.Document, len(docs))
	for _, doc := range docs {
		key, ok := doc.Get(keyField).(string)
		if !ok || key == "" {
			continue
		}

		raw, err := unmarshalCloverDoc(doc)
		if err != nil {
			c.logger.Warn("Skipping malformed document", zap.String("key", key), zap.Error(err))
			continue
		}

		out[key] = types.NormalizeDocument(raw)
	}

	return out, nil
}

func (c *CloverStore) Upsert(_ context.Context, key string, doc *types.Document) error {
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

	c.writeMu.Lock()
	count, err := c.query(key).Count()
	if err != nil {
		c.writeMu.Unlock()
		return types.WrapError(err, "failed to count matching documents")
	}

	if count == 0 {
		newDoc := clover.NewDocument()
		newDoc.Set(keyField, key)
		for field, value := range fields {
			newDoc.Set(field, value)
		}
		err = c.db.Insert(c.collection, newDoc)
	} else {
		err = c.query(key).Update(fields)
	}
	c.writeMu.Unlock()

	if err != nil {
		return types.WrapError(err, "failed to upsert document")
	}

	c.publish(key)
	return nil
}

func (c *CloverStore) Delete(_ context.Context, key string) error {
	c.writeMu.Lock()
	count, err := c.query(key).Count()
	if err == nil && count > 0 {
		err = c.query(key).Delete()
	}
	c.writeMu.Unlock()

	if err != nil {
		return types.WrapError(err, "failed to delete document")
	}

	if count > 0 {
		c.listeners.notify(key, nil)
	}
	return nil
}

func (c *CloverStore) Watch(_ context.Context, key string, listener types.DocumentListener) (types.Unsubscribe, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	unsubscribe := c.listeners.add(key, listener)

	raw, found, err := c.find(key)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	if found {
		listener(types.NormalizeDocument(raw))
	}

	return unsubscribe, nil
}

func (c *CloverStore) publish(key string) {
	raw, found, err := c.find(key)
	if err != nil {
		c.logger.Error("Failed to reload document for watchers", zap.String("key", key), zap.Error(err))
		return
	}
	if found {
		c.listeners.notify(key, types.NormalizeDocument(raw))
	}
}

func unmarshalCloverDoc(doc *clover.Document) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	if err := doc.Unmarshal(&raw); err != nil {
		return nil, types.Errorf(types.ErrDocumentMalformed, "%v", err)
	}

	delete(raw, "_id")
	delete(raw, keyField)
	return raw, nil
}
