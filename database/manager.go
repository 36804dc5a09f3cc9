package database

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultCollection = "content"

var customDatabaseCreators = make(map[string]types.DocumentStoreCreator)

func RegisterDocumentStore(databaseType string, creator types.DocumentStoreCreator) {
	customDatabaseCreators[databaseType] = creator
}

// NewManager opens the remote document store named by database.type on the
// given collection, which is the resolved global policy's collection. An
// empty collection falls back to DefaultCollection.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, collection string) (types.DocumentStore, error) {
	dbConfig := config.GetConfig().Database
	if dbConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "database")
	}

	if collection == "" {
		collection = DefaultCollection
	}

	databaseType := dbConfig.Type

	var impl types.DocumentStore
	var err error

	switch databaseType {
	case "memory":
		impl = NewMemoryStore(logger, collection)
	case "clover":
		impl, err = NewCloverStore(logger, dbConfig, collection)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, dbConfig, collection)
	default:
		if creator, exists := customDatabaseCreators[databaseType]; exists {
			impl, err = creator(dbConfig, collection)
		} else {
			return nil, types.Errorf(types.ErrDatabaseTypeUnknown, "type: %s", databaseType)
		}
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Document store initialized",
		zap.String("type", databaseType),
		zap.String("collection", collection))

	return NewInstrumented(logger, metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.DocumentStore
	logger  types.Logger
	metrics types.MetricsManager
	state   atomic.Value
}

// NewInstrumented counts store operations and refuses I/O while the store is stopped.
func NewInstrumented(logger types.Logger, metrics types.MetricsManager, impl types.DocumentStore) types.DocumentStore {
	instrumented := &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (ds *instrumentedStore) Start() error {
	if !ds.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if err := ds.impl.Start(); err != nil {
		ds.setState(StateStopped)
		return err
	}

	ds.setState(StateRunning)
	ds.logger.Info("Document store started")
	return nil
}

func (ds *instrumentedStore) Stop() error {
	if !ds.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer ds.setState(StateStopped)

	if err := ds.impl.Stop(); err != nil {
		ds.logger.Error("Failed to stop document store", zap.Error(err))
		return err
	}

	ds.logger.Info("Document store stopped gracefully")
	return nil
}

func (ds *instrumentedStore) IsRunning() bool {
	return ds.getState() == StateRunning
}

func (ds *instrumentedStore) Get(ctx context.Context, key string) (*types.Document, error) {
	if !ds.IsRunning() {
		return nil, types.ErrDatabaseNotRunning
	}

	start := time.Now()
	doc, err := ds.impl.Get(ctx, key)
	ds.recordMetric("get", err, start)
	return doc, err
}

func (ds *instrumentedStore) List(ctx context.Context) (map[string]*types.Document, error) {
	if !ds.IsRunning() {
		return nil, types.ErrDatabaseNotRunning
	}

	start := time.Now()
	docs, err := ds.impl.List(ctx)
	ds.recordMetric("list", err, start)
	return docs, err
}

func (ds *instrumentedStore) Upsert(ctx context.Context, key string, doc *types.Document) error {
	if !ds.IsRunning() {
		return types.ErrDatabaseNotRunning
	}

	start := time.Now()
	err := ds.impl.Upsert(ctx, key, doc)
	ds.recordMetric("upsert", err, start)
	return err
}

func (ds *instrumentedStore) Delete(ctx context.Context, key string) error {
	if !ds.IsRunning() {
		return types.ErrDatabaseNotRunning
	}

	start := time.Now()
	err := ds.impl.Delete(ctx, key)
	ds.recordMetric("delete", err, start)
	return err
}

func (ds *instrumentedStore) Watch(ctx context.Context, key string, listener types.DocumentListener) (types.Unsubscribe, error) {
	if !ds.IsRunning() {
		return nil, types.ErrDatabaseNotRunning
	}

	start := time.Now()
	unsubscribe, err := ds.impl.Watch(ctx, key, listener)
	ds.recordMetric("watch", err, start)
	return unsubscribe, err
}

func (ds *instrumentedStore) recordMetric(operation string, err error, start time.Time) {
	if ds.metrics == nil {
		return
	}

	result := "success"
	switch {
	case err == nil:
	case types.IsError(err, types.ErrDocumentNotFound):
		result = "not_found"
	default:
		result = "error"
	}

	ds.metrics.Counter("database_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	ds.metrics.Histogram("database_operation_duration_seconds",
		[]float64{0.0005, 0.005, 0.05, 0.5, 5},
		map[string]string{"operation": operation},
	).ObserveDuration(start)
}

func (ds *instrumentedStore) getState() State {
	return ds.state.Load().(State)
}

func (ds *instrumentedStore) setState(newState State) bool {
	currentState := ds.getState()
	return ds.state.CompareAndSwap(currentState, newState)
}

func (ds *instrumentedStore) transitionState(from, to State) bool {
	return ds.state.CompareAndSwap(from, to)
}

// mergeFields applies a top-level merge: named fields replace, the rest survive.
func mergeFields(existing, update map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}
