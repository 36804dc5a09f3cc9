package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const (
	changeOpUpsert = "upsert"
	changeOpDelete = "delete"

	maxUpsertRetries = 5
)

type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Addr         string        `json:"addr"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	KeyPrefix    string        `json:"key_prefix"`
	// WatchBlock bounds one XREAD call, and therefore how long a cancelled watch lingers.
	WatchBlock time.Duration `json:"watch_block"`
	// StreamMaxLen caps the change stream (approximate trimming).
	StreamMaxLen int64 `json:"stream_max_len"`
}

// RedisStore keeps each document as JSON in one hash field and announces
// every write on a stream that watchers tail with XREAD.
type RedisStore struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	config     *RedisConfig
	client     *redis.Client
	collection string
	watchers   sync.WaitGroup
	started    int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.DatabaseConfig, collection string) (*RedisStore, error) {
	var redisConfig = &RedisConfig{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "sai-content",
		WatchBlock:   time.Second,
		StreamMaxLen: 10000,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	addr := redisConfig.Addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	return NewRedisStoreWithClient(ctx, logger, client, redisConfig, collection), nil
}

func NewRedisStoreWithClient(ctx context.Context, logger types.Logger, client *redis.Client, config *RedisConfig, collection string) *RedisStore {
	storeCtx, cancel := context.WithCancel(ctx)

	return &RedisStore{
		ctx:        storeCtx,
		cancel:     cancel,
		logger:     logger,
		config:     config,
		client:     client,
		collection: collection,
	}
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.Errorf(types.ErrDatabaseConnectFailed, "redis: %v", err)
	}

	r.logger.Info("Redis document store started", zap.String("hash", r.hashKey()))
	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	r.cancel()
	r.watchers.Wait()

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis document store closed")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) hashKey() string {
	if r.config.KeyPrefix != "" {
		return r.config.KeyPrefix + ":" + r.collection
	}
	return r.collection
}

func (r *RedisStore) streamKey() string {
	return r.hashKey() + ":changes"
}

func (r *RedisStore) Get(ctx context.Context, key string) (*types.Document, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	raw, err := r.load(ctx, r.client, key)
	if err != nil {
		return nil, err
	}

	return types.NormalizeDocument(raw), nil
}

type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, cmd hashReader, key string) (map[string]interface{}, error) {
	data, err := cmd.HGet(ctx, r.hashKey(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.Errorf(types.ErrDocumentNotFound, "key: %s", key)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrRemoteStoreFailed, "hget %s: %v", key, err)
	}

	raw := make(map[string]interface{})
	if err := utils.Unmarshal(data, &raw); err != nil {
		return nil, types.Errorf(types.ErrDocumentMalformed, "key %s: %v", key, err)
	}

	return raw, nil
}

func (r *RedisStore) List(ctx context.Context) (map[string]*types.Document, error) {
	all, err := r.client.HGetAll(ctx, r.hashKey()).Result()
	if err != nil {
		return nil, types.Errorf(types.ErrRemoteStoreFailed, "hgetall: %v", err)
	}

	docs := make(map[string]*types.Document, len(all))
	for key, data := range all {
		raw := make(map[string]interface{})
		if err := utils.Unmarshal([]byte(data), &raw); err != nil {
			r.logger.Warn("Skipping malformed document", zap.String("key", key), zap.Error(err))
			continue
		}
		docs[key] = types.NormalizeDocument(raw)
	}

	return docs, nil
}

// Upsert merges inside WATCH/MULTI so concurrent writers never drop each
// other's fields, and announces the change in the same transaction.
func (r *RedisStore) Upsert(ctx context.Context, key string, doc *types.Document) error {
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

	txf := func(tx *redis.Tx) error {
		existing, err := r.load(ctx, tx, key)
		if err != nil && !types.IsError(err, types.ErrDocumentNotFound) {
			return err
		}

		encoded, err := utils.Marshal(mergeFields(existing, fields))
		if err != nil {
			return types.Errorf(types.ErrDocumentMalformed, "%v", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.hashKey(), key, encoded)
			r.announce(ctx, pipe, key, changeOpUpsert)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpsertRetries; i++ {
		err = r.client.Watch(ctx, txf, r.hashKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		break
	}

	if err != nil {
		return types.Errorf(types.ErrRemoteStoreFailed, "upsert %s: %v", key, err)
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.hashKey(), key)
		r.announce(ctx, pipe, key, changeOpDelete)
		return nil
	})
	if err != nil {
		return types.Errorf(types.ErrRemoteStoreFailed, "delete %s: %v", key, err)
	}
	return nil
}

func (r *RedisStore) announce(ctx context.Context, pipe redis.Pipeliner, key, op string) {
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey(),
		MaxLen: r.config.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key": key,
			"op":  op,
		},
	})
}

// Watch delivers the current document, when there is one, and then tails
// the change stream from the position it had at subscribe time.
func (r *RedisStore) Watch(ctx context.Context, key string, listener types.DocumentListener) (types.Unsubscribe, error) {
	if key == "" {
		return nil, types.ErrDocumentKeyEmpty
	}

	lastID, err := r.lastStreamID(ctx)
	if err != nil {
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(r.ctx)
	stopOnCaller := context.AfterFunc(ctx, cancel)

	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		r.tail(watchCtx, key, lastID, listener)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stopOnCaller()
			cancel()
		})
	}, nil
}

func (r *RedisStore) lastStreamID(ctx context.Context) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.streamKey(), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", types.Errorf(types.ErrRemoteStoreFailed, "xrevrange: %v", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (r *RedisStore) tail(ctx context.Context, key, lastID string, listener types.DocumentListener) {
	if raw, err := r.load(ctx, r.client, key); err == nil {
		if ctx.Err() == nil {
			listener(types.NormalizeDocument(raw))
		}
	} else if !types.IsError(err, types.ErrDocumentNotFound) && ctx.Err() == nil {
		r.logger.Warn("Initial snapshot failed", zap.String("key", key), zap.Error(err))
	}

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.streamKey(), lastID},
			Block:   r.config.WatchBlock,
			Count:   100,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("Watch read failed", zap.String("key", key), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.config.WatchBlock):
				continue
			}
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID

				if msgKey, _ := msg.Values["key"].(string); msgKey != key {
					continue
				}

				r.dispatch(ctx, key, msg.Values["op"], listener)
			}
		}
	}
}

func (r *RedisStore) dispatch(ctx context.Context, key string, op interface{}, listener types.DocumentListener) {
	if ctx.Err() != nil {
		return
	}

	if op == changeOpDelete {
		listener(nil)
		return
	}

	raw, err := r.load(ctx, r.client, key)
	switch {
	case err == nil:
		listener(types.NormalizeDocument(raw))
	case types.IsError(err, types.ErrDocumentNotFound):
		listener(nil)
	default:
		r.logger.Warn("Failed to load changed document", zap.String("key", key), zap.Error(err))
	}
}
