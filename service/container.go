package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/bridge"
	"github.com/saiset-co/sai-content/cache"
	"github.com/saiset-co/sai-content/cron"
	"github.com/saiset-co/sai-content/database"
	"github.com/saiset-co/sai-content/health"
	"github.com/saiset-co/sai-content/local"
	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/merge"
	"github.com/saiset-co/sai-content/metrics"
	"github.com/saiset-co/sai-content/monitor"
	"github.com/saiset-co/sai-content/policy"
	"github.com/saiset-co/sai-content/server"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const SyncAPIPath = "/api/sync"

type Option func(*options)

type options struct {
	logger        types.LoggerManager
	clock         types.Clock
	policyOptions []policy.Option
	documentStore types.DocumentStore
}

// WithLogger replaces the logger built from the logger config section.
func WithLogger(logger types.LoggerManager) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(clock types.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithPolicyOptions(opts ...policy.Option) Option {
	return func(o *options) {
		o.policyOptions = append(o.policyOptions, opts...)
	}
}

// WithDocumentStore bypasses the database factory. The store is still
// instrumented and owned by the container.
func WithDocumentStore(store types.DocumentStore) Option {
	return func(o *options) {
		o.documentStore = store
	}
}

// Container holds every component of one process. Components receive their
// collaborators explicitly; nothing is reachable through package state.
type Container struct {
	Config     types.ConfigManager
	Logger     types.LoggerManager
	Metrics    *metrics.Manager
	System     *metrics.SystemCollector
	Cron       types.CronManager
	Documents  types.DocumentStore
	Policies   *policy.Manager
	Cache      types.CacheStore
	Monitor    *monitor.Monitor
	Local      *local.Store
	Bridge     *bridge.Bridge
	Syncer     *merge.Syncer
	Health     *health.Manager
	Router     *server.Router
	HTTPServer *server.FastHTTPServer
}

func NewContainer(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Container, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = utils.NewSystemClock()
	}

	serviceConfig := configManager.GetConfig()
	if serviceConfig == nil {
		return nil, types.ErrConfigIsNil
	}

	c := &Container{Config: configManager}

	var err error

	c.Logger = o.logger
	if c.Logger == nil {
		c.Logger, err = logger.NewManager(ctx, configManager)
		if err != nil {
			return nil, types.WrapError(err, "failed to register logger")
		}
	}

	c.Metrics, err = metrics.NewManager(ctx, configManager, c.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to register metrics manager")
	}

	if mc := serviceConfig.Metrics; mc != nil && mc.Enabled {
		c.System = metrics.NewSystemCollector(ctx, c.Logger, c.Metrics, 0)
	}

	c.Cron, err = cron.NewManager(ctx, configManager, c.Logger, c.Metrics)
	if err != nil {
		return nil, types.WrapError(err, "failed to register cron manager")
	}

	c.Policies, err = policy.NewManager(serviceConfig.Content, serviceConfig.Environment, o.policyOptions...)
	if err != nil {
		return nil, types.WrapError(err, "failed to register content policies")
	}

	if o.documentStore != nil {
		c.Documents = database.NewInstrumented(c.Logger, c.Metrics, o.documentStore)
	} else {
		c.Documents, err = database.NewManager(ctx, configManager, c.Logger, c.Metrics, c.Policies.GetGlobalConfig().Collection)
		if err != nil {
			return nil, types.WrapError(err, "failed to register document store")
		}
	}

	c.Cache = cache.NewStore(c.Logger, c.Metrics, c.Policies, o.clock)

	monitorOpts := []monitor.Option{monitor.WithClock(o.clock)}
	if mc := serviceConfig.Monitor; mc != nil {
		if mc.Capacity > 0 {
			monitorOpts = append(monitorOpts, monitor.WithCapacity(mc.Capacity))
		}
		if mc.Schedule != "" {
			monitorOpts = append(monitorOpts, monitor.WithScheduler(c.Cron, mc.Schedule))
		}
	}
	c.Monitor = monitor.NewMonitor(c.Logger, c.Metrics, c.Policies, monitorOpts...)

	localConfig := serviceConfig.Local
	if localConfig == nil {
		localConfig = &types.LocalConfig{Path: "data/content.json"}
	}
	c.Local = local.NewStore(localConfig, c.Logger, o.clock)

	bridgeOpts := []bridge.Option{bridge.WithClock(o.clock)}
	if localConfig.Fallback {
		bridgeOpts = append(bridgeOpts, bridge.WithLocalFallback(c.Local))
	}
	c.Bridge = bridge.NewBridge(c.Logger, c.Policies, c.Cache, c.Documents, c.Monitor, bridgeOpts...)

	c.Syncer = merge.NewSyncer(c.Logger, c.Policies, c.Local, c.Documents, o.clock)

	c.Health = health.NewManager(configManager, c.Logger, o.clock)
	c.registerHealthChecks()

	c.Router = server.NewRouter()
	c.Router.Use(server.RequestLogging(c.Logger, c.Metrics), server.Recovery(c.Logger))
	c.Health.Register(c.Router)
	server.NewSyncHandler(c.Logger, c.Monitor).Register(c.Router, SyncAPIPath)

	if mc := serviceConfig.Metrics; mc != nil && mc.Enabled {
		path := mc.Path
		if path == "" {
			path = "/metrics"
		}
		c.Router.GET(path, types.FastHTTPHandler(c.Metrics.Handler()))
	}

	if sc := serviceConfig.Server; sc != nil && sc.HTTP != nil && sc.HTTP.Enabled {
		c.HTTPServer, err = server.NewHTTPServer(ctx, configManager, c.Logger, c.Router)
		if err != nil {
			return nil, types.WrapError(err, "failed to register HTTP server")
		}
	}

	c.Logger.Debug("Container assembled",
		zap.String("database", serviceConfig.Database.Type),
		zap.String("environment", c.Policies.Environment()),
		zap.Bool("http", c.HTTPServer != nil))

	return c, nil
}

// OpenStores starts the components the CLI needs for a one-shot run.
func (c *Container) OpenStores() error {
	if err := c.Logger.Start(); err != nil && !types.IsError(err, types.ErrServerAlreadyRunning) {
		return types.WrapError(err, "failed to start logger")
	}
	if err := c.Metrics.Start(); err != nil && !types.IsError(err, types.ErrServerAlreadyRunning) {
		return types.WrapError(err, "failed to start metrics manager")
	}
	if err := c.Documents.Start(); err != nil {
		return types.WrapError(err, "failed to open document store")
	}
	return nil
}

func (c *Container) CloseStores() {
	if err := c.Documents.Stop(); err != nil {
		c.Logger.Warn("Failed to close document store", zap.Error(err))
	}
	if c.Metrics.IsRunning() {
		if err := c.Metrics.Stop(); err != nil {
			c.Logger.Warn("Failed to stop metrics manager", zap.Error(err))
		}
	}
	_ = c.Logger.Stop()
}
