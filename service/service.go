package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
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

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration
	container       *Container
	unsubscribes    []types.Unsubscribe
}

func NewService(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)

	container, err := NewContainer(serviceCtx, configManager, opts...)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register providers")
	}

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		container:       container,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	service.state.Store(StateStopped)

	return service, nil
}

func (s *Service) Container() *Container {
	return s.container
}

// Start brings every component up and blocks until the service context is
// cancelled by Stop or a termination signal. Components are stopped before it
// returns.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.container.Logger.Warn("Service is already running")
		return types.ErrServiceIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.container.Logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	logger := s.container.Logger
	logger.Info("Starting service")

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		if stopErr := s.stopComponents(); stopErr != nil {
			logger.Error("Error during rollback", zap.Error(stopErr))
		}
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.container.Logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.container.Logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

type startStep struct {
	name  string
	start func() error
}

type stopStep struct {
	name    string
	manager types.LifecycleManager
}

func (s *Service) startComponents(ctx context.Context) error {
	c := s.container
	serviceConfig := c.Config.GetConfig()

	steps := []startStep{
		{"logger", c.Logger.Start},
		{"metrics manager", c.Metrics.Start},
		{"document store", c.Documents.Start},
		{"cron manager", c.Cron.Start},
	}
	if c.System != nil {
		steps = append(steps, startStep{"system metrics", c.System.Start})
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
		}

		if err := step.start(); err != nil && !types.IsError(err, types.ErrServerAlreadyRunning) {
			return types.WrapError(err, "failed to start "+step.name)
		}
	}

	s.subscribeRealtime()

	if serviceConfig.Monitor != nil && serviceConfig.Monitor.AutoStart {
		if err := c.Monitor.StartMonitoring(); err != nil {
			c.Logger.Error("Failed to start sync monitoring", zap.Error(err))
		}
	}

	if c.HTTPServer != nil {
		if err := c.HTTPServer.Start(); err != nil {
			return types.WrapError(err, "failed to start HTTP server")
		}
	}

	c.Logger.Info("All components started successfully")
	return nil
}

// subscribeRealtime opens a change subscription for every realtime policy so
// the cache follows remote edits while the service runs.
func (s *Service) subscribeRealtime() {
	c := s.container
	if !c.Policies.GetGlobalConfig().EnableRealtime {
		return
	}

	for _, key := range c.Policies.Keys() {
		p := c.Policies.GetContentConfig(key)
		if !p.Realtime && p.CacheStrategy != types.CacheStrategyRealtime {
			continue
		}

		key := key
		s.unsubscribes = append(s.unsubscribes, c.Bridge.SubscribeToContent(s.ctx, key, func(value interface{}) {
			c.Logger.Debug("Realtime content applied", zap.String("key", key), zap.Bool("deleted", value == nil))
		}))
	}

	c.Logger.Info("Realtime subscriptions opened", zap.Int("count", len(s.unsubscribes)))
}

func (s *Service) stopComponents() error {
	c := s.container
	var errs []error

	c.Logger.Info("Stopping service components...")

	if c.HTTPServer != nil && c.HTTPServer.IsRunning() {
		if err := c.HTTPServer.Stop(); err != nil {
			c.Logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}

	if c.Monitor.IsMonitoring() {
		if err := c.Monitor.StopMonitoring(); err != nil {
			c.Logger.Error("Failed to stop sync monitoring", zap.Error(err))
			errs = append(errs, err)
		}
	}

	for _, unsubscribe := range s.unsubscribes {
		unsubscribe()
	}
	s.unsubscribes = nil
	c.Bridge.Close()

	components := []stopStep{
		{"cron manager", c.Cron},
		{"document store", c.Documents},
		{"metrics manager", c.Metrics},
	}
	if c.System != nil {
		components = append([]stopStep{{"system metrics", c.System}}, components...)
	}

	for _, component := range components {
		if !component.manager.IsRunning() {
			continue
		}
		if err := component.manager.Stop(); err != nil {
			c.Logger.Error("Failed to stop "+component.name, zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errs)
	}

	c.Logger.Info("All components stopped successfully")
	_ = c.Logger.Stop()
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.container.Logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.container.Logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.container.Logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.container.Logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.container.Logger.Info("Service shutdown: context done")
	}
}
