package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type Manager struct {
	config       types.ConfigManager
	logger       types.Logger
	clock        types.Clock
	checkers     map[string]types.HealthChecker
	results      map[string]types.HealthCheck
	startTime    time.Time
	mu           sync.RWMutex
	checkTimeout time.Duration
}

func NewManager(config types.ConfigManager, logger types.Logger, clock types.Clock) *Manager {
	if clock == nil {
		clock = utils.NewSystemClock()
	}

	return &Manager{
		config:       config,
		logger:       logger,
		clock:        clock,
		checkers:     make(map[string]types.HealthChecker),
		results:      make(map[string]types.HealthCheck),
		startTime:    clock.Now(),
		checkTimeout: 5 * time.Second,
	}
}

func (hm *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.checkers[name] = checker
}

func (hm *Manager) Register(router types.HTTPRouter) {
	router.GET("/health", hm.handleHealth)
	router.GET("/version", hm.handleVersion)
}

// Check runs every checker concurrently. A checker that panics or outlives
// the check timeout is reported unhealthy.
func (hm *Manager) Check(ctx context.Context) types.HealthReport {
	hm.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, hm.checkTimeout)
	defer cancel()

	var g errgroup.Group
	results := make(map[string]types.HealthCheck, len(checkers))
	var resultMu sync.Mutex

	for name, checker := range checkers {
		name, checker := name, checker
		g.Go(func() error {
			result := hm.executeCheck(checkCtx, name, checker)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	hm.mu.Lock()
	hm.results = results
	hm.mu.Unlock()

	return hm.buildReport(results)
}

func (hm *Manager) executeCheck(ctx context.Context, name string, checker types.HealthChecker) types.HealthCheck {
	start := hm.clock.Now()

	resultChan := make(chan types.HealthCheck, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- types.HealthCheck{
					Status:  types.StatusUnhealthy,
					Message: fmt.Sprintf("Health check panicked: %v", r),
				}
			}
		}()

		resultChan <- checker(ctx)
	}()

	var result types.HealthCheck
	select {
	case result = <-resultChan:
	case <-ctx.Done():
		result = types.HealthCheck{
			Status:  types.StatusUnhealthy,
			Message: "Health check timeout",
		}
	}

	result.Name = name
	result.LastCheck = hm.clock.Now()
	result.Duration = result.LastCheck.Sub(start)
	return result
}

func (hm *Manager) buildReport(results map[string]types.HealthCheck) types.HealthReport {
	config := hm.config.GetConfig()

	summary := types.HealthSummary{
		Total: len(results),
	}

	overallStatus := types.StatusHealthy
	for _, result := range results {
		switch result.Status {
		case types.StatusHealthy:
			summary.Healthy++
		case types.StatusDegraded:
			summary.Degraded++
			if overallStatus == types.StatusHealthy {
				overallStatus = types.StatusDegraded
			}
		default:
			summary.Unhealthy++
			overallStatus = types.StatusUnhealthy
		}
	}

	return types.HealthReport{
		Status:    overallStatus,
		Timestamp: hm.clock.Now(),
		Uptime:    hm.clock.Now().Sub(hm.startTime).Round(time.Second).String(),
		Service: types.ServiceInfo{
			Name:        config.Name,
			Version:     config.Version,
			Environment: config.Environment,
		},
		Checks:  results,
		Summary: summary,
	}
}

func (hm *Manager) handleHealth(ctx *fasthttp.RequestCtx) {
	report := hm.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable

		failing := make([]string, 0, len(report.Checks))
		for name, check := range report.Checks {
			if check.Status == types.StatusUnhealthy {
				failing = append(failing, name)
			}
		}
		sort.Strings(failing)
		hm.logger.Warn("Health check failed", zap.Strings("checks", failing))
	}

	utils.WriteJSON(ctx, status, report)
}

func (hm *Manager) handleVersion(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"version":    hm.config.GetConfig().Version,
		"build_info": getBuildInfo(),
	})
}
