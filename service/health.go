package service

import (
	"context"
	"fmt"

	"github.com/saiset-co/sai-content/types"
)

func (c *Container) registerHealthChecks() {
	c.Health.RegisterChecker("document_store", c.checkDocumentStore)
	c.Health.RegisterChecker("sync", c.checkSync)
	c.Health.RegisterChecker("local_snapshot", c.checkLocalSnapshot)
	c.Health.RegisterChecker("scheduler", c.checkScheduler)
}

func (c *Container) checkDocumentStore(_ context.Context) types.HealthCheck {
	if !c.Documents.IsRunning() {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "document store is not running"}
	}
	return types.HealthCheck{Status: types.StatusHealthy}
}

// checkSync reports the error rate the monitor derives from recent traffic.
func (c *Container) checkSync(_ context.Context) types.HealthCheck {
	data := c.Monitor.GetDashboardData()
	summary := data.Summary

	check := types.HealthCheck{
		Status: data.Status,
		Details: map[string]interface{}{
			"total_requests":  summary.TotalRequests,
			"failed_requests": summary.FailedRequests,
			"cache_hit_rate":  summary.CacheHitRate,
			"monitoring":      data.Monitoring,
		},
	}
	if data.Status != types.StatusHealthy {
		check.Message = fmt.Sprintf("%d of %d requests failed", summary.FailedRequests, summary.TotalRequests)
	}
	return check
}

// A missing snapshot only matters when the bridge relies on it as fallback.
func (c *Container) checkLocalSnapshot(_ context.Context) types.HealthCheck {
	check := types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"path": c.Local.Path()},
	}

	if !c.Local.Exists() {
		check.Message = "local snapshot not found"
		if lc := c.Config.GetConfig().Local; lc != nil && lc.Fallback {
			check.Status = types.StatusDegraded
		}
		return check
	}

	if _, err := c.Local.Load(); err != nil {
		check.Status = types.StatusDegraded
		check.Message = err.Error()
	}
	return check
}

// checkScheduler is degraded when jobs exist but cron is stopped, or when a
// job's last run failed.
func (c *Container) checkScheduler(_ context.Context) types.HealthCheck {
	jobs := c.Cron.Jobs()
	check := types.HealthCheck{
		Status:  types.StatusHealthy,
		Details: map[string]interface{}{"jobs": len(jobs)},
	}

	if len(jobs) > 0 && !c.Cron.IsRunning() {
		check.Status = types.StatusDegraded
		check.Message = "jobs registered but scheduler is stopped"
		return check
	}

	for _, job := range jobs {
		if job.LastError != "" {
			check.Status = types.StatusDegraded
			check.Message = fmt.Sprintf("job %s failed: %s", job.Name, job.LastError)
			return check
		}
	}
	return check
}
