package monitor

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const (
	topN               = 5
	dashboardEvents    = 50
	degradedErrorRate  = 0.1
	unhealthyErrorRate = 0.5
)

type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

func (m *Monitor) GenerateReport() types.SyncReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return types.SyncReport{
		GeneratedAt:  m.clock.Now(),
		Summary:      m.summaryLocked(),
		ContentStats: m.contentLocked(),
		TopErrors:    m.topErrorsLocked(),
		SlowestKeys:  m.slowestKeysLocked(),
	}
}

func (m *Monitor) topErrorsLocked() []types.ErrorFrequency {
	counts := make(map[string]int)
	for _, event := range m.events {
		if event.Error != "" {
			counts[event.Error]++
		}
	}

	out := make([]types.ErrorFrequency, 0, len(counts))
	for message, count := range counts {
		out = append(out, types.ErrorFrequency{Message: message, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Message < out[j].Message
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func (m *Monitor) slowestKeysLocked() []types.KeyResponseTime {
	out := make([]types.KeyResponseTime, 0, len(m.content))
	for key, cm := range m.content {
		if cm.AverageResponseTime <= 0 {
			continue
		}
		out = append(out, types.KeyResponseTime{Key: key, AverageResponseTime: cm.AverageResponseTime})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageResponseTime != out[j].AverageResponseTime {
			return out[i].AverageResponseTime > out[j].AverageResponseTime
		}
		return out[i].Key < out[j].Key
	})

	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func (m *Monitor) GetDashboardData() types.DashboardData {
	m.mu.RLock()
	summary := m.summaryLocked()
	data := types.DashboardData{
		Status:       healthOf(summary),
		Summary:      summary,
		ContentStats: m.contentLocked(),
		RecentEvents: m.recentLocked(dashboardEvents),
	}
	m.mu.RUnlock()

	data.Monitoring = m.IsMonitoring()
	return data
}

func healthOf(summary types.PerformanceSummary) types.HealthStatus {
	if summary.TotalRequests == 0 {
		return types.StatusHealthy
	}

	rate := float64(summary.FailedRequests) / float64(summary.TotalRequests)
	switch {
	case rate >= unhealthyErrorRate:
		return types.StatusUnhealthy
	case rate >= degradedErrorRate:
		return types.StatusDegraded
	default:
		return types.StatusHealthy
	}
}

// ExportEvents serializes the whole event history as json or csv.
func (m *Monitor) ExportEvents(format ExportFormat) (string, error) {
	events := m.GetRecentEvents(0)

	switch format {
	case FormatJSON, "":
		data, err := utils.MarshalIndent(events)
		if err != nil {
			return "", types.WrapError(err, "failed to encode events")
		}
		return string(data), nil
	case FormatCSV:
		return eventsToCSV(events)
	default:
		return "", types.Errorf(types.ErrExportFormatUnknown, "%s", format)
	}
}

func eventsToCSV(events []types.SyncEvent) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "type", "content_key", "timestamp", "duration_ms", "success", "error"}); err != nil {
		return "", types.WrapError(err, "failed to write csv header")
	}

	for _, event := range events {
		duration := ""
		if event.Duration != nil {
			duration = strconv.FormatFloat(event.DurationMillis(), 'f', -1, 64)
		}

		record := []string{
			event.ID,
			string(event.Type),
			event.ContentKey,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			duration,
			strconv.FormatBool(event.Success),
			event.Error,
		}
		if err := w.Write(record); err != nil {
			return "", types.WrapError(err, "failed to write csv record")
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", types.WrapError(err, "failed to flush csv")
	}

	return buf.String(), nil
}
