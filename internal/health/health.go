// Package health provides run health monitoring and status reporting.
package health

import (
	"context"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
)

// SystemStatus represents the overall health state of the run.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Pinger checks connectivity to an external collaborator.
type Pinger interface {
	Health(ctx context.Context) error
}

// ComponentHealth reports one collaborator's reachability.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status SystemStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// RunHealth is the full health report for an in-flight run.
type RunHealth struct {
	SystemStatus SystemStatus      `json:"system_status"`
	Components   []ComponentHealth `json:"components"`
	Progress     checkpoint.Stats  `json:"progress"`
}

// Monitor aggregates collaborator pings and checkpoint progress.
type Monitor struct {
	store   *checkpoint.Store
	pingers map[string]Pinger
}

// NewMonitor builds a monitor over the run's checkpoint and the named
// collaborators. A nil pinger is skipped, so optional components can
// be wired conditionally.
func NewMonitor(store *checkpoint.Store, pingers map[string]Pinger) *Monitor {
	return &Monitor{store: store, pingers: pingers}
}

// Check pings every collaborator and snapshots progress. An
// unreachable sink is critical, anything else unreachable degrades.
func (m *Monitor) Check(ctx context.Context) RunHealth {
	report := RunHealth{SystemStatus: StatusHealthy}
	if m.store != nil {
		report.Progress = m.store.Stats()
	}

	for name, p := range m.pingers {
		if p == nil {
			continue
		}
		ch := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := p.Health(ctx); err != nil {
			ch.Error = err.Error()
			if name == "sink" {
				ch.Status = StatusCritical
			} else {
				ch.Status = StatusDegraded
			}
		}
		report.Components = append(report.Components, ch)

		if ch.Status == StatusCritical {
			report.SystemStatus = StatusCritical
		} else if ch.Status == StatusDegraded && report.SystemStatus == StatusHealthy {
			report.SystemStatus = StatusDegraded
		}
	}

	return report
}
