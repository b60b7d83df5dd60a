package workflow

import (
	"context"
	"time"

	"lectern/internal/events"
	"lectern/internal/logging"
	"lectern/internal/stage"
	"lectern/internal/workerpool"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	StartedAt   time.Time
	Recovered   int64
	LastError   string
	LastOutcome *Outcome
	Pool        workerpool.Stats
	Events      events.Stats
	StageCounts map[stage.Name]map[stage.Status]int
	StageHealth map[stage.Name]stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		StartedAt: m.startedAt,
		Recovered: m.recovered,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastOutcome != nil {
		outcome := *m.lastOutcome
		summary.LastOutcome = &outcome
	}
	m.mu.RUnlock()

	summary.Pool = m.pool.Stats()
	summary.Events = m.hub.Stats()

	counts, err := m.store.StageCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to read stage counts", logging.Error(err))
	}
	summary.StageCounts = counts

	summary.StageHealth = make(map[stage.Name]stage.Health, len(stage.All()))
	for _, name := range stage.All() {
		collaborator := m.collab.forStage(name)
		switch c := collaborator.(type) {
		case nil:
			summary.StageHealth[name] = stage.Unhealthy(name, "not configured")
		case HealthChecker:
			summary.StageHealth[name] = c.HealthCheck(ctx)
		default:
			summary.StageHealth[name] = stage.Healthy(name)
		}
	}
	return summary
}

// PoolStats returns worker pool counters.
func (m *Manager) PoolStats() workerpool.Stats {
	return m.pool.Stats()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastOutcome(outcome Outcome) {
	m.mu.Lock()
	m.lastOutcome = &outcome
	m.mu.Unlock()
}
