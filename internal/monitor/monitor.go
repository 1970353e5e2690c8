// Package monitor watches freshly deployed tools for regressions: each
// deployment opens a monitoring session comparing the tool's success rate
// against its pre-deployment baseline, and any regression at or above the
// session threshold triggers an automatic rollback to the backed-up
// implementation.
package monitor

import (
	"context"
	"sync"
	"time"

	"neuroforge/internal/config"
	"neuroforge/internal/events"
	"neuroforge/internal/execstore"
	"neuroforge/internal/forge"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// Regression severities, by success-rate drop in percentage points.
const (
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	highDropRate     = 0.20
	criticalDropRate = 0.30

	// Both windows need this many executions before a comparison counts.
	minWindowExecutions = 10

	// Current average duration above this multiple of baseline is flagged.
	durationDegradationFactor = 3.0

	defaultCheckEvery = 15 * time.Minute
)

// Monitor runs deployment health checks and rollbacks.
type Monitor struct {
	cfg       config.MonitorConfig
	store     *execstore.Store
	forge     *forge.Forge
	perf      *tools.PerformanceTracker
	bus       *events.Bus
	backupDir string

	checkEvery time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor.
func New(cfg config.MonitorConfig, store *execstore.Store, f *forge.Forge, perf *tools.PerformanceTracker, bus *events.Bus, backupDir string) *Monitor {
	return &Monitor{
		cfg:        cfg,
		store:      store,
		forge:      f,
		perf:       perf,
		bus:        bus,
		backupDir:  backupDir,
		checkEvery: defaultCheckEvery,
	}
}

// Watch opens a monitoring session for a freshly deployed tool.
func (m *Monitor) Watch(toolName string) (string, error) {
	sessionID, err := m.store.StartDeploymentSession(
		toolName, m.cfg.MonitoringWindowHours, m.cfg.BaselineWindowDays, m.cfg.RegressionThreshold)
	if err != nil {
		return "", err
	}
	logging.Monitor("watching %s (session %s, window %dh)",
		toolName, sessionID, m.cfg.MonitoringWindowHours)
	return sessionID, nil
}

// Start launches the periodic health-check goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(runCtx)
}

// Stop cancels the goroutine and waits for it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll()
		}
	}
}

// CheckAll runs one health check over every active monitoring session.
// Sessions past their window close as completed.
func (m *Monitor) CheckAll() {
	sessions, err := m.store.ActiveDeploymentSessions()
	if err != nil {
		logging.Monitor("listing sessions failed: %v", err)
		return
	}
	now := time.Now()
	for _, session := range sessions {
		windowEnd := session.DeploymentTime.Add(time.Duration(session.WindowHours) * time.Hour)
		if now.After(windowEnd) {
			if err := m.store.CloseDeploymentSession(session.SessionID, "completed"); err != nil {
				logging.Monitor("closing session %s: %v", session.SessionID, err)
			} else {
				logging.Monitor("%s cleared its monitoring window", session.ToolName)
			}
			continue
		}
		m.checkSession(session, now)
	}
}

// checkSession compares the session tool's baseline window against its
// post-deployment window and reacts to any regression.
func (m *Monitor) checkSession(session execstore.DeploymentSession, now time.Time) {
	baselineFrom := session.DeploymentTime.Add(-time.Duration(session.BaselineWindowDays) * 24 * time.Hour)
	baseline, err := m.store.WindowStatistics(session.ToolName, baselineFrom, session.DeploymentTime)
	if err != nil {
		logging.Monitor("baseline stats for %s: %v", session.ToolName, err)
		return
	}
	current, err := m.store.WindowStatistics(session.ToolName, session.DeploymentTime, now)
	if err != nil {
		logging.Monitor("current stats for %s: %v", session.ToolName, err)
		return
	}

	check := execstore.HealthCheck{
		SessionID:           session.SessionID,
		BaselineExecutions:  baseline.Executions,
		BaselineSuccessRate: baseline.SuccessRate,
		CurrentExecutions:   current.Executions,
		CurrentSuccessRate:  current.SuccessRate,
	}

	if baseline.Executions < minWindowExecutions || current.Executions < minWindowExecutions {
		m.record(check)
		return
	}

	drop := baseline.SuccessRate - current.SuccessRate
	severity := classifyDrop(drop, session.RegressionThreshold)

	slow := baseline.AvgDurationMs > 0 &&
		current.AvgDurationMs > baseline.AvgDurationMs*durationDegradationFactor
	if slow {
		check.Details = map[string]any{
			"baseline_avg_duration_ms": baseline.AvgDurationMs,
			"current_avg_duration_ms":  current.AvgDurationMs,
		}
	}

	if severity == "" && !slow {
		m.record(check)
		return
	}

	check.RegressionDetected = severity != ""
	check.Severity = severity
	m.record(check)

	if severity != "" {
		m.rollback(session, severity, drop)
		return
	}

	// Pure duration degradation alerts without rollback.
	m.bus.Emit(events.Event{
		Type: events.TypeToolAlert,
		Payload: map[string]any{
			"tool":    session.ToolName,
			"slow":    true,
			"session": session.SessionID,
		},
	})
	logging.Monitor("alert for %s: duration degradation", session.ToolName)
}

func (m *Monitor) rollback(session execstore.DeploymentSession, severity string, drop float64) {
	reason := "success rate regression"
	if err := m.forge.Rollback(session.ToolName, m.backupDir); err != nil {
		logging.Monitor("rollback of %s failed: %v", session.ToolName, err)
		reason = "rollback failed: " + err.Error()
		m.bus.Emit(events.Event{
			Type: events.TypeToolAlert,
			Payload: map[string]any{
				"tool":     session.ToolName,
				"severity": SeverityCritical,
				"error":    reason,
			},
		})
		return
	}

	if err := m.store.RecordRollback(session.SessionID, session.ToolName, reason, severity); err != nil {
		logging.Monitor("recording rollback of %s: %v", session.ToolName, err)
	}
	if err := m.store.CloseDeploymentSession(session.SessionID, "rolled_back"); err != nil {
		logging.Monitor("closing session %s: %v", session.SessionID, err)
	}
	m.bus.Emit(events.Event{
		Type: events.TypeToolRolledBack,
		Payload: map[string]any{
			"tool":     session.ToolName,
			"severity": severity,
			"drop":     drop,
		},
	})
	logging.Monitor("rolled back %s (%s regression, drop=%.0fpp)",
		session.ToolName, severity, drop*100)
}

func (m *Monitor) record(check execstore.HealthCheck) {
	if err := m.store.RecordHealthCheck(check); err != nil {
		logging.Monitor("recording health check: %v", err)
	}
}

// classifyDrop maps a success-rate drop onto a severity ("" when below the
// configured threshold).
func classifyDrop(drop, threshold float64) string {
	switch {
	case drop >= criticalDropRate:
		return SeverityCritical
	case drop >= highDropRate:
		return SeverityHigh
	case drop >= threshold:
		return SeverityMedium
	default:
		return ""
	}
}
