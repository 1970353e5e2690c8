package execstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeploymentSession is one post-deployment monitoring window for a tool.
type DeploymentSession struct {
	SessionID           string    `json:"session_id"`
	ToolName            string    `json:"tool_name"`
	DeploymentTime      time.Time `json:"deployment_time"`
	WindowHours         int       `json:"monitoring_window_hours"`
	BaselineWindowDays  int       `json:"baseline_window_days"`
	RegressionThreshold float64   `json:"regression_threshold"`
	Status              string    `json:"status"`
}

// HealthCheck is one recorded comparison of baseline vs current performance.
type HealthCheck struct {
	SessionID           string         `json:"session_id"`
	CheckedAt           time.Time      `json:"checked_at"`
	BaselineExecutions  int            `json:"baseline_executions"`
	BaselineSuccessRate float64        `json:"baseline_success_rate"`
	CurrentExecutions   int            `json:"current_executions"`
	CurrentSuccessRate  float64        `json:"current_success_rate"`
	RegressionDetected  bool           `json:"regression_detected"`
	Severity            string         `json:"severity,omitempty"`
	Details             map[string]any `json:"details,omitempty"`
}

// ShadowResult is the persisted outcome of one shadow, replay or synthetic
// test run.
type ShadowResult struct {
	ToolName      string  `json:"tool_name"`
	Inputs        int     `json:"inputs"`
	Agreements    int     `json:"agreements"`
	Disagreements int     `json:"disagreements"`
	AgreementRate float64 `json:"agreement_rate"`
	Passed        bool    `json:"passed"`
	Method        string  `json:"method"`
	Details       string  `json:"details,omitempty"`
}

// StartDeploymentSession opens a monitoring session for a freshly deployed
// tool and returns its session id.
func (s *Store) StartDeploymentSession(toolName string, windowHours, baselineDays int, threshold float64) (string, error) {
	sessionID := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO deployment_monitoring
			(session_id, tool_name, deployment_time, monitoring_window_hours, baseline_window_days, regression_threshold)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, toolName, time.Now().UTC().Format("2006-01-02 15:04:05"),
		windowHours, baselineDays, threshold)
	if err != nil {
		return "", fmt.Errorf("start deployment session: %w", err)
	}
	return sessionID, nil
}

// CloseDeploymentSession marks a session completed or rolled_back.
func (s *Store) CloseDeploymentSession(sessionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"UPDATE deployment_monitoring SET status = ? WHERE session_id = ?",
		status, sessionID)
	if err != nil {
		return fmt.Errorf("close deployment session: %w", err)
	}
	return nil
}

// ActiveDeploymentSessions returns sessions still inside their monitoring
// window with status 'active'.
func (s *Store) ActiveDeploymentSessions() ([]DeploymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT session_id, tool_name, deployment_time, monitoring_window_hours,
		       baseline_window_days, regression_threshold, status
		FROM deployment_monitoring WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("active deployment sessions: %w", err)
	}
	defer rows.Close()

	var sessions []DeploymentSession
	for rows.Next() {
		var d DeploymentSession
		var deployed sql.NullString
		if err := rows.Scan(&d.SessionID, &d.ToolName, &deployed, &d.WindowHours,
			&d.BaselineWindowDays, &d.RegressionThreshold, &d.Status); err != nil {
			return nil, err
		}
		d.DeploymentTime = parseTime(deployed)
		sessions = append(sessions, d)
	}
	return sessions, rows.Err()
}

// RecordHealthCheck persists one baseline-vs-current comparison.
func (s *Store) RecordHealthCheck(hc HealthCheck) error {
	var detailsJSON any
	if hc.Details != nil {
		if raw, err := json.Marshal(hc.Details); err == nil {
			detailsJSON = string(raw)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO deployment_health_checks
			(session_id, baseline_executions, baseline_success_rate,
			 current_executions, current_success_rate, regression_detected, severity, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hc.SessionID, hc.BaselineExecutions, hc.BaselineSuccessRate,
		hc.CurrentExecutions, hc.CurrentSuccessRate,
		boolInt(hc.RegressionDetected), nullable(hc.Severity), detailsJSON)
	if err != nil {
		return fmt.Errorf("record health check: %w", err)
	}
	return nil
}

// RecordRollback persists a rollback event.
func (s *Store) RecordRollback(sessionID, toolName, reason, severity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO deployment_rollbacks (session_id, tool_name, reason, severity)
		VALUES (?, ?, ?, ?)`,
		nullable(sessionID), toolName, reason, severity)
	if err != nil {
		return fmt.Errorf("record rollback: %w", err)
	}
	return nil
}

// RollbackCount returns how many times a tool has been rolled back since the
// given time.
func (s *Store) RollbackCount(toolName string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM deployment_rollbacks
		WHERE tool_name = ? AND rolled_back_at >= ?`,
		toolName, since.UTC().Format("2006-01-02 15:04:05")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("rollback count: %w", err)
	}
	return n, nil
}

// RecordToolCreation persists a forge attempt.
func (s *Store) RecordToolCreation(toolName, trigger string, success bool, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tool_creation_events (tool_name, triggered_by, success, error)
		VALUES (?, ?, ?, ?)`,
		toolName, trigger, boolInt(success), nullable(errText))
	if err != nil {
		return fmt.Errorf("record tool creation: %w", err)
	}
	return nil
}

// RecordShadowResult persists the outcome of a candidate test run.
func (s *Store) RecordShadowResult(r ShadowResult) error {
	if r.Method == "" {
		r.Method = "shadow"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO shadow_test_results
			(tool_name, inputs, agreements, disagreements, agreement_rate, passed, method, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ToolName, r.Inputs, r.Agreements, r.Disagreements, r.AgreementRate,
		boolInt(r.Passed), r.Method, nullable(r.Details))
	if err != nil {
		return fmt.Errorf("record shadow result: %w", err)
	}
	return nil
}
