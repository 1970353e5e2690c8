// Package execstore is the durable relational record of every goal and tool
// execution, plus deployment monitoring, rollback and shadow-test history.
// All writes are single-statement transactions against SQLite.
package execstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"neuroforge/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the executions database. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if needed) the execution store at path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "execstore.New")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("execution store initialized at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		goal_id TEXT NOT NULL,
		goal_text TEXT NOT NULL,
		intent TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_executions_goal ON executions(goal_id);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);

	CREATE TABLE IF NOT EXISTS tool_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		parameters TEXT,
		result TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		duration_ms INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tool_executions_execution ON tool_executions(execution_id);
	CREATE INDEX IF NOT EXISTS idx_tool_executions_tool ON tool_executions(tool_name);
	CREATE INDEX IF NOT EXISTS idx_tool_executions_created ON tool_executions(created_at);

	CREATE TABLE IF NOT EXISTS tool_statistics (
		tool_name TEXT PRIMARY KEY,
		total_calls INTEGER NOT NULL DEFAULT 0,
		successful_calls INTEGER NOT NULL DEFAULT 0,
		failed_calls INTEGER NOT NULL DEFAULT 0,
		total_duration_ms INTEGER NOT NULL DEFAULT 0,
		last_used DATETIME,
		status TEXT NOT NULL DEFAULT 'active',
		status_reason TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS deployment_monitoring (
		session_id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		deployment_time DATETIME NOT NULL,
		monitoring_window_hours INTEGER NOT NULL,
		baseline_window_days INTEGER NOT NULL,
		regression_threshold REAL NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_deployment_monitoring_tool ON deployment_monitoring(tool_name);

	CREATE TABLE IF NOT EXISTS deployment_health_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		checked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		baseline_executions INTEGER,
		baseline_success_rate REAL,
		current_executions INTEGER,
		current_success_rate REAL,
		regression_detected INTEGER NOT NULL DEFAULT 0,
		severity TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_health_checks_session ON deployment_health_checks(session_id);

	CREATE TABLE IF NOT EXISTS deployment_rollbacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT,
		tool_name TEXT NOT NULL,
		reason TEXT,
		severity TEXT,
		rolled_back_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tool_creation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool_name TEXT NOT NULL,
		triggered_by TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS shadow_test_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool_name TEXT NOT NULL,
		inputs INTEGER NOT NULL,
		agreements INTEGER NOT NULL,
		disagreements INTEGER NOT NULL,
		agreement_rate REAL NOT NULL,
		passed INTEGER NOT NULL,
		method TEXT NOT NULL DEFAULT 'shadow',
		details TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_shadow_results_tool ON shadow_test_results(tool_name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StoreExecution records one completed goal and returns the execution id.
func (s *Store) StoreExecution(goalID, goalText, intent string, success bool, errText string, durationMs int64, metadata map[string]any) (string, error) {
	executionID := uuid.NewString()
	var metaJSON any
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err == nil {
			metaJSON = string(raw)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO executions (execution_id, goal_id, goal_text, intent, success, error, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		executionID, goalID, goalText, intent, boolInt(success), nullable(errText), durationMs, metaJSON)
	if err != nil {
		return "", fmt.Errorf("store execution: %w", err)
	}
	return executionID, nil
}

// StoreToolExecution records one tool call linked to an execution.
func (s *Store) StoreToolExecution(executionID, toolName string, parameters map[string]any, result string, success bool, errText string, durationMs int64) error {
	var paramsJSON any
	if parameters != nil {
		if raw, err := json.Marshal(parameters); err == nil {
			paramsJSON = string(raw)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tool_executions (execution_id, tool_name, parameters, result, success, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		executionID, toolName, paramsJSON, result, boolInt(success), nullable(errText), durationMs)
	if err != nil {
		return fmt.Errorf("store tool execution: %w", err)
	}
	return nil
}

// MarkToolStatus sets a tool's lifecycle status with a reason.
func (s *Store) MarkToolStatus(toolName, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO tool_statistics (tool_name, status, status_reason, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tool_name) DO UPDATE SET
			status = excluded.status,
			status_reason = excluded.status_reason,
			updated_at = CURRENT_TIMESTAMP`,
		toolName, status, reason)
	if err != nil {
		return fmt.Errorf("mark tool status: %w", err)
	}
	return nil
}

// ToolStatus returns a tool's recorded lifecycle status ("" when unknown).
func (s *Store) ToolStatus(toolName string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var status string
	err := s.db.QueryRow("SELECT status FROM tool_statistics WHERE tool_name = ?", toolName).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tool status: %w", err)
	}
	return status, nil
}

// KnownTools returns tool names recorded with the given status (all when
// status is empty).
func (s *Store) KnownTools(status string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT tool_name FROM tool_statistics"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("known tools: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTime(value sql.NullString) time.Time {
	if !value.Valid {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value.String); err == nil {
			return t
		}
	}
	return time.Time{}
}
