package execstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ToolStats is the aggregated execution profile of one tool.
type ToolStats struct {
	ToolName      string    `json:"tool_name"`
	TotalCalls    int       `json:"total_calls"`
	Successes     int       `json:"successes"`
	Failures      int       `json:"failures"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	P50DurationMs int64     `json:"p50_duration_ms"`
	P95DurationMs int64     `json:"p95_duration_ms"`
	P99DurationMs int64     `json:"p99_duration_ms"`
	LastUsed      time.Time `json:"last_used"`
}

// WindowStats is the execution profile of one tool inside a time window.
type WindowStats struct {
	Executions    int     `json:"executions"`
	Successes     int     `json:"successes"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ToolRun is one historical tool call, used to replay inputs against a
// candidate implementation.
type ToolRun struct {
	Parameters map[string]any `json:"parameters"`
	Result     string         `json:"result"`
	Success    bool           `json:"success"`
}

// ToolStatistics computes a tool's profile from its recorded executions.
// Percentiles are computed in-process over the most recent 1000 durations.
func (s *Store) ToolStatistics(toolName string) (*ToolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ToolStats{ToolName: toolName}
	var lastUsed sql.NullString
	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0), MAX(created_at)
		FROM tool_executions WHERE tool_name = ?`, toolName).
		Scan(&stats.TotalCalls, &stats.Successes, &avg, &lastUsed)
	if err != nil {
		return nil, fmt.Errorf("tool statistics: %w", err)
	}
	stats.Failures = stats.TotalCalls - stats.Successes
	stats.AvgDurationMs = avg.Float64
	stats.LastUsed = parseTime(lastUsed)
	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.TotalCalls)
	}

	durations, err := s.recentDurations(toolName, 1000)
	if err != nil {
		return nil, err
	}
	stats.P50DurationMs = percentile(durations, 0.50)
	stats.P95DurationMs = percentile(durations, 0.95)
	stats.P99DurationMs = percentile(durations, 0.99)
	return stats, nil
}

func (s *Store) recentDurations(toolName string, limit int) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT duration_ms FROM tool_executions
		WHERE tool_name = ? AND duration_ms IS NOT NULL
		ORDER BY id DESC LIMIT ?`, toolName, limit)
	if err != nil {
		return nil, fmt.Errorf("recent durations: %w", err)
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

// percentile returns the nearest-rank percentile of durations (0 when empty).
func percentile(durations []int64, p float64) int64 {
	if len(durations) == 0 {
		return 0
	}
	sorted := make([]int64, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// BottomTools returns the worst-performing tools by success rate, skipping
// tools with fewer than minExecutions recorded calls.
func (s *Store) BottomTools(limit, minExecutions int) ([]ToolStats, error) {
	return s.rankedTools(limit, minExecutions, "ASC")
}

// TopTools returns the best-performing tools by success rate, skipping tools
// with fewer than minExecutions recorded calls.
func (s *Store) TopTools(limit, minExecutions int) ([]ToolStats, error) {
	return s.rankedTools(limit, minExecutions, "DESC")
}

func (s *Store) rankedTools(limit, minExecutions int, order string) ([]ToolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT tool_name, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0), MAX(created_at)
		FROM tool_executions
		GROUP BY tool_name
		HAVING COUNT(*) >= ?
		ORDER BY CAST(SUM(success) AS REAL) / COUNT(*) %s, COUNT(*) DESC
		LIMIT ?`, order), minExecutions, limit)
	if err != nil {
		return nil, fmt.Errorf("ranked tools: %w", err)
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var st ToolStats
		var lastUsed sql.NullString
		var avg sql.NullFloat64
		if err := rows.Scan(&st.ToolName, &st.TotalCalls, &st.Successes, &avg, &lastUsed); err != nil {
			return nil, err
		}
		st.Failures = st.TotalCalls - st.Successes
		st.AvgDurationMs = avg.Float64
		st.LastUsed = parseTime(lastUsed)
		if st.TotalCalls > 0 {
			st.SuccessRate = float64(st.Successes) / float64(st.TotalCalls)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// WindowStatistics computes a tool's profile between from and to.
func (s *Store) WindowStatistics(toolName string, from, to time.Time) (*WindowStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := &WindowStats{}
	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(duration_ms), 0)
		FROM tool_executions
		WHERE tool_name = ? AND created_at >= ? AND created_at <= ?`,
		toolName, from.UTC().Format("2006-01-02 15:04:05"), to.UTC().Format("2006-01-02 15:04:05")).
		Scan(&w.Executions, &w.Successes, &avg)
	if err != nil {
		return nil, fmt.Errorf("window statistics: %w", err)
	}
	w.AvgDurationMs = avg.Float64
	if w.Executions > 0 {
		w.SuccessRate = float64(w.Successes) / float64(w.Executions)
	}
	return w, nil
}

// FailureCounts returns per-tool failure counts since the given time.
func (s *Store) FailureCounts(since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT tool_name, COUNT(*) FROM tool_executions
		WHERE success = 0 AND created_at >= ?
		GROUP BY tool_name`,
		since.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// RecentFailures returns the error texts of a tool's most recent failures.
func (s *Store) RecentFailures(toolName string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT COALESCE(error, '') FROM tool_executions
		WHERE tool_name = ? AND success = 0
		ORDER BY id DESC LIMIT ?`, toolName, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var errors []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		errors = append(errors, e)
	}
	return errors, rows.Err()
}

// HistoricalRuns returns a tool's most recent recorded calls, optionally only
// the successful ones. Parameters that fail to decode yield an empty map.
func (s *Store) HistoricalRuns(toolName string, onlySuccess bool, limit int) ([]ToolRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT COALESCE(parameters, '{}'), COALESCE(result, ''), success
		FROM tool_executions WHERE tool_name = ?`
	if onlySuccess {
		query += " AND success = 1"
	}
	query += " ORDER BY id DESC LIMIT ?"

	rows, err := s.db.Query(query, toolName, limit)
	if err != nil {
		return nil, fmt.Errorf("historical runs: %w", err)
	}
	defer rows.Close()

	var runs []ToolRun
	for rows.Next() {
		var paramsRaw string
		var run ToolRun
		var success int
		if err := rows.Scan(&paramsRaw, &run.Result, &success); err != nil {
			return nil, err
		}
		run.Success = success == 1
		if err := json.Unmarshal([]byte(paramsRaw), &run.Parameters); err != nil {
			run.Parameters = map[string]any{}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StatusRecord is a tool's lifecycle status row.
type StatusRecord struct {
	ToolName  string    `json:"tool_name"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusRecords returns every tool's recorded lifecycle status.
func (s *Store) StatusRecords() ([]StatusRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT tool_name, status, COALESCE(status_reason, ''), updated_at FROM tool_statistics")
	if err != nil {
		return nil, fmt.Errorf("status records: %w", err)
	}
	defer rows.Close()

	var records []StatusRecord
	for rows.Next() {
		var r StatusRecord
		var updated sql.NullString
		if err := rows.Scan(&r.ToolName, &r.Status, &r.Reason, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = parseTime(updated)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RollupStatistics recomputes the tool_statistics aggregates from the raw
// tool_executions log. Status and status_reason are preserved.
func (s *Store) RollupStatistics() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tool_statistics (tool_name, total_calls, successful_calls, failed_calls, total_duration_ms, last_used, updated_at)
		SELECT tool_name, COUNT(*), SUM(success), COUNT(*) - SUM(success),
		       COALESCE(SUM(duration_ms), 0), MAX(created_at), CURRENT_TIMESTAMP
		FROM tool_executions
		GROUP BY tool_name
		ON CONFLICT(tool_name) DO UPDATE SET
			total_calls = excluded.total_calls,
			successful_calls = excluded.successful_calls,
			failed_calls = excluded.failed_calls,
			total_duration_ms = excluded.total_duration_ms,
			last_used = excluded.last_used,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("rollup statistics: %w", err)
	}
	return nil
}
