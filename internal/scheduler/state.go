package scheduler

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StateStore persists scheduled goals, their run state and run history.
type StateStore interface {
	SaveGoal(goal *ScheduledGoal) error
	DeleteGoal(id string) error
	LoadGoals() ([]*ScheduledGoal, error)
	SaveState(id string, state GoalState) error
	LoadState(id string) (GoalState, error)
	RecordRun(run Run) error
	RecentRuns(goalID string, limit int) ([]Run, error)
	Close() error
}

// MemoryStateStore keeps everything in process memory. Used in tests and
// for ephemeral schedulers.
type MemoryStateStore struct {
	mu     sync.Mutex
	goals  map[string]*ScheduledGoal
	states map[string]GoalState
	runs   []Run
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		goals:  make(map[string]*ScheduledGoal),
		states: make(map[string]GoalState),
	}
}

func (s *MemoryStateStore) SaveGoal(goal *ScheduledGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *goal
	s.goals[goal.ID] = &copied
	return nil
}

func (s *MemoryStateStore) DeleteGoal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.goals, id)
	delete(s.states, id)
	return nil
}

func (s *MemoryStateStore) LoadGoals() ([]*ScheduledGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ScheduledGoal, 0, len(s.goals))
	for _, g := range s.goals {
		copied := *g
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStateStore) SaveState(id string, state GoalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = state
	return nil
}

func (s *MemoryStateStore) LoadState(id string) (GoalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id], nil
}

func (s *MemoryStateStore) RecordRun(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStateStore) RecentRuns(goalID string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.runs[i].GoalID == goalID {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

func (s *MemoryStateStore) Close() error { return nil }

// SQLiteStateStore persists scheduler state across restarts.
type SQLiteStateStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStateStore opens (creating if needed) the scheduler database.
func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
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
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA journal_mode = WAL")

	schema := `
	CREATE TABLE IF NOT EXISTS scheduled_goals (
		id TEXT PRIMARY KEY,
		definition TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS goal_states (
		goal_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS scheduled_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		goal_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		success INTEGER NOT NULL,
		result TEXT,
		error TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_runs_goal ON scheduled_runs(goal_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

func (s *SQLiteStateStore) SaveGoal(goal *ScheduledGoal) error {
	data, err := json.Marshal(goal)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO scheduled_goals (id, definition, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET definition = excluded.definition, updated_at = CURRENT_TIMESTAMP`,
		goal.ID, string(data))
	return err
}

func (s *SQLiteStateStore) DeleteGoal(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM scheduled_goals WHERE id = ?", id); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM goal_states WHERE goal_id = ?", id)
	return err
}

func (s *SQLiteStateStore) LoadGoals() ([]*ScheduledGoal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT definition FROM scheduled_goals")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var goals []*ScheduledGoal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var g ScheduledGoal
		if err := json.Unmarshal([]byte(data), &g); err != nil {
			return nil, fmt.Errorf("decode scheduled goal: %w", err)
		}
		goals = append(goals, &g)
	}
	return goals, rows.Err()
}

func (s *SQLiteStateStore) SaveState(id string, state GoalState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO goal_states (goal_id, state, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(goal_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		id, string(data))
	return err
}

func (s *SQLiteStateStore) LoadState(id string) (GoalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var data string
	err := s.db.QueryRow("SELECT state FROM goal_states WHERE goal_id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return GoalState{}, nil
	}
	if err != nil {
		return GoalState{}, err
	}
	var state GoalState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return GoalState{}, fmt.Errorf("decode goal state: %w", err)
	}
	return state, nil
}

func (s *SQLiteStateStore) RecordRun(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO scheduled_runs (goal_id, started_at, success, result, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.GoalID, run.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		boolInt(run.Success), run.Result, run.Error, run.DurationMs)
	return err
}

func (s *SQLiteStateStore) RecentRuns(goalID string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT goal_id, started_at, success, COALESCE(result, ''), COALESCE(error, ''), COALESCE(duration_ms, 0)
		FROM scheduled_runs WHERE goal_id = ?
		ORDER BY id DESC LIMIT ?`, goalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started string
		var success int
		if err := rows.Scan(&run.GoalID, &started, &success, &run.Result, &run.Error, &run.DurationMs); err != nil {
			return nil, err
		}
		run.Success = success == 1
		if t, err := time.Parse("2006-01-02 15:04:05", started); err == nil {
			run.StartedAt = t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStateStore) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
