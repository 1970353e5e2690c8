// Package scheduler runs goals on schedules: once at a point in time, on a
// fixed interval, on a cron expression, or on demand. Per-goal circuit
// breakers stop runaway schedules, and registered conditions can skip,
// modify or disable a goal before each run.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ScheduleType selects how a goal is triggered.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleOnDemand ScheduleType = "on_demand"
)

// DefaultMaxFailures disables a goal after this many consecutive failures
// when the goal doesn't set its own limit.
const DefaultMaxFailures = 5

// ScheduledGoal is the definition of one recurring goal.
type ScheduledGoal struct {
	ID       string       `json:"id"`
	GoalText string       `json:"goal_text"`
	Type     ScheduleType `json:"type"`

	// RunAt applies to once; Interval to interval; CronSpec to cron.
	RunAt    time.Time     `json:"run_at,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	CronSpec string        `json:"cron_spec,omitempty"`

	// MaxRuns disables the goal after this many runs (0 = unlimited).
	MaxRuns int `json:"max_runs,omitempty"`
	// MaxFailures disables after this many consecutive failures
	// (0 = DefaultMaxFailures).
	MaxFailures int `json:"max_failures,omitempty"`

	// Conditions names registered predicates checked before every run.
	Conditions []string `json:"conditions,omitempty"`

	// Tags label goals for filtered listing.
	Tags []string `json:"tags,omitempty"`

	// OnComplete and OnError name registered hooks invoked after each
	// run: OnComplete on success, OnError on failure.
	OnComplete string `json:"on_complete,omitempty"`
	OnError    string `json:"on_error,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`

	schedule cron.Schedule
}

// GoalState is the mutable run history of one scheduled goal.
type GoalState struct {
	RunCount            int       `json:"run_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRun             time.Time `json:"last_run,omitempty"`
	LastSuccess         bool      `json:"last_success"`
	// LastResult is the last run's result, or its error text on failure.
	LastResult     string `json:"last_result,omitempty"`
	DisabledReason string `json:"disabled_reason,omitempty"`

	// Data is free-form state carried between runs. Hooks may read and
	// write it; it persists with the rest of the state.
	Data map[string]any `json:"data,omitempty"`
}

// Run is one recorded execution of a scheduled goal.
type Run struct {
	GoalID     string    `json:"goal_id"`
	StartedAt  time.Time `json:"started_at"`
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// NewGoal builds a validated scheduled goal. Cron specs use the standard
// five-field format; specs that never fire (like */0) are rejected by the
// parser.
func NewGoal(goalText string, typ ScheduleType) (*ScheduledGoal, error) {
	if goalText == "" {
		return nil, fmt.Errorf("goal text is empty")
	}
	switch typ {
	case ScheduleOnce, ScheduleInterval, ScheduleCron, ScheduleOnDemand:
	default:
		return nil, fmt.Errorf("unknown schedule type %q", typ)
	}
	return &ScheduledGoal{
		ID:        uuid.NewString(),
		GoalText:  goalText,
		Type:      typ,
		Enabled:   true,
		CreatedAt: time.Now(),
	}, nil
}

// Validate checks the trigger fields and compiles the cron spec.
func (g *ScheduledGoal) Validate() error {
	switch g.Type {
	case ScheduleOnce:
		if g.RunAt.IsZero() {
			return fmt.Errorf("once schedule needs run_at")
		}
	case ScheduleInterval:
		if g.Interval <= 0 {
			return fmt.Errorf("interval schedule needs a positive interval")
		}
	case ScheduleCron:
		schedule, err := cron.ParseStandard(g.CronSpec)
		if err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", g.CronSpec, err)
		}
		g.schedule = schedule
	}
	return nil
}

// maxFailures returns the goal's failure limit with the default applied.
func (g *ScheduledGoal) maxFailures() int {
	if g.MaxFailures > 0 {
		return g.MaxFailures
	}
	return DefaultMaxFailures
}
