package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"neuroforge/internal/events"
	"neuroforge/internal/logging"
)

const (
	tickInterval = 10 * time.Second

	// A goal never fires twice inside this window, whatever its schedule
	// says. Guards against clock jumps and overlapping cron matches.
	minRefire = time.Minute
)

// Executor runs one goal and returns its result. An error counts as a
// failed run.
type Executor func(ctx context.Context, goalText string) (string, error)

// Scheduler triggers stored goals on their schedules.
type Scheduler struct {
	store      StateStore
	conditions *ConditionRegistry
	hooks      *HookRegistry
	execute    Executor
	bus        *events.Bus

	mu      sync.Mutex
	goals   map[string]*ScheduledGoal
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler and loads persisted goals from the store.
func New(store StateStore, conditions *ConditionRegistry, execute Executor, bus *events.Bus) (*Scheduler, error) {
	if conditions == nil {
		conditions = NewConditionRegistry()
	}
	s := &Scheduler{
		store:      store,
		conditions: conditions,
		hooks:      NewHookRegistry(),
		execute:    execute,
		bus:        bus,
		goals:      make(map[string]*ScheduledGoal),
	}

	goals, err := store.LoadGoals()
	if err != nil {
		return nil, fmt.Errorf("load scheduled goals: %w", err)
	}
	for _, g := range goals {
		if err := g.Validate(); err != nil {
			logging.Scheduler("skipping stored goal %s: %v", g.ID, err)
			continue
		}
		s.goals[g.ID] = g
	}
	logging.Scheduler("loaded %d scheduled goals", len(s.goals))
	return s, nil
}

// Add validates, stores and activates a goal.
func (s *Scheduler) Add(goal *ScheduledGoal) error {
	if err := goal.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveGoal(goal); err != nil {
		return err
	}
	s.mu.Lock()
	s.goals[goal.ID] = goal
	s.mu.Unlock()
	logging.Scheduler("added %s goal %s: %q", goal.Type, goal.ID, goal.GoalText)
	return nil
}

// Remove deletes a goal and its state.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	delete(s.goals, id)
	s.mu.Unlock()
	return s.store.DeleteGoal(id)
}

// Enable re-activates a disabled goal and resets its failure streak, so a
// circuit-broken goal gets a fresh window.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	goal, ok := s.goals[id]
	if ok {
		goal.Enabled = true
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled goal %s", id)
	}

	state, err := s.store.LoadState(id)
	if err != nil {
		return err
	}
	state.ConsecutiveFailures = 0
	state.DisabledReason = ""
	if err := s.store.SaveState(id, state); err != nil {
		return err
	}
	return s.store.SaveGoal(goal)
}

// Disable deactivates a goal without deleting it.
func (s *Scheduler) Disable(id, reason string) error {
	s.mu.Lock()
	goal, ok := s.goals[id]
	if ok {
		goal.Enabled = false
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled goal %s", id)
	}

	state, err := s.store.LoadState(id)
	if err != nil {
		return err
	}
	state.DisabledReason = reason
	if err := s.store.SaveState(id, state); err != nil {
		return err
	}
	logging.Scheduler("disabled goal %s: %s", id, reason)
	return s.store.SaveGoal(goal)
}

// RegisterHook adds or replaces a named completion hook.
func (s *Scheduler) RegisterHook(name string, h Hook) {
	s.hooks.Register(name, h)
}

// ListFilter narrows List results. The zero value matches everything.
type ListFilter struct {
	EnabledOnly bool
	// Tags keeps goals carrying at least one of these tags.
	Tags []string
}

// List returns copies of the scheduled goals matching the filter.
func (s *Scheduler) List(filter ListFilter) []ScheduledGoal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledGoal, 0, len(s.goals))
	for _, g := range s.goals {
		if filter.EnabledOnly && !g.Enabled {
			continue
		}
		if len(filter.Tags) > 0 && !hasAnyTag(g.Tags, filter.Tags) {
			continue
		}
		out = append(out, *g)
	}
	return out
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// RunNow triggers a goal immediately, bypassing its schedule but not its
// conditions or circuit breakers.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	goal, ok := s.goals[id]
	var copied ScheduledGoal
	if ok {
		copied = *goal
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled goal %s", id)
	}
	s.fire(ctx, copied)
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.run(runCtx)
	logging.Scheduler("scheduler started")
}

// Stop cancels the loop and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	logging.Scheduler("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick fires every enabled goal that is due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]ScheduledGoal, 0)
	for _, g := range s.goals {
		if !g.Enabled || g.Type == ScheduleOnDemand {
			continue
		}
		due = append(due, *g)
	}
	s.mu.Unlock()

	for _, goal := range due {
		state, err := s.store.LoadState(goal.ID)
		if err != nil {
			logging.Scheduler("state for %s: %v", goal.ID, err)
			continue
		}
		if s.isDue(&goal, state, now) {
			s.fire(ctx, goal)
		}
	}
}

// isDue decides whether a goal should fire at now, applying the minimum
// re-fire guard on top of the schedule.
func (s *Scheduler) isDue(goal *ScheduledGoal, state GoalState, now time.Time) bool {
	if !state.LastRun.IsZero() && now.Sub(state.LastRun) < minRefire {
		return false
	}
	switch goal.Type {
	case ScheduleOnce:
		return state.RunCount == 0 && !now.Before(goal.RunAt)
	case ScheduleInterval:
		return state.LastRun.IsZero() || now.Sub(state.LastRun) >= goal.Interval
	case ScheduleCron:
		if goal.schedule == nil {
			if err := goal.Validate(); err != nil {
				return false
			}
		}
		last := state.LastRun
		if last.IsZero() {
			last = goal.CreatedAt
		}
		return !goal.schedule.Next(last).After(now)
	default:
		return false
	}
}

// fire runs the goal through its conditions, executes it and updates the
// circuit breakers.
func (s *Scheduler) fire(ctx context.Context, goal ScheduledGoal) {
	state, err := s.store.LoadState(goal.ID)
	if err != nil {
		logging.Scheduler("state for %s: %v", goal.ID, err)
		return
	}

	if goal.MaxRuns > 0 && state.RunCount >= goal.MaxRuns {
		s.trip(goal.ID, "max_runs reached")
		return
	}
	if state.ConsecutiveFailures >= goal.maxFailures() {
		s.trip(goal.ID, "max consecutive failures reached")
		return
	}

	goalText := goal.GoalText
	decision := s.conditions.evaluate(goal, state)
	switch decision.Action {
	case ActionSkip:
		logging.Scheduler("skipping goal %s: %s", goal.ID, decision.Reason)
		return
	case ActionDisable:
		s.trip(goal.ID, decision.Reason)
		return
	case ActionModify:
		if decision.ModifiedGoalText != "" {
			goalText = decision.ModifiedGoalText
		}
	case ActionAlert:
		s.emitAlert(goal.ID, decision.Reason)
	}

	start := time.Now()
	result, execErr := s.execute(ctx, goalText)
	run := Run{
		GoalID:     goal.ID,
		StartedAt:  start,
		Success:    execErr == nil,
		Result:     result,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if execErr != nil {
		run.Error = execErr.Error()
	}
	if err := s.store.RecordRun(run); err != nil {
		logging.Scheduler("recording run for %s: %v", goal.ID, err)
	}

	state.RunCount++
	state.LastRun = start
	state.LastSuccess = run.Success
	state.LastResult = run.Result
	if run.Success {
		state.ConsecutiveFailures = 0
	} else {
		state.LastResult = run.Error
		state.ConsecutiveFailures++
	}
	s.runHook(goal, run, &state)
	if err := s.store.SaveState(goal.ID, state); err != nil {
		logging.Scheduler("saving state for %s: %v", goal.ID, err)
	}

	logging.Scheduler("ran goal %s: success=%v in %dms", goal.ID, run.Success, run.DurationMs)

	if goal.Type == ScheduleOnce ||
		(goal.MaxRuns > 0 && state.RunCount >= goal.MaxRuns) {
		s.trip(goal.ID, "schedule exhausted")
	} else if state.ConsecutiveFailures >= goal.maxFailures() {
		s.trip(goal.ID, "max consecutive failures reached")
	}
}

// runHook invokes the goal's completion hook: OnComplete after a success,
// OnError after a failure. Unregistered names are logged and skipped.
func (s *Scheduler) runHook(goal ScheduledGoal, run Run, state *GoalState) {
	name := goal.OnComplete
	if !run.Success {
		name = goal.OnError
	}
	if name == "" {
		return
	}
	h, ok := s.hooks.Get(name)
	if !ok {
		logging.Scheduler("goal %s references unknown hook %q", goal.ID, name)
		return
	}
	h(run, state)
}

// trip disables a goal via its circuit breaker.
func (s *Scheduler) trip(id, reason string) {
	if err := s.Disable(id, reason); err != nil {
		logging.Scheduler("disabling %s: %v", id, err)
	}
}

func (s *Scheduler) emitAlert(goalID, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(events.Event{
		Type:    events.TypeToolAlert,
		GoalID:  goalID,
		Payload: map[string]any{"source": "scheduler", "reason": reason},
	})
}

// NextCron is a helper exposing when a cron spec fires next. Used by the
// CLI to preview schedules.
func NextCron(spec string, after time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
