package scheduler

import "sync"

// Condition actions.
const (
	ActionRun     = "run"
	ActionSkip    = "skip"
	ActionDisable = "disable"
	ActionModify  = "modify"
	ActionAlert   = "alert"
)

// Decision is a condition's verdict for one pending run.
type Decision struct {
	Action string
	// ModifiedGoalText replaces the goal text when Action is modify.
	ModifiedGoalText string
	Reason           string
}

// Condition inspects a goal and its state before a run.
type Condition func(goal ScheduledGoal, state GoalState) Decision

// ConditionRegistry holds named conditions goals can reference.
type ConditionRegistry struct {
	mu         sync.RWMutex
	conditions map[string]Condition
}

// NewConditionRegistry creates an empty registry.
func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{conditions: make(map[string]Condition)}
}

// Register adds or replaces a named condition.
func (r *ConditionRegistry) Register(name string, c Condition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[name] = c
}

// Get returns a condition by name.
func (r *ConditionRegistry) Get(name string) (Condition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conditions[name]
	return c, ok
}

// evaluate runs the goal's conditions in order. The first non-run decision
// wins; unregistered condition names are ignored.
func (r *ConditionRegistry) evaluate(goal ScheduledGoal, state GoalState) Decision {
	for _, name := range goal.Conditions {
		c, ok := r.Get(name)
		if !ok {
			continue
		}
		if d := c(goal, state); d.Action != "" && d.Action != ActionRun {
			return d
		}
	}
	return Decision{Action: ActionRun}
}
