package tools

import (
	"sync"
	"time"

	"neuroforge/internal/kv"
	"neuroforge/internal/logging"
)

// Status is the lifecycle state of a tool implementation.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusTesting  Status = "testing"
	StatusActive   Status = "active"
	StatusDegraded Status = "degraded"
	StatusRetired  Status = "retired"
)

// Promotion and degradation thresholds.
const (
	promoteAfterSuccesses = 3
	degradeMinCalls       = 5
	degradeBelowRate      = 0.5
)

// Performance holds running statistics for one tool.
// Invariant: SuccessfulCalls + FailedCalls <= TotalCalls.
type Performance struct {
	ToolName        string    `json:"tool_name"`
	TotalCalls      int       `json:"total_calls"`
	SuccessfulCalls int       `json:"successful_calls"`
	FailedCalls     int       `json:"failed_calls"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	LastUsed        time.Time `json:"last_used"`
	LastError       string    `json:"last_error,omitempty"`
	Status          Status    `json:"status"`
}

// SuccessRate returns successes over total calls (0 when unused).
func (p *Performance) SuccessRate() float64 {
	if p.TotalCalls == 0 {
		return 0
	}
	return float64(p.SuccessfulCalls) / float64(p.TotalCalls)
}

// AvgDurationMs returns total duration over successful calls.
func (p *Performance) AvgDurationMs() float64 {
	if p.SuccessfulCalls == 0 {
		return 0
	}
	return float64(p.TotalDurationMs) / float64(p.SuccessfulCalls)
}

const perfNamespace = "tool_performance"

// PerformanceTracker maintains per-tool counters and the status machine:
// testing -> active after 3 successes, active -> degraded once a tool has
// at least 5 calls with a success rate below 0.5. Snapshots are persisted
// per tool name in the KV store.
type PerformanceTracker struct {
	mu    sync.Mutex
	store kv.Store // optional
	perf  map[string]*Performance
}

// NewPerformanceTracker creates a tracker persisting to store (may be nil).
func NewPerformanceTracker(store kv.Store) *PerformanceTracker {
	return &PerformanceTracker{
		store: store,
		perf:  make(map[string]*Performance),
	}
}

func (t *PerformanceTracker) getLocked(name string) *Performance {
	if p, ok := t.perf[name]; ok {
		return p
	}
	p := &Performance{ToolName: name, Status: StatusActive}
	t.perf[name] = p
	return p
}

// Track registers a tool under an initial status without recording a call.
func (t *PerformanceTracker) Track(name string, status Status) {
	t.mu.Lock()
	p := t.getLocked(name)
	p.Status = status
	t.mu.Unlock()
	t.persist(name)
}

// RecordSuccess records a successful call and applies status transitions.
func (t *PerformanceTracker) RecordSuccess(name string, durationMs int64) {
	t.mu.Lock()
	p := t.getLocked(name)
	p.TotalCalls++
	p.SuccessfulCalls++
	p.TotalDurationMs += durationMs
	p.LastUsed = time.Now()
	if p.Status == StatusTesting && p.SuccessfulCalls >= promoteAfterSuccesses {
		p.Status = StatusActive
		logging.Tools("tool %s promoted testing -> active", name)
	}
	t.mu.Unlock()
	t.persist(name)
}

// RecordFailure records a failed call and applies status transitions.
func (t *PerformanceTracker) RecordFailure(name, errText string) {
	t.mu.Lock()
	p := t.getLocked(name)
	p.TotalCalls++
	p.FailedCalls++
	p.LastUsed = time.Now()
	p.LastError = errText
	if p.Status == StatusActive && p.TotalCalls >= degradeMinCalls && p.SuccessRate() < degradeBelowRate {
		p.Status = StatusDegraded
		logging.Tools("tool %s degraded (rate=%.2f over %d calls)", name, p.SuccessRate(), p.TotalCalls)
	}
	t.mu.Unlock()
	t.persist(name)
}

// Get returns a copy of a tool's performance record, or nil if untracked.
func (t *PerformanceTracker) Get(name string) *Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.perf[name]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

// SetStatus forces a status (lifecycle management).
func (t *PerformanceTracker) SetStatus(name string, status Status) {
	t.mu.Lock()
	p := t.getLocked(name)
	p.Status = status
	t.mu.Unlock()
	t.persist(name)
}

// All returns copies of every tracked record.
func (t *PerformanceTracker) All() []Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Performance, 0, len(t.perf))
	for _, p := range t.perf {
		out = append(out, *p)
	}
	return out
}

func (t *PerformanceTracker) persist(name string) {
	if t.store == nil {
		return
	}
	t.mu.Lock()
	p, ok := t.perf[name]
	var snapshot map[string]any
	if ok {
		snapshot = map[string]any{
			"tool_name":         p.ToolName,
			"total_calls":       p.TotalCalls,
			"successful_calls":  p.SuccessfulCalls,
			"failed_calls":      p.FailedCalls,
			"total_duration_ms": p.TotalDurationMs,
			"last_used":         p.LastUsed.Format(time.RFC3339Nano),
			"last_error":        p.LastError,
			"status":            string(p.Status),
		}
	}
	t.mu.Unlock()
	if snapshot == nil {
		return
	}
	if err := t.store.Set(perfNamespace, name, snapshot, 0); err != nil {
		logging.ToolsDebug("persist performance %s: %v", name, err)
	}
}
