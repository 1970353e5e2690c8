// Package goal defines the per-goal mutable context threaded through the
// neuron pipeline. A Context is owned by a single goal's pipeline task and
// is never shared across goals.
package goal

import (
	"time"

	"github.com/google/uuid"
)

// Intent is the classified kind of processing a goal needs.
type Intent string

const (
	IntentGenerative  Intent = "generative"
	IntentTool        Intent = "tool"
	IntentMemoryRead  Intent = "memory_read"
	IntentMemoryWrite Intent = "memory_write"
)

// ToolCall is one recorded tool attempt, including retries.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     string         `json:"result,omitempty"`
	Err        string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"duration_ms"`
}

// Message is one pipeline step's note attached to the context.
type Message struct {
	Neuron    string    `json:"neuron"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Context carries one goal through the pipeline.
// Invariant: CompletedAt is set exactly once; at completion Success and
// exactly one of Result/Err are set.
type Context struct {
	GoalID      string         `json:"goal_id"`
	GoalText    string         `json:"goal_text"`
	Intent      Intent         `json:"intent,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Result      string         `json:"result,omitempty"`
	Err         string         `json:"error,omitempty"`
	Success     bool           `json:"success"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Messages    []Message      `json:"messages"`

	// RecoveryNote carries error feedback into retry/refine attempts.
	RecoveryNote string `json:"-"`

	toolCalls      []ToolCall
	usedRecoveries map[string]bool
}

// New creates a context for goal text with a fresh UUID.
func New(goalText string) *Context {
	return &Context{
		GoalID:    uuid.NewString(),
		GoalText:  goalText,
		StartedAt: time.Now(),
	}
}

// AddMessage appends an ordered pipeline message.
func (c *Context) AddMessage(neuron, typ string, data any) {
	c.Messages = append(c.Messages, Message{
		Neuron:    neuron,
		Type:      typ,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Complete marks the goal successful. Only the first terminal call takes
// effect.
func (c *Context) Complete(result string) {
	if !c.CompletedAt.IsZero() {
		return
	}
	c.Success = true
	c.Result = result
	c.Err = ""
	c.CompletedAt = time.Now()
}

// Fail marks the goal failed. Only the first terminal call takes effect.
func (c *Context) Fail(errText string) {
	if !c.CompletedAt.IsZero() {
		return
	}
	c.Success = false
	c.Err = errText
	c.Result = ""
	c.CompletedAt = time.Now()
}

// Done reports whether the goal has terminated.
func (c *Context) Done() bool { return !c.CompletedAt.IsZero() }

// DurationMs is the wall time from start to completion (or to now while
// still running).
func (c *Context) DurationMs() int64 {
	end := c.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.StartedAt).Milliseconds()
}

// RecordToolCall appends one tool attempt to the call log.
func (c *Context) RecordToolCall(call ToolCall) {
	c.toolCalls = append(c.toolCalls, call)
}

// ToolCalls returns every recorded tool attempt in order.
func (c *Context) ToolCalls() []ToolCall {
	return c.toolCalls
}

// TryRecovery records that the named recovery action has been attempted and
// reports whether this was the first attempt. Each recovery runs at most
// once per goal.
func (c *Context) TryRecovery(action string) bool {
	if c.usedRecoveries == nil {
		c.usedRecoveries = make(map[string]bool)
	}
	if c.usedRecoveries[action] {
		return false
	}
	c.usedRecoveries[action] = true
	return true
}
