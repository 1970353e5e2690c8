// Package events implements the append-only event stream that every
// processing step reports to. The stream is bounded: the oldest entries are
// trimmed on insert once the cap is reached. Events within a single goal are
// totally ordered by their id; cross-goal ordering is best-effort.
package events

import (
	"context"
	"sync"
	"time"

	"neuroforge/internal/logging"
)

// Type enumerates the event kinds emitted by the pipeline.
type Type string

const (
	TypeGoalStart      Type = "goal_start"
	TypeGoalComplete   Type = "goal_complete"
	TypeNeuronStart    Type = "neuron_start"
	TypeNeuronComplete Type = "neuron_complete"
	TypeNeuronError    Type = "neuron_error"
	TypeThought        Type = "thought"
	TypeToolCalled     Type = "tool_called"
	TypeToolDeployed   Type = "tool_deployed"
	TypeToolRolledBack Type = "tool_rolled_back"
	TypeToolAlert      Type = "tool_alert"
)

// Event is an immutable record. Appended once, never modified.
type Event struct {
	ID         int64          `json:"event_id"`
	Type       Type           `json:"event_type"`
	NeuronType string         `json:"neuron_type,omitempty"`
	GoalID     string         `json:"goal_id,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Filter narrows Events queries. Zero fields match everything.
type Filter struct {
	GoalID     string
	NeuronType string
	Type       Type
	Limit      int
}

// DefaultMaxLen is the bounded retention of the stream.
const DefaultMaxLen = 10000

const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// Bus is the in-process event stream. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	events []Event
	nextID int64
	maxLen int
	subs   map[int]*subscriber
	subSeq int
}

// NewBus creates a bus with the default retention.
func NewBus() *Bus {
	return NewBusWithCap(DefaultMaxLen)
}

// NewBusWithCap creates a bus retaining at most maxLen events.
func NewBusWithCap(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Bus{
		maxLen: maxLen,
		subs:   make(map[int]*subscriber),
	}
}

// Emit appends an event and returns its assigned id. O(1) amortized.
func (b *Bus) Emit(e Event) int64 {
	b.mu.Lock()
	b.nextID++
	e.ID = b.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.events = append(b.events, e)
	if len(b.events) > b.maxLen {
		// Trim oldest on insert.
		b.events = b.events[len(b.events)-b.maxLen:]
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			// Slow subscriber: drop rather than block the emitter.
		}
	}
	b.mu.Unlock()

	logging.Get(logging.CategoryEvents).Debug("emit %s goal=%s id=%d", e.Type, e.GoalID, e.ID)
	return e.ID
}

// Events returns matching events newest-first.
func (b *Bus) Events(f Filter) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = len(b.events)
	}

	out := make([]Event, 0, limit)
	for i := len(b.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := b.events[i]
		if f.GoalID != "" && e.GoalID != f.GoalID {
			continue
		}
		if f.NeuronType != "" && e.NeuronType != f.NeuronType {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Subscribe follows the stream from just after fromID (0 replays the whole
// retained backlog). The returned channel is closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, fromID int64) <-chan Event {
	b.mu.Lock()
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	// Replay the retained backlog the caller has not yet observed.
	for _, e := range b.events {
		if e.ID <= fromID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}

	b.subSeq++
	id := b.subSeq
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// LastID returns the id of the most recently emitted event.
func (b *Bus) LastID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// Len returns the number of retained events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Clear drops all retained events. Test-only.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
