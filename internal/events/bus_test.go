package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEmitAssignsMonotonicIDs(t *testing.T) {
	b := NewBus()
	first := b.Emit(Event{Type: TypeGoalStart, GoalID: "g1"})
	second := b.Emit(Event{Type: TypeGoalComplete, GoalID: "g1"})
	assert.Equal(t, first+1, second)
	assert.Equal(t, second, b.LastID())
}

func TestBoundedRetentionTrimsOldest(t *testing.T) {
	b := NewBusWithCap(3)
	for i := 0; i < 5; i++ {
		b.Emit(Event{Type: TypeThought})
	}
	assert.Equal(t, 3, b.Len())

	got := b.Events(Filter{})
	require.Len(t, got, 3)
	// Newest first; ids keep counting past the trim.
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, int64(3), got[2].ID)
}

func TestEventsFilters(t *testing.T) {
	b := NewBus()
	b.Emit(Event{Type: TypeGoalStart, GoalID: "a"})
	b.Emit(Event{Type: TypeNeuronStart, GoalID: "a", NeuronType: "intent"})
	b.Emit(Event{Type: TypeGoalStart, GoalID: "b"})

	assert.Len(t, b.Events(Filter{GoalID: "a"}), 2)
	assert.Len(t, b.Events(Filter{Type: TypeGoalStart}), 2)
	assert.Len(t, b.Events(Filter{NeuronType: "intent"}), 1)
	assert.Len(t, b.Events(Filter{GoalID: "a", Type: TypeGoalStart}), 1)
	assert.Len(t, b.Events(Filter{Limit: 1}), 1)
}

func TestSubscribeReplaysBacklog(t *testing.T) {
	b := NewBus()
	b.Emit(Event{Type: TypeGoalStart, GoalID: "g"})
	b.Emit(Event{Type: TypeGoalComplete, GoalID: "g"})

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, 0)

	first := <-ch
	second := <-ch
	assert.Equal(t, TypeGoalStart, first.Type)
	assert.Equal(t, TypeGoalComplete, second.Type)

	b.Emit(Event{Type: TypeThought, GoalID: "g"})
	third := <-ch
	assert.Equal(t, TypeThought, third.Type)

	cancel()
	// Channel closes after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}

func TestSubscribeFromID(t *testing.T) {
	b := NewBus()
	b.Emit(Event{Type: TypeGoalStart})
	last := b.Emit(Event{Type: TypeGoalComplete})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Subscribe(ctx, last)

	b.Emit(Event{Type: TypeThought})
	e := <-ch
	assert.Equal(t, TypeThought, e.Type)
	assert.Equal(t, last+1, e.ID)
}
