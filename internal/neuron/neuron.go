// Package neuron implements the single-responsibility processing units the
// orchestrator routes goals through. Every neuron exposes Process; the
// Runner wraps each call with event emission, a thought record, timing and
// panic recovery. Neuron failures never propagate as errors or panics; they
// surface through Result.
package neuron

import (
	"context"
	"fmt"
	"time"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
	"neuroforge/internal/thought"
)

// LLMClient is the slice of the LLM client neurons depend on.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, opts *llm.Options) (map[string]any, error)
}

// Processor is a neuron's core logic.
type Processor interface {
	// Name identifies the neuron in events, thoughts and messages.
	Name() string
	// Process handles one input for one goal. It may return an error; the
	// Runner converts it into a failed Result.
	Process(ctx context.Context, g *goal.Context, input string) (any, error)
}

// Result is the uniform outcome of a wrapped neuron run.
type Result struct {
	Success    bool
	Data       any
	Error      string
	DurationMs int64
}

// Runner wraps Process calls with the pipeline's observability contract.
type Runner struct {
	bus  *events.Bus
	tree *thought.Tree
}

// NewRunner creates a runner emitting to bus and recording to tree.
func NewRunner(bus *events.Bus, tree *thought.Tree) *Runner {
	return &Runner{bus: bus, tree: tree}
}

// Run executes p.Process with the full wrapper: neuron_start event, an
// action thought, timing, then neuron_complete plus a context message on
// success or neuron_error plus an error message on failure. Panics are
// recovered into failed Results.
func (r *Runner) Run(ctx context.Context, p Processor, g *goal.Context, input string) (result Result) {
	start := time.Now()

	r.bus.Emit(events.Event{
		Type:       events.TypeNeuronStart,
		NeuronType: p.Name(),
		GoalID:     g.GoalID,
		Payload:    map[string]any{"input": input},
	})
	if root := r.tree.Root(g.GoalID); root != nil {
		r.tree.Add(root.ID, fmt.Sprintf("%s processing", p.Name()), thought.TypeAction, g.GoalID, nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = r.fail(p, g, fmt.Sprintf("panic: %v", rec), start)
		}
	}()

	data, err := p.Process(ctx, g, input)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		return r.fail(p, g, err.Error(), start)
	}

	r.bus.Emit(events.Event{
		Type:       events.TypeNeuronComplete,
		NeuronType: p.Name(),
		GoalID:     g.GoalID,
		DurationMs: durationMs,
	})
	g.AddMessage(p.Name(), "result", data)
	logging.NeuronDebug("%s completed for goal %s in %dms", p.Name(), g.GoalID, durationMs)

	return Result{Success: true, Data: data, DurationMs: durationMs}
}

func (r *Runner) fail(p Processor, g *goal.Context, errText string, start time.Time) Result {
	durationMs := time.Since(start).Milliseconds()
	r.bus.Emit(events.Event{
		Type:       events.TypeNeuronError,
		NeuronType: p.Name(),
		GoalID:     g.GoalID,
		DurationMs: durationMs,
		Payload:    map[string]any{"error": errText},
	})
	g.AddMessage(p.Name(), "error", errText)
	logging.Neuron("%s failed for goal %s: %s", p.Name(), g.GoalID, errText)
	return Result{Success: false, Error: errText, DurationMs: durationMs}
}
