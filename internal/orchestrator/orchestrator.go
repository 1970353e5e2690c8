// Package orchestrator drives goals through the neuron pipeline: intent
// classification, dispatch to the generative, tool or memory neuron, and a
// bounded recovery policy for the tool path. It owns the goal lifecycle
// events and the execution record.
package orchestrator

import (
	"context"
	"fmt"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/kv"
	"neuroforge/internal/logging"
	"neuroforge/internal/neuron"
	"neuroforge/internal/thought"
	"neuroforge/internal/tools"
)

// Forger creates a new tool from a capability description. Satisfied by
// *forge.Forge.
type Forger interface {
	ForgeTool(ctx context.Context, capability, goalText string) (*tools.Tool, error)
}

// Recorder persists completed executions. Satisfied by *execstore.Store.
// All Recorder failures are logged and never fail a goal.
type Recorder interface {
	StoreExecution(goalID, goalText, intent string, success bool, errText string, durationMs int64, metadata map[string]any) (string, error)
	StoreToolExecution(executionID, toolName string, parameters map[string]any, result string, success bool, errText string, durationMs int64) error
}

// Orchestrator wires the neurons together and runs goals end to end.
type Orchestrator struct {
	runner *neuron.Runner
	bus    *events.Bus
	tree   *thought.Tree
	perf   *tools.PerformanceTracker

	intent     *neuron.IntentNeuron
	generative *neuron.GenerativeNeuron
	tool       *neuron.ToolNeuron
	memory     *neuron.MemoryNeuron

	forger   Forger   // nil disables forging
	recorder Recorder // nil disables persistence
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Bus      *events.Bus
	Tree     *thought.Tree
	Registry *tools.Registry
	Perf     *tools.PerformanceTracker
	Client   neuron.LLMClient
	KV       kv.Store
	Cache    *neuron.PatternCache
	Forger   Forger
	Recorder Recorder
}

// New assembles an orchestrator from its collaborators.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		runner:     neuron.NewRunner(opts.Bus, opts.Tree),
		bus:        opts.Bus,
		tree:       opts.Tree,
		perf:       opts.Perf,
		intent:     neuron.NewIntentNeuron(opts.Client, opts.Cache),
		generative: neuron.NewGenerativeNeuron(opts.Client),
		tool:       neuron.NewToolNeuron(opts.Client, opts.Registry, opts.Bus),
		memory:     neuron.NewMemoryNeuron(opts.Client, opts.KV),
		forger:     opts.Forger,
		recorder:   opts.Recorder,
	}
}

// Process runs one goal through the pipeline and returns its terminal
// context. The returned error is reserved for pipeline-level failures;
// goal-level failures surface on the context. Empty goal text is accepted
// and flows through classification like any other.
func (o *Orchestrator) Process(ctx context.Context, goalText string) (*goal.Context, error) {
	g := goal.New(goalText)
	timer := logging.StartTimer(logging.CategoryOrchestrator, "goal "+g.GoalID)
	defer timer.Stop()

	o.tree.CreateRoot(g.GoalID, goalText)
	o.bus.Emit(events.Event{
		Type:    events.TypeGoalStart,
		GoalID:  g.GoalID,
		Payload: map[string]any{"goal_text": goalText},
	})

	o.classify(ctx, g)
	o.dispatch(ctx, g)

	if !g.Done() {
		g.Fail("pipeline ended without a terminal result")
	}
	if g.Success {
		o.tree.Complete(g.GoalID, g.Result)
		o.intent.ConfirmDecision(goalText, g.Intent)
	} else {
		o.tree.Fail(g.GoalID, g.Err)
	}

	o.bus.Emit(events.Event{
		Type:       events.TypeGoalComplete,
		GoalID:     g.GoalID,
		DurationMs: g.DurationMs(),
		Payload: map[string]any{
			"success": g.Success,
			"intent":  string(g.Intent),
		},
	})
	o.record(g)
	logging.Orchestrator("goal %s finished: success=%v intent=%s in %dms",
		g.GoalID, g.Success, g.Intent, g.DurationMs())
	return g, nil
}

// classify runs the intent neuron. A classification failure degrades to
// generative rather than failing the goal.
func (o *Orchestrator) classify(ctx context.Context, g *goal.Context) {
	result := o.runner.Run(ctx, o.intent, g, g.GoalText)
	if !result.Success || g.Intent == "" {
		logging.Orchestrator("intent classification degraded to generative for goal %s", g.GoalID)
		g.Intent = goal.IntentGenerative
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, g *goal.Context) {
	switch g.Intent {
	case goal.IntentTool:
		o.runToolPath(ctx, g)
	case goal.IntentMemoryRead, goal.IntentMemoryWrite:
		o.runMemory(ctx, g)
	default:
		o.runGenerative(ctx, g)
	}
}

func (o *Orchestrator) runGenerative(ctx context.Context, g *goal.Context) {
	result := o.runner.Run(ctx, o.generative, g, g.GoalText)
	if !result.Success {
		g.Fail(result.Error)
		return
	}
	g.Complete(fmt.Sprint(result.Data))
}

func (o *Orchestrator) runMemory(ctx context.Context, g *goal.Context) {
	result := o.runner.Run(ctx, o.memory, g, g.GoalText)
	if !result.Success {
		g.Fail(result.Error)
		return
	}
	g.Complete(fmt.Sprint(result.Data))
}

// record persists the goal and its tool calls. Never fails the goal.
func (o *Orchestrator) record(g *goal.Context) {
	if o.recorder == nil {
		return
	}
	executionID, err := o.recorder.StoreExecution(
		g.GoalID, g.GoalText, string(g.Intent), g.Success, g.Err, g.DurationMs(),
		map[string]any{"messages": len(g.Messages)})
	if err != nil {
		logging.Orchestrator("failed to persist execution for goal %s: %v", g.GoalID, err)
		return
	}
	for _, call := range g.ToolCalls() {
		if err := o.recorder.StoreToolExecution(
			executionID, call.ToolName, call.Parameters, call.Result,
			call.Success, call.Err, call.DurationMs); err != nil {
			logging.Orchestrator("failed to persist tool call for goal %s: %v", g.GoalID, err)
		}
	}
}
