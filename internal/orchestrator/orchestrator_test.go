package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/kv"
	"neuroforge/internal/llm"
	"neuroforge/internal/thought"
	"neuroforge/internal/tools"
)

// scriptedLLM pops canned replies in order; an exhausted queue yields the
// zero reply.
type scriptedLLM struct {
	replies []string
	jsons   []map[string]any
}

func (s *scriptedLLM) Generate(context.Context, string, *llm.Options) (string, error) {
	if len(s.replies) == 0 {
		return "", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *scriptedLLM) GenerateJSON(context.Context, string, *llm.Options) (map[string]any, error) {
	if len(s.jsons) == 0 {
		return map[string]any{}, nil
	}
	reply := s.jsons[0]
	s.jsons = s.jsons[1:]
	return reply, nil
}

type storedExecution struct {
	goalID  string
	intent  string
	success bool
	errText string
}

type fakeRecorder struct {
	executions []storedExecution
	toolCalls  []string
}

func (f *fakeRecorder) StoreExecution(goalID, _, intent string, success bool, errText string, _ int64, _ map[string]any) (string, error) {
	f.executions = append(f.executions, storedExecution{goalID, intent, success, errText})
	return "exec-1", nil
}

func (f *fakeRecorder) StoreToolExecution(executionID, toolName string, _ map[string]any, _ string, _ bool, _ string, _ int64) error {
	f.toolCalls = append(f.toolCalls, executionID+"/"+toolName)
	return nil
}

type fakeForger struct {
	registry *tools.Registry
	tool     *tools.Tool
	err      error
	calls    int
}

func (f *fakeForger) ForgeTool(context.Context, string, string) (*tools.Tool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := f.registry.Replace(f.tool); err != nil {
		return nil, err
	}
	return f.tool, nil
}

type fixture struct {
	orch     *Orchestrator
	bus      *events.Bus
	registry *tools.Registry
	perf     *tools.PerformanceTracker
	recorder *fakeRecorder
}

func newFixture(t *testing.T, client *scriptedLLM, forger Forger) *fixture {
	t.Helper()
	bus := events.NewBus()
	registry := tools.NewRegistry()
	perf := tools.NewPerformanceTracker(nil)
	recorder := &fakeRecorder{}
	orch := New(Options{
		Bus:      bus,
		Tree:     thought.NewTree(nil),
		Registry: registry,
		Perf:     perf,
		Client:   client,
		KV:       kv.NewMemoryStore(),
		Forger:   forger,
		Recorder: recorder,
	})
	return &fixture{orch: orch, bus: bus, registry: registry, perf: perf, recorder: recorder}
}

func TestProcessEmptyGoal(t *testing.T) {
	// Empty text is a valid goal: it classifies and completes like any other.
	client := &scriptedLLM{replies: []string{"generative", "ask me something"}}
	f := newFixture(t, client, nil)

	g, err := f.orch.Process(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "ask me something", g.Result)
	assert.NotEmpty(t, g.GoalID)
	assert.Len(t, f.bus.Events(events.Filter{Type: events.TypeGoalComplete}), 1)
}

func TestProcessGenerative(t *testing.T) {
	client := &scriptedLLM{replies: []string{"generative", "Paris is the capital of France."}}
	f := newFixture(t, client, nil)

	g, err := f.orch.Process(context.Background(), "what is the capital of France")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "Paris is the capital of France.", g.Result)
	assert.Equal(t, goal.IntentGenerative, g.Intent)

	assert.Len(t, f.bus.Events(events.Filter{Type: events.TypeGoalStart}), 1)
	assert.Len(t, f.bus.Events(events.Filter{Type: events.TypeGoalComplete}), 1)

	require.Len(t, f.recorder.executions, 1)
	assert.True(t, f.recorder.executions[0].success)
	assert.Empty(t, f.recorder.toolCalls)
}

func TestProcessToolHappyPath(t *testing.T) {
	client := &scriptedLLM{
		replies: []string{"tool"},
		jsons:   []map[string]any{{"expression": "7*6"}},
	}
	f := newFixture(t, client, nil)
	require.NoError(t, f.registry.Register(tools.CalculateTool()))

	g, err := f.orch.Process(context.Background(), "calculate 7*6")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "42", g.Result)
	assert.Equal(t, "calculate", g.ToolName)

	perf := f.perf.Get("calculate")
	require.NotNil(t, perf)
	assert.Equal(t, 1, perf.TotalCalls)
	assert.Equal(t, 1, perf.SuccessfulCalls)

	require.Len(t, f.recorder.toolCalls, 1)
	assert.Equal(t, "exec-1/calculate", f.recorder.toolCalls[0])
}

func TestProcessAuthFailure(t *testing.T) {
	client := &scriptedLLM{replies: []string{"tool"}}
	f := newFixture(t, client, nil)
	require.NoError(t, f.registry.RegisterFunction(
		tools.Definition{Name: "github_lookup", Description: "lookup github repos"},
		func(context.Context, map[string]any) (any, error) {
			return map[string]any{"error": "401 unauthorized: bad credentials"}, nil
		},
	))

	g, err := f.orch.Process(context.Background(), "lookup the github repo")
	require.NoError(t, err)
	assert.False(t, g.Success)
	assert.Contains(t, g.Err, "credentials that are not configured")
	assert.Contains(t, g.Err, "github_lookup")
	assert.Contains(t, g.Err, "401 unauthorized")

	// Auth failures fail fast without a generative fallback.
	assert.Empty(t, client.replies)
}

func TestProcessTimeoutRetries(t *testing.T) {
	client := &scriptedLLM{replies: []string{"tool"}}
	f := newFixture(t, client, nil)

	calls := 0
	require.NoError(t, f.registry.RegisterFunction(
		tools.Definition{Name: "flaky_fetch", Description: "fetch flaky data"},
		func(context.Context, map[string]any) (any, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("request timed out")
			}
			return "fetched", nil
		},
	))

	g, err := f.orch.Process(context.Background(), "fetch the flaky data")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "fetched", g.Result)
	assert.Equal(t, 2, calls)
	assert.Len(t, g.ToolCalls(), 2)
}

func TestProcessFallbackToGenerative(t *testing.T) {
	// No tools and no forger: the tool path falls back to generative once.
	client := &scriptedLLM{replies: []string{"tool", "best effort answer"}}
	f := newFixture(t, client, nil)

	g, err := f.orch.Process(context.Background(), "do something unusual")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "best effort answer", g.Result)
}

func TestProcessForgesMissingTool(t *testing.T) {
	client := &scriptedLLM{replies: []string{"tool"}}
	f := newFixture(t, client, nil)

	forger := &fakeForger{
		registry: f.registry,
		tool: &tools.Tool{
			Definition: tools.Definition{Name: "greet_tool", Description: "greets people"},
			Execute: func(context.Context, map[string]any) (any, error) {
				return "hello!", nil
			},
		},
	}
	f.orch.forger = forger

	g, err := f.orch.Process(context.Background(), "greet the user")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "hello!", g.Result)
	assert.Equal(t, 1, forger.calls)

	deployed := f.bus.Events(events.Filter{Type: events.TypeToolDeployed})
	require.Len(t, deployed, 1)
	assert.Equal(t, "goal_recovery", deployed[0].Payload["trigger"])
}

func TestProcessForgeFailureFallsBack(t *testing.T) {
	client := &scriptedLLM{replies: []string{"tool", "generative instead"}}
	f := newFixture(t, client, nil)
	f.orch.forger = &fakeForger{err: errors.New("codegen failed")}

	g, err := f.orch.Process(context.Background(), "do the impossible")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "generative instead", g.Result)
}

func TestClassifyError(t *testing.T) {
	cases := map[string]string{
		"401 unauthorized":                errClassAuthRequired,
		"missing API key":                 errClassAuthRequired,
		"request timed out":               errClassTimeout,
		"context deadline exceeded":       errClassTimeout,
		"invalid expression":              errClassInvalidParams,
		"missing required parameter city": errClassInvalidParams,
		"division by zero":                errClassExecution,
	}
	for detail, want := range cases {
		assert.Equal(t, want, classifyError(detail), detail)
	}
}

func TestRefineParamsRunsOnce(t *testing.T) {
	client := &scriptedLLM{
		replies: []string{"tool", "fallback"},
		jsons:   []map[string]any{{"city": ""}, {"city": "Oslo"}},
	}
	f := newFixture(t, client, nil)

	calls := 0
	require.NoError(t, f.registry.RegisterFunction(
		tools.Definition{
			Name:        "weather_city",
			Description: "weather for a city",
			Parameters:  []tools.Parameter{{Name: "city", Type: "string", Required: true}},
		},
		func(_ context.Context, params map[string]any) (any, error) {
			calls++
			if params["city"] == "" {
				return nil, errors.New("invalid parameters: city is empty")
			}
			return "sunny in Oslo", nil
		},
	))

	g, err := f.orch.Process(context.Background(), "weather for the city")
	require.NoError(t, err)
	assert.True(t, g.Success)
	assert.Equal(t, "sunny in Oslo", g.Result)
	assert.Equal(t, 2, calls)
}
