package autonomous

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"neuroforge/internal/execstore"
	"neuroforge/internal/tools"
)

func safeTool(cases ...tools.TestCase) *tools.Tool {
	return &tools.Tool{
		Definition: tools.Definition{
			Name:            "sample",
			Characteristics: tools.Characteristics{SafeForShadow: true},
		},
		Execute:   func(context.Context, map[string]any) (any, error) { return "", nil },
		TestCases: cases,
	}
}

func unsafeTool(cases ...tools.TestCase) *tools.Tool {
	tool := safeTool(cases...)
	tool.Definition.Characteristics = tools.Characteristics{SideEffects: "write"}
	return tool
}

func TestSelectStrategy(t *testing.T) {
	tc := tools.TestCase{Params: map[string]any{"x": 1}, Expected: "1"}

	assert.Equal(t, StrategyShadow, selectStrategy(safeTool(), 10))
	assert.Equal(t, StrategyReplay, selectStrategy(safeTool(), 9))
	assert.Equal(t, StrategyReplay, selectStrategy(safeTool(), 5))
	assert.Equal(t, StrategySynthetic, selectStrategy(safeTool(tc), 4))
	assert.Equal(t, StrategyManual, selectStrategy(safeTool(), 4))

	// Tools with side effects never shadow or replay.
	assert.Equal(t, StrategySynthetic, selectStrategy(unsafeTool(tc), 100))
	assert.Equal(t, StrategyManual, selectStrategy(unsafeTool(), 100))
}

func withCharacteristics(c tools.Characteristics) *tools.Tool {
	tool := safeTool()
	tool.Definition.Characteristics = c
	return tool
}

func TestSelectStrategyRerunnableCharacteristics(t *testing.T) {
	// Declared side-effect freedom or idempotence qualifies a tool for
	// re-execution on recorded inputs, same as the shadow flag.
	readOnly := withCharacteristics(tools.Characteristics{SideEffects: "read_only"})
	assert.Equal(t, StrategyShadow, selectStrategy(readOnly, 10))
	assert.Equal(t, StrategyReplay, selectStrategy(readOnly, 5))

	none := withCharacteristics(tools.Characteristics{SideEffects: "none"})
	assert.Equal(t, StrategyShadow, selectStrategy(none, 10))

	idempotent := withCharacteristics(tools.Characteristics{Idempotent: true, SideEffects: "write"})
	assert.Equal(t, StrategyShadow, selectStrategy(idempotent, 10))

	assert.Equal(t, StrategyManual, selectStrategy(withCharacteristics(tools.Characteristics{SideEffects: "write"}), 10))
}

func echoParam(key string) tools.ExecuteFunc {
	return func(_ context.Context, params map[string]any) (any, error) {
		return fmt.Sprint(params[key]), nil
	}
}

func historicalRuns(n int) []execstore.ToolRun {
	runs := make([]execstore.ToolRun, n)
	for i := range runs {
		runs[i] = execstore.ToolRun{
			Parameters: map[string]any{"v": i},
			Result:     fmt.Sprint(i),
			Success:    true,
		}
	}
	return runs
}

func TestShadowTestAgreement(t *testing.T) {
	runs := historicalRuns(20)
	report := shadowTest(context.Background(), echoParam("v"), echoParam("v"), runs)

	assert.Equal(t, StrategyShadow, report.Strategy)
	assert.Equal(t, 20, report.Agreements)
	assert.Equal(t, 1.0, report.AgreementRate)
	assert.True(t, report.Passed)
}

func TestShadowTestDisagreementFails(t *testing.T) {
	runs := historicalRuns(10)
	candidate := func(_ context.Context, params map[string]any) (any, error) {
		if fmt.Sprint(params["v"]) == "3" {
			return "different", nil
		}
		return fmt.Sprint(params["v"]), nil
	}

	// 9/10 agreement is below the 0.95 bar.
	report := shadowTest(context.Background(), echoParam("v"), candidate, runs)
	assert.Equal(t, 9, report.Agreements)
	assert.Equal(t, 1, report.Disagreements)
	assert.False(t, report.Passed)
}

func TestShadowTestBothErroring(t *testing.T) {
	failing := func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}
	report := shadowTest(context.Background(), failing, failing, historicalRuns(10))
	assert.Equal(t, 10, report.Agreements)
	assert.True(t, report.Passed)
}

func TestReplayTestReproducesResults(t *testing.T) {
	report := replayTest(context.Background(), echoParam("v"), historicalRuns(8))
	assert.Equal(t, StrategyReplay, report.Strategy)
	assert.True(t, report.Passed)

	wrong := func(context.Context, map[string]any) (any, error) { return "nope", nil }
	report = replayTest(context.Background(), wrong, historicalRuns(8))
	assert.Equal(t, 0, report.Agreements)
	assert.False(t, report.Passed)
}

func TestSyntheticTest(t *testing.T) {
	cases := []tools.TestCase{
		{Params: map[string]any{"v": "a"}, Expected: "a"},
		{Params: map[string]any{"v": 42}, Expected: 42},
	}
	report := syntheticTest(context.Background(), echoParam("v"), cases)
	assert.Equal(t, StrategySynthetic, report.Strategy)
	assert.Equal(t, 2, report.Agreements)
	assert.True(t, report.Passed)
}

func TestSyntheticTestCandidateError(t *testing.T) {
	failing := func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("candidate broke")
	}
	report := syntheticTest(context.Background(), failing, []tools.TestCase{
		{Params: map[string]any{}, Expected: "x"},
	})
	assert.False(t, report.Passed)
	assert.Equal(t, "candidate broke", report.Detail)
}

func TestEmptyInputsNeverPass(t *testing.T) {
	assert.False(t, shadowTest(context.Background(), echoParam("v"), echoParam("v"), nil).Passed)
	assert.False(t, replayTest(context.Background(), echoParam("v"), nil).Passed)
	assert.False(t, syntheticTest(context.Background(), echoParam("v"), nil).Passed)
}
