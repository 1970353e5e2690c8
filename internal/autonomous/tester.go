package autonomous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"neuroforge/internal/execstore"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// Testing strategy names, in preference order.
const (
	StrategyShadow    = "shadow"
	StrategyReplay    = "replay"
	StrategySynthetic = "synthetic"
	StrategyManual    = "manual"
)

const (
	shadowPassRate    = 0.95
	replayPassRate    = 0.95
	syntheticPassRate = 0.90

	minShadowInputs = 10
	minReplayInputs = 5

	testerParallelism = 4
	perCallTimeout    = 10 * time.Second
)

// TestReport is the outcome of validating a candidate implementation.
type TestReport struct {
	Strategy      string  `json:"strategy"`
	Inputs        int     `json:"inputs"`
	Agreements    int     `json:"agreements"`
	Disagreements int     `json:"disagreements"`
	AgreementRate float64 `json:"agreement_rate"`
	Passed        bool    `json:"passed"`
	Detail        string  `json:"detail,omitempty"`
}

// selectStrategy picks the safest applicable testing strategy for a tool:
// shadow when enough historical inputs exist and the tool is side-effect
// free, replay with fewer inputs, synthetic when test cases exist, manual
// otherwise.
func selectStrategy(tool *tools.Tool, historical int) string {
	safe := rerunnable(tool.Definition.Characteristics)
	switch {
	case safe && historical >= minShadowInputs:
		return StrategyShadow
	case safe && historical >= minReplayInputs:
		return StrategyReplay
	case len(tool.TestCases) > 0:
		return StrategySynthetic
	default:
		return StrategyManual
	}
}

// rerunnable reports whether a tool can be re-executed on recorded inputs
// without observable consequences.
func rerunnable(c tools.Characteristics) bool {
	return c.SafeForShadow || c.Idempotent ||
		c.SideEffects == "none" || c.SideEffects == "read_only"
}

// shadowTest runs the current and candidate implementations side by side on
// historical successful inputs and measures agreement.
func shadowTest(ctx context.Context, current, candidate tools.ExecuteFunc, runs []execstore.ToolRun) TestReport {
	report := TestReport{Strategy: StrategyShadow, Inputs: len(runs)}
	if len(runs) == 0 {
		return report
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(testerParallelism)

	for _, run := range runs {
		run := run
		g.Go(func() error {
			currentOut, currentErr := callTool(gctx, current, run.Parameters)
			candidateOut, candidateErr := callTool(gctx, candidate, run.Parameters)

			agree := (currentErr == nil) == (candidateErr == nil) &&
				(currentErr != nil || outputsAgree(currentOut, candidateOut))

			mu.Lock()
			if agree {
				report.Agreements++
			} else {
				report.Disagreements++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	report.AgreementRate = float64(report.Agreements) / float64(report.Inputs)
	report.Passed = report.AgreementRate >= shadowPassRate
	return report
}

// replayTest runs only the candidate against historical successful runs and
// checks it reproduces the recorded results.
func replayTest(ctx context.Context, candidate tools.ExecuteFunc, runs []execstore.ToolRun) TestReport {
	report := TestReport{Strategy: StrategyReplay, Inputs: len(runs)}
	if len(runs) == 0 {
		return report
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(testerParallelism)

	for _, run := range runs {
		run := run
		g.Go(func() error {
			out, err := callTool(gctx, candidate, run.Parameters)
			agree := err == nil && outputsAgree(out, run.Result)

			mu.Lock()
			if agree {
				report.Agreements++
			} else {
				report.Disagreements++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	report.AgreementRate = float64(report.Agreements) / float64(report.Inputs)
	report.Passed = report.AgreementRate >= replayPassRate
	return report
}

// syntheticTest runs the candidate against the tool's declared test cases.
func syntheticTest(ctx context.Context, candidate tools.ExecuteFunc, cases []tools.TestCase) TestReport {
	report := TestReport{Strategy: StrategySynthetic, Inputs: len(cases)}
	if len(cases) == 0 {
		return report
	}

	for _, tc := range cases {
		out, err := callTool(ctx, candidate, tc.Params)
		if err == nil && outputsAgree(out, fmt.Sprint(tc.Expected)) {
			report.Agreements++
		} else {
			report.Disagreements++
			if err != nil {
				report.Detail = err.Error()
			}
		}
	}

	report.AgreementRate = float64(report.Agreements) / float64(report.Inputs)
	report.Passed = report.AgreementRate >= syntheticPassRate
	return report
}

// callTool invokes an ExecuteFunc with a per-call timeout and stringifies
// the output the way the pipeline does.
func callTool(ctx context.Context, fn tools.ExecuteFunc, params map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	out, err := fn(callCtx, params)
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

func logReport(toolName string, report TestReport) {
	logging.Autonomous("%s test for %s: %d/%d agree (%.0f%%) passed=%v",
		report.Strategy, toolName, report.Agreements, report.Inputs,
		report.AgreementRate*100, report.Passed)
}
