package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/logging"
	"neuroforge/internal/neuron"
)

// Error classes the recovery policy distinguishes.
const (
	errClassNoMatchingTool = "no_matching_tool"
	errClassInvalidParams  = "invalid_parameters"
	errClassAuthRequired   = "auth_required"
	errClassTimeout        = "timeout"
	errClassExecution      = "tool_execution_error"
)

// Recovery action names. Each runs at most once per goal.
const (
	actionForgeTool    = "forge_tool"
	actionRetry        = "retry"
	actionRefineParams = "refine_params"
	actionRefactorTool = "refactor_tool"
	actionFallback     = "fallback_generative"
)

// Below this success rate an execution failure triggers a refactor instead
// of a plain fallback.
const refactorBelowRate = 0.3

const maxToolAttempts = 4

// runToolPath executes the tool neuron with the recovery policy: sentinel
// outcomes are classified and mapped to bounded recovery actions, each
// applied at most once per goal. Anything unrecoverable falls back to the
// generative neuron once, then fails.
func (o *Orchestrator) runToolPath(ctx context.Context, g *goal.Context) {
	for attempt := 0; attempt < maxToolAttempts && !g.Done(); attempt++ {
		result := o.runner.Run(ctx, o.tool, g, g.GoalText)
		if !result.Success {
			o.recordAttempt(g, result.DurationMs, "", result.Error)
			o.fallbackOrFail(ctx, g, result.Error)
			return
		}

		output := fmt.Sprint(result.Data)
		kind, detail, isSentinel := neuron.ParseSentinel(output)
		if !isSentinel {
			o.recordAttempt(g, result.DurationMs, output, "")
			if g.ToolName != "" && o.perf != nil {
				o.perf.RecordSuccess(g.ToolName, result.DurationMs)
			}
			g.Complete(output)
			return
		}

		o.recordAttempt(g, result.DurationMs, "", output)
		if g.ToolName != "" && o.perf != nil {
			o.perf.RecordFailure(g.ToolName, detail)
		}
		if !o.recover(ctx, g, kind, detail) {
			return
		}
	}
	if !g.Done() {
		o.fallbackOrFail(ctx, g, "tool attempts exhausted")
	}
}

// recover applies one recovery action for the sentinel and reports whether
// the tool neuron should run again.
func (o *Orchestrator) recover(ctx context.Context, g *goal.Context, kind, detail string) (again bool) {
	switch kind {
	case neuron.SentinelNoToolsAvailable, neuron.SentinelNoMatchingTool, neuron.SentinelToolNotFound:
		if o.tryForge(ctx, g, detail) {
			return true
		}
		o.fallbackOrFail(ctx, g, "no suitable tool: "+detail)
		return false

	case neuron.SentinelToolError, neuron.SentinelToolException:
		switch classifyError(detail) {
		case errClassAuthRequired:
			g.Fail(authInstructions(g.ToolName, detail))
			return false
		case errClassTimeout:
			if g.TryRecovery(actionRetry) {
				logging.Orchestrator("retrying %s after timeout for goal %s", g.ToolName, g.GoalID)
				return true
			}
		case errClassInvalidParams:
			if g.TryRecovery(actionRefineParams) {
				g.RecoveryNote = detail
				logging.Orchestrator("refining parameters for %s on goal %s", g.ToolName, g.GoalID)
				return true
			}
		case errClassExecution:
			if o.shouldRefactor(g.ToolName) && g.TryRecovery(actionRefactorTool) && o.tryForge(ctx, g, g.GoalText) {
				return true
			}
		}
		o.fallbackOrFail(ctx, g, "tool failed: "+detail)
		return false
	}
	o.fallbackOrFail(ctx, g, "tool failed: "+detail)
	return false
}

// tryForge creates a new tool for the capability and reports whether the
// tool path should retry. At most one forge per goal.
func (o *Orchestrator) tryForge(ctx context.Context, g *goal.Context, capability string) bool {
	if o.forger == nil || !g.TryRecovery(actionForgeTool) {
		return false
	}
	if capability == "" {
		capability = g.GoalText
	}

	forged, err := o.forger.ForgeTool(ctx, capability, g.GoalText)
	if err != nil {
		logging.Orchestrator("forge failed for goal %s: %v", g.GoalID, err)
		g.AddMessage("forge", "error", err.Error())
		return false
	}

	name := forged.Definition.Name
	logging.Orchestrator("forged tool %s for goal %s", name, g.GoalID)
	g.AddMessage("forge", "result", name)
	o.bus.Emit(events.Event{
		Type:    events.TypeToolDeployed,
		GoalID:  g.GoalID,
		Payload: map[string]any{"tool": name, "trigger": "goal_recovery"},
	})
	return true
}

func (o *Orchestrator) shouldRefactor(toolName string) bool {
	if toolName == "" || o.perf == nil {
		return false
	}
	perf := o.perf.Get(toolName)
	return perf != nil && perf.TotalCalls >= 3 && perf.SuccessRate() < refactorBelowRate
}

// fallbackOrFail answers the goal generatively once, then fails it.
func (o *Orchestrator) fallbackOrFail(ctx context.Context, g *goal.Context, reason string) {
	if g.Done() {
		return
	}
	if g.TryRecovery(actionFallback) {
		logging.Orchestrator("falling back to generative for goal %s: %s", g.GoalID, reason)
		result := o.runner.Run(ctx, o.generative, g, g.GoalText)
		if result.Success {
			g.Complete(fmt.Sprint(result.Data))
			return
		}
	}
	g.Fail(reason)
}

func (o *Orchestrator) recordAttempt(g *goal.Context, durationMs int64, result, errText string) {
	if g.ToolName == "" {
		return
	}
	g.RecordToolCall(goal.ToolCall{
		ToolName:   g.ToolName,
		Parameters: g.Parameters,
		Result:     result,
		Err:        errText,
		Success:    errText == "",
		DurationMs: durationMs,
	})
}

// classifyError buckets an error text into a recovery class.
func classifyError(detail string) string {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "forbidden") || strings.Contains(lower, "api key") ||
		strings.Contains(lower, "authentication"):
		return errClassAuthRequired
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "timed out"):
		return errClassTimeout
	case strings.Contains(lower, "parameter") || strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "missing required"):
		return errClassInvalidParams
	default:
		return errClassExecution
	}
}

// authInstructions builds the user-facing block telling them which
// credentials the tool needs.
func authInstructions(toolName, detail string) string {
	var sb strings.Builder
	sb.WriteString("This action needs credentials that are not configured.\n\n")
	if toolName != "" {
		fmt.Fprintf(&sb, "Tool: %s\n", toolName)
	}
	if detail != "" {
		fmt.Fprintf(&sb, "Error: %s\n", detail)
	}
	sb.WriteString("\nSet the required API key in the tool's configuration and retry.")
	return sb.String()
}
