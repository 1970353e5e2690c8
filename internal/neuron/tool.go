package neuron

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

const (
	maxCandidates        = 5
	paramExtractAttempts = 2
)

// ToolNeuron discovers a tool for the goal, asks the LLM to select one and
// extract its parameters, executes it and wraps the output. Failures are
// signaled to the orchestrator through sentinel strings, never errors.
type ToolNeuron struct {
	client   LLMClient
	registry *tools.Registry
	bus      *events.Bus
}

// NewToolNeuron creates the neuron.
func NewToolNeuron(client LLMClient, registry *tools.Registry, bus *events.Bus) *ToolNeuron {
	return &ToolNeuron{client: client, registry: registry, bus: bus}
}

func (n *ToolNeuron) Name() string { return "tool" }

func (n *ToolNeuron) Process(ctx context.Context, g *goal.Context, input string) (any, error) {
	if input == "" {
		input = g.GoalText
	}

	candidates := n.candidates(input)
	if len(candidates) == 0 {
		return Sentinel(SentinelNoToolsAvailable, ""), nil
	}

	name, reason := n.selectTool(ctx, input, candidates)
	if name == "" {
		return Sentinel(SentinelNoMatchingTool, reason), nil
	}

	tool := n.registry.Get(name)
	if tool == nil {
		return Sentinel(SentinelToolNotFound, name), nil
	}
	g.ToolName = name

	params := n.extractParams(ctx, input, tool, g.RecoveryNote)
	g.Parameters = params

	n.bus.Emit(events.Event{
		Type:       events.TypeToolCalled,
		NeuronType: n.Name(),
		GoalID:     g.GoalID,
		Payload:    map[string]any{"tool": name, "parameters": params},
	})

	result, err := n.registry.ExecuteTool(ctx, tool, params)
	if err != nil {
		return Sentinel(SentinelToolException, err.Error()), nil
	}
	return wrapOutput(result.Output), nil
}

// candidates returns up to 5 search hits, falling back to the first 5
// registered definitions when search finds nothing.
func (n *ToolNeuron) candidates(input string) []tools.Definition {
	candidates := n.registry.Search(input, "", maxCandidates)
	if len(candidates) > 0 {
		return candidates
	}
	all := n.registry.List()
	if len(all) > maxCandidates {
		all = all[:maxCandidates]
	}
	return all
}

// selectTool picks one candidate. With a single candidate the selection
// step is skipped entirely. The LLM's choice is validated against the
// candidate list; an invalid name falls back to the first candidate.
func (n *ToolNeuron) selectTool(ctx context.Context, input string, candidates []tools.Definition) (name, reason string) {
	if len(candidates) == 1 {
		return candidates[0].Name, ""
	}

	var blocks []string
	for _, d := range candidates {
		blocks = append(blocks, d.PromptBlock())
	}
	prompt := fmt.Sprintf(`Pick the best tool for this request.

Request: %q

Tools:
%s

Reply with JSON: {"tool": "<name>"} or {"tool": null, "reason": "<why none fit>"}`,
		input, strings.Join(blocks, "\n"))

	reply, err := n.client.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		logging.NeuronDebug("tool selection failed, using first candidate: %v", err)
		return candidates[0].Name, ""
	}

	if chosen, ok := reply["tool"].(string); ok && chosen != "" {
		for _, d := range candidates {
			if d.Name == chosen {
				return chosen, ""
			}
		}
		// Not among candidates: fall back rather than trust a hallucinated name.
		return candidates[0].Name, ""
	}
	if reply["tool"] == nil && reply["error"] == nil {
		r, _ := reply["reason"].(string)
		return "", r
	}
	return candidates[0].Name, ""
}

// extractParams asks the LLM for the tool's parameter values. Two attempts:
// the second decomposes the task into explicit steps. A non-JSON reply
// leaves the neuron with an empty parameter map.
func (n *ToolNeuron) extractParams(ctx context.Context, input string, tool *tools.Tool, feedback string) map[string]any {
	if len(tool.Definition.Parameters) == 0 {
		return map[string]any{}
	}

	schema := tool.Definition.PromptBlock()
	for attempt := 1; attempt <= paramExtractAttempts; attempt++ {
		var prompt string
		if attempt == 1 {
			prompt = fmt.Sprintf(`Extract parameter values for the tool from the request.

Request: %q

Tool:
%s
%s
Reply with a JSON object mapping parameter names to values. Omit parameters
that are not present in the request.`, input, schema, feedbackLine(feedback))
		} else {
			prompt = fmt.Sprintf(`Extract parameter values step by step.

Step 1: Read the request: %q
Step 2: For each parameter below, find the value in the request:
%s
Step 3: Build a JSON object mapping each found parameter name to its value.
%s
Reply with only that JSON object.`, input, schema, feedbackLine(feedback))
		}

		reply, err := n.client.GenerateJSON(ctx, prompt, nil)
		if err != nil {
			logging.NeuronDebug("parameter extraction attempt %d failed: %v", attempt, err)
			continue
		}
		if reply["error"] == "parse_failed" {
			continue
		}
		return reply
	}
	return map[string]any{}
}

func feedbackLine(feedback string) string {
	if feedback == "" {
		return ""
	}
	return fmt.Sprintf("\nA previous attempt failed with: %s\n", feedback)
}

// wrapOutput converts a tool's raw output into the pipeline's string form:
// maps with "error" become TOOL_ERROR sentinels, maps with "result" become
// the result's string form, other maps are formatted as key/value lines,
// primitives are stringified.
func wrapOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if errVal, ok := v["error"]; ok && errVal != nil {
			return Sentinel(SentinelToolError, fmt.Sprint(errVal))
		}
		if result, ok := v["result"]; ok {
			return fmt.Sprint(result)
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v[k]))
		}
		return sb.String()
	default:
		if data, err := json.Marshal(v); err == nil {
			switch v.(type) {
			case int, int64, float64, bool:
				return fmt.Sprint(v)
			default:
				return string(data)
			}
		}
		return fmt.Sprint(v)
	}
}
