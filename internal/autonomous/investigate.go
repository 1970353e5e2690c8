package autonomous

import (
	"context"
	"fmt"
	"strings"

	"neuroforge/internal/logging"
)

const maxFailureSamples = 10

// Investigation is the diagnosis produced for one opportunity.
type Investigation struct {
	ToolName  string `json:"tool_name"`
	Diagnosis string `json:"diagnosis"`
	Approach  string `json:"approach"`
}

// investigate gathers the tool's recent failures and source, then asks the
// LLM for a diagnosis and an improvement approach.
func (l *Loop) investigate(ctx context.Context, op Opportunity) (*Investigation, error) {
	failures, err := l.store.RecentFailures(op.ToolName, maxFailureSamples)
	if err != nil {
		return nil, err
	}
	code, err := l.forge.CurrentCode(op.ToolName)
	if err != nil {
		return nil, fmt.Errorf("tool %s has no retrievable source: %w", op.ToolName, err)
	}

	prompt := fmt.Sprintf(`A tool is underperforming. Diagnose why and propose a fix.

Tool: %s
Success rate: %.0f%% over %d calls
Flagged because: %s

Recent failure messages:
%s

Implementation:
%s

Reply with JSON: {"diagnosis": "<what is going wrong>", "approach": "<how to fix it>"}`,
		op.ToolName, op.SuccessRate*100, op.Executions, op.Reason,
		formatFailures(failures), code)

	reply, err := l.client.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("investigation failed: %w", err)
	}
	if reply["error"] == "parse_failed" {
		return nil, fmt.Errorf("investigation returned malformed JSON")
	}

	inv := &Investigation{ToolName: op.ToolName}
	inv.Diagnosis, _ = reply["diagnosis"].(string)
	inv.Approach, _ = reply["approach"].(string)
	if inv.Diagnosis == "" {
		return nil, fmt.Errorf("investigation produced no diagnosis")
	}
	logging.Autonomous("investigated %s: %s", op.ToolName, inv.Diagnosis)
	return inv, nil
}

func formatFailures(failures []string) string {
	if len(failures) == 0 {
		return "(none recorded)"
	}
	var sb strings.Builder
	for i, f := range failures {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f)
	}
	return sb.String()
}
