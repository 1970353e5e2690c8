// Package tools provides the tool registry: declarative tool definitions
// paired with executors, keyword discovery, directory loading and running
// per-tool performance statistics.
package tools

import (
	"context"
	"fmt"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Characteristics declare behavior relevant to testing strategy selection.
type Characteristics struct {
	// SafeForShadow marks the tool runnable twice on the same input.
	SafeForShadow bool `json:"safe_for_shadow"`
	// Idempotent marks repeat invocations as equivalent.
	Idempotent bool `json:"idempotent"`
	// SideEffects is e.g. "none", "read_only", "write".
	SideEffects string `json:"side_effects"`
}

// Definition is the declarative description of a tool, used both for
// discovery and for LLM-facing prompt formatting.
type Definition struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Parameters      []Parameter     `json:"parameters"`
	Domain          string          `json:"domain,omitempty"`
	Concepts        []string        `json:"concepts,omitempty"`
	Synonyms        []string        `json:"synonyms,omitempty"`
	Characteristics Characteristics `json:"characteristics"`
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, params map[string]any) (any, error)

// TestCase is a tool-declared synthetic test case.
type TestCase struct {
	Params   map[string]any `json:"params"`
	Expected any            `json:"expected"`
}

// Tool is an executable pairing of a definition and an executor.
type Tool struct {
	Definition Definition
	Execute    ExecuteFunc

	// TestCases, when declared, enable the synthetic testing strategy.
	TestCases []TestCase
}

// Validate checks that the tool is registrable.
func (t *Tool) Validate() error {
	if t.Definition.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// PromptBlock renders the definition for an LLM selection/extraction prompt.
func (d Definition) PromptBlock() string {
	out := fmt.Sprintf("- %s: %s", d.Name, d.Description)
	for _, p := range d.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		out += fmt.Sprintf("\n    %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
	}
	return out
}

// Result wraps a tool execution outcome with timing metadata.
type Result struct {
	ToolName   string
	Output     any
	Err        error
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *Result) IsSuccess() bool { return r.Err == nil }
