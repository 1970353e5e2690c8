// Package forge synthesizes new tools at runtime: it prompts the LLM for an
// implementation, validates the source against a syntax tree and an import
// whitelist, extracts a declarative definition, instantiates the code in a
// sandboxed interpreter and registers the result.
package forge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"neuroforge/internal/kv"
	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// LLMClient is the slice of the LLM client the forge needs.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, opts *llm.Options) (map[string]any, error)
}

// ForgedTool is the persistent record of a dynamically generated tool.
type ForgedTool struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Code        string            `json:"code"`
	Parameters  []tools.Parameter `json:"parameters"`
	Domain      string            `json:"domain,omitempty"`
	Concepts    []string          `json:"concepts,omitempty"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	CodeHash    string            `json:"code_hash"`
}

const kvNamespace = "forged_tools"

// Forge creates new tools when no existing one matches a goal's need.
type Forge struct {
	client   LLMClient
	registry *tools.Registry
	perf     *tools.PerformanceTracker
	store    kv.Store // optional
	toolsDir string
	sandbox  *Sandbox
}

// New creates a forge writing generated tools to toolsDir.
func New(client LLMClient, registry *tools.Registry, perf *tools.PerformanceTracker, store kv.Store, toolsDir string) *Forge {
	return &Forge{
		client:   client,
		registry: registry,
		perf:     perf,
		store:    store,
		toolsDir: toolsDir,
		sandbox:  NewSandbox(),
	}
}

// Loader returns a registry loader that instantiates on-disk tool sources
// through the sandbox. Used by LoadFromDirectory and maintenance reloads.
func (f *Forge) Loader() tools.Loader {
	return func(code string, def tools.Definition) (tools.ExecuteFunc, error) {
		return f.sandbox.Load(code)
	}
}

// ForgeTool synthesizes, validates, registers and persists a tool for the
// requested capability. The new tool starts in testing status.
func (f *Forge) ForgeTool(ctx context.Context, capability, goalText string) (*tools.Tool, error) {
	name := DeriveName(capability)
	logging.Forge("forging tool %q for capability %q", name, capability)

	code, err := f.generateCode(ctx, name, capability, goalText)
	if err != nil {
		return nil, err
	}

	if err := ValidateSource(code); err != nil {
		return nil, fmt.Errorf("generated code rejected: %w", err)
	}

	def, err := f.extractDefinition(ctx, name, code)
	if err != nil {
		return nil, err
	}

	execute, err := f.sandbox.Load(code)
	if err != nil {
		return nil, fmt.Errorf("sandbox load failed: %w", err)
	}

	tool := &tools.Tool{Definition: def, Execute: execute}
	if err := f.registry.Replace(tool); err != nil {
		return nil, err
	}
	if f.perf != nil {
		f.perf.Track(name, tools.StatusTesting)
	}

	record := &ForgedTool{
		Name:        def.Name,
		Description: def.Description,
		Code:        code,
		Parameters:  def.Parameters,
		Domain:      def.Domain,
		Concepts:    def.Concepts,
		Version:     1,
		CreatedAt:   time.Now(),
		CodeHash:    hashCode(code),
	}
	if err := f.persist(record, def); err != nil {
		// The registered tool still works this process; persistence failure
		// only affects restarts.
		logging.Forge("persist %s failed: %v", name, err)
	}

	logging.Forge("forged tool %s (hash=%s)", def.Name, record.CodeHash[:12])
	return tool, nil
}

func (f *Forge) generateCode(ctx context.Context, name, capability, goalText string) (string, error) {
	prompt := fmt.Sprintf(`Write a Go source file implementing a tool named %q.

Capability needed: %s
Originating request: %s

Requirements:
- The file must start with: package forged
- It must define exactly this entry point:

    func Execute(params map[string]any) (string, error)

- Read inputs from the params map, convert types defensively, and return a
  human-readable result string.
- Use only the Go standard library, and none of: os, os/exec, syscall,
  unsafe, plugin, reflect, net, net/http. Do not spawn processes, open
  network connections, evaluate code, or touch the filesystem.
- Return errors instead of panicking.

Reply with only the Go source, no explanation.`, name, capability, goalText)

	text, err := f.client.Generate(ctx, prompt, &llm.Options{
		System:         "You are a careful Go programmer. Output only code.",
		Temperature:    0.2,
		TemperatureSet: true,
		MaxTokens:      4096,
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return llm.StripCodeFences(text), nil
}

func (f *Forge) extractDefinition(ctx context.Context, name, code string) (tools.Definition, error) {
	prompt := fmt.Sprintf(`Given this tool implementation, describe it as JSON with keys:
name, description, parameters (array of {name, type, description, required}),
domain, concepts (array of strings).

%s

Reply with only the JSON object.`, code)

	reply, err := f.client.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		return tools.Definition{}, fmt.Errorf("definition extraction failed: %w", err)
	}
	if reply["error"] == "parse_failed" {
		return tools.Definition{}, fmt.Errorf("definition extraction returned malformed JSON")
	}

	// Round-trip through JSON to map the loose reply onto the struct.
	raw, err := json.Marshal(reply)
	if err != nil {
		return tools.Definition{}, err
	}
	var def tools.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return tools.Definition{}, fmt.Errorf("definition extraction: %w", err)
	}

	// The derived name wins over whatever the model chose.
	def.Name = name
	if def.Description == "" {
		def.Description = "dynamically forged tool"
	}
	return def, nil
}

// persist writes the tool source and definition to the tools directory and
// records the ForgedTool in the KV store so it survives restarts.
func (f *Forge) persist(record *ForgedTool, def tools.Definition) error {
	if f.toolsDir != "" {
		if err := os.MkdirAll(f.toolsDir, 0755); err != nil {
			return fmt.Errorf("create tools dir: %w", err)
		}
		codePath := filepath.Join(f.toolsDir, record.Name+".go")
		if err := os.WriteFile(codePath, []byte(record.Code), 0644); err != nil {
			return fmt.Errorf("write code: %w", err)
		}
		defData, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return err
		}
		defPath := filepath.Join(f.toolsDir, record.Name+".json")
		if err := os.WriteFile(defPath, defData, 0644); err != nil {
			return fmt.Errorf("write definition: %w", err)
		}
	}

	if f.store != nil {
		snapshot := map[string]any{
			"name":        record.Name,
			"description": record.Description,
			"code":        record.Code,
			"domain":      record.Domain,
			"version":     record.Version,
			"created_at":  record.CreatedAt.Format(time.RFC3339Nano),
			"code_hash":   record.CodeHash,
		}
		if err := f.store.Set(kvNamespace, record.Name, snapshot, 0); err != nil {
			return err
		}
	}
	return nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
