package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"neuroforge/internal/logging"
)

// Loader builds an executor for a tool source unit loaded from disk.
// The forge supplies a sandboxed implementation.
type Loader func(code string, def Definition) (ExecuteFunc, error)

// Registry holds all available tools keyed by name. It is read-mostly;
// Register, Replace and LoadFromDirectory take the write lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Returns ErrToolAlreadyRegistered on duplicates.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Definition.Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	r.tools[name] = tool

	logging.ToolsDebug("Registered tool: %s (domain=%s)", name, tool.Definition.Domain)
	return nil
}

// RegisterFunction registers a plain function under a definition.
func (r *Registry) RegisterFunction(def Definition, fn ExecuteFunc) error {
	return r.Register(&Tool{Definition: def, Execute: fn})
}

// Replace installs a tool, overwriting any previous version of the same
// name. Used by deployment and rollback.
func (r *Registry) Replace(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = tool
	logging.Tools("Replaced tool: %s", tool.Definition.Name)
	return nil
}

// Unregister removes a tool by name. Removing a missing tool is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs a registered tool and wraps the outcome with timing.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	tool := r.Get(name)
	if tool == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return r.ExecuteTool(ctx, tool, params)
}

// ExecuteTool runs a specific tool with the given parameters.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, params map[string]any) (*Result, error) {
	start := time.Now()

	if err := validateParams(tool, params); err != nil {
		return &Result{
			ToolName:   tool.Definition.Name,
			Err:        err,
			DurationMs: time.Since(start).Milliseconds(),
		}, err
	}

	logging.ToolsDebug("Executing tool: %s", tool.Definition.Name)
	output, err := tool.Execute(ctx, params)
	duration := time.Since(start)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Definition.Name, duration, err == nil)

	return &Result{
		ToolName:   tool.Definition.Name,
		Output:     output,
		Err:        err,
		DurationMs: duration.Milliseconds(),
	}, err
}

// validateParams checks required parameters and fills declared defaults.
func validateParams(tool *Tool, params map[string]any) error {
	for _, p := range tool.Definition.Parameters {
		if _, ok := params[p.Name]; ok {
			continue
		}
		if p.Default != nil {
			params[p.Name] = p.Default
			continue
		}
		if p.Required {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, p.Name)
		}
	}
	return nil
}

// Search ranks tool definitions against a free-text query. Scoring:
// query token in name x3, in description x2, domain match +1, concept or
// synonym hit +1 each. Returns at most limit definitions, best first.
func (r *Registry) Search(query, domain string, limit int) []Definition {
	if limit <= 0 {
		limit = 5
	}
	terms := tokenize(query)

	type scored struct {
		def   Definition
		score int
	}

	r.mu.RLock()
	candidates := make([]scored, 0, len(r.tools))
	for _, t := range r.tools {
		d := t.Definition
		score := 0
		name := strings.ToLower(d.Name)
		desc := strings.ToLower(d.Description)
		for _, term := range terms {
			if strings.Contains(name, term) {
				score += 3
			}
			if strings.Contains(desc, term) {
				score += 2
			}
			for _, c := range d.Concepts {
				if strings.Contains(strings.ToLower(c), term) {
					score++
				}
			}
			for _, s := range d.Synonyms {
				if strings.Contains(strings.ToLower(s), term) {
					score++
				}
			}
		}
		if domain != "" && strings.EqualFold(d.Domain, domain) {
			score++
		}
		if score > 0 {
			candidates = append(candidates, scored{def: d, score: score})
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].def.Name < candidates[j].def.Name
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Definition, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.def)
	}
	return out
}

func tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// LoadFromDirectory scans dir for tool definition units (<name>.json with a
// sibling <name>.go source) and registers each through loader. Private
// (underscore-prefixed) and base units are skipped. A unit that fails to
// load is logged and skipped; loading continues. Returns the number of
// tools registered.
func (r *Registry) LoadFromDirectory(dir string, loader Loader) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	count := 0
	for _, defPath := range matches {
		base := filepath.Base(defPath)
		if strings.HasPrefix(base, "_") || strings.HasPrefix(base, "base") {
			continue
		}

		data, err := os.ReadFile(defPath)
		if err != nil {
			logging.Tools("skip %s: %v", base, err)
			continue
		}
		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			logging.Tools("skip %s: bad definition: %v", base, err)
			continue
		}

		codePath := strings.TrimSuffix(defPath, ".json") + ".go"
		code, err := os.ReadFile(codePath)
		if err != nil {
			logging.Tools("skip %s: missing source: %v", base, err)
			continue
		}

		execute, err := loader(string(code), def)
		if err != nil {
			logging.Tools("skip %s: load failed: %v", base, err)
			continue
		}

		if err := r.Replace(&Tool{Definition: def, Execute: execute}); err != nil {
			logging.Tools("skip %s: register failed: %v", base, err)
			continue
		}
		count++
	}

	logging.Tools("Loaded %d tools from %s", count, dir)
	return count, nil
}
