package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

// CurrentCode returns the on-disk source of a forged tool.
func (f *Forge) CurrentCode(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.toolsDir, name+".go"))
	if err != nil {
		return "", fmt.Errorf("read tool source: %w", err)
	}
	return string(data), nil
}

// CurrentDefinition returns the on-disk definition of a forged tool.
func (f *Forge) CurrentDefinition(name string) (tools.Definition, error) {
	data, err := os.ReadFile(filepath.Join(f.toolsDir, name+".json"))
	if err != nil {
		return tools.Definition{}, fmt.Errorf("read tool definition: %w", err)
	}
	var def tools.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return tools.Definition{}, fmt.Errorf("decode tool definition: %w", err)
	}
	return def, nil
}

// GenerateImprovement asks the LLM for a revised implementation addressing
// the diagnosis. The result is validated but not loaded or deployed.
func (f *Forge) GenerateImprovement(ctx context.Context, name, currentCode, diagnosis string) (string, error) {
	prompt := fmt.Sprintf(`Improve this tool implementation.

Tool name: %s

Diagnosis of its failures:
%s

Current implementation:
%s

Requirements:
- Keep the same entry point: func Execute(params map[string]any) (string, error)
- Keep the file starting with: package forged
- Keep the same parameter names so existing callers keep working.
- Use only the Go standard library, and none of: os, os/exec, syscall,
  unsafe, plugin, reflect, net, net/http. Do not spawn processes, open
  network connections, or touch the filesystem.
- Return errors instead of panicking.

Reply with only the full revised Go source, no explanation.`, name, diagnosis, currentCode)

	text, err := f.client.Generate(ctx, prompt, &llm.Options{
		System:         "You are a careful Go programmer. Output only code.",
		Temperature:    0.2,
		TemperatureSet: true,
		MaxTokens:      4096,
	})
	if err != nil {
		return "", fmt.Errorf("improvement generation failed: %w", err)
	}
	code := llm.StripCodeFences(text)
	if err := ValidateSource(code); err != nil {
		return "", fmt.Errorf("improved code rejected: %w", err)
	}
	return code, nil
}

// BuildCandidate validates and sandbox-loads source without touching the
// registry or disk. Used to run shadow and synthetic tests against a
// candidate before deployment.
func (f *Forge) BuildCandidate(code string) (tools.ExecuteFunc, error) {
	if err := ValidateSource(code); err != nil {
		return nil, err
	}
	return f.sandbox.Load(code)
}

// Deploy replaces a forged tool's implementation: the current source is
// backed up to backupDir, the new code is written, loaded and swapped into
// the registry, and the tool is put back into testing status.
func (f *Forge) Deploy(name, code, backupDir string) error {
	execute, err := f.sandbox.Load(code)
	if err != nil {
		return fmt.Errorf("candidate load failed: %w", err)
	}
	def, err := f.CurrentDefinition(name)
	if err != nil {
		return err
	}

	if backupDir != "" {
		if err := f.backup(name, backupDir); err != nil {
			return err
		}
	}

	codePath := filepath.Join(f.toolsDir, name+".go")
	if err := os.WriteFile(codePath, []byte(code), 0644); err != nil {
		return fmt.Errorf("write improved code: %w", err)
	}

	if err := f.registry.Replace(&tools.Tool{Definition: def, Execute: execute}); err != nil {
		return err
	}
	if f.perf != nil {
		f.perf.SetStatus(name, tools.StatusTesting)
	}

	if f.store != nil {
		snapshot := map[string]any{
			"name":        name,
			"description": def.Description,
			"code":        code,
			"domain":      def.Domain,
			"created_at":  time.Now().Format(time.RFC3339Nano),
			"code_hash":   hashCode(code),
		}
		if err := f.store.Set(kvNamespace, name, snapshot, 0); err != nil {
			logging.Forge("persist deployed %s failed: %v", name, err)
		}
	}

	logging.Forge("deployed improved %s (hash=%s)", name, hashCode(code)[:12])
	return nil
}

// Rollback restores the most recent backup of a tool, reloads it and swaps
// it back into the registry.
func (f *Forge) Rollback(name, backupDir string) error {
	backupPath, err := latestBackup(name, backupDir)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	code := string(data)

	execute, err := f.sandbox.Load(code)
	if err != nil {
		return fmt.Errorf("backup load failed: %w", err)
	}
	def, err := f.CurrentDefinition(name)
	if err != nil {
		return err
	}

	codePath := filepath.Join(f.toolsDir, name+".go")
	if err := os.WriteFile(codePath, []byte(code), 0644); err != nil {
		return fmt.Errorf("restore code: %w", err)
	}
	if err := f.registry.Replace(&tools.Tool{Definition: def, Execute: execute}); err != nil {
		return err
	}
	if f.perf != nil {
		f.perf.SetStatus(name, tools.StatusActive)
	}

	logging.Forge("rolled back %s from %s", name, filepath.Base(backupPath))
	return nil
}

// backup copies the tool's current source into backupDir with a timestamp
// suffix.
func (f *Forge) backup(name, backupDir string) error {
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	code, err := f.CurrentCode(name)
	if err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	backupPath := filepath.Join(backupDir, fmt.Sprintf("%s.go.%s.bak", name, stamp))
	if err := os.WriteFile(backupPath, []byte(code), 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

func latestBackup(name, backupDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(backupDir, name+".go.*.bak"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no backup found for %s", name)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
