package forge

import (
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"neuroforge/internal/tools"
)

// Sandbox executes forged tool code with the yaegi interpreter instead of
// compiling it. Interpretation avoids build hangs and binary mismatches, and
// the interpreter namespace is populated only with stdlib symbols; the
// banned-import validation in this package keeps process, network and
// filesystem access out of that set.
type Sandbox struct{}

// NewSandbox creates a sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Load evaluates the source and returns an executor bound to its
// Execute(params map[string]any) (string, error) entry point. The source is
// validated before evaluation.
func (s *Sandbox) Load(code string) (tools.ExecuteFunc, error) {
	if err := ValidateSource(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	wrapped, pkg := normalizePackage(code)
	if _, err := i.Eval(wrapped); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	entry, err := i.Eval(pkg + ".Execute")
	if err != nil {
		return nil, fmt.Errorf("Execute entry point not found: %w", err)
	}
	executeFn, ok := entry.Interface().(func(map[string]any) (string, error))
	if !ok {
		// Some generations spell the map as map[string]interface{}.
		alt, okAlt := entry.Interface().(func(map[string]interface{}) (string, error))
		if !okAlt {
			return nil, fmt.Errorf("Execute has wrong signature (want func(map[string]any) (string, error))")
		}
		executeFn = alt
	}

	return func(ctx context.Context, params map[string]any) (any, error) {
		type outcome struct {
			result string
			err    error
		}
		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
				}
			}()
			result, err := executeFn(params)
			done <- outcome{result: result, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			return out.result, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("tool execution timed out: %w", ctx.Err())
		}
	}, nil
}

// normalizePackage ensures a package clause and reports the package name
// used for symbol lookup.
func normalizePackage(code string) (string, string) {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package main") {
		return code, "main"
	}
	if strings.HasPrefix(trimmed, "package forged") {
		return code, "forged"
	}
	if strings.HasPrefix(trimmed, "package ") {
		line := trimmed[len("package "):]
		if idx := strings.IndexAny(line, " \n\t"); idx > 0 {
			return code, line[:idx]
		}
		return code, strings.TrimSpace(line)
	}
	return "package forged\n\n" + code, "forged"
}
