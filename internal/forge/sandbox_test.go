package forge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reverseSource = `package forged

import "fmt"

func Execute(params map[string]any) (string, error) {
	s, ok := params["text"].(string)
	if !ok {
		return "", fmt.Errorf("text parameter is required")
	}
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}
`

func TestSandboxLoadAndExecute(t *testing.T) {
	execute, err := NewSandbox().Load(reverseSource)
	require.NoError(t, err)

	out, err := execute(context.Background(), map[string]any{"text": "forge"})
	require.NoError(t, err)
	assert.Equal(t, "egrof", out)

	_, err = execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text parameter is required")
}

func TestSandboxRejectsBannedImports(t *testing.T) {
	src := `package forged

import "os"

func Execute(params map[string]any) (string, error) {
	return os.Getenv("HOME"), nil
}
`
	_, err := NewSandbox().Load(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "banned import")
}

func TestSandboxRecoversPanic(t *testing.T) {
	src := `package forged

func Execute(params map[string]any) (string, error) {
	panic("tool blew up")
}
`
	execute, err := NewSandbox().Load(src)
	require.NoError(t, err)

	_, err = execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool panicked")
}

func TestSandboxHonorsContext(t *testing.T) {
	src := `package forged

import "time"

func Execute(params map[string]any) (string, error) {
	time.Sleep(5 * time.Second)
	return "late", nil
}
`
	execute, err := NewSandbox().Load(src)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = execute(ctx, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestNormalizePackage(t *testing.T) {
	wrapped, pkg := normalizePackage("package forged\n\nfunc Execute() {}")
	assert.Equal(t, "forged", pkg)
	assert.Contains(t, wrapped, "package forged")

	wrapped, pkg = normalizePackage("package main\n\nfunc Execute() {}")
	assert.Equal(t, "main", pkg)

	wrapped, pkg = normalizePackage("package tooling\nfunc Execute() {}")
	assert.Equal(t, "tooling", pkg)

	wrapped, pkg = normalizePackage("func Execute() {}")
	assert.Equal(t, "forged", pkg)
	assert.Contains(t, wrapped, "package forged")
}
