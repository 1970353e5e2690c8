package autonomous

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroforge/internal/execstore"
	"neuroforge/internal/forge"
	"neuroforge/internal/kv"
	"neuroforge/internal/llm"
	"neuroforge/internal/tools"
)

// stubClient answers every call with canned content and records prompts.
type stubClient struct {
	reply   string
	json    map[string]any
	prompts []string
}

func (c *stubClient) Generate(_ context.Context, prompt string, _ *llm.Options) (string, error) {
	c.prompts = append(c.prompts, prompt)
	return c.reply, nil
}

func (c *stubClient) GenerateJSON(_ context.Context, prompt string, _ *llm.Options) (map[string]any, error) {
	c.prompts = append(c.prompts, prompt)
	return c.json, nil
}

const brokenSource = `package forged

func Execute(params map[string]any) (string, error) {
	return "sometimes", nil
}
`

func newInvestigateLoop(t *testing.T, client *stubClient) (*Loop, *execstore.Store, string) {
	t.Helper()
	store := newDetectStore(t)
	toolsDir := t.TempDir()
	f := forge.New(client, tools.NewRegistry(), tools.NewPerformanceTracker(nil), kv.NewMemoryStore(), toolsDir)
	return &Loop{store: store, client: client, forge: f}, store, toolsDir
}

func TestInvestigate(t *testing.T) {
	client := &stubClient{json: map[string]any{
		"diagnosis": "the tool ignores its timeout",
		"approach":  "propagate the context deadline",
	}}
	l, store, toolsDir := newInvestigateLoop(t, client)

	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "flaky.go"), []byte(brokenSource), 0644))
	seedRun(t, store, "flaky", false, "deadline exceeded")

	inv, err := l.investigate(context.Background(), Opportunity{
		ToolName:    "flaky",
		Severity:    SeverityHigh,
		Reason:      "low success rate",
		SuccessRate: 0.4,
		Executions:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, "flaky", inv.ToolName)
	assert.Equal(t, "the tool ignores its timeout", inv.Diagnosis)
	assert.Equal(t, "propagate the context deadline", inv.Approach)

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Tool: flaky")
	assert.Contains(t, prompt, "low success rate")
	assert.Contains(t, prompt, "deadline exceeded")
	assert.Contains(t, prompt, brokenSource)
}

func TestInvestigateMissingSource(t *testing.T) {
	l, _, _ := newInvestigateLoop(t, &stubClient{})

	_, err := l.investigate(context.Background(), Opportunity{ToolName: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no retrievable source")
}

func TestInvestigateMalformedReply(t *testing.T) {
	client := &stubClient{json: map[string]any{"raw": "not json", "error": "parse_failed"}}
	l, _, toolsDir := newInvestigateLoop(t, client)
	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "flaky.go"), []byte(brokenSource), 0644))

	_, err := l.investigate(context.Background(), Opportunity{ToolName: "flaky"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestInvestigateNoDiagnosis(t *testing.T) {
	client := &stubClient{json: map[string]any{"approach": "rewrite it"}}
	l, _, toolsDir := newInvestigateLoop(t, client)
	require.NoError(t, os.WriteFile(filepath.Join(toolsDir, "flaky.go"), []byte(brokenSource), 0644))

	_, err := l.investigate(context.Background(), Opportunity{ToolName: "flaky"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no diagnosis")
}

func TestFormatFailures(t *testing.T) {
	assert.Equal(t, "(none recorded)", formatFailures(nil))
	assert.Equal(t, "1. first\n2. second\n", formatFailures([]string{"first", "second"}))
}
