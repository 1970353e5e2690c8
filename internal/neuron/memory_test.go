package neuron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroforge/internal/goal"
	"neuroforge/internal/kv"
)

func memoryGoal(text string, intent goal.Intent) *goal.Context {
	g := goal.New(text)
	g.Intent = intent
	return g
}

func TestMemoryWriteThenRead(t *testing.T) {
	store := kv.NewMemoryStore()

	write := NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "favorite_color", "value": "teal"}}, store)
	out, err := write.Process(context.Background(), memoryGoal("remember my favorite color is teal", goal.IntentMemoryWrite), "")
	require.NoError(t, err)
	assert.Equal(t, "Remembered favorite_color = teal", out)

	read := NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "favorite_color", "value": nil}}, store)
	out, err = read.Process(context.Background(), memoryGoal("what is my favorite color", goal.IntentMemoryRead), "")
	require.NoError(t, err)
	assert.Equal(t, "favorite_color = teal", out)
}

func TestMemoryReadContainsMatch(t *testing.T) {
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set("memory", "work_email", "a@b.c", 0))
	require.NoError(t, store.Set("memory", "home_email", "x@y.z", 0))
	require.NoError(t, store.Set("memory", "phone", "555", 0))

	n := NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "email"}}, store)
	out, err := n.Process(context.Background(), memoryGoal("what are my emails", goal.IntentMemoryRead), "")
	require.NoError(t, err)
	assert.Contains(t, out, "work_email = a@b.c")
	assert.Contains(t, out, "home_email = x@y.z")
	assert.NotContains(t, out, "phone")
}

func TestMemoryReadMiss(t *testing.T) {
	n := NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "birthday"}}, kv.NewMemoryStore())
	out, err := n.Process(context.Background(), memoryGoal("when is my birthday", goal.IntentMemoryRead), "")
	require.NoError(t, err)
	assert.Equal(t, `Nothing stored under "birthday"`, out)
}

func TestMemoryExtractionFailures(t *testing.T) {
	g := memoryGoal("remember something", goal.IntentMemoryWrite)

	n := NewMemoryNeuron(&fakeLLM{json: map[string]any{"raw": "x", "error": "parse_failed"}}, kv.NewMemoryStore())
	_, err := n.Process(context.Background(), g, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")

	n = NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "  "}}, kv.NewMemoryStore())
	_, err = n.Process(context.Background(), g, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory key")
}

func TestMemoryWriteNonStringValue(t *testing.T) {
	store := kv.NewMemoryStore()
	n := NewMemoryNeuron(&fakeLLM{json: map[string]any{"key": "age", "value": float64(30)}}, store)

	out, err := n.Process(context.Background(), memoryGoal("remember my age is 30", goal.IntentMemoryWrite), "")
	require.NoError(t, err)
	assert.Equal(t, "Remembered age = 30", out)
}
