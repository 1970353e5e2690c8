package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) *Tool {
	return &Tool{
		Definition: Definition{
			Name:        name,
			Description: "echoes its input back",
			Parameters: []Parameter{
				{Name: "text", Type: "string", Description: "text to echo", Required: true},
			},
			Concepts: []string{"echo", "repeat"},
		},
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			return params["text"], nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	assert.True(t, r.Has("echo"))
	assert.NotNil(t, r.Get("echo"))
	assert.Nil(t, r.Get("missing"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	err := r.Register(echoTool("echo"))
	assert.ErrorIs(t, err, ErrToolAlreadyRegistered)

	// Replace swaps without error.
	require.NoError(t, r.Replace(echoTool("echo")))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&Tool{Definition: Definition{Name: ""}})
	assert.ErrorIs(t, err, ErrToolNameEmpty)

	err = r.Register(&Tool{Definition: Definition{Name: "broken"}})
	assert.ErrorIs(t, err, ErrToolExecuteNil)
}

func TestExecuteFillsDefaultsAndChecksRequired(t *testing.T) {
	r := NewRegistry()
	tool := &Tool{
		Definition: Definition{
			Name: "greet",
			Parameters: []Parameter{
				{Name: "name", Type: "string", Required: true},
				{Name: "greeting", Type: "string", Default: "hello"},
			},
		},
		Execute: func(ctx context.Context, params map[string]any) (any, error) {
			return fmt.Sprintf("%v %v", params["greeting"], params["name"]), nil
		},
	}
	require.NoError(t, r.Register(tool))

	result, err := r.Execute(context.Background(), "greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Output)
	assert.True(t, result.IsSuccess())
	assert.GreaterOrEqual(t, result.DurationMs, int64(0))

	_, err = r.Execute(context.Background(), "greet", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingRequiredArg)

	_, err = r.Execute(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestSearchRanking(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	calc := &Tool{
		Definition: Definition{
			Name:        "calculate",
			Description: "evaluates arithmetic expressions",
			Domain:      "math",
			Concepts:    []string{"arithmetic", "numbers"},
			Synonyms:    []string{"compute", "math"},
		},
		Execute: func(ctx context.Context, params map[string]any) (any, error) { return "", nil },
	}
	require.NoError(t, r.Register(calc))

	hits := r.Search("calculate the arithmetic result", "", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "calculate", hits[0].Name)

	// Name matches outrank concept matches.
	hits = r.Search("echo something", "", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "echo", hits[0].Name)

	assert.Empty(t, r.Search("zzzqqq", "", 5))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	r.Unregister("echo")
	assert.False(t, r.Has("echo"))
	r.Unregister("echo") // idempotent
}
