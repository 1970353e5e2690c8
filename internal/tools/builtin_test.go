package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	for _, name := range []string{"calculate", "datetime", "echo"} {
		assert.True(t, r.Has(name), name)
	}
}

func TestCalculate(t *testing.T) {
	calc := CalculateTool()
	cases := map[string]string{
		"7*6":          "42",
		"2 + 3 * 4":    "14",
		"(2+3)*4":      "20",
		"10/4":         "2.5",
		"-3 + 5":       "2",
		"2*(-4)":       "-8",
		"1.5 + 1.5":    "3",
		"100 - 10 - 5": "85",
	}
	for expr, want := range cases {
		out, err := calc.Execute(context.Background(), map[string]any{"expression": expr})
		require.NoError(t, err, expr)
		assert.Equal(t, want, out, expr)
	}
}

func TestCalculateErrors(t *testing.T) {
	calc := CalculateTool()
	for _, expr := range []string{"", "1/0", "2+", "(1+2", "abc", "3 $ 4"} {
		_, err := calc.Execute(context.Background(), map[string]any{"expression": expr})
		assert.Error(t, err, expr)
	}
}

func TestEcho(t *testing.T) {
	echo := EchoTool()
	out, err := echo.Execute(context.Background(), map[string]any{"text": "hi there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}
