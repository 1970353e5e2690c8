package goal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompleteIsTerminal(t *testing.T) {
	g := New("do something")
	assert.False(t, g.Done())

	g.Complete("done")
	assert.True(t, g.Done())
	assert.True(t, g.Success)
	assert.Equal(t, "done", g.Result)

	// Later terminal calls are ignored.
	g.Fail("too late")
	assert.True(t, g.Success)
	assert.Equal(t, "done", g.Result)
	assert.Empty(t, g.Err)
}

func TestFailIsTerminal(t *testing.T) {
	g := New("do something")
	g.Fail("broke")
	assert.False(t, g.Success)
	assert.Equal(t, "broke", g.Err)

	g.Complete("too late")
	assert.False(t, g.Success)
	assert.Empty(t, g.Result)
}

func TestTryRecoveryOncePerAction(t *testing.T) {
	g := New("do something")
	assert.True(t, g.TryRecovery("retry"))
	assert.False(t, g.TryRecovery("retry"))

	// Independent actions each get one attempt.
	assert.True(t, g.TryRecovery("forge_tool"))
	assert.False(t, g.TryRecovery("forge_tool"))
}

func TestRecordToolCall(t *testing.T) {
	g := New("do something")
	assert.Empty(t, g.ToolCalls())

	g.RecordToolCall(ToolCall{ToolName: "calculate", Success: false, Err: "bad input"})
	g.RecordToolCall(ToolCall{ToolName: "calculate", Success: true, Result: "42"})

	calls := g.ToolCalls()
	assert.Len(t, calls, 2)
	assert.False(t, calls[0].Success)
	assert.True(t, calls[1].Success)
}

func TestAddMessageOrders(t *testing.T) {
	g := New("do something")
	g.AddMessage("intent", "result", "tool")
	g.AddMessage("tool", "error", "boom")

	assert.Len(t, g.Messages, 2)
	assert.Equal(t, "intent", g.Messages[0].Neuron)
	assert.Equal(t, "error", g.Messages[1].Type)
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a, b := New("one"), New("two")
	assert.NotEmpty(t, a.GoalID)
	assert.NotEqual(t, a.GoalID, b.GoalID)
}
