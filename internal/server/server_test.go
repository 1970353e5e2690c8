package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroforge/internal/events"
	"neuroforge/internal/goal"
	"neuroforge/internal/tools"
)

// fakeRunner answers every goal with a canned terminal context.
type fakeRunner struct {
	success bool
	result  string
	errText string
	err     error
	lastIn  string
}

func (f *fakeRunner) Process(_ context.Context, goalText string) (*goal.Context, error) {
	f.lastIn = goalText
	if f.err != nil {
		return nil, f.err
	}
	g := goal.New(goalText)
	g.Intent = goal.IntentGenerative
	if f.success {
		g.Complete(f.result)
	} else {
		g.Fail(f.errText)
	}
	return g, nil
}

func newTestServer(t *testing.T, runner *fakeRunner) (*Server, *tools.Registry, *events.Bus) {
	t.Helper()
	registry := tools.NewRegistry()
	bus := events.NewBus()
	return New(runner, registry, tools.NewPerformanceTracker(nil), bus), registry, bus
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGoalEndpoint(t *testing.T) {
	runner := &fakeRunner{success: true, result: "42"}
	s, _, _ := newTestServer(t, runner)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/goals", `{"goal":"calculate 7*6"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		GoalID  string `json:"goal_id"`
		Success bool   `json:"success"`
		Result  string `json:"result"`
		Intent  string `json:"intent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "42", resp.Result)
	assert.Equal(t, "generative", resp.Intent)
	assert.NotEmpty(t, resp.GoalID)
	assert.Equal(t, "calculate 7*6", runner.lastIn)
}

func TestGoalEndpointFailure(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{errText: "no suitable tool"})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/goals", `{"goal":"impossible"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "no suitable tool", resp.Error)
}

func TestGoalEndpointBadRequests(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{success: true})
	router := s.Router()

	for _, body := range []string{"", "not json"} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/goals", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGoalEndpointAcceptsEmptyGoal(t *testing.T) {
	runner := &fakeRunner{success: true, result: "what would you like?"}
	s, _, _ := newTestServer(t, runner)
	router := s.Router()

	// An empty goal is well-formed; the engine decides what to do with it.
	for _, body := range []string{`{"goal":""}`, `{}`} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/goals", body)
		require.Equal(t, http.StatusOK, rec.Code, body)

		var resp struct {
			GoalID  string `json:"goal_id"`
			Success bool   `json:"success"`
			Result  string `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "what would you like?", resp.Result)
		assert.NotEmpty(t, resp.GoalID)
		assert.Empty(t, runner.lastIn)
	}
}

func TestGoalEndpointRunnerError(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{err: errors.New("engine down")})
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/goals", `{"goal":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChatEndpointRendersFailure(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeRunner{errText: "llm unreachable"})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/chat", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Reply  string `json:"reply"`
		GoalID string `json:"goal_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "I couldn't complete that: llm unreachable", resp.Reply)
	assert.NotEmpty(t, resp.GoalID)
}

func TestHealthEndpoint(t *testing.T) {
	s, registry, bus := newTestServer(t, &fakeRunner{})
	require.NoError(t, registry.Register(tools.EchoTool()))
	bus.Emit(events.Event{Type: events.TypeGoalStart})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(1), resp["tools"])
	assert.Equal(t, float64(1), resp["events"])
}

func TestToolsEndpoints(t *testing.T) {
	s, registry, _ := newTestServer(t, &fakeRunner{})
	require.NoError(t, registry.Register(tools.EchoTool()))
	s.perf.RecordSuccess("echo", 12)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []struct {
		Definition  tools.Definition `json:"definition"`
		Status      string           `json:"status"`
		TotalCalls  int              `json:"total_calls"`
		SuccessRate float64          `json:"success_rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].Definition.Name)
	assert.Equal(t, 1, list[0].TotalCalls)
	assert.Equal(t, 1.0, list[0].SuccessRate)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/v1/tools/echo", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/v1/tools/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	s, _, bus := newTestServer(t, &fakeRunner{})
	bus.Emit(events.Event{Type: events.TypeGoalStart, GoalID: "a"})
	bus.Emit(events.Event{Type: events.TypeGoalComplete, GoalID: "a"})
	bus.Emit(events.Event{Type: events.TypeGoalStart, GoalID: "b"})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/events?goal_id=a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/v1/events?type=goal_start&limit=1", "")
	got = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].GoalID)
}
