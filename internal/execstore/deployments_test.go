package execstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentSessionLifecycle(t *testing.T) {
	s := newStore(t)

	sessionID, err := s.StartDeploymentSession("weather", 24, 7, 0.15)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	sessions, err := s.ActiveDeploymentSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.Equal(t, sessionID, got.SessionID)
	assert.Equal(t, "weather", got.ToolName)
	assert.Equal(t, 24, got.WindowHours)
	assert.Equal(t, 7, got.BaselineWindowDays)
	assert.Equal(t, 0.15, got.RegressionThreshold)
	assert.Equal(t, "active", got.Status)
	assert.WithinDuration(t, time.Now().UTC(), got.DeploymentTime, time.Minute)

	require.NoError(t, s.CloseDeploymentSession(sessionID, "completed"))
	sessions, err = s.ActiveDeploymentSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRecordHealthCheck(t *testing.T) {
	s := newStore(t)
	sessionID, err := s.StartDeploymentSession("weather", 24, 7, 0.15)
	require.NoError(t, err)

	require.NoError(t, s.RecordHealthCheck(HealthCheck{
		SessionID:           sessionID,
		BaselineExecutions:  50,
		BaselineSuccessRate: 0.9,
		CurrentExecutions:   20,
		CurrentSuccessRate:  0.6,
		RegressionDetected:  true,
		Severity:            "critical",
		Details:             map[string]any{"drop": 0.3},
	}))

	// Checks without detected regressions store too.
	require.NoError(t, s.RecordHealthCheck(HealthCheck{SessionID: sessionID}))
}

func TestRollbackCount(t *testing.T) {
	s := newStore(t)

	n, err := s.RollbackCount("weather", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.RecordRollback("sess-1", "weather", "success rate regression", "high"))
	require.NoError(t, s.RecordRollback("", "weather", "manual", "critical"))
	require.NoError(t, s.RecordRollback("sess-2", "other", "regression", "high"))

	n, err = s.RollbackCount("weather", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RollbackCount("weather", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordToolCreation(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordToolCreation("greet_tool", "goal_recovery", true, ""))
	require.NoError(t, s.RecordToolCreation("broken_tool", "autonomous_improvement", false, "validation failed"))
}

func TestRecordShadowResult(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordShadowResult(ShadowResult{
		ToolName:      "weather",
		Inputs:        20,
		Agreements:    19,
		Disagreements: 1,
		AgreementRate: 0.95,
		Passed:        true,
		Method:        "replay",
	}))

	// Method defaults to shadow.
	require.NoError(t, s.RecordShadowResult(ShadowResult{ToolName: "weather", Inputs: 10, Agreements: 10, AgreementRate: 1, Passed: true}))
}
