package autonomous

import (
	"sort"
	"time"

	"neuroforge/internal/logging"
)

// Opportunity severities.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Detection defaults, overridable through AutonomousConfig. A tool needs a
// minimum of recorded calls before its success rate is trusted.
const (
	defaultMinExecutions   = 10
	defaultMediumBelowRate = 0.7
	highBelowRate          = 0.5
	recentFailureCount     = 3
	recentFailureSpan      = 24 * time.Hour
)

// Opportunity is one tool flagged for improvement.
type Opportunity struct {
	ToolName       string  `json:"tool_name"`
	Severity       string  `json:"severity"`
	Reason         string  `json:"reason"`
	SuccessRate    float64 `json:"success_rate"`
	Executions     int     `json:"executions"`
	RecentFailures int     `json:"recent_failures"`
}

// detectOpportunities scans the execution record for underperforming tools:
// success rate below the improvement threshold over at least the configured
// minimum of calls (below 0.5 is high severity), or at least 3 failures in
// the last 24 hours. High severity sorts first.
func (l *Loop) detectOpportunities() ([]Opportunity, error) {
	minExec := l.cfg.MinExecutions
	if minExec <= 0 {
		minExec = defaultMinExecutions
	}
	mediumBelow := l.cfg.ImprovementThreshold
	if mediumBelow <= 0 {
		mediumBelow = defaultMediumBelowRate
	}

	ranked, err := l.store.BottomTools(20, minExec)
	if err != nil {
		return nil, err
	}
	failures, err := l.store.FailureCounts(time.Now().Add(-recentFailureSpan))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var opportunities []Opportunity
	for _, st := range ranked {
		if st.SuccessRate >= mediumBelow {
			continue
		}
		op := Opportunity{
			ToolName:       st.ToolName,
			Severity:       SeverityMedium,
			Reason:         "low success rate",
			SuccessRate:    st.SuccessRate,
			Executions:     st.TotalCalls,
			RecentFailures: failures[st.ToolName],
		}
		if st.SuccessRate < highBelowRate {
			op.Severity = SeverityHigh
		}
		opportunities = append(opportunities, op)
		seen[st.ToolName] = true
	}

	for name, count := range failures {
		if seen[name] || count < recentFailureCount {
			continue
		}
		stats, err := l.store.ToolStatistics(name)
		if err != nil {
			continue
		}
		opportunities = append(opportunities, Opportunity{
			ToolName:       name,
			Severity:       SeverityMedium,
			Reason:         "repeated recent failures",
			SuccessRate:    stats.SuccessRate,
			Executions:     stats.TotalCalls,
			RecentFailures: count,
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Severity == SeverityHigh &&
			opportunities[j].Severity != SeverityHigh
	})
	if len(opportunities) > 0 {
		logging.Autonomous("detected %d improvement opportunities", len(opportunities))
	}
	return opportunities, nil
}
