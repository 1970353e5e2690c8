// Package autonomous runs the background self-improvement loop: detect
// underperforming tools from the execution record, diagnose them, generate
// an improved implementation, validate it against historical behavior and
// deploy it with a backup for rollback. Cancellation is honored at cycle
// boundaries; a running cycle always finishes its current tool.
package autonomous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neuroforge/internal/config"
	"neuroforge/internal/events"
	"neuroforge/internal/execstore"
	"neuroforge/internal/forge"
	"neuroforge/internal/lifecycle"
	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
	"neuroforge/internal/tools"
)

const historicalRunLimit = 50

// LLMClient is the slice of the LLM client the loop needs.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts *llm.Options) (string, error)
	GenerateJSON(ctx context.Context, prompt string, opts *llm.Options) (map[string]any, error)
}

// Watcher opens a post-deployment monitoring session for a tool. Satisfied
// by *monitor.Monitor.
type Watcher interface {
	Watch(toolName string) (string, error)
}

// Maintainer syncs the tool directory, the registry and the stored status
// records. Satisfied by *lifecycle.Manager.
type Maintainer interface {
	Refresh() (int, error)
	Reconcile() ([]lifecycle.Change, error)
}

// Loop is the autonomous improvement engine.
type Loop struct {
	cfg        config.AutonomousConfig
	client     LLMClient
	store      *execstore.Store
	forge      *forge.Forge
	registry   *tools.Registry
	perf       *tools.PerformanceTracker
	bus        *events.Bus
	watcher    Watcher
	maintainer Maintainer

	backupDir string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats Stats
}

// Stats counts what the loop has done since start.
type Stats struct {
	Cycles       int       `json:"cycles"`
	Improvements int       `json:"improvements"`
	Rejected     int       `json:"rejected"`
	Failures     int       `json:"failures"`
	LastCycle    time.Time `json:"last_cycle"`
}

// Options carries the loop's collaborators.
type Options struct {
	Config    config.AutonomousConfig
	Client    LLMClient
	Store     *execstore.Store
	Forge     *forge.Forge
	Registry  *tools.Registry
	Perf      *tools.PerformanceTracker
	Bus       *events.Bus
	BackupDir string

	// Watcher, when set, opens a monitoring session after each deployment.
	Watcher Watcher
	// Maintainer, when set, reconciles the tool directory during
	// maintenance cycles.
	Maintainer Maintainer
}

// New creates the loop.
func New(opts Options) *Loop {
	return &Loop{
		cfg:        opts.Config,
		client:     opts.Client,
		store:      opts.Store,
		forge:      opts.Forge,
		registry:   opts.Registry,
		perf:       opts.Perf,
		bus:        opts.Bus,
		watcher:    opts.Watcher,
		maintainer: opts.Maintainer,
		backupDir:  opts.BackupDir,
	}
}

// Start launches the loop goroutine. Safe to call once; subsequent calls
// are no-ops until Stop.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	go l.run(loopCtx)
	logging.Autonomous("improvement loop started (check=%s maintenance=%s)",
		l.cfg.CheckInterval, l.cfg.MaintenanceInterval)
}

// Stop cancels the loop and waits for the current cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	logging.Autonomous("improvement loop stopped")
}

// Snapshot returns a copy of the loop's counters.
func (l *Loop) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	check := time.NewTicker(l.cfg.CheckInterval)
	defer check.Stop()
	maintenance := time.NewTicker(l.cfg.MaintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			l.runCycle(ctx)
		case <-maintenance.C:
			l.runMaintenance()
		}
	}
}

// runCycle executes one detect-investigate-improve pass. Each opportunity
// is handled independently; one failure never aborts the cycle.
func (l *Loop) runCycle(ctx context.Context) {
	timer := logging.StartTimer(logging.CategoryAutonomous, "improvement cycle")
	defer timer.Stop()

	l.mu.Lock()
	l.stats.Cycles++
	l.stats.LastCycle = time.Now()
	l.mu.Unlock()

	opportunities, err := l.detectOpportunities()
	if err != nil {
		logging.Autonomous("detection failed: %v", err)
		return
	}

	for _, op := range opportunities {
		if ctx.Err() != nil {
			return
		}
		if err := l.improveTool(ctx, op); err != nil {
			logging.Autonomous("improvement of %s failed: %v", op.ToolName, err)
			l.count(func(s *Stats) { s.Failures++ })
		}
	}
}

// improveTool runs the full pipeline for one opportunity: investigate,
// generate a candidate, validate it with the selected strategy, then deploy
// or reject.
func (l *Loop) improveTool(ctx context.Context, op Opportunity) error {
	tool := l.registry.Get(op.ToolName)
	if tool == nil {
		return fmt.Errorf("tool %s is no longer registered", op.ToolName)
	}

	inv, err := l.investigate(ctx, op)
	if err != nil {
		return err
	}

	currentCode, err := l.forge.CurrentCode(op.ToolName)
	if err != nil {
		return err
	}
	diagnosis := inv.Diagnosis
	if inv.Approach != "" {
		diagnosis += "\nProposed approach: " + inv.Approach
	}
	candidateCode, err := l.forge.GenerateImprovement(ctx, op.ToolName, currentCode, diagnosis)
	if err != nil {
		return err
	}
	candidate, err := l.forge.BuildCandidate(candidateCode)
	if err != nil {
		return fmt.Errorf("candidate rejected: %w", err)
	}

	report, err := l.validate(ctx, tool, candidate)
	if err != nil {
		return err
	}
	l.recordReport(op.ToolName, report)

	if !report.Passed {
		l.count(func(s *Stats) { s.Rejected++ })
		return fmt.Errorf("candidate for %s failed %s testing (%.0f%% agreement)",
			op.ToolName, report.Strategy, report.AgreementRate*100)
	}

	if err := l.forge.Deploy(op.ToolName, candidateCode, l.backupDir); err != nil {
		return err
	}
	if l.watcher != nil {
		if _, err := l.watcher.Watch(op.ToolName); err != nil {
			logging.Autonomous("opening monitoring session for %s: %v", op.ToolName, err)
		}
	}
	l.count(func(s *Stats) { s.Improvements++ })
	l.bus.Emit(events.Event{
		Type: events.TypeToolDeployed,
		Payload: map[string]any{
			"tool":     op.ToolName,
			"trigger":  "autonomous_improvement",
			"strategy": report.Strategy,
		},
	})
	if err := l.store.RecordToolCreation(op.ToolName, "autonomous_improvement", true, ""); err != nil {
		logging.Autonomous("record creation event for %s: %v", op.ToolName, err)
	}
	logging.Autonomous("deployed improved %s after %s testing", op.ToolName, report.Strategy)
	return nil
}

// validate runs the safest applicable testing strategy against the
// candidate. Manual strategy passes only when configured to auto-approve.
func (l *Loop) validate(ctx context.Context, tool *tools.Tool, candidate tools.ExecuteFunc) (TestReport, error) {
	runs, err := l.store.HistoricalRuns(tool.Definition.Name, true, historicalRunLimit)
	if err != nil {
		return TestReport{}, err
	}

	strategy := selectStrategy(tool, len(runs))
	var report TestReport
	switch strategy {
	case StrategyShadow:
		report = shadowTest(ctx, tool.Execute, candidate, runs)
	case StrategyReplay:
		report = replayTest(ctx, candidate, runs)
	case StrategySynthetic:
		report = syntheticTest(ctx, candidate, tool.TestCases)
	default:
		report = TestReport{
			Strategy: StrategyManual,
			Passed:   l.cfg.AutoApproveManual,
			Detail:   "no safe automated strategy applicable",
		}
	}
	logReport(tool.Definition.Name, report)
	return report, nil
}

func (l *Loop) recordReport(toolName string, report TestReport) {
	err := l.store.RecordShadowResult(execstore.ShadowResult{
		ToolName:      toolName,
		Inputs:        report.Inputs,
		Agreements:    report.Agreements,
		Disagreements: report.Disagreements,
		AgreementRate: report.AgreementRate,
		Passed:        report.Passed,
		Method:        report.Strategy,
		Details:       report.Detail,
	})
	if err != nil {
		logging.Autonomous("record test result for %s: %v", toolName, err)
	}
}

// runMaintenance performs the daily housekeeping: statistics rollup so the
// aggregate table tracks the raw log, then a registry reload and a full
// disk reconciliation (which also archives long-deleted tools).
func (l *Loop) runMaintenance() {
	if err := l.store.RollupStatistics(); err != nil {
		logging.Autonomous("statistics rollup failed: %v", err)
	}
	if l.maintainer != nil {
		if n, err := l.maintainer.Refresh(); err != nil {
			logging.Autonomous("registry refresh failed: %v", err)
		} else if n > 0 {
			logging.Autonomous("refreshed %d tools from disk", n)
		}
		if changes, err := l.maintainer.Reconcile(); err != nil {
			logging.Autonomous("maintenance reconcile failed: %v", err)
		} else if len(changes) > 0 {
			logging.Autonomous("maintenance reconciled %d tool changes", len(changes))
		}
	}
	logging.Autonomous("maintenance completed")
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}
