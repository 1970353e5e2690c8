// Package logging provides categorized file-based logging for neuroforge.
// Logs are written to <data_dir>/logs/ with separate files per category.
// Logging is controlled by the NEUROFORGE_LOG_LEVEL and debug mode settings;
// when debug mode is off, no log files are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup/initialization
	CategoryAPI          Category = "api"          // LLM API calls
	CategoryOrchestrator Category = "orchestrator" // Goal routing
	CategoryNeuron       Category = "neuron"       // Neuron execution
	CategoryTools        Category = "tools"        // Tool registry and execution
	CategoryForge        Category = "forge"        // Dynamic tool generation
	CategoryEvents       Category = "events"       // Event bus
	CategoryThought      Category = "thought"      // Thought tree
	CategoryStore        Category = "store"        // SQLite/KV stores
	CategoryScheduler    Category = "scheduler"    // Scheduled goals
	CategoryAutonomous   Category = "autonomous"   // Improvement loop
	CategoryMonitor      Category = "monitor"      // Deployment monitoring
	CategoryLifecycle    Category = "lifecycle"    // Tool lifecycle manager
	CategoryServer       Category = "server"       // HTTP API
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
	stateMu   sync.RWMutex
)

// Initialize sets up the logging directory. Should be called once at startup
// with the data directory path. When debug is false this is a silent no-op
// and all loggers are no-ops.
func Initialize(dataDir string, debug bool, level string) error {
	stateMu.Lock()
	debugMode = debug
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	stateMu.Unlock()

	if !debug {
		return nil
	}
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}

	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== neuroforge logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", level)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return debugMode
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled.
func Get(category Category) *Logger {
	if !IsDebugMode() || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions. These are no-ops when debug mode is disabled.

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// API logs to the api category.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// Orchestrator logs to the orchestrator category.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category.
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// Neuron logs to the neuron category.
func Neuron(format string, args ...interface{}) { Get(CategoryNeuron).Info(format, args...) }

// NeuronDebug logs debug to the neuron category.
func NeuronDebug(format string, args ...interface{}) { Get(CategoryNeuron).Debug(format, args...) }

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) { Get(CategoryTools).Info(format, args...) }

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debug(format, args...) }

// Forge logs to the forge category.
func Forge(format string, args ...interface{}) { Get(CategoryForge).Info(format, args...) }

// ForgeDebug logs debug to the forge category.
func ForgeDebug(format string, args ...interface{}) { Get(CategoryForge).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Scheduler logs to the scheduler category.
func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }

// SchedulerDebug logs debug to the scheduler category.
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}

// Autonomous logs to the autonomous category.
func Autonomous(format string, args ...interface{}) { Get(CategoryAutonomous).Info(format, args...) }

// AutonomousDebug logs debug to the autonomous category.
func AutonomousDebug(format string, args ...interface{}) {
	Get(CategoryAutonomous).Debug(format, args...)
}

// Monitor logs to the monitor category.
func Monitor(format string, args ...interface{}) { Get(CategoryMonitor).Info(format, args...) }

// Lifecycle logs to the lifecycle category.
func Lifecycle(format string, args ...interface{}) { Get(CategoryLifecycle).Info(format, args...) }

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
