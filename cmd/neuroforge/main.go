// neuroforge is a self-improving orchestration engine: goals flow through a
// neuron pipeline, missing capabilities are forged as sandboxed tools at
// runtime, and a background loop improves underperforming tools from their
// own execution record.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"neuroforge/internal/config"
	"neuroforge/internal/logging"
)

var (
	configPath string
	dataDir    string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "neuroforge",
	Short: "neuroforge - self-improving agentic orchestration engine",
	Long: `neuroforge routes goals through a pipeline of single-purpose neurons:
intent classification, generative answers, tool execution and memory.

When no tool fits a goal, the forge synthesizes one at runtime, validates
it and runs it in a sandboxed interpreter. A background loop watches every
tool's execution record, improves the weak ones and rolls back regressions.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if dataDir != "" {
			os.Setenv(config.EnvDataDir, dataDir)
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		return logging.Initialize(cfg.DataDir, verbose || cfg.Logging.Debug, cfg.Logging.Level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
		logging.CloseAll()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}
