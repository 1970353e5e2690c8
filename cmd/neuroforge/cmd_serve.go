package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"neuroforge/internal/autonomous"
	"neuroforge/internal/logging"
	"neuroforge/internal/monitor"
	"neuroforge/internal/scheduler"
	"neuroforge/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with all background loops",
	Long: `Start the full engine: the HTTP API, the autonomous improvement loop,
deployment monitoring, the tool directory watcher and the goal scheduler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Autonomous.Enabled {
			mon := monitor.New(cfg.Monitor, eng.execStore, eng.forge, eng.perf, eng.bus, cfg.BackupDir)
			mon.Start(ctx)
			defer mon.Stop()

			loop := autonomous.New(autonomous.Options{
				Config:     cfg.Autonomous,
				Client:     eng.client,
				Store:      eng.execStore,
				Forge:      eng.forge,
				Registry:   eng.registry,
				Perf:       eng.perf,
				Bus:        eng.bus,
				BackupDir:  cfg.BackupDir,
				Watcher:    mon,
				Maintainer: eng.lifecycle,
			})
			loop.Start(ctx)
			defer loop.Stop()
		}

		schedStore, err := scheduler.NewSQLiteStateStore(filepath.Join(cfg.DataDir, "scheduler.db"))
		if err != nil {
			return err
		}
		defer schedStore.Close()
		sched, err := scheduler.New(schedStore, nil, func(ctx context.Context, goalText string) (string, error) {
			g, err := eng.orch.Process(ctx, goalText)
			if err != nil {
				return "", err
			}
			if !g.Success {
				return "", errFromGoal(g.Err)
			}
			return g.Result, nil
		}, eng.bus)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()

		if _, err := eng.lifecycle.Reconcile(); err != nil {
			logging.Lifecycle("startup reconcile: %v", err)
		}
		go func() {
			if err := eng.lifecycle.Watch(ctx); err != nil {
				logging.Lifecycle("watcher stopped: %v", err)
			}
		}()

		logger.Info("serving", zap.String("addr", serveAddr),
			zap.Int("tools", eng.registry.Count()),
			zap.Bool("autonomous", cfg.Autonomous.Enabled))

		srv := server.New(eng.orch, eng.registry, eng.perf, eng.bus)
		return srv.Serve(ctx, serveAddr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8420", "listen address")
	rootCmd.AddCommand(serveCmd)
}
