package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runGoal        string
	runInteractive bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a goal through the pipeline",
	Long: `Run one goal (--goal) or start an interactive session (--interactive)
where each line is processed as a goal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runGoal == "" && !runInteractive {
			return fmt.Errorf("either --goal or --interactive is required")
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runGoal != "" {
			return runOnce(ctx, eng, runGoal)
		}
		return runREPL(ctx, eng)
	},
}

func runOnce(ctx context.Context, eng *engine, goalText string) error {
	g, err := eng.orch.Process(ctx, goalText)
	if err != nil {
		return err
	}
	if !g.Success {
		fmt.Println(g.Err)
		return fmt.Errorf("goal failed")
	}
	fmt.Println(g.Result)
	return nil
}

func runREPL(ctx context.Context, eng *engine) error {
	logger.Info("interactive session started", zap.Int("tools", eng.registry.Count()))
	fmt.Println("neuroforge interactive session. Type a goal, or 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		g, err := eng.orch.Process(ctx, line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		if g.Success {
			fmt.Println(g.Result)
		} else {
			fmt.Println("failed:", g.Err)
		}
		fmt.Printf("(%s, goal %s)\n", time.Since(start).Round(time.Millisecond), g.GoalID)
	}
	return scanner.Err()
}

func init() {
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "goal text to process")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "interactive session")
	rootCmd.AddCommand(runCmd)
}
