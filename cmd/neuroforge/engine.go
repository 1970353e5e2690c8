package main

import (
	"fmt"

	"neuroforge/internal/config"
	"neuroforge/internal/events"
	"neuroforge/internal/execstore"
	"neuroforge/internal/forge"
	"neuroforge/internal/kv"
	"neuroforge/internal/lifecycle"
	"neuroforge/internal/llm"
	"neuroforge/internal/logging"
	"neuroforge/internal/neuron"
	"neuroforge/internal/orchestrator"
	"neuroforge/internal/thought"
	"neuroforge/internal/tools"
)

// engine is the fully wired processing stack shared by the run and serve
// commands.
type engine struct {
	cfg       *config.Config
	bus       *events.Bus
	tree      *thought.Tree
	registry  *tools.Registry
	perf      *tools.PerformanceTracker
	client    *llm.Client
	kvStore   kv.Store
	execStore *execstore.Store
	forge     *forge.Forge
	lifecycle *lifecycle.Manager
	orch      *orchestrator.Orchestrator
}

// buildEngine constructs and wires every component from the config:
// stores, event bus, thought tree, tool registry with builtins and on-disk
// forged tools, the forge, and the orchestrator on top.
func buildEngine(cfg *config.Config) (*engine, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	kvStore, err := kv.NewSQLiteStore(cfg.KVPath)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	execStore, err := execstore.New(cfg.DBPath)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("open execution store: %w", err)
	}

	bus := events.NewBus()
	tree := thought.NewTree(kvStore)
	registry := tools.NewRegistry()
	perf := tools.NewPerformanceTracker(kvStore)
	client := llm.New(cfg.LLM)

	if err := tools.RegisterBuiltins(registry); err != nil {
		kvStore.Close()
		execStore.Close()
		return nil, fmt.Errorf("register builtins: %w", err)
	}

	f := forge.New(client, registry, perf, kvStore, cfg.ToolsDir)
	if n, err := registry.LoadFromDirectory(cfg.ToolsDir, f.Loader()); err != nil {
		logging.Boot("loading forged tools: %v", err)
	} else if n > 0 {
		logging.Boot("loaded %d forged tools from %s", n, cfg.ToolsDir)
	}

	cache := neuron.NewPatternCache(kvStore, 0)

	opts := orchestrator.Options{
		Bus:      bus,
		Tree:     tree,
		Registry: registry,
		Perf:     perf,
		Client:   client,
		KV:       kvStore,
		Cache:    cache,
		Recorder: execStore,
	}
	if cfg.ForgeEnabled {
		opts.Forger = f
	}

	return &engine{
		cfg:       cfg,
		bus:       bus,
		tree:      tree,
		registry:  registry,
		perf:      perf,
		client:    client,
		kvStore:   kvStore,
		execStore: execStore,
		forge:     f,
		lifecycle: lifecycle.New(execStore, registry, f.Loader(), bus, cfg.ToolsDir),
		orch:      orchestrator.New(opts),
	}, nil
}

func (e *engine) Close() {
	if err := e.execStore.Close(); err != nil {
		logging.Boot("closing execution store: %v", err)
	}
	if err := e.kvStore.Close(); err != nil {
		logging.Boot("closing kv store: %v", err)
	}
}
