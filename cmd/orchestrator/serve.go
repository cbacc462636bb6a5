package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentsubstrate/orchestrator-go/admission"
	"github.com/agentsubstrate/orchestrator-go/cron"
	"github.com/agentsubstrate/orchestrator-go/dsl"
	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/persistence"
	"github.com/agentsubstrate/orchestrator-go/wasmhost"
)

var (
	serveWorkflowDir  string
	serveEachAgentMB  int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cron-driven schedule manager behind the memory-budgeted admission scheduler until interrupted.",
	RunE:  serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveWorkflowDir, "workflow-dir", "./workflows", "directory of <agent_id>.yaml workflow files dispatched by schedules")
	serveCmd.Flags().Int64Var(&serveEachAgentMB, "agent-memory-mb", 256, "declared memory footprint admitted per scheduled invocation")
}

// serve wires the cron Manager's ticks through the admission Scheduler: a
// tick only becomes a workflow Invoke once admission.Decide returns
// Accept, and every accepted run releases its MB back on completion
// regardless of success.
func serve(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeStore, err := openPersistence(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := admission.NewScheduler(admission.Config{
		Thresholds: admission.Thresholds{
			Max:    cfg.MaxMemoryMB,
			Defer:  cfg.DeferMemoryMB,
			Accept: cfg.AcceptMemoryMB,
		},
		DeferredCap: cfg.DeferredCap,
		MaxRetries:  cfg.MaxDeferRetries,
	})

	host := wasmhost.NewHost()
	host.StartEpochTicker(cmd.Context(), 100*time.Millisecond)
	defer host.Stop()

	registry := dsl.NewRegistry()
	registerBuiltinNodeTypes(registry, host, cfg, logger)

	invoker := cron.AgentInvokerFunc(func(ctx context.Context, agentID string, input map[string]interface{}) error {
		return dispatchWorkflow(ctx, agentID, input, store, registry, sched, serveEachAgentMB, logger)
	})

	mgr := cron.NewManager(cron.SystemClock{}, invoker)
	defer mgr.Stop()

	if err := loadSchedulesFromDir(mgr, serveWorkflowDir); err != nil {
		logger.Warn("no schedules loaded", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx, cfg.CronResolution)
	logger.Info("serve started", zap.String("workflow_dir", serveWorkflowDir))
	<-ctx.Done()
	logger.Info("serve shutting down")
	return nil
}

func dispatchWorkflow(ctx context.Context, agentID string, input map[string]interface{}, store persistence.Store, registry *dsl.Registry, sched *admission.Scheduler, memoryMB int64, logger *zap.Logger) error {
	decision := sched.Decide(memoryMB)
	if decision.Decision != admission.Accept {
		return fmt.Errorf("admission %s for agent %s (current=%dMB required=%dMB available=%dMB)",
			decision.Decision, agentID, decision.CurrentMB, decision.RequiredMB, decision.AvailableMB)
	}
	defer sched.Release(memoryMB)

	doc, err := dsl.ParseFile(filepath.Join(serveWorkflowDir, agentID+".yaml"))
	if err != nil {
		return fmt.Errorf("loading workflow for agent %s: %w", agentID, err)
	}
	compiled, err := doc.Compile(registry, graph.Options{})
	if err != nil {
		return fmt.Errorf("compiling workflow for agent %s: %w", agentID, err)
	}

	runID := uuid.NewString()
	state := graph.State{}
	for k, v := range input {
		state[k] = v
	}
	final, err := compiled.Invoke(ctx, runID, state)
	if err != nil {
		return fmt.Errorf("invoking workflow for agent %s: %w", agentID, err)
	}

	if _, err := store.CreateSession(ctx, agentID+"-"+runID, final); err != nil {
		logger.Warn("failed to persist run outcome", zap.String("agent_id", agentID), zap.Error(err))
	}
	return nil
}

func openPersistence(cfg appConfig) (persistence.Store, func(), error) {
	switch cfg.PersistenceDriver {
	case "sqlite":
		s, err := persistence.NewSQLiteStore(cfg.PersistenceDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite persistence at %s: %w", cfg.PersistenceDSN, err)
		}
		return s, func() { _ = s.Close() }, nil
	case "memory", "":
		return persistence.NewMemStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence driver %q", cfg.PersistenceDriver)
	}
}

// loadSchedulesFromDir registers one minute-resolution schedule per
// workflow file found in dir, named after the file's base name. Finer
// scheduling (explicit cron expressions, intervals, missed-tick policy)
// belongs in a schedules manifest read alongside the workflows; until
// that manifest format is wired in, serve runs every discovered workflow
// once a minute as a smoke-test default.
func loadSchedulesFromDir(mgr *cron.Manager, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	registered := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		agentID := e.Name()[:len(e.Name())-len(filepath.Ext(e.Name()))]
		_, err := mgr.Register(cron.ScheduleDefinition{
			ScheduleID:       agentID + "-default",
			AgentID:          agentID,
			CronExpr:         "* * * * *",
			MaxConcurrent:    1,
			MissedTickPolicy: cron.Skip,
		})
		if err != nil {
			return fmt.Errorf("registering schedule for %s: %w", agentID, err)
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no workflow files found in %s", dir)
	}
	return nil
}
