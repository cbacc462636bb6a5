package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentsubstrate/orchestrator-go/dsl"
	"github.com/agentsubstrate/orchestrator-go/graph"
	"github.com/agentsubstrate/orchestrator-go/wasmhost"
)

var (
	runWorkflowPath string
	runStateJSON    string
	runTimeout      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compile a workflow DSL file and invoke it once, printing the resulting state as JSON.",
	RunE:  runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkflowPath, "file", "f", "", "path to a workflow DSL YAML file (required)")
	runCmd.Flags().StringVar(&runStateJSON, "state", "{}", "initial state as a JSON object")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "wall-clock budget for the run")
	_ = runCmd.MarkFlagRequired("file")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	doc, err := dsl.ParseFile(runWorkflowPath)
	if err != nil {
		return fmt.Errorf("parsing workflow: %w", err)
	}

	initialState, err := graph.StateFromJSON([]byte(runStateJSON))
	if err != nil {
		return fmt.Errorf("parsing --state: %w", err)
	}

	host := wasmhost.NewHost()
	defer host.Stop()

	registry := dsl.NewRegistry()
	registerBuiltinNodeTypes(registry, host, cfg, logger)

	opts := graph.Options{RunWallClockBudget: runTimeout}
	compiled, err := doc.Compile(registry, opts)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", doc.Metadata.ID, err)
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	logger.Info("run starting", zap.String("workflow_id", doc.Metadata.ID), zap.String("run_id", runID))
	final, err := compiled.Invoke(ctx, runID, initialState)
	if err != nil {
		return fmt.Errorf("invoking %s: %w", doc.Metadata.ID, err)
	}

	out, err := final.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding final state: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
