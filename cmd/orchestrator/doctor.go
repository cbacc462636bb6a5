package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// doctorCmd is a documented stub: it reports what a full health check
// would cover without implementing the checks themselves. Verifying a
// live deployment's WASM sandbox, persistence connectivity, and schedule
// backlog belongs to the operator's own monitoring stack, not this CLI.
//
// The intended exit-code/severity contract, once implemented:
//
//	0  all checks passed
//	1  at least one WARNING (degraded but serving: e.g. admission
//	   scheduler pinned near its Max threshold, a WASM operator's
//	   ErrorCount above zero but under its circuit-breaker limit)
//	2  at least one FAILURE (not serving: persistence unreachable, a
//	   required WASM module fails to instantiate, a schedule stuck in
//	   Paused with no handle to resume it)
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Describe the health checks a deployment should run (not yet implemented).",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "orchestrator doctor is a stub: see doctor.go for the planned exit-code contract.")
		fmt.Fprintln(cmd.OutOrStdout(), "checks to add: persistence connectivity, wasm module instantiation, schedule backlog, admission headroom.")
		return nil
	},
}
