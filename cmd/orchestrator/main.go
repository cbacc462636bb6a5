// Command orchestrator is the CLI entry point for the agent orchestration
// runtime: it compiles and runs workflow DSL documents (run), hosts the
// cron-driven scheduler loop alongside the memory-budgeted admission
// scheduler (serve), and describes the health checks a deployment should
// run (doctor, a stub that performs no checks).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Agent orchestration runtime: StateGraph workflows, admission control, and scheduled agents.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file %s: %w", cfgFile, err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", `logging level: "debug", "info", "warn", or "error"`)
	rootCmd.PersistentFlags().String("persistence-driver", "memory", `persistence backend: "memory" or "sqlite"`)
	rootCmd.PersistentFlags().String("persistence-dsn", "orchestrator.db", "sqlite DSN, ignored when persistence-driver is memory")
	rootCmd.PersistentFlags().Int64("max-memory-mb", 4096, "admission scheduler hard ceiling in MB")
	rootCmd.PersistentFlags().Int64("defer-memory-mb", 3072, "admission scheduler defer threshold in MB")
	rootCmd.PersistentFlags().Int64("accept-memory-mb", 2048, "admission scheduler comfortable operating level in MB")

	for _, name := range []string{"log-level", "persistence-driver", "persistence-dsn", "max-memory-mb", "defer-memory-mb", "accept-memory-mb"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(runCmd, serveCmd, doctorCmd, versionCmd)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
