package main

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// appConfig mirrors the orchestrator's runtime configuration, bound from
// flags, environment variables (ORCHESTRATOR_*), and an optional config
// file via viper. Every field has a usable zero-value default so the CLI
// runs unconfigured against an in-memory store.
type appConfig struct {
	LogLevel string

	PersistenceDriver string // "memory" or "sqlite"
	PersistenceDSN    string

	MaxMemoryMB      int64
	DeferMemoryMB    int64
	AcceptMemoryMB   int64
	DeferredCap      int
	MaxDeferRetries  int
	CronResolution   time.Duration
	WasmMaxFuel      uint64
	WasmMaxMemoryMB  int64
	WasmExecTimeout  time.Duration
}

func loadConfig() appConfig {
	return appConfig{
		LogLevel:          viper.GetString("log-level"),
		PersistenceDriver: viper.GetString("persistence-driver"),
		PersistenceDSN:    viper.GetString("persistence-dsn"),
		MaxMemoryMB:       viper.GetInt64("max-memory-mb"),
		DeferMemoryMB:     viper.GetInt64("defer-memory-mb"),
		AcceptMemoryMB:    viper.GetInt64("accept-memory-mb"),
		DeferredCap:       viper.GetInt("deferred-cap"),
		MaxDeferRetries:   viper.GetInt("max-defer-retries"),
		CronResolution:    viper.GetDuration("cron-resolution"),
		WasmMaxFuel:       uint64(viper.GetInt64("wasm-max-fuel")),
		WasmMaxMemoryMB:   viper.GetInt64("wasm-max-memory-mb"),
		WasmExecTimeout:   viper.GetDuration("wasm-exec-timeout"),
	}
}

func init() {
	viper.SetDefault("log-level", "info")
	viper.SetDefault("persistence-driver", "memory")
	viper.SetDefault("persistence-dsn", "orchestrator.db")
	viper.SetDefault("max-memory-mb", int64(4096))
	viper.SetDefault("defer-memory-mb", int64(3072))
	viper.SetDefault("accept-memory-mb", int64(2048))
	viper.SetDefault("deferred-cap", 256)
	viper.SetDefault("max-defer-retries", 5)
	viper.SetDefault("cron-resolution", time.Second)
	viper.SetDefault("wasm-max-fuel", int64(10_000_000))
	viper.SetDefault("wasm-max-memory-mb", int64(16))
	viper.SetDefault("wasm-exec-timeout", 5*time.Second)

	viper.SetEnvPrefix("orchestrator")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}
