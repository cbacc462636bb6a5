package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsMatchInitDefaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.LogLevel)
	}
	if cfg.PersistenceDriver != "memory" {
		t.Fatalf("expected default persistence driver memory, got %q", cfg.PersistenceDriver)
	}
	if cfg.MaxMemoryMB != 4096 || cfg.DeferMemoryMB != 3072 || cfg.AcceptMemoryMB != 2048 {
		t.Fatalf("unexpected memory thresholds: %+v", cfg)
	}
	if cfg.CronResolution != time.Second {
		t.Fatalf("expected default cron resolution of 1s, got %v", cfg.CronResolution)
	}
}

func TestLoadConfig_OverrideViaViperSet(t *testing.T) {
	viper.Set("persistence-driver", "sqlite")
	defer viper.Set("persistence-driver", "memory")

	cfg := loadConfig()
	if cfg.PersistenceDriver != "sqlite" {
		t.Fatalf("expected override to apply, got %q", cfg.PersistenceDriver)
	}
}
