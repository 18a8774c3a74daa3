package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/sensorsend/internal/config"
)

func TestFlagOverridesAreValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorsend_config.txt")
	if err := os.WriteFile(path, []byte("SENSOR_SOURCE=mock\nCONTROL_LISTEN=\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "--source", "serial", "--target", "10.0.0.3"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "SERIAL_PORT") {
		t.Fatalf("Execute() error = %v, want SERIAL_PORT validation error", err)
	}

	cfg := config.Get()
	if cfg.SensorSource != "mock" || cfg.TargetHost != "" {
		t.Errorf("rejected flags leaked into config: source=%q host=%q", cfg.SensorSource, cfg.TargetHost)
	}
}
