package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRoverConfigDefaults(t *testing.T) {
	path := writeConfig(t, `server_host = "10.0.0.9"`)
	cfg, err := LoadRoverConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerHost != "10.0.0.9" {
		t.Fatalf("server_host got=%q", cfg.ServerHost)
	}
	if cfg.ServerPort != 5555 {
		t.Fatalf("default port got=%d", cfg.ServerPort)
	}
	if cfg.Motors.WatchdogTimeoutMS != 1000 {
		t.Fatalf("default watchdog got=%d", cfg.Motors.WatchdogTimeoutMS)
	}
	if len(cfg.Sensors) != 5 {
		t.Fatalf("default sensor count got=%d", len(cfg.Sensors))
	}
	if cfg.Ranging.AssumeClearOnInvalid == nil || !*cfg.Ranging.AssumeClearOnInvalid {
		t.Fatalf("default all-invalid policy should assume clear")
	}
}

func TestLoadRoverConfigRejectsDuplicateSensorKeys(t *testing.T) {
	path := writeConfig(t, `
server_host = "10.0.0.9"

[[sensors]]
key = "FC"
trig = 4
echo = 14
zone = "front"

[[sensors]]
key = "FC"
trig = 15
echo = 24
zone = "front"
`)
	_, err := LoadRoverConfig(path)
	if err == nil || !strings.Contains(err.Error(), "duplicate key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestLoadRoverConfigRejectsMQTTWithoutBroker(t *testing.T) {
	path := writeConfig(t, `
server_host = "10.0.0.9"

[mqtt]
enabled = true
`)
	if _, err := LoadRoverConfig(path); err == nil {
		t.Fatalf("expected broker_url error")
	}
}

func TestLoadControllerConfigDefaults(t *testing.T) {
	path := writeConfig(t, `goal = "find the kitchen"`)
	cfg, err := LoadControllerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenPort != 5555 || cfg.MaxConnections != 1 {
		t.Fatalf("defaults got=%+v", cfg)
	}
	if cfg.Goal != "find the kitchen" {
		t.Fatalf("goal got=%q", cfg.Goal)
	}
}

func TestValidateWheelGroupPinCounts(t *testing.T) {
	cfg := DefaultRoverConfig()
	cfg.Motors.Left.BackwardPins = cfg.Motors.Left.BackwardPins[:1]
	if err := ValidateRoverConfig(cfg); err == nil {
		t.Fatalf("expected pin count mismatch error")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := LoadRoverConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected load failure")
	}
}
