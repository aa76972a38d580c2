package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nudge/internal/config"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MQTT_USERNAME", "")
	t.Setenv("MQTT_PASSWORD", "")

	// broker.host is required, so defaults alone must fail validation.
	_, _, exists, err := config.Load("")
	if err == nil {
		t.Fatal("expected Load to fail without broker.host")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if !strings.Contains(err.Error(), "broker.host") {
		t.Fatalf("expected broker.host error, got: %v", err)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "config.toml")
	content := `
[paths]
data_dir = "~/nudge-data"

[broker]
host = " broker.example.com "
port = 1883
use_tls = false

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatalf("expected existing resolved config, got exists=%v path=%q", exists, resolved)
	}
	if cfg.Broker.Host != "broker.example.com" {
		t.Fatalf("expected trimmed broker host, got %q", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 1883 {
		t.Fatalf("unexpected broker port: %d", cfg.Broker.Port)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "nudge-data") {
		t.Fatalf("expected expanded data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format json, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Broker.PublishTimeout != 10 {
		t.Fatalf("expected default publish timeout, got %d", cfg.Broker.PublishTimeout)
	}
	if !cfg.Welcome.Enabled {
		t.Fatal("expected welcome enabled by default")
	}
}

func TestBrokerCredentialsFromEnv(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MQTT_USERNAME", "svc")
	t.Setenv("MQTT_PASSWORD", "hunter2")

	path := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(path, []byte("[broker]\nhost = \"b\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Username != "svc" || cfg.Broker.Password != "hunter2" {
		t.Fatalf("expected env credentials, got %q/%q", cfg.Broker.Username, cfg.Broker.Password)
	}
}

func TestSecondaryValidation(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "config.toml")
	content := `
[broker]
host = "b"

[secondary]
enabled = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for enabled secondary without smtp_host")
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[broker]") {
		t.Fatal("sample config missing [broker] section")
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Broker.Host != "broker.example.com" {
		t.Fatalf("unexpected sample broker host: %q", cfg.Broker.Host)
	}
}
