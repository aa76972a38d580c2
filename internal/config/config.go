package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Broker contains MQTT connection settings shared by the server and agent.
type Broker struct {
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	UseTLS              bool   `toml:"use_tls"`
	CACert              string `toml:"ca_cert"`
	Username            string `toml:"username"`
	Password            string `toml:"password"`
	KeepAliveSeconds    int    `toml:"keep_alive_seconds"`
	PublishTimeout      int    `toml:"publish_timeout_seconds"`
	ReconnectMinSeconds int    `toml:"reconnect_min_seconds"`
	ReconnectMaxSeconds int    `toml:"reconnect_max_seconds"`
}

// Welcome configures the one-shot greeting sent when a device first comes
// online.
type Welcome struct {
	Enabled bool   `toml:"enabled"`
	Title   string `toml:"title"`
	Body    string `toml:"body"`
}

// Secondary configures the SMTP fallback channel used when the broker path is
// rejected. When disabled, fallback sends are skipped.
type Secondary struct {
	Enabled  bool   `toml:"enabled"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// Monitor configures periodic status snapshots persisted for the history
// endpoint.
type Monitor struct {
	SnapshotIntervalSeconds int `toml:"snapshot_interval_seconds"`
	HistoryLimit            int `toml:"history_limit"`
}

// Agent contains device-side receiver settings.
type Agent struct {
	IdentityPath string `toml:"identity_path"`
	SinkPath     string `toml:"sink_path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for nudge.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories, API bind address and token
//   - Broker: MQTT connection, credentials, timeouts
//   - Welcome: first-online greeting notification
//   - Secondary: SMTP fallback channel
//   - Monitor: status snapshot cadence for the history endpoint
//   - Agent: device-side identity file and local sink
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Broker    Broker    `toml:"broker"`
	Welcome   Welcome   `toml:"welcome"`
	Secondary Secondary `toml:"secondary"`
	Monitor   Monitor   `toml:"monitor"`
	Agent     Agent     `toml:"agent"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/nudge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("nudge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
