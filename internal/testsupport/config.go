package testsupport

import (
	"path/filepath"
	"testing"

	"nudge/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// The broker host points at a name that never resolves so nothing in a test
// accidentally reaches a real broker.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Broker.Host = "broker.invalid"
	cfg.Broker.UseTLS = false

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithAPIToken enables bearer auth on the test config.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}

// WithWelcome enables the welcome notification with the given text.
func WithWelcome(title, body string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Welcome = config.Welcome{Enabled: true, Title: title, Body: body}
	}
}

// WithSecondary enables the secondary channel against a fake SMTP endpoint.
func WithSecondary(host string, port int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Secondary = config.Secondary{
			Enabled:  true,
			SMTPHost: host,
			SMTPPort: port,
			From:     "nudge@test.invalid",
		}
	}
}
