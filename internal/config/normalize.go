package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBroker(); err != nil {
		return err
	}
	c.normalizeWelcome()
	c.normalizeSecondary()
	c.normalizeMonitor()
	if err := c.normalizeAgent(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("NUDGE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeBroker() error {
	c.Broker.Host = strings.TrimSpace(c.Broker.Host)
	if c.Broker.Port <= 0 {
		c.Broker.Port = defaultBrokerPort
	}
	if c.Broker.CACert != "" {
		expanded, err := expandPath(c.Broker.CACert)
		if err != nil {
			return fmt.Errorf("broker.ca_cert: %w", err)
		}
		c.Broker.CACert = expanded
	}
	c.Broker.Username = strings.TrimSpace(c.Broker.Username)
	if c.Broker.Username == "" {
		if value, ok := os.LookupEnv("MQTT_USERNAME"); ok {
			c.Broker.Username = strings.TrimSpace(value)
		}
	}
	if c.Broker.Password == "" {
		if value, ok := os.LookupEnv("MQTT_PASSWORD"); ok {
			c.Broker.Password = value
		}
	}
	if c.Broker.KeepAliveSeconds <= 0 {
		c.Broker.KeepAliveSeconds = defaultKeepAliveSeconds
	}
	if c.Broker.PublishTimeout <= 0 {
		c.Broker.PublishTimeout = defaultPublishTimeout
	}
	if c.Broker.ReconnectMinSeconds <= 0 {
		c.Broker.ReconnectMinSeconds = defaultReconnectMinSeconds
	}
	if c.Broker.ReconnectMaxSeconds < c.Broker.ReconnectMinSeconds {
		c.Broker.ReconnectMaxSeconds = defaultReconnectMaxSeconds
	}
	return nil
}

func (c *Config) normalizeWelcome() {
	c.Welcome.Title = strings.TrimSpace(c.Welcome.Title)
	if c.Welcome.Title == "" {
		c.Welcome.Title = defaultWelcomeTitle
	}
	if strings.TrimSpace(c.Welcome.Body) == "" {
		c.Welcome.Body = defaultWelcomeBody
	}
}

func (c *Config) normalizeSecondary() {
	c.Secondary.SMTPHost = strings.TrimSpace(c.Secondary.SMTPHost)
	if c.Secondary.SMTPPort <= 0 {
		c.Secondary.SMTPPort = defaultSMTPPort
	}
	c.Secondary.Username = strings.TrimSpace(c.Secondary.Username)
	if c.Secondary.Password == "" {
		if value, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
			c.Secondary.Password = value
		}
	}
	c.Secondary.From = strings.TrimSpace(c.Secondary.From)
}

func (c *Config) normalizeMonitor() {
	if c.Monitor.SnapshotIntervalSeconds <= 0 {
		c.Monitor.SnapshotIntervalSeconds = defaultSnapshotInterval
	}
	if c.Monitor.HistoryLimit <= 0 {
		c.Monitor.HistoryLimit = defaultHistoryLimit
	}
}

func (c *Config) normalizeAgent() error {
	var err error
	if strings.TrimSpace(c.Agent.IdentityPath) == "" {
		c.Agent.IdentityPath = defaultIdentityPath
	}
	if c.Agent.IdentityPath, err = expandPath(c.Agent.IdentityPath); err != nil {
		return fmt.Errorf("agent.identity_path: %w", err)
	}
	if strings.TrimSpace(c.Agent.SinkPath) == "" {
		c.Agent.SinkPath = defaultSinkPath
	}
	if c.Agent.SinkPath, err = expandPath(c.Agent.SinkPath); err != nil {
		return fmt.Errorf("agent.sink_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
