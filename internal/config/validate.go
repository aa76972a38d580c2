package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateSecondary(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBroker() error {
	if strings.TrimSpace(c.Broker.Host) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/nudge/config.toml"
		}
		return fmt.Errorf("broker.host is required. Edit %s (create with 'nudge config init')", defaultPath)
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port %d is out of range", c.Broker.Port)
	}
	return nil
}

func (c *Config) validateSecondary() error {
	if !c.Secondary.Enabled {
		return nil
	}
	if c.Secondary.SMTPHost == "" {
		return errors.New("secondary.smtp_host must be set when secondary.enabled is true")
	}
	if c.Secondary.From == "" {
		return errors.New("secondary.from must be set when secondary.enabled is true")
	}
	return nil
}
