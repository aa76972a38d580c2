package main

import (
	"fmt"
	"strings"

	"nudge/internal/config"
)

// commandContext carries shared flag state and the lazily-loaded config
// across subcommands.
type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	configFlag *string

	cfg *config.Config
}

func newCommandContext(serverFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

// client builds the API client from flags, falling back to the config's
// bind address and token.
func (c *commandContext) client() (*apiClient, error) {
	server := strings.TrimSpace(*c.serverFlag)
	token := strings.TrimSpace(*c.tokenFlag)
	if server == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if server == "" {
			server = "http://" + cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}
	return newAPIClient(server, token), nil
}
