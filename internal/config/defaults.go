package config

const (
	defaultDataDir             = "~/.local/share/nudge"
	defaultLogDir              = "~/.local/share/nudge/logs"
	defaultAPIBind             = "127.0.0.1:8080"
	defaultBrokerPort          = 8883
	defaultKeepAliveSeconds    = 30
	defaultPublishTimeout      = 10
	defaultReconnectMinSeconds = 1
	defaultReconnectMaxSeconds = 60
	defaultSMTPPort            = 587
	defaultSnapshotInterval    = 300
	defaultHistoryLimit        = 30
	defaultIdentityPath        = "~/.config/nudge/identity.json"
	defaultSinkPath            = "~/.local/share/nudge/inbox.jsonl"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	defaultWelcomeTitle = "Welcome to nudge!"
	defaultWelcomeBody  = "You're connected and will receive notifications here.\n" +
		"To start, send notifications through the nudge API."
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Broker: Broker{
			Port:                defaultBrokerPort,
			UseTLS:              true,
			KeepAliveSeconds:    defaultKeepAliveSeconds,
			PublishTimeout:      defaultPublishTimeout,
			ReconnectMinSeconds: defaultReconnectMinSeconds,
			ReconnectMaxSeconds: defaultReconnectMaxSeconds,
		},
		Welcome: Welcome{
			Enabled: true,
			Title:   defaultWelcomeTitle,
			Body:    defaultWelcomeBody,
		},
		Secondary: Secondary{
			SMTPPort: defaultSMTPPort,
		},
		Monitor: Monitor{
			SnapshotIntervalSeconds: defaultSnapshotInterval,
			HistoryLimit:            defaultHistoryLimit,
		},
		Agent: Agent{
			IdentityPath: defaultIdentityPath,
			SinkPath:     defaultSinkPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
