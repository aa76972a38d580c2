package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"nudge/internal/agent"
	"nudge/internal/config"
	"nudge/internal/logging"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var identityFlag string

	rootCmd := &cobra.Command{
		Use:           "nudge-agent",
		Short:         "Device agent for the nudge notification server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&identityFlag, "identity", "", "Identity file path (overrides config)")

	rootCmd.AddCommand(newInitCommand(&configFlag, &identityFlag))
	rootCmd.AddCommand(newIDCommand(&configFlag, &identityFlag))
	rootCmd.AddCommand(newRunCommand(&configFlag, &identityFlag))
	rootCmd.AddCommand(newInboxCommand(&configFlag, &identityFlag))

	return rootCmd
}

func loadConfig(configFlag *string) (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(*configFlag))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func identityPath(cfg *config.Config, identityFlag *string) (string, error) {
	if trimmed := strings.TrimSpace(*identityFlag); trimmed != "" {
		return config.ExpandPath(trimmed)
	}
	if cfg.Agent.IdentityPath != "" {
		return config.ExpandPath(cfg.Agent.IdentityPath)
	}
	return "", fmt.Errorf("no identity path configured (set agent.identity_path or pass --identity)")
}

func newInitCommand(configFlag, identityFlag *string) *cobra.Command {
	var address string
	var hardwarePin string
	var keyBits int
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a device identity and key pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			path, err := identityPath(cfg, identityFlag)
			if err != nil {
				return err
			}
			if !overwrite {
				if _, err := agent.LoadIdentity(path); err == nil {
					return fmt.Errorf("identity already exists at %s (use --overwrite to replace it)", path)
				}
			}

			id, err := agent.NewIdentity(address, hardwarePin, keyBits)
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}
			if err := id.Save(path); err != nil {
				return err
			}

			notifPub, err := id.NotificationPublicKey()
			if err != nil {
				return err
			}
			statusPub, err := id.StatusPublicKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Identity written to %s\n", path)
			fmt.Fprintf(out, "Device UUID: %s\n\n", id.UUID)
			fmt.Fprintln(out, "Register the device with:")
			fmt.Fprintf(out, "  nudge register %s --uuid %s --notification-key <notif.pem> --status-key <status.pem>\n\n", address, id.UUID)
			fmt.Fprintln(out, "Notification public key:")
			fmt.Fprintln(out, notifPub)
			fmt.Fprintln(out, "Status public key:")
			fmt.Fprintln(out, statusPub)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "Address to register under")
	cmd.Flags().StringVar(&hardwarePin, "pin", "", "Hardware pin used to derive the device UUID")
	cmd.Flags().IntVar(&keyBits, "key-bits", 2048, "RSA key size")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing identity")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("pin")

	return cmd
}

func newIDCommand(configFlag, identityFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the device UUID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			path, err := identityPath(cfg, identityFlag)
			if err != nil {
				return err
			}
			id, err := agent.LoadIdentity(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.UUID)
			return nil
		},
	}
}

func newRunCommand(configFlag, identityFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the broker and receive notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			path, err := identityPath(cfg, identityFlag)
			if err != nil {
				return err
			}
			id, err := agent.LoadIdentity(path)
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			sinkPath, err := config.ExpandPath(cfg.Agent.SinkPath)
			if err != nil {
				return fmt.Errorf("resolve sink path: %w", err)
			}
			sink, err := agent.NewFileSink(sinkPath)
			if err != nil {
				return err
			}

			session, err := agent.NewBrokerSession(id, cfg.Broker, logger)
			if err != nil {
				return err
			}
			receiver, err := agent.NewReceiver(id, session, sink, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return receiver.Run(ctx)
		},
	}
}

func newInboxCommand(configFlag, identityFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "Print received notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			sinkPath, err := config.ExpandPath(cfg.Agent.SinkPath)
			if err != nil {
				return fmt.Errorf("resolve sink path: %w", err)
			}
			sink, err := agent.NewFileSink(sinkPath)
			if err != nil {
				return err
			}
			notifications, err := sink.Notifications()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(notifications) == 0 {
				fmt.Fprintln(out, "No notifications")
				return nil
			}
			for _, n := range notifications {
				fmt.Fprintf(out, "%s  %s\n    %s\n",
					n.ReceivedAt.Local().Format("2006-01-02 15:04:05"), n.Title, n.Subtitle)
			}
			return nil
		},
	}
}
