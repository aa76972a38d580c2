package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var serverFlag string
	var tokenFlag string
	var configFlag string

	ctx := newCommandContext(&serverFlag, &tokenFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "nudge",
		Short:         "Operator CLI for the nudge notification server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Base URL of the nudged API")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for the nudged API")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newRegisterCommand(ctx))
	rootCmd.AddCommand(newNotifyCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newDevicesCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
