package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newRegisterCommand(ctx *commandContext) *cobra.Command {
	var uuid string
	var secondaryAddress string
	var notificationKeyPath string
	var statusKeyPath string

	cmd := &cobra.Command{
		Use:   "register <address>",
		Short: "Register a device with the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := strings.TrimSpace(args[0])
			notificationKey, err := readKeyFile(notificationKeyPath)
			if err != nil {
				return fmt.Errorf("notification key: %w", err)
			}
			statusKey, err := readKeyFile(statusKeyPath)
			if err != nil {
				return fmt.Errorf("status key: %w", err)
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			body := map[string]string{
				"uuid":                    uuid,
				"address":                 address,
				"secondary_address":       secondaryAddress,
				"notification_public_key": notificationKey,
				"status_public_key":       statusKey,
			}
			var apiErr apiError
			code, err := client.do(cmd.Context(), http.MethodPost, "/register", body, &apiErr)
			if err != nil {
				return err
			}
			switch code {
			case http.StatusCreated:
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s\n", address, uuid)
				return nil
			case http.StatusConflict:
				return fmt.Errorf("device already registered: %s", apiErr.Error)
			default:
				return fmt.Errorf("registration failed (%d): %s", code, apiErr.Error)
			}
		},
	}

	cmd.Flags().StringVar(&uuid, "uuid", "", "Device UUID (from nudge-agent id)")
	cmd.Flags().StringVar(&secondaryAddress, "secondary", "", "Secondary delivery address (email)")
	cmd.Flags().StringVar(&notificationKeyPath, "notification-key", "", "Path to the device's notification public key (PEM)")
	cmd.Flags().StringVar(&statusKeyPath, "status-key", "", "Path to the device's status public key (PEM)")
	_ = cmd.MarkFlagRequired("uuid")
	_ = cmd.MarkFlagRequired("notification-key")
	_ = cmd.MarkFlagRequired("status-key")

	return cmd
}

func readKeyFile(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
