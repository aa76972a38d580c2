package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

type notifyResult struct {
	Method string `json:"method"`
	Status string `json:"status"`
	Code   int    `json:"code"`
	Err    string `json:"error,omitempty"`
}

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	var title string
	var body string
	var sender string
	var preEncrypted bool
	var queueIfOffline bool
	var collapse bool

	cmd := &cobra.Command{
		Use:   "notify <recipient>",
		Short: "Send a notification to a registered device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			req := map[string]any{
				"recipient":           args[0],
				"title":               title,
				"body":                body,
				"sender":              sender,
				"pre_encrypted":       preEncrypted,
				"queue_if_offline":    queueIfOffline,
				"collapse_duplicates": collapse,
			}
			var result notifyResult
			code, err := client.do(cmd.Context(), http.MethodPost, "/notify", req, &result)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case result.Status == "success" && code == http.StatusAccepted:
				fmt.Fprintf(out, "Queued for offline delivery via %s\n", result.Method)
			case result.Status == "success":
				fmt.Fprintf(out, "Delivered via %s\n", result.Method)
			default:
				return fmt.Errorf("delivery failed (%d, %s): %s", result.Code, result.Method, result.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Notification title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Notification body")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender name shown on secondary-channel relays")
	cmd.Flags().BoolVar(&preEncrypted, "pre-encrypted", false, "Title and body are already encrypted for the recipient")
	cmd.Flags().BoolVar(&queueIfOffline, "queue", false, "Queue on the broker if the recipient is offline")
	cmd.Flags().BoolVar(&collapse, "collapse", false, "Collapse duplicates with the same title on the device")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}
