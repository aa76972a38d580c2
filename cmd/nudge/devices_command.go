package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List registered devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var devices []struct {
				UUID             string     `json:"uuid"`
				Address          string     `json:"address"`
				SecondaryAddress string     `json:"secondary_address"`
				LastSeenOnline   *time.Time `json:"last_seen_online"`
				CreatedAt        time.Time  `json:"created_at"`
			}
			code, err := client.do(cmd.Context(), http.MethodGet, "/devices", nil, &devices)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("device list request failed (%d)", code)
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No devices registered")
				return nil
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				lastSeen := "never"
				if d.LastSeenOnline != nil {
					lastSeen = d.LastSeenOnline.Local().Format("2006-01-02 15:04:05")
				}
				rows = append(rows, []string{
					d.Address,
					d.UUID,
					d.SecondaryAddress,
					lastSeen,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Address", "UUID", "Secondary", "Last seen online"},
				rows,
				nil,
			))
			return nil
		},
	}
}
