package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const (
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

type serverStatus struct {
	BrokerConnected bool  `json:"broker_connected"`
	OnlineDevices   int   `json:"online_devices"`
	UptimeSeconds   int64 `json:"uptime_seconds"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var status serverStatus
			code, err := client.do(cmd.Context(), http.MethodGet, "/status", nil, &status)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("status request failed (%d)", code)
			}

			out := cmd.OutOrStdout()
			broker := "disconnected"
			if status.BrokerConnected {
				broker = "connected"
			}
			if shouldColorize(out) {
				if status.BrokerConnected {
					broker = ansiGreen + broker + ansiReset
				} else {
					broker = ansiRed + broker + ansiReset
				}
			}
			fmt.Fprintf(out, "Broker:         %s\n", broker)
			fmt.Fprintf(out, "Online devices: %d\n", status.OnlineDevices)
			fmt.Fprintf(out, "Uptime:         %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recent server health snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var snaps []struct {
				BrokerConnected bool      `json:"broker_connected"`
				OnlineDevices   int       `json:"online_devices"`
				UptimeSeconds   int64     `json:"uptime_seconds"`
				CheckedAt       time.Time `json:"checked_at"`
			}
			code, err := client.do(cmd.Context(), http.MethodGet, "/status/history", nil, &snaps)
			if err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("history request failed (%d)", code)
			}
			if len(snaps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No snapshots recorded yet")
				return nil
			}

			rows := make([][]string, 0, len(snaps))
			for _, snap := range snaps {
				broker := "down"
				if snap.BrokerConnected {
					broker = "up"
				}
				rows = append(rows, []string{
					snap.CheckedAt.Local().Format("2006-01-02 15:04:05"),
					broker,
					fmt.Sprintf("%d", snap.OnlineDevices),
					(time.Duration(snap.UptimeSeconds) * time.Second).String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Checked", "Broker", "Online", "Uptime"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}
