package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"silentsync"
	"silentsync/cmd/silentsync/ui"
)

func machineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "Inspect registered machines",
	}
	cmd.AddCommand(machineListCmd())
	cmd.AddCommand(machineLogsCmd())
	return cmd
}

func machineListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			var machines []silentsync.Machine
			if err := c.get(cmd.Context(), "/api/v1/management/machines", &machines); err != nil {
				return err
			}
			if len(machines) == 0 {
				fmt.Println(ui.Muted("no machines registered"))
				return nil
			}

			rows := make([][]string, 0, len(machines))
			for _, m := range machines {
				rows = append(rows, []string{
					m.ID,
					m.DisplayName,
					m.GroupPath,
					m.OSInfo,
					m.LastContact.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "NAME", "GROUP", "OS", "LAST CONTACT"}, rows))
			return nil
		},
	}
}

func machineLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <machine-id>",
		Short: "Show log lines forwarded by a machine's agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			path := "/api/v1/management/machines/" + args[0] + "/logs?limit=" + strconv.Itoa(limit)
			var logs []silentsync.AgentLogEntry
			if err := c.get(cmd.Context(), path, &logs); err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println(ui.Muted("no logs"))
				return nil
			}

			for _, e := range logs {
				fmt.Printf("%s %s %s\n",
					ui.Muted(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
					styledLevel(e.Level),
					e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum log lines")
	return cmd
}

func styledLevel(level string) string {
	switch level {
	case "ERROR":
		return ui.ErrorStyle.Render(level)
	case "WARN":
		return ui.WarnStyle.Render(level)
	default:
		return ui.MutedStyle.Render(level)
	}
}
