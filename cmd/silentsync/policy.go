package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"silentsync"
	"silentsync/cmd/silentsync/ui"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage deployment policies",
	}
	cmd.AddCommand(policyListCmd())
	cmd.AddCommand(policyAddCmd())
	cmd.AddCommand(policyRemoveCmd())
	return cmd
}

func policyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployment policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			var policies []silentsync.DeploymentPolicy
			if err := c.get(cmd.Context(), "/api/v1/management/policies", &policies); err != nil {
				return err
			}
			if len(policies) == 0 {
				fmt.Println(ui.Muted("no policies"))
				return nil
			}

			rows := make([][]string, 0, len(policies))
			for _, p := range policies {
				rows = append(rows, []string{
					strconv.FormatInt(p.ID, 10),
					strconv.FormatInt(p.SoftwareID, 10),
					string(p.Action),
					string(p.TargetKind),
					p.TargetValue,
					scheduleWord(p),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "SOFTWARE", "ACTION", "TARGET KIND", "TARGET", "SCHEDULE"}, rows))
			return nil
		},
	}
}

func scheduleWord(p silentsync.DeploymentPolicy) string {
	if p.ScheduleStart.IsZero() && p.ScheduleEnd.IsZero() {
		return "always"
	}
	format := func(t time.Time) string {
		if t.IsZero() {
			return "..."
		}
		return t.Local().Format("2006-01-02 15:04")
	}
	return format(p.ScheduleStart) + " to " + format(p.ScheduleEnd)
}

func policyAddCmd() *cobra.Command {
	var (
		softwareID    int64
		targetKind    string
		targetValue   string
		action        string
		scheduleStart string
		scheduleEnd   string
		createdBy     string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Declare a deployment policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := silentsync.DeploymentPolicy{
				SoftwareID:  softwareID,
				TargetKind:  silentsync.TargetKind(targetKind),
				TargetValue: targetValue,
				Action:      silentsync.Action(action),
				CreatedBy:   createdBy,
			}

			var err error
			if p.ScheduleStart, err = parseScheduleFlag(scheduleStart); err != nil {
				return fmt.Errorf("--schedule-start: %w", err)
			}
			if p.ScheduleEnd, err = parseScheduleFlag(scheduleEnd); err != nil {
				return fmt.Errorf("--schedule-end: %w", err)
			}

			c, err := apiClient()
			if err != nil {
				return err
			}
			var created silentsync.DeploymentPolicy
			if err := c.post(cmd.Context(), "/api/v1/management/policies", p, &created); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("policy %d: %s software %d on %s %q",
				created.ID, created.Action, created.SoftwareID, created.TargetKind, created.TargetValue))
			return nil
		},
	}

	cmd.Flags().Int64Var(&softwareID, "software", 0, "Catalog software id")
	cmd.Flags().StringVar(&targetKind, "target-kind", "group", "Target kind: machine or group")
	cmd.Flags().StringVar(&targetValue, "target", "", "Machine name/id, or a group path suffix like OU=Sales")
	cmd.Flags().StringVar(&action, "action", "install", "Desired state: install or uninstall")
	cmd.Flags().StringVar(&scheduleStart, "schedule-start", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&scheduleEnd, "schedule-end", "", "Window end (RFC 3339, exclusive)")
	cmd.Flags().StringVar(&createdBy, "created-by", "", "Operator name recorded on the policy")
	_ = cmd.MarkFlagRequired("software")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func parseScheduleFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", value, err)
	}
	return t, nil
}

func policyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a deployment policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid policy id %q", args[0])
			}
			c, err := apiClient()
			if err != nil {
				return err
			}
			if err := c.delete(cmd.Context(), "/api/v1/management/policies/"+strconv.FormatInt(id, 10)); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("removed policy %d", id))
			return nil
		},
	}
}
