package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"silentsync"
	"silentsync/cmd/silentsync/ui"
)

func softwareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "software",
		Short: "Manage the software catalog",
	}
	cmd.AddCommand(softwareListCmd())
	cmd.AddCommand(softwareAddCmd())
	cmd.AddCommand(softwareRemoveCmd())
	return cmd
}

func softwareListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			var list []silentsync.Software
			if err := c.get(cmd.Context(), "/api/v1/management/software", &list); err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println(ui.Muted("catalog is empty"))
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, sw := range list {
				rows = append(rows, []string{
					strconv.FormatInt(sw.ID, 10),
					sw.Name,
					sw.Version,
					string(sw.PackageKind),
					sw.DownloadURL,
				})
			}
			fmt.Println(ui.Table([]string{"ID", "NAME", "VERSION", "KIND", "DOWNLOAD URL"}, rows))
			return nil
		},
	}
}

func softwareAddCmd() *cobra.Command {
	var sw silentsync.Software

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a catalog entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}

			var created silentsync.Software
			if err := c.post(cmd.Context(), "/api/v1/management/software", sw, &created); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("added %s %s (id %d)", created.Name, created.Version, created.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&sw.Name, "name", "", "Software name")
	cmd.Flags().StringVar(&sw.Version, "version", "", "Version string")
	cmd.Flags().StringVar(&sw.Description, "description", "", "Description")
	cmd.Flags().StringVar(&sw.DownloadURL, "download-url", "", "Installer URL (absolute, or a path served by this server)")
	cmd.Flags().StringVar(&sw.SilentArgs, "silent-args", "", "Installer arguments for unattended install")
	cmd.Flags().StringVar(&sw.UninstallArgs, "uninstall-args", "", "Arguments for unattended uninstall")
	cmd.Flags().StringVar((*string)(&sw.PackageKind), "kind", "exe", "Package kind: exe or msi")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("download-url")
	return cmd
}

func softwareRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid software id %q", args[0])
			}
			c, err := apiClient()
			if err != nil {
				return err
			}
			if err := c.delete(cmd.Context(), "/api/v1/management/software/"+strconv.FormatInt(id, 10)); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("removed software %d", id))
			return nil
		},
	}
}
