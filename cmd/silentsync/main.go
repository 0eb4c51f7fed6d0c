// Command silentsync is the operator CLI for the deployment server's
// management API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"silentsync/cmd/silentsync/ui"
	"silentsync/internal/buildinfo"
)

const (
	envServer = "SILENTSYNC_SERVER"
	envToken  = "SILENTSYNC_AGENT_TOKEN"
)

// flags shared by every subcommand.
var (
	flagServer string
	flagToken  string
	flagPlain  bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "silentsync",
		Short:   "Operator CLI for the deployment server",
		Version: buildinfo.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Configure(flagPlain)
		},
	}

	defaultServer := os.Getenv(envServer)
	if defaultServer == "" {
		defaultServer = "http://localhost:8432"
	}

	cmd.PersistentFlags().StringVar(&flagServer, "server", defaultServer, "Server base URL")
	cmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv(envToken), "API token")
	cmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "Disable colored output")

	cmd.AddCommand(machineCmd())
	cmd.AddCommand(softwareCmd())
	cmd.AddCommand(policyCmd())
	cmd.AddCommand(statusCmd())
	return cmd
}

func apiClient() (*client, error) {
	return newClient(flagServer, flagToken)
}
