package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"silentsync/cmd/silentsync/ui"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Health is unauthenticated; skip the token requirement.
			httpClient := &http.Client{Timeout: 10 * time.Second}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, flagServer+"/health", nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("reach server: %w", err)
			}
			defer resp.Body.Close()

			var health struct {
				Status string `json:"status"`
				NTP    *struct {
					Checked  bool   `json:"checked"`
					Healthy  bool   `json:"healthy"`
					OffsetMS int64  `json:"offset_ms"`
					Error    string `json:"error"`
				} `json:"ntp"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
				return fmt.Errorf("decode health: %w", err)
			}

			pairs := []ui.Pair{
				ui.KV("server", flagServer),
				ui.KV("status", ui.Status(health.Status)),
			}
			switch {
			case health.NTP == nil:
				pairs = append(pairs, ui.KV("clock", ui.Muted("ntp check disabled")))
			case !health.NTP.Checked:
				pairs = append(pairs, ui.KV("clock", ui.Muted("not measured yet")))
			case health.NTP.Error != "":
				pairs = append(pairs, ui.KV("clock", ui.ErrorStyle.Render(health.NTP.Error)))
			case health.NTP.Healthy:
				pairs = append(pairs, ui.KV("clock", ui.Status("healthy")+
					fmt.Sprintf(" (offset %dms)", health.NTP.OffsetMS)))
			default:
				pairs = append(pairs, ui.KV("clock", ui.WarnMsg("skewed %dms", health.NTP.OffsetMS)))
			}
			fmt.Print(ui.KeyValues("", pairs...))
			return nil
		},
	}
}
