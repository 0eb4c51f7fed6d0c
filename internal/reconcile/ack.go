package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/logging"
	"silentsync/internal/match"
	"silentsync/internal/registry"
)

// ErrNotTargeted rejects an acknowledgment for a policy that does not in
// fact target the acknowledging machine. Without this check one machine
// could falsify another machine's recorded state.
var ErrNotTargeted = errors.New("policy does not target this machine")

// ErrBadOutcome rejects an unrecognized outcome value.
var ErrBadOutcome = errors.New("invalid outcome")

// AckInput is an agent's report of how a task went. TaskID is the policy
// that issued the task.
type AckInput struct {
	HardwareID string
	TaskID     int64
	Outcome    silentsync.Outcome
	Message    string
	Token      string
}

// Acknowledge validates and applies a reported task outcome, updating the
// (machine, software) link state. One transactional unit, independent of
// any heartbeat.
func (s *Service) Acknowledge(ctx context.Context, in AckInput) error {
	if in.Outcome != silentsync.OutcomeSuccess && in.Outcome != silentsync.OutcomeFailure {
		return fmt.Errorf("%w: %q", ErrBadOutcome, in.Outcome)
	}

	return s.Store.WithTx(ctx, func(tx *sqlite.Tx) error {
		m, err := tx.MachineByHardwareID(ctx, registry.NormalizeHardwareID(in.HardwareID))
		if err != nil {
			return err
		}
		if err := registry.VerifyToken(m, in.Token); err != nil {
			logging.Security("ack token mismatch", "hardware_id", m.HardwareID, "task", in.TaskID)
			return err
		}

		policy, err := tx.PolicyByID(ctx, in.TaskID)
		if err != nil {
			return err
		}
		// Authorization: re-run the matcher. Possessing a valid token for
		// machine A does not allow acking tasks addressed to machine B.
		if !match.Matches(policy, m) {
			logging.Security("ack for non-targeting policy",
				"hardware_id", m.HardwareID, "machine", m.ID, "policy", policy.ID)
			return ErrNotTargeted
		}

		sw, err := tx.SoftwareByID(ctx, policy.SoftwareID)
		if err != nil {
			return err
		}

		link := silentsync.LinkState{
			MachineID:      m.ID,
			SoftwareID:     sw.ID,
			LastTransition: s.Engine.now(),
		}
		switch {
		case in.Outcome == silentsync.OutcomeFailure:
			link.Status = silentsync.StatusFailed
		case policy.Action == silentsync.ActionUninstall:
			link.Status = silentsync.StatusUninstalled
		default:
			link.Status = silentsync.StatusInstalled
			link.InstalledVersion = sw.Version
		}

		if err := tx.UpsertLink(ctx, link); err != nil {
			return err
		}

		slog.Info("task outcome recorded",
			"machine", m.ID, "software", sw.ID, "policy", policy.ID,
			"outcome", in.Outcome, "status", link.Status,
			"message", strings.TrimSpace(in.Message))
		return nil
	})
}
