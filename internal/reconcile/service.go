package reconcile

import (
	"context"
	"errors"
	"fmt"

	"silentsync"
	"silentsync/infra/sqlite"
	"silentsync/internal/logging"
	"silentsync/internal/registry"
)

// Service runs the two agent-facing transactional units: the heartbeat
// (identity upsert + reconciliation, one transaction) and the outcome
// acknowledgment. Any error rolls the whole unit back; nothing partial
// is ever committed.
type Service struct {
	Store    *sqlite.Store
	Registry *registry.Registry
	Engine   *Engine
}

// HeartbeatResult is what a successful heartbeat hands back to the agent.
type HeartbeatResult struct {
	Machine silentsync.Machine
	Tasks   []silentsync.Task
	IsNew   bool
}

// Heartbeat authenticates (once provisioned), upserts the identity and
// reconciles, all inside one transaction.
//
// presentedToken is the X-Machine-Token header value, empty on first
// contact. A machine that already holds a token must present it: a bare
// heartbeat naming a provisioned machine's hardware id is a spoof
// attempt and must not touch the record.
func (s *Service) Heartbeat(ctx context.Context, in registry.UpsertInput, presentedToken string) (HeartbeatResult, error) {
	var res HeartbeatResult
	err := s.Store.WithTx(ctx, func(tx *sqlite.Tx) error {
		existing, err := tx.MachineByHardwareID(ctx, registry.NormalizeHardwareID(in.HardwareID))
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return err
		}
		if err == nil && existing.Provisioned() {
			if verr := registry.VerifyToken(existing, presentedToken); verr != nil {
				logging.Security("heartbeat token mismatch",
					"hardware_id", existing.HardwareID, "origin", in.Origin)
				return verr
			}
		}

		m, isNew, err := s.Registry.Upsert(ctx, tx, in)
		if err != nil {
			return err
		}

		tasks, err := s.Engine.Reconcile(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", m.ID, err)
		}

		res = HeartbeatResult{Machine: m, Tasks: tasks, IsNew: isNew}
		return nil
	})
	if err != nil {
		return HeartbeatResult{}, err
	}
	return res, nil
}
