package reconcile

import (
	"context"

	"silentsync"
)

// Store is the slice of the datastore the engine reads during one
// reconciliation pass. Satisfied by both *sqlite.Store and *sqlite.Tx;
// heartbeats run against the transaction so the pass sees a consistent
// snapshot of policies and link state.
type Store interface {
	CandidatePolicies(ctx context.Context, ancestorSuffixes []string) ([]silentsync.DeploymentPolicy, error)
	SoftwareByIDs(ctx context.Context, ids []int64) (map[int64]silentsync.Software, error)
	LinksForMachine(ctx context.Context, machineID string, softwareIDs []int64) (map[int64]silentsync.LinkState, error)
}
