package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"silentsync"
)

const linkColumns = `machine_id, software_id, status, installed_version, last_transition`

func scanLink(row rowScanner) (silentsync.LinkState, error) {
	var l silentsync.LinkState
	var transition string
	err := row.Scan(&l.MachineID, &l.SoftwareID, &l.Status, &l.InstalledVersion, &transition)
	if err != nil {
		return silentsync.LinkState{}, err
	}
	l.LastTransition = decodeTime(transition)
	return l, nil
}

// Link returns the reconciliation state for one (machine, software) pair.
func (q queries) Link(ctx context.Context, machineID string, softwareID int64) (silentsync.LinkState, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE machine_id = ? AND software_id = ?`,
		machineID, softwareID)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return silentsync.LinkState{}, ErrNotFound
	}
	if err != nil {
		return silentsync.LinkState{}, fmt.Errorf("get link: %w", err)
	}
	return l, nil
}

// LinksForMachine loads the reconciliation state rows for the given
// software ids in one query, keyed by software id. Pairs that were never
// touched have no row and are absent from the map.
func (q queries) LinksForMachine(ctx context.Context, machineID string, softwareIDs []int64) (map[int64]silentsync.LinkState, error) {
	if len(softwareIDs) == 0 {
		return map[int64]silentsync.LinkState{}, nil
	}
	query := `SELECT ` + linkColumns + ` FROM links WHERE machine_id = ? AND software_id IN (` + placeholders(len(softwareIDs)) + `)`
	args := append([]any{machineID}, int64Args(softwareIDs)...)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("links for machine: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]silentsync.LinkState)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("links for machine: %w", err)
		}
		out[l.SoftwareID] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("links for machine: %w", err)
	}
	return out, nil
}

// UpsertLink creates or replaces the state row for a (machine, software)
// pair. The native conflict clause makes racing first-inserts converge on
// a single row without surfacing an error to either writer.
func (q queries) UpsertLink(ctx context.Context, l silentsync.LinkState) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (machine_id, software_id) DO UPDATE SET
			status = excluded.status,
			installed_version = excluded.installed_version,
			last_transition = excluded.last_transition`,
		l.MachineID, l.SoftwareID, l.Status, l.InstalledVersion, encodeTime(l.LastTransition))
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}
