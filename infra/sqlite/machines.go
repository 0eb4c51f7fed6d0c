package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"silentsync"
)

const machineColumns = `id, hardware_id, display_name, os_info, group_path, token, network_origin, last_contact, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(row rowScanner) (silentsync.Machine, error) {
	var m silentsync.Machine
	var lastContact, createdAt string
	err := row.Scan(&m.ID, &m.HardwareID, &m.DisplayName, &m.OSInfo, &m.GroupPath,
		&m.Token, &m.NetworkOrigin, &lastContact, &createdAt)
	if err != nil {
		return silentsync.Machine{}, err
	}
	m.LastContact = decodeTime(lastContact)
	m.CreatedAt = decodeTime(createdAt)
	return m, nil
}

func (q queries) getMachine(ctx context.Context, where string, arg any) (silentsync.Machine, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE `+where, arg)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return silentsync.Machine{}, ErrNotFound
	}
	if err != nil {
		return silentsync.Machine{}, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

// MachineByHardwareID looks a machine up by its (case-normalized)
// hardware id.
func (q queries) MachineByHardwareID(ctx context.Context, hardwareID string) (silentsync.Machine, error) {
	return q.getMachine(ctx, `hardware_id = ?`, hardwareID)
}

// MachineByID looks a machine up by surrogate id.
func (q queries) MachineByID(ctx context.Context, id string) (silentsync.Machine, error) {
	return q.getMachine(ctx, `id = ?`, id)
}

// MachineByDisplayName looks a machine up by display name. The column is
// NOCASE, so this is a case-insensitive lookup.
func (q queries) MachineByDisplayName(ctx context.Context, name string) (silentsync.Machine, error) {
	return q.getMachine(ctx, `display_name = ?`, name)
}

// InsertMachine creates a new machine row. Unique violations on
// hardware_id or display_name surface to the caller for the
// retry/disambiguate policies in the identity registry.
func (q queries) InsertMachine(ctx context.Context, m silentsync.Machine) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO machines (`+machineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.HardwareID, m.DisplayName, m.OSInfo, m.GroupPath,
		m.Token, m.NetworkOrigin, encodeTime(m.LastContact), encodeTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert machine: %w", err)
	}
	return nil
}

// UpdateMachine rewrites the mutable fields of an existing machine row.
func (q queries) UpdateMachine(ctx context.Context, m silentsync.Machine) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE machines
		SET display_name = ?, os_info = ?, group_path = ?, token = ?,
		    network_origin = ?, last_contact = ?
		WHERE id = ?`,
		m.DisplayName, m.OSInfo, m.GroupPath, m.Token,
		m.NetworkOrigin, encodeTime(m.LastContact), m.ID)
	if err != nil {
		return fmt.Errorf("update machine: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update machine %s: %w", m.ID, ErrNotFound)
	}
	return nil
}

// ListMachines returns all machines ordered by display name.
func (q queries) ListMachines(ctx context.Context) ([]silentsync.Machine, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var machines []silentsync.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("list machines: %w", err)
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	return machines, nil
}
