package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"silentsync"
)

const softwareColumns = `id, name, version, description, download_url, silent_args, uninstall_args, package_kind`

func scanSoftware(row rowScanner) (silentsync.Software, error) {
	var s silentsync.Software
	err := row.Scan(&s.ID, &s.Name, &s.Version, &s.Description,
		&s.DownloadURL, &s.SilentArgs, &s.UninstallArgs, &s.PackageKind)
	return s, err
}

// SoftwareByID returns one catalog entry.
func (q queries) SoftwareByID(ctx context.Context, id int64) (silentsync.Software, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+softwareColumns+` FROM software WHERE id = ?`, id)
	s, err := scanSoftware(row)
	if errors.Is(err, sql.ErrNoRows) {
		return silentsync.Software{}, ErrNotFound
	}
	if err != nil {
		return silentsync.Software{}, fmt.Errorf("get software: %w", err)
	}
	return s, nil
}

// SoftwareByIDs returns the catalog entries for the given ids in one
// query, keyed by id. Missing ids are simply absent from the map.
func (q queries) SoftwareByIDs(ctx context.Context, ids []int64) (map[int64]silentsync.Software, error) {
	if len(ids) == 0 {
		return map[int64]silentsync.Software{}, nil
	}
	query := `SELECT ` + softwareColumns + ` FROM software WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := q.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get software batch: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]silentsync.Software, len(ids))
	for rows.Next() {
		s, err := scanSoftware(rows)
		if err != nil {
			return nil, fmt.Errorf("get software batch: %w", err)
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get software batch: %w", err)
	}
	return out, nil
}

// InsertSoftware adds a catalog entry and returns it with its id set.
func (q queries) InsertSoftware(ctx context.Context, s silentsync.Software) (silentsync.Software, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO software (name, version, description, download_url, silent_args, uninstall_args, package_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Name, s.Version, s.Description, s.DownloadURL, s.SilentArgs, s.UninstallArgs, s.PackageKind)
	if err != nil {
		return silentsync.Software{}, fmt.Errorf("insert software: %w", err)
	}
	s.ID, err = res.LastInsertId()
	if err != nil {
		return silentsync.Software{}, fmt.Errorf("insert software: %w", err)
	}
	return s, nil
}

// UpdateSoftware rewrites a catalog entry (version bumps drive upgrades).
func (q queries) UpdateSoftware(ctx context.Context, s silentsync.Software) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE software
		SET name = ?, version = ?, description = ?, download_url = ?,
		    silent_args = ?, uninstall_args = ?, package_kind = ?
		WHERE id = ?`,
		s.Name, s.Version, s.Description, s.DownloadURL,
		s.SilentArgs, s.UninstallArgs, s.PackageKind, s.ID)
	if err != nil {
		return fmt.Errorf("update software: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update software %d: %w", s.ID, ErrNotFound)
	}
	return nil
}

// DeleteSoftware removes a catalog entry; policies referencing it cascade.
func (q queries) DeleteSoftware(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM software WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete software: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete software %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListSoftware returns the whole catalog ordered by name.
func (q queries) ListSoftware(ctx context.Context) ([]silentsync.Software, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+softwareColumns+` FROM software ORDER BY name, version`)
	if err != nil {
		return nil, fmt.Errorf("list software: %w", err)
	}
	defer rows.Close()

	var out []silentsync.Software
	for rows.Next() {
		s, err := scanSoftware(rows)
		if err != nil {
			return nil, fmt.Errorf("list software: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list software: %w", err)
	}
	return out, nil
}

func placeholders(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "?"
	}
	b := make([]byte, 0, 2*n-1)
	b = append(b, '?')
	for range n - 1 {
		b = append(b, ',', '?')
	}
	return string(b)
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
