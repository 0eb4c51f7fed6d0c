package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"silentsync"
)

const policyColumns = `id, software_id, target_kind, target_value, action, schedule_start, schedule_end, created_by, created_at`

func scanPolicy(row rowScanner) (silentsync.DeploymentPolicy, error) {
	var p silentsync.DeploymentPolicy
	var start, end, createdAt string
	err := row.Scan(&p.ID, &p.SoftwareID, &p.TargetKind, &p.TargetValue, &p.Action,
		&start, &end, &p.CreatedBy, &createdAt)
	if err != nil {
		return silentsync.DeploymentPolicy{}, err
	}
	p.ScheduleStart = decodeTime(start)
	p.ScheduleEnd = decodeTime(end)
	p.CreatedAt = decodeTime(createdAt)
	return p, nil
}

// PolicyByID returns one policy.
func (q queries) PolicyByID(ctx context.Context, id int64) (silentsync.DeploymentPolicy, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return silentsync.DeploymentPolicy{}, ErrNotFound
	}
	if err != nil {
		return silentsync.DeploymentPolicy{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

// InsertPolicy records a new desired-state fact and returns it with its
// id set.
func (q queries) InsertPolicy(ctx context.Context, p silentsync.DeploymentPolicy) (silentsync.DeploymentPolicy, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO policies (software_id, target_kind, target_value, action, schedule_start, schedule_end, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SoftwareID, p.TargetKind, p.TargetValue, p.Action,
		encodeTime(p.ScheduleStart), encodeTime(p.ScheduleEnd), p.CreatedBy, encodeTime(p.CreatedAt))
	if err != nil {
		return silentsync.DeploymentPolicy{}, fmt.Errorf("insert policy: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return silentsync.DeploymentPolicy{}, fmt.Errorf("insert policy: %w", err)
	}
	return p, nil
}

// DeletePolicy removes a policy. Policies are otherwise immutable.
func (q queries) DeletePolicy(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete policy %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListPolicies returns all policies, newest first.
func (q queries) ListPolicies(ctx context.Context) ([]silentsync.DeploymentPolicy, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// CandidatePolicies loads, in one query, every policy that could
// plausibly apply to a machine: all exact-machine policies plus group
// policies whose target is one of the machine's ancestor suffixes
// (pre-lowercased by the caller). Exact-machine policies sort first so
// specificity wins during per-software dedupe; within a kind, older
// policies win.
func (q queries) CandidatePolicies(ctx context.Context, ancestorSuffixes []string) ([]silentsync.DeploymentPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE target_kind = ?`
	args := []any{string(silentsync.TargetMachine)}
	if len(ancestorSuffixes) > 0 {
		query += ` OR (target_kind = ? AND lower(target_value) IN (` + placeholders(len(ancestorSuffixes)) + `))`
		args = append(args, string(silentsync.TargetGroup))
		for _, s := range ancestorSuffixes {
			args = append(args, s)
		}
	}
	query += ` ORDER BY CASE target_kind WHEN 'machine' THEN 0 ELSE 1 END, id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("candidate policies: %w", err)
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func collectPolicies(rows *sql.Rows) ([]silentsync.DeploymentPolicy, error) {
	var out []silentsync.DeploymentPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("policies: %w", err)
	}
	return out, nil
}
