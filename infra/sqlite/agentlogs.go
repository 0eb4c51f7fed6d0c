package sqlite

import (
	"context"
	"fmt"

	"silentsync"
)

// InsertAgentLog stores one forwarded agent log line.
func (q queries) InsertAgentLog(ctx context.Context, e silentsync.AgentLogEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO agent_logs (machine_id, level, message, timestamp)
		VALUES (?, ?, ?, ?)`,
		e.MachineID, e.Level, e.Message, encodeTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

// AgentLogs returns the most recent limit entries for a machine, newest
// first.
func (q queries) AgentLogs(ctx context.Context, machineID string, limit int) ([]silentsync.AgentLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, machine_id, level, message, timestamp
		FROM agent_logs WHERE machine_id = ?
		ORDER BY id DESC LIMIT ?`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("agent logs: %w", err)
	}
	defer rows.Close()

	var out []silentsync.AgentLogEntry
	for rows.Next() {
		var e silentsync.AgentLogEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.MachineID, &e.Level, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("agent logs: %w", err)
		}
		e.Timestamp = decodeTime(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent logs: %w", err)
	}
	return out, nil
}
