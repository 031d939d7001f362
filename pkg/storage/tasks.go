package storage

import (
	"context"
	"database/sql"
	"time"
)

func taskWhere(f TaskFilter) (string, []any) {
	where := "WHERE 1=1"
	args := []any{}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			return where + " AND 0", args
		}
		where += " AND id IN (" + placeholders(len(f.IDs)) + ")"
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.ServerIDs != nil {
		if len(f.ServerIDs) == 0 {
			return where + " AND 0", args
		}
		where += " AND server_id IN (" + placeholders(len(f.ServerIDs)) + ")"
		for _, s := range f.ServerIDs {
			args = append(args, s)
		}
	}
	if f.IndexID != "" {
		where += " AND index_id = ?"
		args = append(args, f.IndexID)
	}
	if len(f.Types) > 0 {
		where += " AND type IN (" + placeholders(len(f.Types)) + ")"
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	return where, args
}

// AddTask appends a task and returns its id.
func (d *DB) AddTask(ctx context.Context, t Task) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var data interface{}
	if t.Data != nil {
		data = t.Data
	}
	res, err := d.sql.ExecContext(ctx, `INSERT INTO pending_tasks(server_id, type, index_id, data, attempts, created_at) VALUES(?,?,?,?,0,?)`,
		t.ServerID, t.Type, nullIfEmpty(t.IndexID), data, createdAt.Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTasks returns matching tasks ordered by (server_id, id), or by id
// alone when byServer is false.
func (d *DB) ListTasks(ctx context.Context, f TaskFilter, byServer bool) ([]Task, error) {
	where, args := taskWhere(f)
	order := " ORDER BY id"
	if byServer {
		order = " ORDER BY server_id, id"
	}
	rows, err := d.sql.QueryContext(ctx, "SELECT id, server_id, type, index_id, data, attempts, created_at FROM pending_tasks "+where+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t         Task
			indexID   sql.NullString
			data      []byte
			createdAt int64
		)
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Type, &indexID, &data, &t.Attempts, &createdAt); err != nil {
			return nil, err
		}
		t.IndexID = indexID.String
		t.Data = data
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTasks removes matching tasks and returns how many were removed.
func (d *DB) DeleteTasks(ctx context.Context, f TaskFilter) (int64, error) {
	where, args := taskWhere(f)
	res, err := d.sql.ExecContext(ctx, "DELETE FROM pending_tasks "+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IncrementTaskAttempts bumps the failure counter of a task and returns the
// new value.
func (d *DB) IncrementTaskAttempts(ctx context.Context, id int64) (int, error) {
	if _, err := d.sql.ExecContext(ctx, "UPDATE pending_tasks SET attempts = attempts + 1 WHERE id = ?", id); err != nil {
		return 0, err
	}
	var n int
	if err := d.sql.QueryRowContext(ctx, "SELECT attempts FROM pending_tasks WHERE id = ?", id).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
