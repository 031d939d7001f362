package storage

import (
	"context"
	"strings"
)

// itemWhere builds the WHERE clause for an ItemFilter on one index.
func itemWhere(indexID string, f ItemFilter) (string, []any) {
	where := "WHERE index_id = ?"
	args := []any{indexID}
	if f.DatasourceID != "" {
		where += " AND datasource_id = ?"
		args = append(args, f.DatasourceID)
	}
	if f.IDs != nil {
		if len(f.IDs) == 0 {
			// Matches nothing rather than everything.
			return where + " AND 0", args
		}
		where += " AND item_id IN (" + placeholders(len(f.IDs)) + ")"
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	return where, args
}

// InsertItems inserts new rows. Rows whose item id is already tracked for
// the index are left untouched. It returns the number of rows inserted.
func (t *Tx) InsertItems(ctx context.Context, items []TrackedItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO tracked_items(index_id, datasource_id, item_id, changed_at, status) VALUES ")
	args := make([]any, 0, len(items)*5)
	for i, it := range items {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?,?,?,?,?)")
		args = append(args, it.IndexID, it.DatasourceID, it.ItemID, it.ChangedAt, int(it.Status))
	}
	b.WriteString(" ON CONFLICT(index_id, item_id) DO NOTHING")

	res, err := t.tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkChanged flags matching rows as not indexed and stamps changedAt. With
// onlyIndexed set, rows that are already pending keep their timestamp.
func (t *Tx) MarkChanged(ctx context.Context, indexID string, f ItemFilter, changedAt int64, onlyIndexed bool) (int64, error) {
	where, args := itemWhere(indexID, f)
	if onlyIndexed {
		where += " AND status = ?"
		args = append(args, int(Indexed))
	}
	q := "UPDATE tracked_items SET status = ?, changed_at = ? " + where
	res, err := t.tx.ExecContext(ctx, q, append([]any{int(NotIndexed), changedAt}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkIndexed flags matching rows as indexed without touching changed_at.
func (t *Tx) MarkIndexed(ctx context.Context, indexID string, f ItemFilter) (int64, error) {
	where, args := itemWhere(indexID, f)
	q := "UPDATE tracked_items SET status = ? " + where
	res, err := t.tx.ExecContext(ctx, q, append([]any{int(Indexed)}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteItems removes matching rows.
func (t *Tx) DeleteItems(ctx context.Context, indexID string, f ItemFilter) (int64, error) {
	where, args := itemWhere(indexID, f)
	res, err := t.tx.ExecContext(ctx, "DELETE FROM tracked_items "+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RemainingItems returns ids of not-indexed items ordered by
// (changed_at, item_id). limit < 0 means no limit.
func (d *DB) RemainingItems(ctx context.Context, indexID string, limit int, datasourceID string) ([]string, error) {
	where, args := itemWhere(indexID, ItemFilter{DatasourceID: datasourceID})
	where += " AND status = ?"
	args = append(args, int(NotIndexed))

	q := "SELECT item_id FROM tracked_items " + where + " ORDER BY changed_at ASC, item_id ASC"
	if limit >= 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CountItems counts items of an index. A nil status counts all of them.
func (d *DB) CountItems(ctx context.Context, indexID, datasourceID string, status *ItemStatus) (int, error) {
	where, args := itemWhere(indexID, ItemFilter{DatasourceID: datasourceID})
	if status != nil {
		where += " AND status = ?"
		args = append(args, int(*status))
	}
	var n int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracked_items "+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ItemCounts holds the per-status totals of an index.
type ItemCounts struct {
	Total     int `json:"total"`
	Indexed   int `json:"indexed"`
	Remaining int `json:"remaining"`
}

// CountItemsByStatus returns total, indexed and remaining counts in one query.
func (d *DB) CountItemsByStatus(ctx context.Context, indexID, datasourceID string) (ItemCounts, error) {
	where, args := itemWhere(indexID, ItemFilter{DatasourceID: datasourceID})
	q := "SELECT status, COUNT(*) FROM tracked_items " + where + " GROUP BY status"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return ItemCounts{}, err
	}
	defer rows.Close()

	var c ItemCounts
	for rows.Next() {
		var status, n int
		if err := rows.Scan(&status, &n); err != nil {
			return ItemCounts{}, err
		}
		if ItemStatus(status) == Indexed {
			c.Indexed = n
		} else {
			c.Remaining = n
		}
		c.Total += n
	}
	return c, rows.Err()
}
