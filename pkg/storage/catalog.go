package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sw33tLie/searchtrack/pkg/search"
)

// SaveServer inserts or replaces a server.
func (d *DB) SaveServer(ctx context.Context, s search.Server) error {
	if s.ID == "" {
		return errors.New("server id is required")
	}
	cfg, err := marshalNullable(s.BackendConfig)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO search_servers(id, name, backend, backend_config, enabled) VALUES(?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, backend = excluded.backend, backend_config = excluded.backend_config, enabled = excluded.enabled`,
		s.ID, s.Name, s.Backend, cfg, boolToInt(s.Enabled))
	return err
}

// Server loads one server. It returns search.ErrNotFound if it does not exist.
func (d *DB) Server(ctx context.Context, id string) (*search.Server, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT id, name, backend, backend_config, enabled FROM search_servers WHERE id = ?", id)
	s, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %s: %w", id, search.ErrNotFound)
	}
	return s, err
}

// ListServers returns all servers ordered by id.
func (d *DB) ListServers(ctx context.Context) ([]search.Server, error) {
	return d.queryServers(ctx, "SELECT id, name, backend, backend_config, enabled FROM search_servers ORDER BY id")
}

// EnabledServers returns the enabled servers ordered by id.
func (d *DB) EnabledServers(ctx context.Context) ([]search.Server, error) {
	return d.queryServers(ctx, "SELECT id, name, backend, backend_config, enabled FROM search_servers WHERE enabled = 1 ORDER BY id")
}

// DeleteServer removes a server from the catalog.
func (d *DB) DeleteServer(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM search_servers WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "server", id)
}

func (d *DB) queryServers(ctx context.Context, q string, args ...any) ([]search.Server, error) {
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []search.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(r scanner) (*search.Server, error) {
	var (
		s       search.Server
		cfg     sql.NullString
		enabled int
	)
	if err := r.Scan(&s.ID, &s.Name, &s.Backend, &cfg, &enabled); err != nil {
		return nil, err
	}
	s.Enabled = enabled == 1
	if cfg.Valid && cfg.String != "" {
		if err := json.Unmarshal([]byte(cfg.String), &s.BackendConfig); err != nil {
			return nil, fmt.Errorf("server %s: bad backend config: %w", s.ID, err)
		}
	}
	return &s, nil
}

// SaveIndex inserts or replaces an index.
func (d *DB) SaveIndex(ctx context.Context, idx search.Index) error {
	if idx.ID == "" {
		return errors.New("index id is required")
	}
	datasources, err := json.Marshal(idx.Datasources)
	if err != nil {
		return err
	}
	fields, err := marshalNullable(idx.Fields)
	if err != nil {
		return err
	}
	options, err := marshalNullable(idx.Options)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO search_indexes(id, name, server_id, datasources, fields, read_only, enabled, options) VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, server_id = excluded.server_id, datasources = excluded.datasources,
  fields = excluded.fields, read_only = excluded.read_only, enabled = excluded.enabled, options = excluded.options`,
		idx.ID, idx.Name, nullIfEmpty(idx.ServerID), string(datasources), fields, boolToInt(idx.ReadOnly), boolToInt(idx.Enabled), options)
	return err
}

// Index loads one index. It returns search.ErrNotFound if it does not exist.
func (d *DB) Index(ctx context.Context, id string) (*search.Index, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT id, name, server_id, datasources, fields, read_only, enabled, options FROM search_indexes WHERE id = ?", id)
	idx, err := scanIndex(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index %s: %w", id, search.ErrNotFound)
	}
	return idx, err
}

// ListIndexes returns all indexes ordered by id.
func (d *DB) ListIndexes(ctx context.Context) ([]search.Index, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT id, name, server_id, datasources, fields, read_only, enabled, options FROM search_indexes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []search.Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *idx)
	}
	return out, rows.Err()
}

// DeleteIndex removes an index from the catalog. Its tracked items are
// removed in the same transaction.
func (d *DB) DeleteIndex(ctx context.Context, id string) error {
	return d.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, "DELETE FROM search_indexes WHERE id = ?", id)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "index", id); err != nil {
			return err
		}
		_, err = tx.DeleteItems(ctx, id, ItemFilter{})
		return err
	})
}

func scanIndex(r scanner) (*search.Index, error) {
	var (
		idx               search.Index
		serverID          sql.NullString
		datasources       string
		fields, options   sql.NullString
		readOnly, enabled int
	)
	if err := r.Scan(&idx.ID, &idx.Name, &serverID, &datasources, &fields, &readOnly, &enabled, &options); err != nil {
		return nil, err
	}
	idx.ServerID = serverID.String
	idx.ReadOnly = readOnly == 1
	idx.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(datasources), &idx.Datasources); err != nil {
		return nil, fmt.Errorf("index %s: bad datasources: %w", idx.ID, err)
	}
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &idx.Fields); err != nil {
			return nil, fmt.Errorf("index %s: bad fields: %w", idx.ID, err)
		}
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &idx.Options); err != nil {
			return nil, fmt.Errorf("index %s: bad options: %w", idx.ID, err)
		}
	}
	return &idx, nil
}

func marshalNullable(v any) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, search.ErrNotFound)
	}
	return nil
}
