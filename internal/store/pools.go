package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const poolColumns = `id, cluster_id, name, algorithm, mode, health_check, connect_timeout,
	server_timeout, max_conn, cookie_name, pass_headers, last_config_status, is_active,
	created_at, updated_at`

// CreatePool inserts a pool.
func (s *Store) CreatePool(ctx context.Context, p *fleet.Pool) error {
	now := clock.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.IsActive = true
	if p.Algorithm == "" {
		p.Algorithm = "roundrobin"
	}
	if p.LastConfigStatus == "" {
		p.LastConfigStatus = fleet.StatusApplied
	}

	hc, err := nullableJSON(p.HealthCheck)
	if err != nil {
		return err
	}
	headers, err := marshalJSON(orEmptyStrings(p.PassHeaders))
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO pools (cluster_id, name, algorithm, mode, health_check, connect_timeout,
			server_timeout, max_conn, cookie_name, pass_headers, last_config_status, is_active,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		p.ClusterID, p.Name, p.Algorithm, string(p.Mode), hc, p.ConnectTimeout,
		p.ServerTimeout, p.MaxConn, p.CookieName, headers, string(p.LastConfigStatus), now, now)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// UpdatePool overwrites all mutable pool columns.
func (s *Store) UpdatePool(ctx context.Context, p *fleet.Pool) error {
	p.UpdatedAt = clock.Now().UTC()

	hc, err := nullableJSON(p.HealthCheck)
	if err != nil {
		return err
	}
	headers, err := marshalJSON(orEmptyStrings(p.PassHeaders))
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE pools SET name = ?, algorithm = ?, mode = ?, health_check = ?, connect_timeout = ?,
			server_timeout = ?, max_conn = ?, cookie_name = ?, pass_headers = ?,
			last_config_status = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Algorithm, string(p.Mode), hc, p.ConnectTimeout,
		p.ServerTimeout, p.MaxConn, p.CookieName, headers,
		string(p.LastConfigStatus), boolInt(p.IsActive), p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPool returns a pool by ID.
func (s *Store) GetPool(ctx context.Context, id int64) (*fleet.Pool, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = ?`, id)
	return scanPool(row)
}

// ListPools returns the active pools of a cluster, ordered by name.
func (s *Store) ListPools(ctx context.Context, clusterID int64) ([]*fleet.Pool, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE cluster_id = ? AND is_active = 1 ORDER BY name`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SoftDeletePool marks a pool inactive and PENDING.
func (s *Store) SoftDeletePool(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "pools", id)
}

// SetPoolConfigStatus updates the last_config_status tag.
func (s *Store) SetPoolConfigStatus(ctx context.Context, id int64, status fleet.ConfigStatus) error {
	return s.setConfigStatus(ctx, "pools", id, status)
}

// HardDeletePool removes a pool row; members cascade. Only rollback of
// a CREATE uses this.
func (s *Store) HardDeletePool(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM pools WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("hard delete pool: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPool(row rowScanner) (*fleet.Pool, error) {
	var p fleet.Pool
	var mode, status, headers string
	var hc sql.NullString
	var active int
	err := row.Scan(&p.ID, &p.ClusterID, &p.Name, &p.Algorithm, &mode, &hc, &p.ConnectTimeout,
		&p.ServerTimeout, &p.MaxConn, &p.CookieName, &headers, &status, &active,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	p.Mode = fleet.Mode(mode)
	p.LastConfigStatus = fleet.ConfigStatus(status)
	p.PassHeaders = unmarshalStrings(headers)
	p.IsActive = active == 1
	if hc.Valid && hc.String != "" {
		var h fleet.HealthCheck
		if err := json.Unmarshal([]byte(hc.String), &h); err == nil {
			p.HealthCheck = &h
		}
	}
	return &p, nil
}
