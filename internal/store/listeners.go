package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const listenerColumns = `id, cluster_id, name, bind_address, bind_port, mode, cert_id, cert_ids,
	default_pool_id, max_conn, client_timeout, rate_limit, compression, monitor_uri,
	raw_directives, last_config_status, is_active, created_at, updated_at`

// CreateListener inserts a listener.
func (s *Store) CreateListener(ctx context.Context, l *fleet.Listener) error {
	now := clock.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	l.IsActive = true
	if l.LastConfigStatus == "" {
		l.LastConfigStatus = fleet.StatusApplied
	}

	certIDs, err := marshalJSON(orEmptyInt64s(l.CertIDs))
	if err != nil {
		return err
	}
	raw, err := marshalJSON(orEmptyStrings(l.RawDirectives))
	if err != nil {
		return err
	}
	rateLimit, err := nullableJSON(l.RateLimit)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO listeners (cluster_id, name, bind_address, bind_port, mode, cert_id, cert_ids,
			default_pool_id, max_conn, client_timeout, rate_limit, compression, monitor_uri,
			raw_directives, last_config_status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		l.ClusterID, l.Name, l.BindAddress, l.BindPort, string(l.Mode), l.CertID, certIDs,
		l.DefaultPoolID, l.MaxConn, l.ClientTimeout, rateLimit, boolInt(l.Compression), l.MonitorURI,
		raw, string(l.LastConfigStatus), now, now)
	if err != nil {
		return fmt.Errorf("insert listener: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// UpdateListener overwrites all mutable listener columns.
func (s *Store) UpdateListener(ctx context.Context, l *fleet.Listener) error {
	l.UpdatedAt = clock.Now().UTC()

	certIDs, err := marshalJSON(orEmptyInt64s(l.CertIDs))
	if err != nil {
		return err
	}
	raw, err := marshalJSON(orEmptyStrings(l.RawDirectives))
	if err != nil {
		return err
	}
	rateLimit, err := nullableJSON(l.RateLimit)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE listeners SET name = ?, bind_address = ?, bind_port = ?, mode = ?, cert_id = ?,
			cert_ids = ?, default_pool_id = ?, max_conn = ?, client_timeout = ?, rate_limit = ?,
			compression = ?, monitor_uri = ?, raw_directives = ?, last_config_status = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?`,
		l.Name, l.BindAddress, l.BindPort, string(l.Mode), l.CertID,
		certIDs, l.DefaultPoolID, l.MaxConn, l.ClientTimeout, rateLimit,
		boolInt(l.Compression), l.MonitorURI, raw, string(l.LastConfigStatus),
		boolInt(l.IsActive), l.UpdatedAt, l.ID)
	if err != nil {
		return fmt.Errorf("update listener: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetListener returns a listener by ID.
func (s *Store) GetListener(ctx context.Context, id int64) (*fleet.Listener, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+listenerColumns+` FROM listeners WHERE id = ?`, id)
	return scanListener(row)
}

// ListListeners returns the active listeners of a cluster, ordered by name.
func (s *Store) ListListeners(ctx context.Context, clusterID int64) ([]*fleet.Listener, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+listenerColumns+` FROM listeners WHERE cluster_id = ? AND is_active = 1 ORDER BY name`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("list listeners: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Listener
	for rows.Next() {
		l, err := scanListener(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SoftDeleteListener marks a listener inactive and PENDING; the row
// stays for rollback and the next compiled output omits it.
func (s *Store) SoftDeleteListener(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "listeners", id)
}

// SetListenerConfigStatus updates the last_config_status tag.
func (s *Store) SetListenerConfigStatus(ctx context.Context, id int64, status fleet.ConfigStatus) error {
	return s.setConfigStatus(ctx, "listeners", id, status)
}

func scanListener(row rowScanner) (*fleet.Listener, error) {
	var l fleet.Listener
	var mode, status, certIDs, raw string
	var rateLimit sql.NullString
	var certID, defaultPoolID sql.NullInt64
	var compression, active int
	err := row.Scan(&l.ID, &l.ClusterID, &l.Name, &l.BindAddress, &l.BindPort, &mode,
		&certID, &certIDs, &defaultPoolID, &l.MaxConn, &l.ClientTimeout, &rateLimit,
		&compression, &l.MonitorURI, &raw, &status, &active, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listener: %w", err)
	}
	l.Mode = fleet.Mode(mode)
	l.LastConfigStatus = fleet.ConfigStatus(status)
	l.CertIDs = unmarshalInt64s(certIDs)
	l.RawDirectives = unmarshalStrings(raw)
	l.Compression = compression == 1
	l.IsActive = active == 1
	if certID.Valid {
		v := certID.Int64
		l.CertID = &v
	}
	if defaultPoolID.Valid {
		v := defaultPoolID.Int64
		l.DefaultPoolID = &v
	}
	if rateLimit.Valid && rateLimit.String != "" {
		var rl fleet.RateLimit
		if err := json.Unmarshal([]byte(rateLimit.String), &rl); err == nil {
			l.RateLimit = &rl
		}
	}
	return &l, nil
}

// Shared helpers for soft-deletable entity tables.

func (s *Store) softDelete(ctx context.Context, table string, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE `+table+` SET is_active = 0, last_config_status = ?, updated_at = ? WHERE id = ?`,
		string(fleet.StatusPending), clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete from %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) setConfigStatus(ctx context.Context, table string, id int64, status fleet.ConfigStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE `+table+` SET last_config_status = ?, updated_at = ? WHERE id = ?`,
		string(status), clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set config status on %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearPendingStatus flips every PENDING-tagged entity of a cluster
// back to APPLIED. Used by the Apply transition.
func (s *Store) ClearPendingStatus(ctx context.Context, clusterID int64) error {
	now := clock.Now().UTC()
	stmts := []string{
		`UPDATE listeners SET last_config_status = 'APPLIED', updated_at = ? WHERE cluster_id = ? AND last_config_status = 'PENDING'`,
		`UPDATE pools SET last_config_status = 'APPLIED', updated_at = ? WHERE cluster_id = ? AND last_config_status = 'PENDING'`,
		`UPDATE firewall_rules SET last_config_status = 'APPLIED', updated_at = ? WHERE cluster_id = ? AND last_config_status = 'PENDING'`,
		`UPDATE members SET last_config_status = 'APPLIED', updated_at = ?
			WHERE last_config_status = 'PENDING' AND pool_id IN (SELECT id FROM pools WHERE cluster_id = ?)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.ExecContext(ctx, stmt, now, clusterID); err != nil {
			return fmt.Errorf("clear pending status: %w", err)
		}
	}
	// Members flagged DELETION are now gone from the applied output;
	// retire the rows.
	if _, err := s.q.ExecContext(ctx, `
		UPDATE members SET is_active = 0, last_config_status = 'APPLIED', updated_at = ?
		WHERE last_config_status = 'DELETION' AND pool_id IN (SELECT id FROM pools WHERE cluster_id = ?)`,
		now, clusterID); err != nil {
		return fmt.Errorf("retire deletion members: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmptyStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func orEmptyInt64s(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}

func nullableJSON(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *fleet.RateLimit:
		if t == nil {
			return nil, nil
		}
	case *fleet.HealthCheck:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}
