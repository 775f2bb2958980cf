package store

import (
	"context"
	"database/sql"
	"fmt"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const versionColumns = `id, cluster_id, name, content, checksum, status, active, metadata,
	created_by, created_at, applied_at`

// CreateVersion inserts a new PENDING config version.
func (s *Store) CreateVersion(ctx context.Context, v *fleet.ConfigVersion) error {
	now := clock.Now().UTC()
	v.CreatedAt = now
	if v.Status == "" {
		v.Status = fleet.VersionPending
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO config_versions (cluster_id, name, content, checksum, status, active,
			metadata, created_by, created_at, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ClusterID, v.Name, v.Content, v.Checksum, string(v.Status), boolInt(v.Active),
		v.Metadata, v.CreatedBy, now, v.AppliedAt)
	if err != nil {
		return fmt.Errorf("insert config version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

// GetVersion returns a version by ID.
func (s *Store) GetVersion(ctx context.Context, id int64) (*fleet.ConfigVersion, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM config_versions WHERE id = ?`, id)
	return scanVersion(row)
}

// ListVersions returns versions of a cluster, newest first.
func (s *Store) ListVersions(ctx context.Context, clusterID int64, limit int) ([]*fleet.ConfigVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM config_versions WHERE cluster_id = ? ORDER BY id DESC`
	args := []any{clusterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*fleet.ConfigVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ActiveVersion returns the currently APPLIED-and-active version of a
// cluster, or ErrNotFound when nothing has been applied yet.
func (s *Store) ActiveVersion(ctx context.Context, clusterID int64) (*fleet.ConfigVersion, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+versionColumns+` FROM config_versions
		WHERE cluster_id = ? AND status = 'APPLIED' AND active = 1`, clusterID)
	return scanVersion(row)
}

// PendingVersions returns the PENDING versions of a cluster, oldest first.
func (s *Store) PendingVersions(ctx context.Context, clusterID int64) ([]*fleet.ConfigVersion, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+versionColumns+` FROM config_versions
		WHERE cluster_id = ? AND status = 'PENDING' ORDER BY id`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("list pending versions: %w", err)
	}
	defer rows.Close()

	var out []*fleet.ConfigVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkApplied flips a version to APPLIED-and-active and deactivates the
// cluster's previous active version in the same statement set. The
// caller wraps this in a transaction; "at most one active APPLIED
// version per cluster" holds because both statements share the unit of
// work.
func (s *Store) MarkApplied(ctx context.Context, versionID, clusterID int64) error {
	now := clock.Now().UTC()
	if _, err := s.q.ExecContext(ctx, `
		UPDATE config_versions SET active = 0 WHERE cluster_id = ? AND active = 1`,
		clusterID); err != nil {
		return fmt.Errorf("deactivate previous versions: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE config_versions SET status = 'APPLIED', active = 1, applied_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		now, versionID)
	if err != nil {
		return fmt.Errorf("mark version applied: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("version %d: %w or not pending", versionID, ErrNotFound)
	}
	return nil
}

// DeleteVersion discards a version row. Reject uses this after
// rollback so no PENDING row remains.
func (s *Store) DeleteVersion(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM config_versions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanVersion(row rowScanner) (*fleet.ConfigVersion, error) {
	var v fleet.ConfigVersion
	var status string
	var active int
	var appliedAt sql.NullTime
	err := row.Scan(&v.ID, &v.ClusterID, &v.Name, &v.Content, &v.Checksum, &status, &active,
		&v.Metadata, &v.CreatedBy, &v.CreatedAt, &appliedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	v.Status = fleet.VersionStatus(status)
	v.Active = active == 1
	if appliedAt.Valid {
		t := appliedAt.Time
		v.AppliedAt = &t
	}
	return &v, nil
}
