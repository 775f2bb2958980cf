package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const certColumns = `id, cluster_id, name, pem, chain, domains, issuer, not_after,
	is_active, created_at, updated_at`

// CreateCertificate inserts a certificate with its parsed metadata.
func (s *Store) CreateCertificate(ctx context.Context, c *fleet.Certificate) error {
	now := clock.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.IsActive = true

	domains, err := marshalJSON(orEmptyStrings(c.Domains))
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO certificates (cluster_id, name, pem, chain, domains, issuer, not_after,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		c.ClusterID, c.Name, c.PEM, c.Chain, domains, c.Issuer, c.NotAfter, now, now)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCertificate returns a certificate by ID.
func (s *Store) GetCertificate(ctx context.Context, id int64) (*fleet.Certificate, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+certColumns+` FROM certificates WHERE id = ?`, id)
	return scanCertificate(row)
}

// ListCertificates returns certificates visible to a cluster: its own
// plus global-scoped ones.
func (s *Store) ListCertificates(ctx context.Context, clusterID int64) ([]*fleet.Certificate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE is_active = 1 AND (cluster_id IS NULL OR cluster_id = ?) ORDER BY name`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListExpiringCertificates returns active certificates expiring within
// the window.
func (s *Store) ListExpiringCertificates(ctx context.Context, window time.Duration) ([]*fleet.Certificate, error) {
	cutoff := clock.Now().UTC().Add(window)
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE is_active = 1 AND not_after IS NOT NULL AND not_after < ? ORDER BY not_after`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring certificates: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SoftDeleteCertificate marks a certificate inactive.
func (s *Store) SoftDeleteCertificate(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE certificates SET is_active = 0, updated_at = ? WHERE id = ?`,
		clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete certificate: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCertificate(row rowScanner) (*fleet.Certificate, error) {
	var c fleet.Certificate
	var clusterID sql.NullInt64
	var notAfter sql.NullTime
	var domains string
	var active int
	err := row.Scan(&c.ID, &clusterID, &c.Name, &c.PEM, &c.Chain, &domains, &c.Issuer,
		&notAfter, &active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	if clusterID.Valid {
		v := clusterID.Int64
		c.ClusterID = &v
	}
	if notAfter.Valid {
		t := notAfter.Time
		c.NotAfter = &t
	}
	c.Domains = unmarshalStrings(domains)
	c.IsActive = active == 1
	return &c, nil
}
