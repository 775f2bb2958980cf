package store

import (
	"context"
	"database/sql"
	"fmt"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const memberColumns = `id, pool_id, name, address, port, weight, check_rise, check_fall,
	ssl, verify_ssl, enabled, last_config_status, is_active, created_at, updated_at`

// CreateMember inserts a member.
func (s *Store) CreateMember(ctx context.Context, m *fleet.Member) error {
	now := clock.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	m.IsActive = true
	if m.Weight == 0 {
		m.Weight = 1
	}
	if m.LastConfigStatus == "" {
		m.LastConfigStatus = fleet.StatusApplied
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO members (pool_id, name, address, port, weight, check_rise, check_fall,
			ssl, verify_ssl, enabled, last_config_status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		m.PoolID, m.Name, m.Address, m.Port, m.Weight, m.CheckRise, m.CheckFall,
		boolInt(m.SSL), boolInt(m.VerifySSL), boolInt(m.Enabled),
		string(m.LastConfigStatus), now, now)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateMember overwrites all mutable member columns.
func (s *Store) UpdateMember(ctx context.Context, m *fleet.Member) error {
	m.UpdatedAt = clock.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE members SET name = ?, address = ?, port = ?, weight = ?, check_rise = ?,
			check_fall = ?, ssl = ?, verify_ssl = ?, enabled = ?, last_config_status = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?`,
		m.Name, m.Address, m.Port, m.Weight, m.CheckRise, m.CheckFall,
		boolInt(m.SSL), boolInt(m.VerifySSL), boolInt(m.Enabled),
		string(m.LastConfigStatus), boolInt(m.IsActive), m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMember returns a member by ID.
func (s *Store) GetMember(ctx context.Context, id int64) (*fleet.Member, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ?`, id)
	return scanMember(row)
}

// ListMembers returns the active members of a pool in creation order.
func (s *Store) ListMembers(ctx context.Context, poolID int64) ([]*fleet.Member, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE pool_id = ? AND is_active = 1 ORDER BY id`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMemberDeletion flags a member DELETION: the row stays present in
// the store but is omitted from the next compiled output.
func (s *Store) MarkMemberDeletion(ctx context.Context, id int64) error {
	return s.setConfigStatus(ctx, "members", id, fleet.StatusDeletion)
}

// SetMemberConfigStatus updates the last_config_status tag.
func (s *Store) SetMemberConfigStatus(ctx context.Context, id int64, status fleet.ConfigStatus) error {
	return s.setConfigStatus(ctx, "members", id, status)
}

// HardDeleteMember removes a member row. Only rollback of a CREATE
// uses this.
func (s *Store) HardDeleteMember(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("hard delete member: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMember(row rowScanner) (*fleet.Member, error) {
	var m fleet.Member
	var port sql.NullInt64
	var ssl, verify, enabled, active int
	var status string
	err := row.Scan(&m.ID, &m.PoolID, &m.Name, &m.Address, &port, &m.Weight,
		&m.CheckRise, &m.CheckFall, &ssl, &verify, &enabled, &status, &active,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	if port.Valid {
		p := int(port.Int64)
		m.Port = &p
	}
	m.SSL = ssl == 1
	m.VerifySSL = verify == 1
	m.Enabled = enabled == 1
	m.IsActive = active == 1
	m.LastConfigStatus = fleet.ConfigStatus(status)
	return &m, nil
}
