package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

// CreateCluster inserts a new cluster and returns it with its ID set.
func (s *Store) CreateCluster(ctx context.Context, c *fleet.Cluster) error {
	now := clock.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ConnectionStatus == "" {
		c.ConnectionStatus = fleet.ConnUnknown
	}
	if c.ConnectMode == "" {
		c.ConnectMode = "poll"
	}
	c.IsActive = true

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO clusters (name, agent_pool, connect_mode, connection_status, last_connected, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		c.Name, c.AgentPool, c.ConnectMode, string(c.ConnectionStatus), c.LastConnected, now, now)
	if err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCluster returns a cluster by ID, including soft-deleted ones.
func (s *Store) GetCluster(ctx context.Context, id int64) (*fleet.Cluster, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, agent_pool, connect_mode, connection_status, last_connected, is_active, created_at, updated_at
		FROM clusters WHERE id = ?`, id)
	return scanCluster(row)
}

// GetClusterByName returns an active cluster by name.
func (s *Store) GetClusterByName(ctx context.Context, name string) (*fleet.Cluster, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, agent_pool, connect_mode, connection_status, last_connected, is_active, created_at, updated_at
		FROM clusters WHERE name = ? AND is_active = 1`, name)
	return scanCluster(row)
}

// ListClusters returns all active clusters.
func (s *Store) ListClusters(ctx context.Context) ([]*fleet.Cluster, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, name, agent_pool, connect_mode, connection_status, last_connected, is_active, created_at, updated_at
		FROM clusters WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var out []*fleet.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SoftDeleteCluster marks a cluster inactive. Clusters are never hard
// deleted by normal flows.
func (s *Store) SoftDeleteCluster(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE clusters SET is_active = 0, updated_at = ? WHERE id = ?`,
		clock.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete cluster: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat records an agent heartbeat for a cluster.
func (s *Store) Heartbeat(ctx context.Context, clusterID int64) error {
	now := clock.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE clusters SET connection_status = ?, last_connected = ?, updated_at = ?
		WHERE id = ? AND is_active = 1`,
		string(fleet.ConnUp), now, now, clusterID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepStaleClusters marks clusters DOWN whose last heartbeat is older
// than timeout. Returns the number of clusters marked.
func (s *Store) SweepStaleClusters(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := clock.Now().UTC().Add(-timeout)
	res, err := s.q.ExecContext(ctx, `
		UPDATE clusters SET connection_status = ?
		WHERE is_active = 1 AND connection_status = ?
		AND (last_connected IS NULL OR last_connected < ?)`,
		string(fleet.ConnDown), string(fleet.ConnUp), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale clusters: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCluster(row rowScanner) (*fleet.Cluster, error) {
	var c fleet.Cluster
	var status string
	var lastConnected sql.NullTime
	var active int
	err := row.Scan(&c.ID, &c.Name, &c.AgentPool, &c.ConnectMode, &status,
		&lastConnected, &active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	c.ConnectionStatus = fleet.ConnectionStatus(status)
	c.IsActive = active == 1
	if lastConnected.Valid {
		t := lastConnected.Time
		c.LastConnected = &t
	}
	return &c, nil
}
