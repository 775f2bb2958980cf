package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
)

const ruleColumns = `id, rule_id, cluster_id, name, kind, action, priority, config,
	log_message, custom_condition, listener_ids, cluster_scope, last_config_status,
	is_active, created_at, updated_at`

// CreateFirewallRule inserts a WAF rule. A RuleID is assigned when
// missing; it is the stable handle used in generated ACL names.
func (s *Store) CreateFirewallRule(ctx context.Context, r *fleet.FirewallRule) error {
	now := clock.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	r.IsActive = true
	if r.RuleID == "" {
		r.RuleID = uuid.NewString()
	}
	if r.LastConfigStatus == "" {
		r.LastConfigStatus = fleet.StatusApplied
	}

	cfg, err := fleet.MarshalRuleConfig(r.Config)
	if err != nil {
		return err
	}
	listeners, err := marshalJSON(orEmptyInt64s(r.ListenerIDs))
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO firewall_rules (rule_id, cluster_id, name, kind, action, priority, config,
			log_message, custom_condition, listener_ids, cluster_scope, last_config_status,
			is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		r.RuleID, r.ClusterID, r.Name, string(r.Kind), string(r.Action), r.Priority, cfg,
		r.LogMessage, r.CustomCondition, listeners, boolInt(r.ClusterScope),
		string(r.LastConfigStatus), now, now)
	if err != nil {
		return fmt.Errorf("insert firewall rule: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return err
}

// UpdateFirewallRule overwrites all mutable rule columns.
func (s *Store) UpdateFirewallRule(ctx context.Context, r *fleet.FirewallRule) error {
	r.UpdatedAt = clock.Now().UTC()

	cfg, err := fleet.MarshalRuleConfig(r.Config)
	if err != nil {
		return err
	}
	listeners, err := marshalJSON(orEmptyInt64s(r.ListenerIDs))
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE firewall_rules SET name = ?, kind = ?, action = ?, priority = ?, config = ?,
			log_message = ?, custom_condition = ?, listener_ids = ?, cluster_scope = ?,
			last_config_status = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, string(r.Kind), string(r.Action), r.Priority, cfg,
		r.LogMessage, r.CustomCondition, listeners, boolInt(r.ClusterScope),
		string(r.LastConfigStatus), boolInt(r.IsActive), r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update firewall rule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFirewallRule returns a rule by ID.
func (s *Store) GetFirewallRule(ctx context.Context, id int64) (*fleet.FirewallRule, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM firewall_rules WHERE id = ?`, id)
	return scanRule(row)
}

// ListFirewallRules returns the active rules of a cluster.
func (s *Store) ListFirewallRules(ctx context.Context, clusterID int64) ([]*fleet.FirewallRule, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM firewall_rules WHERE cluster_id = ? AND is_active = 1 ORDER BY priority, name`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("list firewall rules: %w", err)
	}
	defer rows.Close()

	var out []*fleet.FirewallRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SoftDeleteFirewallRule marks a rule inactive and PENDING.
func (s *Store) SoftDeleteFirewallRule(ctx context.Context, id int64) error {
	return s.softDelete(ctx, "firewall_rules", id)
}

// SetFirewallRuleConfigStatus updates the last_config_status tag.
func (s *Store) SetFirewallRuleConfigStatus(ctx context.Context, id int64, status fleet.ConfigStatus) error {
	return s.setConfigStatus(ctx, "firewall_rules", id, status)
}

func scanRule(row rowScanner) (*fleet.FirewallRule, error) {
	var r fleet.FirewallRule
	var kind, action, cfg, listeners, status string
	var scope, active int
	err := row.Scan(&r.ID, &r.RuleID, &r.ClusterID, &r.Name, &kind, &action, &r.Priority,
		&cfg, &r.LogMessage, &r.CustomCondition, &listeners, &scope, &status, &active,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan firewall rule: %w", err)
	}
	r.Kind = fleet.RuleKind(kind)
	r.Action = fleet.RuleAction(action)
	r.ListenerIDs = unmarshalInt64s(listeners)
	r.ClusterScope = scope == 1
	r.LastConfigStatus = fleet.ConfigStatus(status)
	r.IsActive = active == 1
	r.Config, err = fleet.UnmarshalRuleConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return &r, nil
}
