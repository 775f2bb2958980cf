package store

import (
	"context"
	"fmt"
	"time"
)

// Entity type tags used in version names and snapshot metadata. These
// are wire format: downstream code parses version names built from
// them.
const (
	EntityListener = "frontend"
	EntityPool     = "backend"
	EntityMember   = "server"
	EntityRule     = "waf"
	EntityCert     = "cert"
	EntityCluster  = "cluster"
)

// entityTables maps entity type tags to their tables and restorable
// column sets. id and created_at are never restored.
var entityTables = map[string]struct {
	table   string
	columns []string
}{
	EntityListener: {"listeners", []string{
		"cluster_id", "name", "bind_address", "bind_port", "mode", "cert_id", "cert_ids",
		"default_pool_id", "max_conn", "client_timeout", "rate_limit", "compression",
		"monitor_uri", "raw_directives", "last_config_status", "is_active", "updated_at"}},
	EntityPool: {"pools", []string{
		"cluster_id", "name", "algorithm", "mode", "health_check", "connect_timeout",
		"server_timeout", "max_conn", "cookie_name", "pass_headers", "last_config_status",
		"is_active", "updated_at"}},
	EntityMember: {"members", []string{
		"pool_id", "name", "address", "port", "weight", "check_rise", "check_fall",
		"ssl", "verify_ssl", "enabled", "last_config_status", "is_active", "updated_at"}},
	EntityRule: {"firewall_rules", []string{
		"rule_id", "cluster_id", "name", "kind", "action", "priority", "config",
		"log_message", "custom_condition", "listener_ids", "cluster_scope",
		"last_config_status", "is_active", "updated_at"}},
	EntityCert: {"certificates", []string{
		"cluster_id", "name", "pem", "chain", "domains", "issuer", "not_after",
		"is_active", "updated_at"}},
}

// RowValues captures the full current row of an entity as a
// column→string map. Timestamps and other non-primitive values are
// coerced to their string form; lossy but reversible since restore
// writes back into the same typed columns.
func (s *Store) RowValues(ctx context.Context, entityType string, id int64) (map[string]string, error) {
	et, ok := entityTables[entityType]
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entityType)
	}

	rows, err := s.q.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", joinColumns(et.columns), et.table), id)
	if err != nil {
		return nil, fmt.Errorf("read row values: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	dest := make([]any, len(et.columns))
	ptrs := make([]any, len(et.columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row values: %w", err)
	}

	out := make(map[string]string, len(et.columns))
	for i, col := range et.columns {
		out[col] = coerceString(dest[i])
	}
	return out, nil
}

// RestoreRow writes the stored old values back onto the entity by ID,
// full-column overwrite. Restoring everything (not a diff-merge)
// guarantees convergence to the captured state even under out-of-order
// rollbacks.
func (s *Store) RestoreRow(ctx context.Context, entityType string, id int64, values map[string]string) error {
	et, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type: %s", entityType)
	}

	var sets []string
	var args []any
	for _, col := range et.columns {
		v, ok := values[col]
		if !ok {
			continue
		}
		sets = append(sets, col+" = ?")
		if v == nullSentinel {
			args = append(args, nil)
		} else {
			args = append(args, v)
		}
	}
	if len(sets) == 0 {
		return fmt.Errorf("restore %s %d: empty value set", entityType, id)
	}
	args = append(args, id)

	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", et.table, joinColumns(sets)), args...)
	if err != nil {
		return fmt.Errorf("restore %s %d: %w", entityType, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDeleteEntity removes an entity row by ID, cascading to dependents
// where the schema cascades (deleting a pool removes its members).
// Only rollback of a CREATE uses this.
func (s *Store) HardDeleteEntity(ctx context.Context, entityType string, id int64) error {
	et, ok := entityTables[entityType]
	if !ok {
		return fmt.Errorf("unknown entity type: %s", entityType)
	}
	res, err := s.q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", et.table), id)
	if err != nil {
		return fmt.Errorf("hard delete %s %d: %w", entityType, id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullSentinel encodes SQL NULL in the coerced string map. The \x00
// prefix cannot occur in legitimate column text.
const nullSentinel = "\x00NULL"

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return nullSentinel
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
