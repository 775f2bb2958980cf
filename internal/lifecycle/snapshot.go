package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"grimm.is/harrier/internal/store"
)

// Operation tags what a snapshot undoes.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	// OpUpdateRestore is the historical alias for OpUpdate kept so old
	// version metadata still rolls back.
	OpUpdateRestore Operation = "UPDATE_RESTORE"
	OpDelete        Operation = "DELETE"
)

var (
	// ErrRollbackDisabled is returned by rollback paths when the
	// process-wide flag is off.
	ErrRollbackDisabled = errors.New("rollback is disabled")

	// ErrRollbackUnsupported is returned for DELETE snapshots. Soft
	// delete keeps rows recoverable by other means, so a hard rollback
	// path was never implemented; it must fail loudly, not no-op.
	ErrRollbackUnsupported = errors.New("rollback of delete operations is not supported")
)

// Snapshot captures pre-mutation entity state for one staged change.
// OldValues is the complete old row, not a diff: rollback overwrites
// every column so the entity converges to the captured state even under
// out-of-order rejects. Changed lists the fields this particular edit
// touched, kept for audit readability only.
type Snapshot struct {
	EntityType string            `json:"entity_type"`
	EntityID   int64             `json:"entity_id"`
	Operation  Operation         `json:"operation"`
	OldValues  map[string]string `json:"old_values,omitempty"`
	Changed    []string          `json:"changed,omitempty"`
}

// Metadata is the JSON body stored on a ConfigVersion. Single-entity
// stages carry one snapshot; bulk imports carry one per created row.
type Metadata struct {
	Snapshots []Snapshot `json:"snapshots"`
}

func (m *Metadata) encode() (string, error) {
	if m == nil || len(m.Snapshots) == 0 {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode snapshot metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (*Metadata, error) {
	if s == "" {
		return &Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode snapshot metadata: %w", err)
	}
	return &m, nil
}

// updateSnapshot builds an UPDATE snapshot from the pre-mutation row
// and the current (post-mutation) row. The full old row is kept; the
// changed-field list is compaction for audit.
func updateSnapshot(ctx context.Context, st *store.Store, entityType string, id int64, old map[string]string) (Snapshot, error) {
	now, err := st.RowValues(ctx, entityType, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("capture post-mutation row: %w", err)
	}
	var changed []string
	for col, oldVal := range old {
		if now[col] != oldVal {
			changed = append(changed, col)
		}
	}
	return Snapshot{
		EntityType: entityType,
		EntityID:   id,
		Operation:  OpUpdate,
		OldValues:  old,
		Changed:    changed,
	}, nil
}

func createSnapshot(entityType string, id int64) Snapshot {
	return Snapshot{EntityType: entityType, EntityID: id, Operation: OpCreate}
}

func deleteSnapshot(entityType string, id int64, old map[string]string) Snapshot {
	return Snapshot{EntityType: entityType, EntityID: id, Operation: OpDelete, OldValues: old}
}

// rollbackSnapshot undoes one snapshot inside the caller's
// transaction. All-or-nothing per entity: any failure aborts the
// enclosing unit of work so the store is never partially restored.
func rollbackSnapshot(ctx context.Context, st *store.Store, snap Snapshot) error {
	switch snap.Operation {
	case OpUpdate, OpUpdateRestore:
		if err := st.RestoreRow(ctx, snap.EntityType, snap.EntityID, snap.OldValues); err != nil {
			return fmt.Errorf("restore %s %d: %w", snap.EntityType, snap.EntityID, err)
		}
		return nil
	case OpCreate:
		if err := st.HardDeleteEntity(ctx, snap.EntityType, snap.EntityID); err != nil {
			return fmt.Errorf("remove created %s %d: %w", snap.EntityType, snap.EntityID, err)
		}
		return nil
	case OpDelete:
		return fmt.Errorf("%s %d: %w", snap.EntityType, snap.EntityID, ErrRollbackUnsupported)
	default:
		return fmt.Errorf("unknown snapshot operation %q", snap.Operation)
	}
}
