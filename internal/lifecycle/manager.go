// Package lifecycle orchestrates the PENDING to APPLIED version flow:
// every entity mutation is staged inside one transaction together with
// a pre-mutation snapshot, a full regeneration of the cluster's
// configuration text, and a new PENDING version row.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"grimm.is/harrier/internal/audit"
	"grimm.is/harrier/internal/certs"
	"grimm.is/harrier/internal/clock"
	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/logging"
	"grimm.is/harrier/internal/metrics"
	"grimm.is/harrier/internal/parse"
	"grimm.is/harrier/internal/store"
)

// Manager drives the Stage, Apply and Reject transitions.
type Manager struct {
	store           *store.Store
	gen             *generate.Generator
	rollbackEnabled bool
	audit           *audit.Store
	metrics         *metrics.Registry
	log             *logging.Logger
	onApplied       func(*fleet.ConfigVersion)
}

// Options configures a Manager. Audit and OnApplied are optional.
type Options struct {
	// RollbackEnabled gates snapshot capture process-wide. When false,
	// staged versions carry no metadata and Reject degrades to
	// discarding the PENDING version.
	RollbackEnabled bool
	Audit           *audit.Store
	// OnApplied is invoked after a version is committed as applied,
	// outside the transaction. The notify hub hangs off this.
	OnApplied func(*fleet.ConfigVersion)
}

func New(st *store.Store, gen *generate.Generator, opts Options) *Manager {
	return &Manager{
		store:           st,
		gen:             gen,
		rollbackEnabled: opts.RollbackEnabled,
		audit:           opts.Audit,
		metrics:         metrics.Get(),
		log:             logging.WithComponent("lifecycle"),
		onApplied:       opts.OnApplied,
	}
}

// Checksum returns the hex SHA-256 of configuration text. Agents diff
// this to decide whether to re-fetch.
func Checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// finishStage regenerates the cluster text inside the staging
// transaction, so the output reflects the just-applied mutation, and
// inserts the PENDING version row.
func (m *Manager) finishStage(ctx context.Context, st *store.Store, clusterID int64, name, actor string, snaps []Snapshot) (*fleet.ConfigVersion, error) {
	start := clock.Now()
	text, err := m.gen.WithStore(st).Generate(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("generate cluster %d: %w", clusterID, err)
	}
	m.metrics.GenerateDuration.Observe(clock.Since(start).Seconds())

	meta := ""
	if m.rollbackEnabled {
		meta, err = (&Metadata{Snapshots: snaps}).encode()
		if err != nil {
			return nil, err
		}
	}

	v := &fleet.ConfigVersion{
		ClusterID: clusterID,
		Name:      name,
		Content:   text,
		Checksum:  Checksum(text),
		Status:    fleet.VersionPending,
		Metadata:  meta,
		CreatedBy: actor,
	}
	if err := st.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// versionName builds the persisted wire format
// {entity_type}-{entity_id}-{action}-{unix_timestamp}. Downstream code
// parses it, so it must stay bit for bit.
func versionName(entityType string, entityID int64, action string) string {
	return fmt.Sprintf("%s-%d-%s-%d", entityType, entityID, action, clock.Now().Unix())
}

func (m *Manager) staged(v *fleet.ConfigVersion, entityType, action, actor string, err error) (*fleet.ConfigVersion, error) {
	if err != nil {
		return nil, err
	}
	m.metrics.VersionsStaged.WithLabelValues(entityType, action).Inc()
	m.auditWrite(actor, "stage", v.Name, map[string]any{"cluster_id": v.ClusterID})
	m.log.Info("staged version", "name", v.Name, "cluster", v.ClusterID, "actor", actor)
	return v, nil
}

func (m *Manager) auditWrite(actor, action, resource string, details map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Write(audit.Event{Actor: actor, Action: action, Resource: resource, Details: details}); err != nil {
		m.log.Warn("audit write failed", "error", err)
	}
}

// --- Listener staging ---

func (m *Manager) StageListenerCreate(ctx context.Context, actor string, l *fleet.Listener) (*fleet.ConfigVersion, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		l.LastConfigStatus = fleet.StatusPending
		if err := st.CreateListener(ctx, l); err != nil {
			return err
		}
		var err error
		v, err = m.finishStage(ctx, st, l.ClusterID,
			versionName(store.EntityListener, l.ID, "create"), actor,
			[]Snapshot{createSnapshot(store.EntityListener, l.ID)})
		return err
	})
	return m.staged(v, store.EntityListener, "create", actor, err)
}

func (m *Manager) StageListenerUpdate(ctx context.Context, actor string, l *fleet.Listener) (*fleet.ConfigVersion, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		old, err := st.RowValues(ctx, store.EntityListener, l.ID)
		if err != nil {
			return err
		}
		l.LastConfigStatus = fleet.StatusPending
		l.IsActive = true
		if err := st.UpdateListener(ctx, l); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityListener, l.ID, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, l.ClusterID,
			versionName(store.EntityListener, l.ID, "update"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityListener, "update", actor, err)
}

func (m *Manager) StageListenerDelete(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		l, err := st.GetListener(ctx, id)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityListener, id)
		if err != nil {
			return err
		}
		if err := st.SoftDeleteListener(ctx, id); err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, l.ClusterID,
			versionName(store.EntityListener, id, "delete"), actor,
			[]Snapshot{deleteSnapshot(store.EntityListener, id, old)})
		return err
	})
	return m.staged(v, store.EntityListener, "delete", actor, err)
}

// --- Pool staging ---

func (m *Manager) StagePoolCreate(ctx context.Context, actor string, p *fleet.Pool) (*fleet.ConfigVersion, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		p.LastConfigStatus = fleet.StatusPending
		if err := st.CreatePool(ctx, p); err != nil {
			return err
		}
		var err error
		v, err = m.finishStage(ctx, st, p.ClusterID,
			versionName(store.EntityPool, p.ID, "create"), actor,
			[]Snapshot{createSnapshot(store.EntityPool, p.ID)})
		return err
	})
	return m.staged(v, store.EntityPool, "create", actor, err)
}

func (m *Manager) StagePoolUpdate(ctx context.Context, actor string, p *fleet.Pool) (*fleet.ConfigVersion, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		old, err := st.RowValues(ctx, store.EntityPool, p.ID)
		if err != nil {
			return err
		}
		p.LastConfigStatus = fleet.StatusPending
		p.IsActive = true
		if err := st.UpdatePool(ctx, p); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityPool, p.ID, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, p.ClusterID,
			versionName(store.EntityPool, p.ID, "update"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityPool, "update", actor, err)
}

func (m *Manager) StagePoolDelete(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		p, err := st.GetPool(ctx, id)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityPool, id)
		if err != nil {
			return err
		}
		if err := st.SoftDeletePool(ctx, id); err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, p.ClusterID,
			versionName(store.EntityPool, id, "delete"), actor,
			[]Snapshot{deleteSnapshot(store.EntityPool, id, old)})
		return err
	})
	return m.staged(v, store.EntityPool, "delete", actor, err)
}

// --- Member staging ---

// memberCluster resolves the cluster a member belongs to through its
// pool, returning the pool too for mode validation.
func memberCluster(ctx context.Context, st *store.Store, poolID int64) (*fleet.Pool, error) {
	return st.GetPool(ctx, poolID)
}

func (m *Manager) StageMemberCreate(ctx context.Context, actor string, mem *fleet.Member) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		pool, err := memberCluster(ctx, st, mem.PoolID)
		if err != nil {
			return err
		}
		if err := mem.Validate(pool.Mode); err != nil {
			return err
		}
		mem.LastConfigStatus = fleet.StatusPending
		if err := st.CreateMember(ctx, mem); err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, pool.ClusterID,
			versionName(store.EntityMember, mem.ID, "create"), actor,
			[]Snapshot{createSnapshot(store.EntityMember, mem.ID)})
		return err
	})
	return m.staged(v, store.EntityMember, "create", actor, err)
}

func (m *Manager) StageMemberUpdate(ctx context.Context, actor string, mem *fleet.Member) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		pool, err := memberCluster(ctx, st, mem.PoolID)
		if err != nil {
			return err
		}
		if err := mem.Validate(pool.Mode); err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityMember, mem.ID)
		if err != nil {
			return err
		}
		mem.LastConfigStatus = fleet.StatusPending
		mem.IsActive = true
		if err := st.UpdateMember(ctx, mem); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityMember, mem.ID, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, pool.ClusterID,
			versionName(store.EntityMember, mem.ID, "update"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityMember, "update", actor, err)
}

// StageMemberToggle flips a member between enabled and disabled.
func (m *Manager) StageMemberToggle(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		mem, err := st.GetMember(ctx, id)
		if err != nil {
			return err
		}
		pool, err := memberCluster(ctx, st, mem.PoolID)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityMember, id)
		if err != nil {
			return err
		}
		mem.Enabled = !mem.Enabled
		mem.LastConfigStatus = fleet.StatusPending
		if err := st.UpdateMember(ctx, mem); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityMember, id, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, pool.ClusterID,
			versionName(store.EntityMember, id, "toggle"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityMember, "toggle", actor, err)
}

// StageMemberDelete flags the member DELETION. The row stays in the
// store, so this snapshots as an UPDATE and remains fully reversible.
func (m *Manager) StageMemberDelete(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		mem, err := st.GetMember(ctx, id)
		if err != nil {
			return err
		}
		pool, err := memberCluster(ctx, st, mem.PoolID)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityMember, id)
		if err != nil {
			return err
		}
		if err := st.MarkMemberDeletion(ctx, id); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityMember, id, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, pool.ClusterID,
			versionName(store.EntityMember, id, "delete"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityMember, "delete", actor, err)
}

// --- Firewall rule staging ---

func (m *Manager) StageRuleCreate(ctx context.Context, actor string, r *fleet.FirewallRule) (*fleet.ConfigVersion, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		r.LastConfigStatus = fleet.StatusPending
		if err := st.CreateFirewallRule(ctx, r); err != nil {
			return err
		}
		var err error
		v, err = m.finishStage(ctx, st, r.ClusterID,
			versionName(store.EntityRule, r.ID, "create"), actor,
			[]Snapshot{createSnapshot(store.EntityRule, r.ID)})
		return err
	})
	return m.staged(v, store.EntityRule, "create", actor, err)
}

func (m *Manager) StageRuleUpdate(ctx context.Context, actor string, r *fleet.FirewallRule) (*fleet.ConfigVersion, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		prev, err := st.GetFirewallRule(ctx, r.ID)
		if err != nil {
			return err
		}
		// An association list can never be reduced to empty; that would
		// silently broaden scope to the whole cluster.
		if err := fleet.ValidateAssociationUpdate(prev, r.ListenerIDs, r.ClusterScope); err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityRule, r.ID)
		if err != nil {
			return err
		}
		r.LastConfigStatus = fleet.StatusPending
		r.IsActive = true
		if err := st.UpdateFirewallRule(ctx, r); err != nil {
			return err
		}
		snap, err := updateSnapshot(ctx, st, store.EntityRule, r.ID, old)
		if err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, r.ClusterID,
			versionName(store.EntityRule, r.ID, "update"), actor, []Snapshot{snap})
		return err
	})
	return m.staged(v, store.EntityRule, "update", actor, err)
}

func (m *Manager) StageRuleDelete(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		r, err := st.GetFirewallRule(ctx, id)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityRule, id)
		if err != nil {
			return err
		}
		if err := st.SoftDeleteFirewallRule(ctx, id); err != nil {
			return err
		}
		v, err = m.finishStage(ctx, st, r.ClusterID,
			versionName(store.EntityRule, id, "delete"), actor,
			[]Snapshot{deleteSnapshot(store.EntityRule, id, old)})
		return err
	})
	return m.staged(v, store.EntityRule, "delete", actor, err)
}

// --- Certificate staging ---

// StageCertificateCreate parses the PEM into metadata and stores the
// certificate. Cluster-scoped certificates stage a version because
// bind lines may reference them; global certificates have no single
// cluster to regenerate and are created without one.
func (m *Manager) StageCertificateCreate(ctx context.Context, actor string, c *fleet.Certificate) (*fleet.ConfigVersion, error) {
	meta, err := certs.Parse([]byte(c.PEM))
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", c.Name, err)
	}
	c.Domains = meta.Domains
	c.Issuer = meta.Issuer
	notAfter := meta.NotAfter
	c.NotAfter = &notAfter

	if c.ClusterID == nil {
		if err := m.store.CreateCertificate(ctx, c); err != nil {
			return nil, err
		}
		m.auditWrite(actor, "stage", "cert-global-"+c.Name, nil)
		return nil, nil
	}

	var v *fleet.ConfigVersion
	err = m.store.InTx(ctx, func(st *store.Store) error {
		if err := st.CreateCertificate(ctx, c); err != nil {
			return err
		}
		var err error
		v, err = m.finishStage(ctx, st, *c.ClusterID,
			versionName(store.EntityCert, c.ID, "create"), actor,
			[]Snapshot{createSnapshot(store.EntityCert, c.ID)})
		return err
	})
	return m.staged(v, store.EntityCert, "create", actor, err)
}

func (m *Manager) StageCertificateDelete(ctx context.Context, actor string, id int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		c, err := st.GetCertificate(ctx, id)
		if err != nil {
			return err
		}
		old, err := st.RowValues(ctx, store.EntityCert, id)
		if err != nil {
			return err
		}
		if err := st.SoftDeleteCertificate(ctx, id); err != nil {
			return err
		}
		if c.ClusterID == nil {
			return nil
		}
		v, err = m.finishStage(ctx, st, *c.ClusterID,
			versionName(store.EntityCert, id, "delete"), actor,
			[]Snapshot{deleteSnapshot(store.EntityCert, id, old)})
		return err
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		m.auditWrite(actor, "stage", fmt.Sprintf("cert-%d-delete", id), nil)
		return nil, nil
	}
	return m.staged(v, store.EntityCert, "delete", actor, nil)
}

// --- Bulk import ---

// BulkImport stages every entity recovered by the parser in one
// transaction, producing a single bulk-import version whose metadata
// holds CREATE snapshots so Reject removes the imported rows.
// Entities whose names already exist in the cluster are skipped.
func (m *Manager) BulkImport(ctx context.Context, actor string, clusterID int64, res *parse.Result) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	var skipped []string
	err := m.store.InTx(ctx, func(st *store.Store) error {
		existingPools, err := st.ListPools(ctx, clusterID)
		if err != nil {
			return err
		}
		poolIDs := make(map[string]int64)
		for _, p := range existingPools {
			poolIDs[p.Name] = p.ID
		}
		existingListeners, err := st.ListListeners(ctx, clusterID)
		if err != nil {
			return err
		}
		listenerNames := make(map[string]bool)
		for _, l := range existingListeners {
			listenerNames[l.Name] = true
		}

		var snaps []Snapshot
		for _, pp := range res.Pools {
			if _, ok := poolIDs[pp.Name]; ok {
				skipped = append(skipped, "pool "+pp.Name)
				continue
			}
			pool := &fleet.Pool{
				ClusterID:        clusterID,
				Name:             pp.Name,
				Algorithm:        pp.Algorithm,
				Mode:             pp.Mode,
				HealthCheck:      pp.HealthCheck,
				ConnectTimeout:   pp.ConnectTimeout,
				ServerTimeout:    pp.ServerTimeout,
				MaxConn:          pp.MaxConn,
				CookieName:       pp.CookieName,
				PassHeaders:      pp.PassHeaders,
				LastConfigStatus: fleet.StatusPending,
			}
			if err := st.CreatePool(ctx, pool); err != nil {
				return fmt.Errorf("import pool %s: %w", pp.Name, err)
			}
			snaps = append(snaps, createSnapshot(store.EntityPool, pool.ID))
			poolIDs[pp.Name] = pool.ID

			for _, mm := range pp.Members {
				member := &fleet.Member{
					PoolID:           pool.ID,
					Name:             mm.Name,
					Address:          mm.Address,
					Port:             mm.Port,
					Weight:           mm.Weight,
					CheckRise:        mm.CheckRise,
					CheckFall:        mm.CheckFall,
					SSL:              mm.SSL,
					VerifySSL:        mm.VerifySSL,
					Enabled:          mm.Enabled,
					LastConfigStatus: fleet.StatusPending,
				}
				if err := st.CreateMember(ctx, member); err != nil {
					return fmt.Errorf("import member %s/%s: %w", pp.Name, mm.Name, err)
				}
				snaps = append(snaps, createSnapshot(store.EntityMember, member.ID))
			}
		}

		for _, pl := range res.Listeners {
			if listenerNames[pl.Name] {
				skipped = append(skipped, "listener "+pl.Name)
				continue
			}
			addr := pl.BindAddress
			if addr == "" {
				addr = "*"
			}
			listener := &fleet.Listener{
				ClusterID:        clusterID,
				Name:             pl.Name,
				BindAddress:      addr,
				BindPort:         pl.BindPort,
				Mode:             pl.Mode,
				ClientTimeout:    pl.ClientTimeout,
				MaxConn:          pl.MaxConn,
				MonitorURI:       pl.MonitorURI,
				RawDirectives:    pl.RawDirectives,
				LastConfigStatus: fleet.StatusPending,
			}
			if pl.DefaultPool != "" {
				if id, ok := poolIDs[pl.DefaultPool]; ok {
					poolID := id
					listener.DefaultPoolID = &poolID
				}
			}
			if err := st.CreateListener(ctx, listener); err != nil {
				return fmt.Errorf("import listener %s: %w", pl.Name, err)
			}
			snaps = append(snaps, createSnapshot(store.EntityListener, listener.ID))
		}

		name := fmt.Sprintf("bulk-import-%d", clock.Now().Unix())
		v, err = m.finishStage(ctx, st, clusterID, name, actor, snaps)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		m.log.Warn("bulk import skipped existing entity", "entity", s, "cluster", clusterID)
	}
	m.metrics.VersionsStaged.WithLabelValues("bulk", "import").Inc()
	m.auditWrite(actor, "stage", v.Name, map[string]any{
		"cluster_id": clusterID,
		"skipped":    len(skipped),
	})
	m.log.Info("staged bulk import", "name", v.Name, "cluster", clusterID, "actor", actor)
	return v, nil
}

// --- Apply / Reject ---

// Apply flips a PENDING version to APPLIED-and-active, deactivates the
// cluster's previous active version, and clears the PENDING tags on the
// cluster's entities, all in one unit of work.
func (m *Manager) Apply(ctx context.Context, actor string, versionID int64) (*fleet.ConfigVersion, error) {
	var v *fleet.ConfigVersion
	err := m.store.InTx(ctx, func(st *store.Store) error {
		var err error
		v, err = st.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if err := st.MarkApplied(ctx, v.ID, v.ClusterID); err != nil {
			return err
		}
		if err := st.ClearPendingStatus(ctx, v.ClusterID); err != nil {
			return err
		}
		v, err = st.GetVersion(ctx, versionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.metrics.VersionsApplied.Inc()
	m.auditWrite(actor, "apply", v.Name, map[string]any{"cluster_id": v.ClusterID})
	m.log.Info("applied version", "name", v.Name, "cluster", v.ClusterID, "actor", actor)
	if m.onApplied != nil {
		m.onApplied(v)
	}
	return v, nil
}

// Reject rolls back the version's snapshots in reverse order and
// discards the PENDING row. With rollback disabled the version is
// discarded without touching entity state, degraded but safe. A
// rollback failure aborts the transaction so the store is never
// partially restored.
func (m *Manager) Reject(ctx context.Context, actor string, versionID int64) error {
	var name string
	var clusterID int64
	rolledBack := false
	rollbackFailed := false
	err := m.store.InTx(ctx, func(st *store.Store) error {
		v, err := st.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v.Status != fleet.VersionPending {
			return fmt.Errorf("version %s is %s, only pending versions can be rejected", v.Name, v.Status)
		}
		name, clusterID = v.Name, v.ClusterID

		if m.rollbackEnabled && v.Metadata != "" {
			meta, err := decodeMetadata(v.Metadata)
			if err != nil {
				return err
			}
			for i := len(meta.Snapshots) - 1; i >= 0; i-- {
				if err := rollbackSnapshot(ctx, st, meta.Snapshots[i]); err != nil {
					rollbackFailed = true
					return fmt.Errorf("rollback version %s: %w", v.Name, err)
				}
			}
			rolledBack = true
		}
		return st.DeleteVersion(ctx, v.ID)
	})
	if err != nil {
		if rollbackFailed {
			m.metrics.RollbackFailures.Inc()
		}
		return err
	}
	m.metrics.VersionsRejected.Inc()
	m.auditWrite(actor, "reject", name, map[string]any{"cluster_id": clusterID})
	m.log.Info("rejected version", "name", name, "cluster", clusterID, "actor", actor, "rolled_back", rolledBack)
	return nil
}
