package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/parse"
	"grimm.is/harrier/internal/store"
)

func testManager(t *testing.T, rollback bool) (*Manager, *store.Store, *fleet.Cluster) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := &fleet.Cluster{Name: "edge"}
	require.NoError(t, st.CreateCluster(context.Background(), c))

	m := New(st, generate.New(st, 0), Options{RollbackEnabled: rollback})
	return m, st, c
}

func TestStageListenerCreate(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)

	if v.Status != fleet.VersionPending {
		t.Errorf("version status = %s, want PENDING", v.Status)
	}
	if v.CreatedBy != "alice" {
		t.Errorf("created_by = %q", v.CreatedBy)
	}
	wantPrefix := fmt.Sprintf("frontend-%d-create-", l.ID)
	if !strings.HasPrefix(v.Name, wantPrefix) {
		t.Errorf("version name = %q, want prefix %q", v.Name, wantPrefix)
	}
	if v.Checksum != Checksum(v.Content) {
		t.Error("checksum does not match content")
	}
	// The generated text reflects the staged change.
	if !strings.Contains(v.Content, "frontend web") {
		t.Errorf("staged content missing listener:\n%s", v.Content)
	}

	got, err := st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	if got.LastConfigStatus != fleet.StatusPending {
		t.Errorf("entity status = %s, want PENDING", got.LastConfigStatus)
	}
}

func TestStageValidatesBeforeWriting(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	bad := &fleet.Listener{ClusterID: c.ID, Name: "bad name", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	if _, err := m.StageListenerCreate(ctx, "alice", bad); err == nil {
		t.Fatal("invalid listener staged")
	}

	listeners, err := st.ListListeners(ctx, c.ID)
	require.NoError(t, err)
	if len(listeners) != 0 {
		t.Error("rejected stage left an entity behind")
	}
	versions, err := st.ListVersions(ctx, c.ID, 0)
	require.NoError(t, err)
	if len(versions) != 0 {
		t.Error("rejected stage left a version behind")
	}
}

func TestApplyFlow(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	var notified *fleet.ConfigVersion
	m.onApplied = func(v *fleet.ConfigVersion) { notified = v }

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v1, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)

	applied, err := m.Apply(ctx, "bob", v1.ID)
	require.NoError(t, err)
	if applied.Status != fleet.VersionApplied || !applied.Active {
		t.Errorf("applied version = %+v", applied)
	}
	if notified == nil || notified.ID != v1.ID {
		t.Error("OnApplied hook not invoked")
	}

	got, err := st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	if got.LastConfigStatus != fleet.StatusApplied {
		t.Errorf("entity status after apply = %s", got.LastConfigStatus)
	}

	// A second apply deactivates the first version.
	l.BindPort = 8080
	v2, err := m.StageListenerUpdate(ctx, "alice", l)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "bob", v2.ID)
	require.NoError(t, err)

	active, err := st.ActiveVersion(ctx, c.ID)
	require.NoError(t, err)
	if active.ID != v2.ID {
		t.Errorf("active version = %d, want %d", active.ID, v2.ID)
	}
	old, err := st.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	if old.Active {
		t.Error("previous version still active")
	}
}

func TestRejectRollsBackUpdate(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v1, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "alice", v1.ID)
	require.NoError(t, err)

	// Stage a port change, then reject it. The listener must converge
	// back to the captured state.
	l.BindPort = 8080
	v2, err := m.StageListenerUpdate(ctx, "alice", l)
	require.NoError(t, err)

	got, err := st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, 8080, got.BindPort)

	require.NoError(t, m.Reject(ctx, "alice", v2.ID))

	got, err = st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	if got.BindPort != 80 {
		t.Errorf("bind port after reject = %d, want 80", got.BindPort)
	}
	if _, err := st.GetVersion(ctx, v2.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("rejected version row not discarded")
	}
}

func TestRejectRemovesCreatedEntity(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)

	require.NoError(t, m.Reject(ctx, "alice", v.ID))

	if _, err := st.GetListener(ctx, l.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("created entity survived reject")
	}
}

func TestRejectOfDeleteFails(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "alice", v.ID)
	require.NoError(t, err)

	dv, err := m.StageListenerDelete(ctx, "alice", l.ID)
	require.NoError(t, err)

	// Delete snapshots never roll back; the reject must fail loudly and
	// leave the PENDING version in place.
	err = m.Reject(ctx, "alice", dv.ID)
	if !errors.Is(err, ErrRollbackUnsupported) {
		t.Fatalf("err = %v, want ErrRollbackUnsupported", err)
	}
	if _, err := st.GetVersion(ctx, dv.ID); err != nil {
		t.Error("failed reject discarded the version anyway")
	}
}

func TestRejectWithRollbackDisabled(t *testing.T) {
	m, st, c := testManager(t, false)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)
	if v.Metadata != "" {
		t.Error("snapshots captured with rollback disabled")
	}

	// Discard-only mode: the version goes away, the entity stays.
	require.NoError(t, m.Reject(ctx, "alice", v.ID))
	if _, err := st.GetListener(ctx, l.ID); err != nil {
		t.Errorf("entity removed in discard-only mode: %v", err)
	}
	if _, err := st.GetVersion(ctx, v.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("version row not discarded")
	}
}

func TestRejectRequiresPending(t *testing.T) {
	m, _, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	v, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "alice", v.ID)
	require.NoError(t, err)

	if err := m.Reject(ctx, "alice", v.ID); err == nil {
		t.Error("applied version rejected")
	}
}

func TestStageMemberDeleteIsReversible(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	p := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "roundrobin", Mode: fleet.ModeHTTP}
	_, err := m.StagePoolCreate(ctx, "alice", p)
	require.NoError(t, err)

	port := 80
	mem := &fleet.Member{PoolID: p.ID, Name: "a1", Address: "10.0.0.1", Port: &port, Weight: 1, Enabled: true}
	_, err = m.StageMemberCreate(ctx, "alice", mem)
	require.NoError(t, err)

	dv, err := m.StageMemberDelete(ctx, "alice", mem.ID)
	require.NoError(t, err)

	got, err := st.GetMember(ctx, mem.ID)
	require.NoError(t, err)
	if got.LastConfigStatus != fleet.StatusDeletion {
		t.Fatalf("member status = %s, want DELETION", got.LastConfigStatus)
	}
	// The staged text omits the member entirely.
	if strings.Contains(dv.Content, "server a1") {
		t.Errorf("DELETION member still in staged content:\n%s", dv.Content)
	}

	// Member deletion is a status flip, so its reject rolls back.
	require.NoError(t, m.Reject(ctx, "alice", dv.ID))
	got, err = st.GetMember(ctx, mem.ID)
	require.NoError(t, err)
	if got.LastConfigStatus == fleet.StatusDeletion {
		t.Error("member still flagged DELETION after reject")
	}
}

func TestApplyRetiresDeletionMembers(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	p := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "roundrobin", Mode: fleet.ModeHTTP}
	_, err := m.StagePoolCreate(ctx, "alice", p)
	require.NoError(t, err)
	port := 80
	mem := &fleet.Member{PoolID: p.ID, Name: "a1", Address: "10.0.0.1", Port: &port, Weight: 1, Enabled: true}
	_, err = m.StageMemberCreate(ctx, "alice", mem)
	require.NoError(t, err)

	dv, err := m.StageMemberDelete(ctx, "alice", mem.ID)
	require.NoError(t, err)
	_, err = m.Apply(ctx, "alice", dv.ID)
	require.NoError(t, err)

	members, err := st.ListMembers(ctx, p.ID)
	require.NoError(t, err)
	if len(members) != 0 {
		t.Error("DELETION member not retired on apply")
	}
}

func TestStageMemberTcpPortRequired(t *testing.T) {
	m, _, c := testManager(t, true)
	ctx := context.Background()

	p := &fleet.Pool{ClusterID: c.ID, Name: "db", Algorithm: "roundrobin", Mode: fleet.ModeTCP}
	_, err := m.StagePoolCreate(ctx, "alice", p)
	require.NoError(t, err)

	mem := &fleet.Member{PoolID: p.ID, Name: "pg1", Address: "10.0.0.9", Weight: 1, Enabled: true}
	if _, err := m.StageMemberCreate(ctx, "alice", mem); err == nil {
		t.Error("portless member staged into tcp pool")
	}
}

func TestStageRuleAssociationGuard(t *testing.T) {
	m, _, c := testManager(t, true)
	ctx := context.Background()

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	_, err := m.StageListenerCreate(ctx, "alice", l)
	require.NoError(t, err)

	r := &fleet.FirewallRule{
		ClusterID: c.ID, Name: "block", Kind: fleet.KindIPFilter, Action: fleet.ActionBlock,
		Config:      fleet.IPFilterConfig{Addresses: []string{"203.0.113.0/24"}},
		ListenerIDs: []int64{l.ID},
	}
	_, err = m.StageRuleCreate(ctx, "alice", r)
	require.NoError(t, err)

	// Updating to an empty association list without explicit cluster
	// scope must fail.
	r.ListenerIDs = nil
	r.ClusterScope = false
	if _, err := m.StageRuleUpdate(ctx, "alice", r); err == nil {
		t.Error("reduce-to-empty association accepted")
	}

	r.ClusterScope = true
	if _, err := m.StageRuleUpdate(ctx, "alice", r); err != nil {
		t.Errorf("explicit cluster scope rejected: %v", err)
	}
}

func TestBulkImport(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	res := parse.Parse(`
frontend web
    bind *:80
    default_backend app

backend app
    server a1 10.0.0.1:8080 check
    server a2 10.0.0.2:8080 check
`)
	require.Empty(t, res.Errors)

	v, err := m.BulkImport(ctx, "alice", c.ID, res)
	require.NoError(t, err)
	if !strings.HasPrefix(v.Name, "bulk-import-") {
		t.Errorf("version name = %q", v.Name)
	}
	if !strings.Contains(v.Content, "frontend web") || !strings.Contains(v.Content, "backend app") {
		t.Errorf("imported content incomplete:\n%s", v.Content)
	}
	// The listener's pool reference was resolved by name.
	if !strings.Contains(v.Content, "default_backend app") {
		t.Errorf("pool reference not resolved:\n%s", v.Content)
	}

	listeners, err := st.ListListeners(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, listeners, 1)
	pools, err := st.ListPools(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	members, err := st.ListMembers(ctx, pools[0].ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	// Rejecting the import removes every created row.
	require.NoError(t, m.Reject(ctx, "alice", v.ID))
	listeners, err = st.ListListeners(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, listeners, 0)
	pools, err = st.ListPools(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pools, 0)
}

func TestBulkImportSkipsExistingNames(t *testing.T) {
	m, st, c := testManager(t, true)
	ctx := context.Background()

	existing := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "leastconn", Mode: fleet.ModeHTTP}
	require.NoError(t, st.CreatePool(ctx, existing))

	res := parse.Parse(`
backend app
    balance roundrobin
    server a1 10.0.0.1:8080

backend fresh
    server f1 10.0.0.5:9000
`)
	_, err := m.BulkImport(ctx, "alice", c.ID, res)
	require.NoError(t, err)

	pools, err := st.ListPools(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pools, 2)

	// The existing pool was not overwritten.
	got, err := st.GetPool(ctx, existing.ID)
	require.NoError(t, err)
	if got.Algorithm != "leastconn" {
		t.Error("existing pool overwritten by import")
	}
}

func TestVersionNameFormat(t *testing.T) {
	name := versionName(store.EntityMember, 42, "toggle")
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		t.Fatalf("version name %q has %d segments, want 4", name, len(parts))
	}
	if parts[0] != "server" || parts[1] != "42" || parts[2] != "toggle" {
		t.Errorf("version name = %q", name)
	}
}

func TestChecksumStable(t *testing.T) {
	if Checksum("abc") != Checksum("abc") {
		t.Error("checksum not deterministic")
	}
	if Checksum("abc") == Checksum("abd") {
		t.Error("checksum collision on different content")
	}
	if len(Checksum("")) != 64 {
		t.Error("checksum is not hex sha-256")
	}
}

func TestGeneratedConfigReimports(t *testing.T) {
	m, _, c := testManager(t, true)
	ctx := context.Background()

	p := &fleet.Pool{
		ClusterID: c.ID, Name: "app", Algorithm: "leastconn", Mode: fleet.ModeHTTP,
		HealthCheck: &fleet.HealthCheck{Method: "GET", Path: "/status", ExpectStatus: 200},
	}
	_, err := m.StagePoolCreate(ctx, "alice", p)
	require.NoError(t, err)

	port := 8080
	_, err = m.StageMemberCreate(ctx, "alice", &fleet.Member{
		PoolID: p.ID, Name: "a1", Address: "10.0.0.1", Port: &port, Weight: 10, Enabled: true,
	})
	require.NoError(t, err)
	_, err = m.StageMemberCreate(ctx, "alice", &fleet.Member{
		PoolID: p.ID, Name: "a2", Address: "10.0.0.2", Weight: 1, Enabled: true,
	})
	require.NoError(t, err)

	v, err := m.StageListenerCreate(ctx, "alice", &fleet.Listener{
		ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80,
		Mode: fleet.ModeHTTP, DefaultPoolID: &p.ID,
	})
	require.NoError(t, err)

	// The compiled text round-trips through the import parser.
	res := parse.Parse(v.Content)
	if len(res.Errors) != 0 {
		t.Fatalf("parse errors on generated text: %v", res.Errors)
	}
	require.Len(t, res.Listeners, 1)
	require.Len(t, res.Pools, 1)

	l := res.Listeners[0]
	if l.Name != "web" || l.BindAddress != "*" || l.BindPort != 80 {
		t.Errorf("recovered listener = %+v", l)
	}
	if l.DefaultPool != "app" {
		t.Errorf("recovered default pool = %q", l.DefaultPool)
	}

	pool := res.Pools[0]
	if pool.Name != "app" || pool.Algorithm != "leastconn" {
		t.Errorf("recovered pool = %+v", pool)
	}
	if pool.HealthCheck == nil || pool.HealthCheck.Path != "/status" || pool.HealthCheck.ExpectStatus != 200 {
		t.Errorf("recovered health check = %+v", pool.HealthCheck)
	}

	require.Len(t, pool.Members, 2)
	byName := map[string]*parse.Member{}
	for _, pm := range pool.Members {
		byName[pm.Name] = pm
	}
	a1, ok := byName["a1"]
	if !ok || a1.Address != "10.0.0.1" || a1.Port == nil || *a1.Port != 8080 || a1.Weight != 10 {
		t.Errorf("recovered member a1 = %+v", a1)
	}
	a2, ok := byName["a2"]
	if !ok || a2.Address != "10.0.0.2" || a2.Port != nil {
		t.Errorf("recovered member a2 = %+v", a2)
	}
}
