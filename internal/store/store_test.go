package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/harrier/internal/fleet"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testCluster(t *testing.T, st *Store, name string) *fleet.Cluster {
	t.Helper()
	c := &fleet.Cluster{Name: name}
	require.NoError(t, st.CreateCluster(context.Background(), c))
	return c
}

func TestClusterCRUD(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	c := testCluster(t, st, "edge-eu")
	if c.ID == 0 {
		t.Fatal("cluster ID not assigned")
	}
	if c.ConnectionStatus != fleet.ConnUnknown {
		t.Errorf("new cluster status = %s, want UNKNOWN", c.ConnectionStatus)
	}

	got, err := st.GetClusterByName(ctx, "edge-eu")
	require.NoError(t, err)
	if got.ID != c.ID {
		t.Errorf("GetClusterByName ID = %d, want %d", got.ID, c.ID)
	}

	if _, err := st.GetClusterByName(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing cluster error = %v, want ErrNotFound", err)
	}

	require.NoError(t, st.SoftDeleteCluster(ctx, c.ID))
	if _, err := st.GetClusterByName(ctx, "edge-eu"); !errors.Is(err, ErrNotFound) {
		t.Error("soft-deleted cluster still visible by name")
	}
	// GetCluster by ID still sees it for version history.
	if _, err := st.GetCluster(ctx, c.ID); err != nil {
		t.Errorf("GetCluster after soft delete: %v", err)
	}
}

func TestHeartbeatAndSweep(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "edge-us")

	require.NoError(t, st.Heartbeat(ctx, c.ID))
	got, err := st.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	if got.ConnectionStatus != fleet.ConnUp {
		t.Fatalf("status after heartbeat = %s, want UP", got.ConnectionStatus)
	}
	if got.LastConnected == nil {
		t.Fatal("last_connected not recorded")
	}

	// A fresh heartbeat survives the sweep.
	n, err := st.SweepStaleClusters(ctx, time.Hour)
	require.NoError(t, err)
	if n != 0 {
		t.Errorf("sweep marked %d clusters down, want 0", n)
	}

	// A negative timeout makes every heartbeat stale.
	n, err = st.SweepStaleClusters(ctx, -time.Hour)
	require.NoError(t, err)
	if n != 1 {
		t.Fatalf("sweep marked %d clusters down, want 1", n)
	}
	got, err = st.GetCluster(ctx, c.ID)
	require.NoError(t, err)
	if got.ConnectionStatus != fleet.ConnDown {
		t.Errorf("status after sweep = %s, want DOWN", got.ConnectionStatus)
	}
}

func TestListenerRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	certID := int64(7)
	poolID := int64(3)
	l := &fleet.Listener{
		ClusterID:     c.ID,
		Name:          "web",
		BindAddress:   "*",
		BindPort:      443,
		Mode:          fleet.ModeHTTP,
		CertID:        &certID,
		CertIDs:       []int64{7, 9},
		DefaultPoolID: &poolID,
		MaxConn:       2000,
		ClientTimeout: 30000,
		RateLimit:     &fleet.RateLimit{RequestsPerWindow: 100, WindowSeconds: 10},
		Compression:   true,
		MonitorURI:    "/health",
		RawDirectives: []string{"acl is_api path_beg /api", "use_backend api if is_api"},
	}
	require.NoError(t, st.CreateListener(ctx, l))

	got, err := st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	if got.Name != "web" || got.BindPort != 443 {
		t.Errorf("listener round trip lost basics: %+v", got)
	}
	if got.CertID == nil || *got.CertID != 7 {
		t.Error("legacy cert reference lost")
	}
	if len(got.CertIDs) != 2 || got.CertIDs[1] != 9 {
		t.Errorf("cert list round trip = %v", got.CertIDs)
	}
	if got.RateLimit == nil || got.RateLimit.RequestsPerWindow != 100 {
		t.Error("rate limit lost")
	}
	if len(got.RawDirectives) != 2 {
		t.Errorf("raw directives = %v", got.RawDirectives)
	}

	require.NoError(t, st.SoftDeleteListener(ctx, l.ID))
	list, err := st.ListListeners(ctx, c.ID)
	require.NoError(t, err)
	if len(list) != 0 {
		t.Error("soft-deleted listener still listed")
	}
}

func TestMemberPortSentinel(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	p := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "roundrobin", Mode: fleet.ModeHTTP}
	require.NoError(t, st.CreatePool(ctx, p))

	port := 8080
	withPort := &fleet.Member{PoolID: p.ID, Name: "a1", Address: "10.0.0.1", Port: &port, Weight: 1, Enabled: true}
	portless := &fleet.Member{PoolID: p.ID, Name: "a2", Address: "10.0.0.2", Weight: 1, Enabled: true}
	require.NoError(t, st.CreateMember(ctx, withPort))
	require.NoError(t, st.CreateMember(ctx, portless))

	members, err := st.ListMembers(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	if members[0].Port == nil || *members[0].Port != 8080 {
		t.Error("explicit port lost")
	}
	// nil means "use pool default"; it must survive the round trip as
	// nil, not as zero.
	if members[1].Port != nil {
		t.Errorf("portless member came back with port %d", *members[1].Port)
	}

	require.NoError(t, st.MarkMemberDeletion(ctx, portless.ID))
	got, err := st.GetMember(ctx, portless.ID)
	require.NoError(t, err)
	if got.LastConfigStatus != fleet.StatusDeletion {
		t.Errorf("status = %s, want DELETION", got.LastConfigStatus)
	}
	if !got.IsActive {
		t.Error("DELETION member must stay active until the version applies")
	}
}

func TestRuleOrderingAndScope(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	mk := func(name string, prio int, scope bool, ids []int64) *fleet.FirewallRule {
		r := &fleet.FirewallRule{
			ClusterID:    c.ID,
			Name:         name,
			Kind:         fleet.KindIPFilter,
			Action:       fleet.ActionBlock,
			Priority:     prio,
			Config:       fleet.IPFilterConfig{Addresses: []string{"10.0.0.0/8"}},
			ClusterScope: scope,
			ListenerIDs:  ids,
		}
		require.NoError(t, st.CreateFirewallRule(ctx, r))
		return r
	}

	mk("zulu", 1, true, nil)
	mk("alpha", 1, false, []int64{4})
	mk("first", 0, true, nil)

	rules, err := st.ListFirewallRules(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	want := []string{"first", "alpha", "zulu"}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rules[%d] = %s, want %s", i, r.Name, want[i])
		}
	}
	if rules[0].RuleID == "" {
		t.Error("rule UUID not assigned")
	}
	// An explicit priority 0 is stored as supplied, not rewritten.
	if rules[0].Priority != 0 {
		t.Errorf("stored priority = %d, want 0 as supplied", rules[0].Priority)
	}
	if got := rules[1].ListenerIDs; len(got) != 1 || got[0] != 4 {
		t.Errorf("association list round trip = %v", got)
	}
}

func TestVersionLifecycleRows(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	v1 := &fleet.ConfigVersion{ClusterID: c.ID, Name: "frontend-1-create-100", Content: "a", Checksum: "x", Status: fleet.VersionPending, CreatedBy: "alice"}
	require.NoError(t, st.CreateVersion(ctx, v1))
	v2 := &fleet.ConfigVersion{ClusterID: c.ID, Name: "frontend-1-update-200", Content: "b", Checksum: "y", Status: fleet.VersionPending, CreatedBy: "alice"}
	require.NoError(t, st.CreateVersion(ctx, v2))

	require.NoError(t, st.MarkApplied(ctx, v1.ID, c.ID))
	active, err := st.ActiveVersion(ctx, c.ID)
	require.NoError(t, err)
	if active.ID != v1.ID {
		t.Fatalf("active = %d, want %d", active.ID, v1.ID)
	}
	if active.AppliedAt == nil {
		t.Error("applied_at not set")
	}

	// Applying the second version deactivates the first. Exactly one
	// active row per cluster.
	require.NoError(t, st.MarkApplied(ctx, v2.ID, c.ID))
	active, err = st.ActiveVersion(ctx, c.ID)
	require.NoError(t, err)
	if active.ID != v2.ID {
		t.Fatalf("active = %d, want %d", active.ID, v2.ID)
	}
	old, err := st.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	if old.Active {
		t.Error("previous version still active")
	}
	if old.Status != fleet.VersionApplied {
		t.Errorf("previous version status = %s, want APPLIED", old.Status)
	}

	versions, err := st.ListVersions(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	if versions[0].ID != v2.ID {
		t.Error("ListVersions not newest first")
	}
}

func TestClearPendingStatusRetiresDeletionMembers(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	p := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "roundrobin", Mode: fleet.ModeHTTP, LastConfigStatus: fleet.StatusPending}
	require.NoError(t, st.CreatePool(ctx, p))
	port := 80
	m := &fleet.Member{PoolID: p.ID, Name: "a1", Address: "10.0.0.1", Port: &port, Weight: 1, Enabled: true}
	require.NoError(t, st.CreateMember(ctx, m))
	require.NoError(t, st.MarkMemberDeletion(ctx, m.ID))

	require.NoError(t, st.ClearPendingStatus(ctx, c.ID))

	gotPool, err := st.GetPool(ctx, p.ID)
	require.NoError(t, err)
	if gotPool.LastConfigStatus != fleet.StatusApplied {
		t.Errorf("pool status = %s, want APPLIED", gotPool.LastConfigStatus)
	}

	members, err := st.ListMembers(ctx, p.ID)
	require.NoError(t, err)
	if len(members) != 0 {
		t.Error("DELETION member not retired on apply")
	}
}

func TestRowValuesRestoreRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	l := &fleet.Listener{ClusterID: c.ID, Name: "web", BindAddress: "*", BindPort: 80, Mode: fleet.ModeHTTP}
	require.NoError(t, st.CreateListener(ctx, l))

	before, err := st.RowValues(ctx, EntityListener, l.ID)
	require.NoError(t, err)

	l.BindPort = 8080
	l.MonitorURI = "/ping"
	require.NoError(t, st.UpdateListener(ctx, l))

	require.NoError(t, st.RestoreRow(ctx, EntityListener, l.ID, before))

	got, err := st.GetListener(ctx, l.ID)
	require.NoError(t, err)
	if got.BindPort != 80 {
		t.Errorf("restored bind port = %d, want 80", got.BindPort)
	}
	if got.MonitorURI != "" {
		t.Errorf("restored monitor uri = %q, want empty", got.MonitorURI)
	}
}

func TestHardDeleteEntity(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	p := &fleet.Pool{ClusterID: c.ID, Name: "app", Algorithm: "roundrobin", Mode: fleet.ModeHTTP}
	require.NoError(t, st.CreatePool(ctx, p))

	require.NoError(t, st.HardDeleteEntity(ctx, EntityPool, p.ID))
	if _, err := st.GetPool(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("hard-deleted pool lookup = %v, want ErrNotFound", err)
	}
}

func TestListExpiringCertificates(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := testCluster(t, st, "c1")

	soon := time.Now().UTC().Add(10 * 24 * time.Hour)
	far := time.Now().UTC().Add(365 * 24 * time.Hour)

	expiring := &fleet.Certificate{ClusterID: &c.ID, Name: "soon", PEM: "x", NotAfter: &soon}
	require.NoError(t, st.CreateCertificate(ctx, expiring))
	durable := &fleet.Certificate{ClusterID: &c.ID, Name: "far", PEM: "y", NotAfter: &far}
	require.NoError(t, st.CreateCertificate(ctx, durable))

	got, err := st.ListExpiringCertificates(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	if len(got) != 1 || got[0].Name != "soon" {
		t.Errorf("expiring = %+v", got)
	}

	// Soft-deleted certificates are never reported.
	require.NoError(t, st.SoftDeleteCertificate(ctx, expiring.ID))
	got, err = st.ListExpiringCertificates(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	if len(got) != 0 {
		t.Errorf("soft-deleted certificate reported: %+v", got)
	}
}
