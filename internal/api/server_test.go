package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/fleet"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/lifecycle"
	"grimm.is/harrier/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	gen := generate.New(st, cfg.LegacyTLSPort)
	mgr := lifecycle.New(st, gen, lifecycle.Options{RollbackEnabled: true})
	return NewServer(cfg, st, mgr, gen), st
}

func testClusterAPI(t *testing.T, st *store.Store, name string) *fleet.Cluster {
	t.Helper()
	c := &fleet.Cluster{Name: name}
	require.NoError(t, st.CreateCluster(context.Background(), c))
	return c
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestClusterEndpoints(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "POST", "/api/clusters", `{"name":"edge","agent_pool":"dc1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	c := decode[fleet.Cluster](t, rec)
	if c.ID == 0 || c.Name != "edge" {
		t.Errorf("cluster = %+v", c)
	}

	rec = do(t, s, "POST", "/api/clusters", `{"name":"bad name!"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid name = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/api/clusters", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	list := decode[[]fleet.Cluster](t, rec)
	if len(list) != 1 {
		t.Errorf("got %d clusters", len(list))
	}

	rec = do(t, s, "GET", fmt.Sprintf("/api/clusters/%d", c.ID), "")
	if rec.Code != http.StatusOK {
		t.Errorf("get = %d", rec.Code)
	}
	rec = do(t, s, "GET", "/api/clusters/999", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing cluster = %d", rec.Code)
	}
}

func TestListenerStageAndApply(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	// Nothing applied yet: agents get 204.
	rec := do(t, s, "GET", "/api/agent/config?cluster=edge", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("agent config before apply = %d", rec.Code)
	}

	body := fmt.Sprintf(`{"ClusterID":%d,"Name":"web","BindAddress":"*","BindPort":80,"Mode":"http"}`, c.ID)
	rec = do(t, s, "POST", "/api/listeners", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("stage = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[stageResponse](t, rec)
	if resp.Status != "staged" || resp.Version == nil || resp.ApplyPath == "" {
		t.Fatalf("stage response = %+v", resp)
	}
	if resp.Version.Status != fleet.VersionPending {
		t.Errorf("version status = %s", resp.Version.Status)
	}

	rec = do(t, s, "POST", resp.ApplyPath, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("apply = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, "GET", "/api/agent/config?cluster=edge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("agent config after apply = %d", rec.Code)
	}
	ac := decode[agentConfigResponse](t, rec)
	if ac.Cluster != "edge" || ac.VersionID != resp.Version.ID {
		t.Errorf("agent config = %+v", ac)
	}
	if !strings.Contains(ac.Content, "frontend web") {
		t.Errorf("content missing listener:\n%s", ac.Content)
	}
	if ac.Checksum != resp.Version.Checksum {
		t.Error("checksum does not match staged version")
	}
}

func TestStageRejectsInvalidEntity(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	body := fmt.Sprintf(`{"ClusterID":%d,"Name":"web","BindAddress":"*","BindPort":99999,"Mode":"http"}`, c.ID)
	rec := do(t, s, "POST", "/api/listeners", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range port = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRuleExplicitEmptyAssociation(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	body := fmt.Sprintf(`{"cluster_id":%d,"name":"block","kind":"ip_filter","action":"deny","config":{"addresses":["10.0.0.1"]},"listener_ids":[]}`, c.ID)
	rec := do(t, s, "POST", "/api/rules", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("explicit empty association = %d: %s", rec.Code, rec.Body.String())
	}
	errResp := decode[map[string]string](t, rec)
	if !strings.Contains(errResp["error"], "empty listener association") {
		t.Errorf("error = %q", errResp["error"])
	}

	// Omitting the field entirely is a cluster-wide rule, accepted.
	body = fmt.Sprintf(`{"cluster_id":%d,"name":"block","kind":"ip_filter","action":"deny","config":{"addresses":["10.0.0.1"]},"cluster_scope":true}`, c.ID)
	rec = do(t, s, "POST", "/api/rules", body)
	if rec.Code != http.StatusCreated {
		t.Errorf("cluster-scoped rule = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRulePriorityDefaulting(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	// No priority field: the default applies.
	body := fmt.Sprintf(`{"cluster_id":%d,"name":"late","kind":"ip_filter","action":"deny","config":{"addresses":["10.0.0.1"]},"cluster_scope":true}`, c.ID)
	rec := do(t, s, "POST", "/api/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Explicit zero sorts first and survives as supplied.
	body = fmt.Sprintf(`{"cluster_id":%d,"name":"urgent","kind":"ip_filter","action":"deny","priority":0,"config":{"addresses":["10.0.0.2"]},"cluster_scope":true}`, c.ID)
	rec = do(t, s, "POST", "/api/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rules, err := st.ListFirewallRules(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	if rules[0].Name != "urgent" || rules[0].Priority != 0 {
		t.Errorf("rules[0] = %s priority %d, want urgent priority 0", rules[0].Name, rules[0].Priority)
	}
	if rules[1].Name != "late" || rules[1].Priority != 100 {
		t.Errorf("rules[1] = %s priority %d, want late priority 100", rules[1].Name, rules[1].Priority)
	}
}

func TestVersionDiffEndpoint(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	body := fmt.Sprintf(`{"ClusterID":%d,"Name":"web","BindAddress":"*","BindPort":80,"Mode":"http"}`, c.ID)
	rec := do(t, s, "POST", "/api/listeners", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v1 := decode[stageResponse](t, rec).Version

	rec = do(t, s, "POST", fmt.Sprintf("/api/versions/%d/apply", v1.ID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	listeners, err := st.ListListeners(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, listeners, 1)
	created := listeners[0]

	update := fmt.Sprintf(`{"ClusterID":%d,"Name":"web","BindAddress":"*","BindPort":8080,"Mode":"http"}`, c.ID)
	rec = do(t, s, "PUT", fmt.Sprintf("/api/listeners/%d", created.ID), update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v2 := decode[stageResponse](t, rec).Version

	rec = do(t, s, "GET", fmt.Sprintf("/api/clusters/%d/diff?from=%d&to=%d", c.ID, v1.ID, v2.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("diff = %d: %s", rec.Code, rec.Body.String())
	}
	diff := rec.Body.String()
	if !strings.Contains(diff, "-    bind *:80") || !strings.Contains(diff, "+    bind *:8080") {
		t.Errorf("diff missing bind change:\n%s", diff)
	}

	rec = do(t, s, "GET", fmt.Sprintf("/api/clusters/%d/diff?from=%d", c.ID, v1.ID), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing to param = %d", rec.Code)
	}

	other := testClusterAPI(t, st, "other")
	rec = do(t, s, "GET", fmt.Sprintf("/api/clusters/%d/diff?from=%d&to=%d", other.ID, v1.ID, v2.ID), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("cross-cluster diff = %d", rec.Code)
	}
}

func TestRejectEndpoint(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	body := fmt.Sprintf(`{"ClusterID":%d,"Name":"web","BindAddress":"*","BindPort":80,"Mode":"http"}`, c.ID)
	rec := do(t, s, "POST", "/api/listeners", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	v := decode[stageResponse](t, rec).Version

	rec = do(t, s, "POST", fmt.Sprintf("/api/versions/%d/reject", v.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reject = %d: %s", rec.Code, rec.Body.String())
	}

	listeners, err := st.ListListeners(context.Background(), c.ID)
	require.NoError(t, err)
	if len(listeners) != 0 {
		t.Errorf("rejected listener survived: %+v", listeners)
	}

	rec = do(t, s, "GET", fmt.Sprintf("/api/versions/%d", v.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("rejected version still readable = %d", rec.Code)
	}
}

func TestAgentHeartbeatEndpoint(t *testing.T) {
	s, st := testServer(t)
	testClusterAPI(t, st, "edge")

	rec := do(t, s, "POST", "/api/agent/heartbeat", `{"cluster":"edge"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, "POST", "/api/agent/heartbeat", `{"cluster":"ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown cluster heartbeat = %d", rec.Code)
	}
}

func TestImportEndpoint(t *testing.T) {
	s, st := testServer(t)
	c := testClusterAPI(t, st, "edge")

	conf := `
frontend web
    bind *:80
    default_backend app

backend app
    server a1 10.0.0.1:8080 check
`
	rec := do(t, s, "POST", fmt.Sprintf("/api/clusters/%d/import", c.ID), conf)
	if rec.Code != http.StatusCreated {
		t.Fatalf("import = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[stageResponse](t, rec)
	if resp.Version == nil || !strings.HasPrefix(resp.Version.Name, "bulk-import-") {
		t.Fatalf("import response = %+v", resp)
	}

	rec = do(t, s, "POST", resp.ApplyPath, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, "GET", fmt.Sprintf("/api/clusters/%d/generate", c.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("generate = %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "frontend web") || !strings.Contains(out, "backend app") {
		t.Errorf("generated output missing imported entities:\n%s", out)
	}
}

func TestGenerateUnknownCluster(t *testing.T) {
	s, _ := testServer(t)
	rec := do(t, s, "GET", "/api/clusters/999/generate", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown cluster generate = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# ERROR:") {
		t.Errorf("error body not marked:\n%s", rec.Body.String())
	}
}
