package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func testAudit(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), 30)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWriteAndQuery(t *testing.T) {
	st := testAudit(t)

	events := []Event{
		{Actor: "alice", Action: "stage", Resource: "frontend-1-create-100", Details: map[string]any{"cluster_id": int64(1)}},
		{Actor: "bob", Action: "apply", Resource: "frontend-1-create-100"},
		{Actor: "alice", Action: "reject", Resource: "backend-2-update-200"},
	}
	for _, e := range events {
		if err := st.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	all, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "", "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}

	byActor, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "", "alice", 0)
	if err != nil {
		t.Fatalf("Query by actor: %v", err)
	}
	if len(byActor) != 2 {
		t.Errorf("alice events = %d, want 2", len(byActor))
	}

	byAction, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "apply", "", 0)
	if err != nil {
		t.Fatalf("Query by action: %v", err)
	}
	if len(byAction) != 1 || byAction[0].Actor != "bob" {
		t.Errorf("apply events = %+v", byAction)
	}

	limited, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "", "", 1)
	if err != nil {
		t.Fatalf("Query limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit not honored: %d", len(limited))
	}
}

func TestDetailsRoundTrip(t *testing.T) {
	st := testAudit(t)

	if err := st.Write(Event{
		Actor: "alice", Action: "stage", Resource: "bulk-import-100",
		Details: map[string]any{"skipped": float64(2)},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "", "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got[0].Details["skipped"] != float64(2) {
		t.Errorf("details = %v", got[0].Details)
	}
}

func TestPrune(t *testing.T) {
	st := testAudit(t)

	old := Event{Actor: "alice", Action: "stage", Resource: "x", Timestamp: time.Now().AddDate(0, 0, -60)}
	fresh := Event{Actor: "alice", Action: "stage", Resource: "y"}
	if err := st.Write(old); err != nil {
		t.Fatal(err)
	}
	if err := st.Write(fresh); err != nil {
		t.Fatal(err)
	}

	n, err := st.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d events, want 1", n)
	}

	left, err := st.Query(time.Time{}, time.Now().Add(time.Hour), "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Resource != "y" {
		t.Errorf("surviving events = %+v", left)
	}
}
