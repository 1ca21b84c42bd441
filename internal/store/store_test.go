package store

import (
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.UpsertSession("s", "demo"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUpsertNodeDedup(t *testing.T) {
	s := openTestStore(t)

	n := &Node{Session: "s", Label: "SELECT", Name: "SELECT[25]",
		QualifiedName: "f.sql:SELECT:25", FilePath: "f.sql", StartLine: 25, EndLine: 28}
	id1, err := s.UpsertNode(n)
	if err != nil {
		t.Fatal(err)
	}

	n.Properties = map[string]any{"summary": "reads salaries"}
	id2, err := s.UpsertNode(n)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("upsert minted new id: %d != %d", id1, id2)
	}

	count, _ := s.CountNodes("s")
	if count != 1 {
		t.Fatalf("nodes = %d, want 1", count)
	}
	got, err := s.FindNodeByQN("s", "f.sql:SELECT:25")
	if err != nil || got == nil {
		t.Fatalf("find: %v", err)
	}
	if got.Properties["summary"] != "reads salaries" {
		t.Fatalf("properties not replaced: %v", got.Properties)
	}
}

func TestUpsertNodeStableIDAcrossLaterWrites(t *testing.T) {
	s := openTestStore(t)

	first, err := s.UpsertNode(&Node{Session: "s", Label: "Table", Name: "EMP", QualifiedName: "table:EMP"})
	if err != nil {
		t.Fatal(err)
	}

	// Advance the connection's last insert rowid with unrelated writes.
	var others []int64
	for i := 0; i < 5; i++ {
		id, err := s.UpsertNode(&Node{Session: "s", Label: "SELECT",
			Name: fmt.Sprintf("n%d", i), QualifiedName: fmt.Sprintf("q%d", i)})
		if err != nil {
			t.Fatal(err)
		}
		others = append(others, id)
	}
	if _, err := s.InsertEdge(&Edge{Session: "s", SourceID: others[0], TargetID: others[1], Type: "NEXT"}); err != nil {
		t.Fatal(err)
	}

	// A conflicting upsert must return the original row's id, not whatever
	// the connection inserted last.
	again, err := s.UpsertNode(&Node{Session: "s", Label: "Table", Name: "EMP",
		QualifiedName: "table:EMP", Properties: map[string]any{"summary": "employee data"}})
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("conflict upsert returned id %d, want %d", again, first)
	}
}

func TestMergeNodePropsPreservesExistingKeys(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UpsertNode(&Node{Session: "s", Label: "Table", Name: "EMP",
		QualifiedName: "table:EMP", Properties: map[string]any{"schema": "HR"}})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MergeNodeProps("s", "table:EMP", map[string]any{"summary": "employee data"}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.FindNodeByQN("s", "table:EMP")
	if got.Properties["schema"] != "HR" || got.Properties["summary"] != "employee data" {
		t.Fatalf("merged properties = %v", got.Properties)
	}

	// Merging onto a missing node is a no-op, not an error.
	if err := s.MergeNodeProps("s", "table:MISSING", map[string]any{"x": 1}); err != nil {
		t.Fatal(err)
	}
}

func TestUpsertNodeBatchReturnsAllIDs(t *testing.T) {
	s := openTestStore(t)

	var nodes []*Node
	for i := 0; i < 300; i++ {
		nodes = append(nodes, &Node{
			Session: "s", Label: "SELECT", Name: fmt.Sprintf("SELECT[%d]", i),
			QualifiedName: fmt.Sprintf("f.sql:SELECT:%d", i), FilePath: "f.sql",
		})
	}
	ids, err := s.UpsertNodeBatch(nodes)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 300 {
		t.Fatalf("ids = %d, want 300", len(ids))
	}

	// Replay converges: same ids, same row count.
	again, err := s.UpsertNodeBatch(nodes)
	if err != nil {
		t.Fatal(err)
	}
	for qn, id := range ids {
		if again[qn] != id {
			t.Fatalf("id changed on replay for %s: %d != %d", qn, again[qn], id)
		}
	}
	count, _ := s.CountNodes("s")
	if count != 300 {
		t.Fatalf("nodes = %d, want 300", count)
	}
}

func TestEdgeDedup(t *testing.T) {
	s := openTestStore(t)

	a, _ := s.UpsertNode(&Node{Session: "s", Label: "SELECT", Name: "a", QualifiedName: "a"})
	b, _ := s.UpsertNode(&Node{Session: "s", Label: "Table", Name: "b", QualifiedName: "b"})

	for i := 0; i < 3; i++ {
		if _, err := s.InsertEdge(&Edge{Session: "s", SourceID: a, TargetID: b, Type: "FROM"}); err != nil {
			t.Fatal(err)
		}
	}
	count, _ := s.CountEdgesByType("s", "FROM")
	if count != 1 {
		t.Fatalf("FROM edges = %d, want 1", count)
	}

	if err := s.InsertEdgeBatch([]*Edge{
		{Session: "s", SourceID: a, TargetID: b, Type: "FROM"},
		{Session: "s", SourceID: a, TargetID: b, Type: "WRITES"},
	}); err != nil {
		t.Fatal(err)
	}
	total, _ := s.CountEdges("s")
	if total != 2 {
		t.Fatalf("edges = %d, want 2", total)
	}

	edges, err := s.FindEdgesBySource(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Fatalf("edges by source = %d, want 2", len(edges))
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	err := s.WithTransaction(func(tx *Store) error {
		if _, err := tx.UpsertNode(&Node{Session: "s", Label: "SELECT", Name: "x", QualifiedName: "x"}); err != nil {
			return err
		}
		return fmt.Errorf("forced failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	count, _ := s.CountNodes("s")
	if count != 0 {
		t.Fatalf("rollback left %d nodes", count)
	}
}

func TestFileHashLifecycle(t *testing.T) {
	s := openTestStore(t)

	h, err := s.FileHash("s", "hr/PAYROLL.sql")
	if err != nil || h != "" {
		t.Fatalf("unset hash = %q, %v", h, err)
	}
	if err := s.SetFileHash("s", "hr/PAYROLL.sql", "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFileHash("s", "hr/PAYROLL.sql", "def456"); err != nil {
		t.Fatal(err)
	}
	h, _ = s.FileHash("s", "hr/PAYROLL.sql")
	if h != "def456" {
		t.Fatalf("hash = %q, want def456", h)
	}
}

func TestNodeExistsAndDeleteByFile(t *testing.T) {
	s := openTestStore(t)

	exists, _ := s.NodeExists("s", "f.sql")
	if exists {
		t.Fatal("exists before insert")
	}
	if _, err := s.UpsertNode(&Node{Session: "s", Label: "SELECT", Name: "n", QualifiedName: "q", FilePath: "f.sql"}); err != nil {
		t.Fatal(err)
	}
	exists, _ = s.NodeExists("s", "f.sql")
	if !exists {
		t.Fatal("missing after insert")
	}

	if err := s.DeleteNodesByFile("s", "f.sql"); err != nil {
		t.Fatal(err)
	}
	exists, _ = s.NodeExists("s", "f.sql")
	if exists {
		t.Fatal("still exists after delete")
	}
}

func TestFindNodesByLabelAndName(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.UpsertNode(&Node{Session: "s", Label: "Variable", Name: "v_total",
			QualifiedName: fmt.Sprintf("v%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	byLabel, err := s.FindNodesByLabel("s", "Variable")
	if err != nil || len(byLabel) != 3 {
		t.Fatalf("by label = %d, %v", len(byLabel), err)
	}
	byName, err := s.FindNodesByName("s", "v_total")
	if err != nil || len(byName) != 3 {
		t.Fatalf("by name = %d, %v", len(byName), err)
	}
}
