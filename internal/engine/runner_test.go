package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/graphein/plsql-insight/internal/source"
)

func writeSourceFile(t *testing.T, root, folder, name string, tree *source.Node, lines []string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatal(err)
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if err := os.WriteFile(filepath.Join(dir, base+".tree.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func flatSelectTree(n int) (*source.Node, []string) {
	root := &source.Node{Kind: "FILE", StartLine: 1, EndLine: n * 2}
	lines := make([]string, n*2)
	for i := 0; i < n; i++ {
		start := i*2 + 1
		root.Children = append(root.Children, &source.Node{Kind: "SELECT", StartLine: start, EndLine: start + 1})
	}
	for i := range lines {
		lines[i] = fmt.Sprintf("select %d from dual;", i+1)
	}
	return root, lines
}

func TestRunnerSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	tree, lines := scenarioTree()
	writeSourceFile(t, root, "hr", "PAYROLL.sql", tree, lines)

	st := memStore(t)
	cfg := RunnerConfig{Session: "s", Project: "demo", SourceRoot: root}

	first := newScenarioFake()
	if err := NewRunner(cfg, st, first, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.payloads()) == 0 {
		t.Fatal("first run analyzed nothing")
	}
	if h, _ := st.FileHash("s", "hr/PAYROLL.sql"); h == "" {
		t.Fatal("file hash not recorded")
	}

	second := newScenarioFake()
	if err := NewRunner(cfg, st, second, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := len(second.payloads()); n != 0 {
		t.Fatalf("unchanged file re-analyzed %d batches", n)
	}

	// Content change invalidates the hash and forces re-analysis.
	lines[51] = "  ROLLBACK;"
	writeSourceFile(t, root, "hr", "PAYROLL.sql", tree, lines)

	third := newScenarioFake()
	if err := NewRunner(cfg, st, third, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(third.payloads()) == 0 {
		t.Fatal("changed file was not re-analyzed")
	}
}

func TestRunnerIsolatesFailingFiles(t *testing.T) {
	root := t.TempDir()
	badTree, badLines := scenarioTree()
	writeSourceFile(t, root, "hr", "PAYROLL.sql", badTree, badLines)
	goodTree, goodLines := flatSelectTree(3)
	writeSourceFile(t, root, "fin", "LEDGER.sql", goodTree, goodLines)

	st := memStore(t)
	fake := newScenarioFake()
	fake.failStart = 32 // only the payroll file contains this range

	err := NewRunner(RunnerConfig{Session: "s", SourceRoot: root}, st, fake, nil, nil).
		Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregate failure")
	}
	if !strings.Contains(err.Error(), "1 of 2 files failed") {
		t.Fatalf("error = %v", err)
	}

	// The healthy sibling completed and recorded its hash.
	if h, _ := st.FileHash("s", "fin/LEDGER.sql"); h == "" {
		t.Fatal("healthy file hash not recorded")
	}
	exists, err := st.NodeExists("s", "fin/LEDGER.sql")
	if err != nil || !exists {
		t.Fatalf("healthy file has no graph state: %v", err)
	}
	// The failing file must not be marked complete.
	if h, _ := st.FileHash("s", "hr/PAYROLL.sql"); h != "" {
		t.Fatal("failed file was marked complete")
	}
}

func TestRunnerSkipsFilesWithoutTree(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "hr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ORPHAN.sql"), []byte("select 1;"), 0o600); err != nil {
		t.Fatal(err)
	}

	st := memStore(t)
	if err := NewRunner(RunnerConfig{Session: "s", SourceRoot: root}, st, &fakeAnalyzer{}, nil, nil).
		Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
