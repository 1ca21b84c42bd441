package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileRefPaths(t *testing.T) {
	ref := FileRef{Root: "/data", Folder: "hr", Name: "PAYROLL.sql"}
	if got := ref.SourcePath(); got != filepath.Join("/data", "hr", "PAYROLL.sql") {
		t.Fatalf("SourcePath = %q", got)
	}
	if got := ref.TreePath(); got != filepath.Join("/data", "hr", "PAYROLL.tree.json") {
		t.Fatalf("TreePath = %q", got)
	}
	if got := ref.RelPath(); got != "hr/PAYROLL.sql" {
		t.Fatalf("RelPath = %q", got)
	}
}

func TestLoadTreeAndSource(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "hr")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	tree := `{"type":"FILE","startLine":1,"endLine":3,"children":[
		{"type":"SELECT","startLine":2,"endLine":2}]}`
	if err := os.WriteFile(filepath.Join(dir, "PAYROLL.tree.json"), []byte(tree), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "PAYROLL.sql"), []byte("BEGIN\r\nSELECT 1;\r\nEND;"), 0o600); err != nil {
		t.Fatal(err)
	}

	ref := FileRef{Root: root, Folder: "hr", Name: "PAYROLL.sql"}
	node, err := LoadTree(ref)
	if err != nil {
		t.Fatalf("LoadTree: %v", err)
	}
	if node.Kind != "FILE" || len(node.Children) != 1 || node.Children[0].Kind != "SELECT" {
		t.Fatalf("tree = %+v", node)
	}

	lines, err := LoadSource(ref)
	if err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	if len(lines) != 3 || lines[1] != "SELECT 1;" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestLoadMissingArtifacts(t *testing.T) {
	ref := FileRef{Root: t.TempDir(), Folder: "hr", Name: "MISSING.sql"}

	if _, err := LoadTree(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadTree error = %v, want ErrNotFound", err)
	}
	if _, err := LoadSource(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadSource error = %v, want ErrNotFound", err)
	}
}
