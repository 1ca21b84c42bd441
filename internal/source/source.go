// Package source loads the parsed syntax tree and raw text for one
// procedural source file. Trees are produced by an external parser and
// stored next to the source as <name>.tree.json.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound reports a missing tree or source artifact. Missing inputs are
// fatal for the file before any scheduling begins.
var ErrNotFound = errors.New("source artifact not found")

// Node is one construct of the parsed syntax tree.
type Node struct {
	Kind      string  `json:"type"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Children  []*Node `json:"children"`
}

// FileRef identifies one source file below a project root.
type FileRef struct {
	Root   string // absolute project root
	Folder string // folder name below root
	Name   string // file name, e.g. PAYROLL.sql
}

// SourcePath returns the absolute path of the raw source file.
func (r FileRef) SourcePath() string {
	return filepath.Join(r.Root, r.Folder, r.Name)
}

// TreePath returns the absolute path of the parsed tree artifact.
func (r FileRef) TreePath() string {
	base := strings.TrimSuffix(r.Name, filepath.Ext(r.Name))
	return filepath.Join(r.Root, r.Folder, base+".tree.json")
}

// RelPath returns the folder-qualified name used as the file identity in
// the graph store.
func (r FileRef) RelPath() string {
	return r.Folder + "/" + r.Name
}

// LoadTree reads and decodes the parsed tree for ref.
func LoadTree(ref FileRef) (*Node, error) {
	data, err := os.ReadFile(ref.TreePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("tree %s: %w", ref.TreePath(), ErrNotFound)
		}
		return nil, fmt.Errorf("read tree: %w", err)
	}
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", ref.TreePath(), err)
	}
	return &root, nil
}

// LoadSource reads the raw source and returns its lines in order.
func LoadSource(ref FileRef) ([]string, error) {
	data, err := os.ReadFile(ref.SourcePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source %s: %w", ref.SourcePath(), ErrNotFound)
		}
		return nil, fmt.Errorf("read source: %w", err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.Split(text, "\n"), nil
}
