// Package engine turns a parsed syntax tree into a dependency-respecting
// set of analysis batches, dispatches them to the semantic analyzer under
// bounded concurrency, and commits results to the graph store in strict
// batch-sequence order.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Construct kinds that denote an enclosing routine.
var routineKinds = map[string]bool{
	"PROCEDURE":             true,
	"FUNCTION":              true,
	"CREATE_PROCEDURE_BODY": true,
	"TRIGGER":               true,
}

// Structural wrappers are never sent to the analyzer; they are resolved the
// moment they are created.
var structuralKinds = map[string]bool{
	"CREATE_PROCEDURE_BODY": true,
	"FILE":                  true,
	"PROCEDURE":             true,
	"FUNCTION":              true,
	"DECLARE":               true,
	"TRIGGER":               true,
	"FOLDER":                true,
	"SPEC":                  true,
}

// Kinds excluded from sibling NEXT sequencing edges.
var noSequenceKinds = map[string]bool{
	"FUNCTION":         true,
	"PROCEDURE":        true,
	"PACKAGE_VARIABLE": true,
	"TRIGGER":          true,
}

// Data-manipulation kinds and the edge type each one contributes.
var dmlKinds = map[string]bool{
	"SELECT":            true,
	"INSERT":            true,
	"UPDATE":            true,
	"DELETE":            true,
	"MERGE":             true,
	"EXECUTE_IMMEDIATE": true,
	"FETCH":             true,
}

var dmlEdgeTypes = map[string]string{
	"SELECT":            "FROM",
	"FETCH":             "FROM",
	"UPDATE":            "WRITES",
	"INSERT":            "WRITES",
	"DELETE":            "WRITES",
	"MERGE":             "WRITES",
	"EXECUTE":           "EXECUTE",
	"EXECUTE_IMMEDIATE": "EXECUTE",
}

// Declaration kinds that get the dedicated variable analysis pass.
var variableKinds = map[string]bool{
	"PACKAGE_VARIABLE": true,
	"DECLARE":          true,
	"SPEC":             true,
}

var variableRoles = map[string]string{
	"PACKAGE_VARIABLE": "package global variable",
	"DECLARE":          "local declaration",
	"SPEC":             "routine parameter",
}

// Line is one numbered source line owned by a unit.
type Line struct {
	No   int
	Text string
}

// Unit is one syntactic construct, the scheduling granule. Units are
// created by the flattener in post-order and owned by the flat units slice;
// parent back-references are non-owning.
type Unit struct {
	ID         int
	Kind       string
	StartLine  int
	EndLine    int
	Lines      []Line
	Tokens     int
	Analyzable bool
	DML        bool

	ProcKey  string
	ProcKind string
	ProcName string
	Schema   string

	Parent   *Unit
	Children []*Unit

	// Summary is written by the applier before Resolve; readers must
	// observe Resolved first.
	Summary string

	resolveOnce sync.Once
	done        chan struct{}
}

func newUnit(id int, kind string, startLine, endLine int, lines []Line) *Unit {
	return &Unit{
		ID:        id,
		Kind:      kind,
		StartLine: startLine,
		EndLine:   endLine,
		Lines:     lines,
		done:      make(chan struct{}),
	}
}

// Resolve settles the unit's completion signal. Set exactly once, by the
// applier (or at creation for non-analyzable units).
func (u *Unit) Resolve() {
	u.resolveOnce.Do(func() { close(u.done) })
}

// Resolved returns a channel closed once the unit's result is durably
// committed.
func (u *Unit) Resolved() <-chan struct{} {
	return u.done
}

// IsResolved reports whether the completion signal is set.
func (u *Unit) IsResolved() bool {
	select {
	case <-u.done:
		return true
	default:
		return false
	}
}

// RawCode returns the unit's numbered source text.
func (u *Unit) RawCode() string {
	var sb strings.Builder
	for i, line := range u.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d: %s", line.No, line.Text)
	}
	return sb.String()
}

// CompactCode returns the unit's source with each child's line range
// replaced by that child's summary. Children without a summary yet get a
// placeholder; callers wanting real summaries must wait for resolution.
func (u *Unit) CompactCode() string {
	if len(u.Children) == 0 {
		return u.RawCode()
	}

	children := make([]*Unit, len(u.Children))
	copy(children, u.Children)
	sort.Slice(children, func(i, j int) bool { return children[i].StartLine < children[j].StartLine })

	var out []string
	idx := 0
	total := len(u.Lines)

	for _, child := range children {
		for idx < total && u.Lines[idx].No < child.StartLine {
			out = append(out, fmt.Sprintf("%d: %s", u.Lines[idx].No, u.Lines[idx].Text))
			idx++
		}

		summary := strings.TrimSpace(child.Summary)
		if summary == "" {
			summary = "... code ..."
		}
		for offset, part := range strings.Split(summary, "\n") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, fmt.Sprintf("%d: %s", child.StartLine+offset, part))
		}

		for idx < total && u.Lines[idx].No <= child.EndLine {
			idx++
		}
	}

	for idx < total {
		out = append(out, fmt.Sprintf("%d: %s", u.Lines[idx].No, u.Lines[idx].Text))
		idx++
	}

	return strings.Join(out, "\n")
}

// Procedure is one enclosing routine. Pending counts analyzable descendants
// not yet committed; it is mutated only by the flattener (setup) and the
// applier (single goroutine), never concurrently.
type Procedure struct {
	Key       string
	Kind      string
	Name      string
	Schema    string
	StartLine int
	EndLine   int

	pending   int
	finalized bool
	summaries map[string]string
}

func (p *Procedure) recordSummary(key, summary string) {
	if p.summaries == nil {
		p.summaries = map[string]string{}
	}
	p.summaries[key] = summary
}
