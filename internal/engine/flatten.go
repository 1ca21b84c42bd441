package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/graphein/plsql-insight/internal/source"
	"github.com/graphein/plsql-insight/internal/token"
)

// routineNamePattern matches CREATE [OR REPLACE] PROCEDURE/FUNCTION/TRIGGER
// followed by an up-to-three-part dotted, possibly quoted identifier.
var routineNamePattern = regexp.MustCompile(
	`(?i)\b(?:CREATE\s+(?:OR\s+REPLACE\s+)?)?(?:PROCEDURE|FUNCTION|TRIGGER)\s+` +
		`((?:"[^"]+"|[A-Za-z_][\w$#]*)(?:\s*\.\s*(?:"[^"]+"|[A-Za-z_][\w$#]*)){0,2})`)

var linePrefixPattern = regexp.MustCompile(`^\d+\s*:\s*`)

// routineNameFromCode extracts (schema, name) from a routine declaration.
// A three-part identifier yields schema plus package-qualified name.
func routineNameFromCode(code string) (schema, name string) {
	var cleaned []string
	for _, line := range strings.Split(code, "\n") {
		cleaned = append(cleaned, linePrefixPattern.ReplaceAllString(line, ""))
	}
	match := routineNamePattern.FindStringSubmatch(strings.Join(cleaned, "\n"))
	if match == nil {
		return "", ""
	}
	var parts []string
	for _, seg := range regexp.MustCompile(`\s*\.\s*`).Split(match[1], -1) {
		parts = append(parts, strings.Trim(strings.TrimSpace(seg), `"`))
	}
	switch len(parts) {
	case 3:
		return parts[0], parts[1] + "." + parts[2]
	case 2:
		return parts[0], parts[1]
	case 1:
		return "", parts[0]
	}
	return "", ""
}

// Flattener walks the parsed tree once in post-order, producing the ordered
// unit list and per-routine bookkeeping. The output order (descendants
// before ancestors, unrelated subtrees in tree order) is reused unchanged
// as the basis for batch sequence numbering.
type Flattener struct {
	folder string
	file   string
	lines  []string

	units  []*Unit
	procs  map[string]*Procedure
	nextID int
}

// NewFlattener builds a flattener over one file's source lines.
func NewFlattener(folder, file string, lines []string) *Flattener {
	return &Flattener{
		folder: folder,
		file:   file,
		lines:  lines,
		procs:  map[string]*Procedure{},
	}
}

// Flatten materializes every tree node as a Unit and returns units in
// traversal order plus the routine map.
func (f *Flattener) Flatten(root *source.Node) ([]*Unit, map[string]*Procedure) {
	f.visit(root, procContext{})
	return f.units, f.procs
}

type procContext struct {
	key    string
	kind   string
	name   string
	schema string
}

func (f *Flattener) procKey(name string, startLine int) string {
	base := name
	if base == "" {
		base = fmt.Sprintf("anonymous_%d", startLine)
	}
	return fmt.Sprintf("%s:%s:%s:%d", f.folder, f.file, base, startLine)
}

func (f *Flattener) sliceLines(startLine, endLine int) []Line {
	out := make([]Line, 0, endLine-startLine+1)
	for no := startLine; no <= endLine; no++ {
		text := ""
		if no-1 >= 0 && no-1 < len(f.lines) {
			text = f.lines[no-1]
		}
		out = append(out, Line{No: no, Text: text})
	}
	return out
}

func (f *Flattener) visit(node *source.Node, ctx procContext) *Unit {
	lines := f.sliceLines(node.StartLine, node.EndLine)

	// Routine declarations mint their ProcedureInfo before descending so
	// the key propagates as context to every descendant.
	if routineKinds[node.Kind] {
		raw := rawCode(lines)
		schema, name := routineNameFromCode(raw)
		key := f.procKey(name, node.StartLine)
		if _, ok := f.procs[key]; !ok {
			displayName := name
			if displayName == "" {
				displayName = key
			}
			f.procs[key] = &Procedure{
				Key:       key,
				Kind:      node.Kind,
				Name:      displayName,
				Schema:    schema,
				StartLine: node.StartLine,
				EndLine:   node.EndLine,
			}
		}
		ctx = procContext{key: key, kind: node.Kind, name: f.procs[key].Name, schema: schema}
	}

	var children []*Unit
	for _, child := range node.Children {
		if child == nil {
			continue
		}
		children = append(children, f.visit(child, ctx))
	}

	f.nextID++
	u := newUnit(f.nextID, node.Kind, node.StartLine, node.EndLine, lines)
	// Declaration blocks are covered by the dedicated variable pass and
	// never enter general batches.
	u.Analyzable = !structuralKinds[node.Kind] && !variableKinds[node.Kind]
	u.DML = dmlKinds[node.Kind]
	u.ProcKey = ctx.key
	u.ProcKind = ctx.kind
	u.ProcName = ctx.name
	u.Schema = ctx.schema
	u.Tokens = token.Count(u.RawCode())

	for _, child := range children {
		child.Parent = u
	}
	u.Children = children

	if u.Analyzable && ctx.key != "" {
		if proc, ok := f.procs[ctx.key]; ok {
			proc.pending++
		}
	} else if !u.Analyzable {
		// Structural wrappers resolve at creation and never contribute
		// to a routine's pending count.
		u.Resolve()
	}

	f.units = append(f.units, u)
	return u
}

func rawCode(lines []Line) string {
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d: %s", line.No, line.Text)
	}
	return sb.String()
}
