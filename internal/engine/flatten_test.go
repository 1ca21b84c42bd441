package engine

import (
	"strings"
	"testing"
)

func TestFlattenPostOrder(t *testing.T) {
	root, lines := scenarioTree()
	units, procs := NewFlattener("hr", "hr/PAYROLL.sql", lines).Flatten(root)

	var kinds []string
	for _, u := range units {
		kinds = append(kinds, u.Kind)
	}
	want := []string{"DECLARE", "SELECT", "INSERT", "IF", "COMMIT", "PROCEDURE", "FILE"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("flatten order = %v, want %v", kinds, want)
	}

	byKind := map[string]*Unit{}
	for _, u := range units {
		byKind[u.Kind] = u
	}

	for _, kind := range []string{"SELECT", "INSERT", "IF", "COMMIT"} {
		if !byKind[kind].Analyzable {
			t.Fatalf("%s should be analyzable", kind)
		}
		if byKind[kind].IsResolved() {
			t.Fatalf("%s resolved before commit", kind)
		}
	}
	for _, kind := range []string{"DECLARE", "PROCEDURE", "FILE"} {
		if byKind[kind].Analyzable {
			t.Fatalf("%s should not be analyzable", kind)
		}
		if !byKind[kind].IsResolved() {
			t.Fatalf("%s should resolve at creation", kind)
		}
	}

	if byKind["INSERT"].Parent != byKind["IF"] {
		t.Fatal("insert should back-reference the branch")
	}
	if len(byKind["IF"].Children) != 1 {
		t.Fatalf("branch children = %d, want 1", len(byKind["IF"].Children))
	}

	if len(procs) != 1 {
		t.Fatalf("procedures = %d, want 1", len(procs))
	}
	for _, proc := range procs {
		if proc.Name != "CALC_PAY" || proc.Schema != "HR" {
			t.Fatalf("procedure = %q schema %q, want CALC_PAY in HR", proc.Name, proc.Schema)
		}
		if proc.pending != 4 {
			t.Fatalf("pending = %d, want 4", proc.pending)
		}
	}

	// The routine context minted at the declaration propagates down into
	// nested constructs.
	if byKind["INSERT"].ProcKey == "" || byKind["INSERT"].ProcKey != byKind["SELECT"].ProcKey {
		t.Fatalf("nested insert lost routine context: %q vs %q",
			byKind["INSERT"].ProcKey, byKind["SELECT"].ProcKey)
	}
	if byKind["INSERT"].ProcName != "CALC_PAY" {
		t.Fatalf("insert ProcName = %q", byKind["INSERT"].ProcName)
	}

	for _, u := range units {
		if u.Tokens <= 0 {
			t.Fatalf("%s has no token estimate", u.Kind)
		}
	}
}

func TestRoutineNameFromCode(t *testing.T) {
	cases := []struct {
		code   string
		schema string
		name   string
	}{
		{"1: CREATE OR REPLACE PROCEDURE HR.CALC_PAY AS", "HR", "CALC_PAY"},
		{`1: CREATE OR REPLACE FUNCTION "HR"."PKG"."FN" RETURN NUMBER`, "HR", "PKG.FN"},
		{"1: PROCEDURE local_helper IS", "", "local_helper"},
		{"1: CREATE TRIGGER audit_trg BEFORE INSERT ON emp", "", "audit_trg"},
		{"1: BEGIN", "", ""},
	}
	for _, c := range cases {
		schema, name := routineNameFromCode(c.code)
		if schema != c.schema || name != c.name {
			t.Errorf("routineNameFromCode(%q) = (%q, %q), want (%q, %q)",
				c.code, schema, name, c.schema, c.name)
		}
	}
}

func TestCompactCodeSplicesChildSummaries(t *testing.T) {
	root, lines := scenarioTree()
	units, _ := NewFlattener("hr", "hr/PAYROLL.sql", lines).Flatten(root)

	var branch, insert *Unit
	for _, u := range units {
		switch u.Kind {
		case "IF":
			branch = u
		case "INSERT":
			insert = u
		}
	}

	// Before the child commits, a placeholder stands in.
	if !strings.Contains(branch.CompactCode(), "... code ...") {
		t.Fatal("unresolved child should render as placeholder")
	}

	insert.Summary = "logs the payment"
	compact := branch.CompactCode()
	if !strings.Contains(compact, "32: logs the payment") {
		t.Fatalf("compact code lacks spliced summary:\n%s", compact)
	}
	if strings.Contains(compact, "INSERT INTO hr.pay_log") {
		t.Fatalf("compact code still carries raw child code:\n%s", compact)
	}
	if !strings.Contains(compact, "30:") || !strings.Contains(compact, "50:") {
		t.Fatalf("compact code lost the parent's own lines:\n%s", compact)
	}
}
