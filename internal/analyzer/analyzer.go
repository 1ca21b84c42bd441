// Package analyzer talks to the remote semantic analyzer. The analyzer is
// opaque, slow and fallible; callers bound its concurrency and treat every
// call as independently failing.
package analyzer

import "context"

// LineRange identifies one statement unit inside a batch payload.
type LineRange struct {
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Kind      string `json:"type,omitempty"`
}

// UnitAnalysis is the general-semantics result for one statement unit.
// Results are positionally aligned with the submitted ranges.
type UnitAnalysis struct {
	Summary   string   `json:"summary"`
	Variables []string `json:"variables"`
	Calls     []string `json:"calls"`
}

// ColumnFact describes one column referenced by a data-manipulation unit.
type ColumnFact struct {
	Name        string `json:"name"`
	DType       string `json:"dtype"`
	Description string `json:"description"`
	Nullable    bool   `json:"nullable"`
}

// DBLink describes a remote table reference through a database link.
type DBLink struct {
	Name string `json:"name"`
	Mode string `json:"mode"` // "r" or "w"
}

// ForeignKey describes a foreign-key relation discovered in a statement.
type ForeignKey struct {
	SourceTable  string `json:"sourceTable"`
	SourceColumn string `json:"sourceColumn"`
	TargetTable  string `json:"targetTable"`
	TargetColumn string `json:"targetColumn"`
}

// TableFact is the table-metadata result for one data-manipulation unit.
type TableFact struct {
	StartLine   int          `json:"startLine"`
	EndLine     int          `json:"endLine"`
	DMLKind     string       `json:"dmlType"`
	Table       string       `json:"table"`
	Description string       `json:"tableDescription"`
	Columns     []ColumnFact `json:"columns"`
	Links       []DBLink     `json:"dbLinks"`
	ForeignKeys []ForeignKey `json:"fkRelations"`
}

// VariableDecl is one declared variable or parameter.
type VariableDecl struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	ParameterType string `json:"parameter_type"`
	Value         string `json:"value"`
}

// VariableAnalysis is the result of analyzing a declaration block.
type VariableAnalysis struct {
	Summary   string         `json:"summary"`
	Variables []VariableDecl `json:"variables"`
}

// TableSummary is the rollup result for one table's accumulated facts.
type TableSummary struct {
	Description string `json:"tableDescription"`
	Columns     []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"columns"`
}

// Analyzer is the boundary the scheduling engine depends on. Each call may
// fail independently; nothing is retried here.
type Analyzer interface {
	// AnalyzeGeneral returns one UnitAnalysis per submitted range, in
	// range order.
	AnalyzeGeneral(ctx context.Context, payload string, ranges []LineRange) ([]UnitAnalysis, error)
	// AnalyzeTableFacts extracts table/column/foreign-key facts for the
	// data-manipulation ranges of a batch.
	AnalyzeTableFacts(ctx context.Context, payload string, ranges []LineRange) ([]TableFact, error)
	// SummarizeAggregate produces a routine-level summary from the
	// accumulated summaries of its descendants.
	SummarizeAggregate(ctx context.Context, summaries map[string]string) (string, error)
	// AnalyzeVariables extracts declared variables from a declaration block.
	AnalyzeVariables(ctx context.Context, code string) (*VariableAnalysis, error)
	// SummarizeTable condenses accumulated table/column description
	// sentences into one narrative per table and column.
	SummarizeTable(ctx context.Context, table string, descriptions []string, columns map[string][]string) (*TableSummary, error)
}
