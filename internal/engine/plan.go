package engine

import (
	"strings"

	"github.com/graphein/plsql-insight/internal/analyzer"
)

// Batch is one unit of dispatch. Seq defines commit order; it, not arrival
// time, is the ordering key for everything downstream.
type Batch struct {
	Seq   int
	Units []*Unit
	// Tokens is the aggregate size of the member units.
	Tokens int
	// ProgressLine is the max end line across members, reported on commit.
	ProgressLine int
}

// IsParent reports whether this is a singleton batch for a unit with
// children, deferred until every child is resolved.
func (b *Batch) IsParent() bool {
	return len(b.Units) == 1 && len(b.Units[0].Children) > 0
}

// Ranges returns one LineRange per member unit, in order.
func (b *Batch) Ranges() []analyzer.LineRange {
	out := make([]analyzer.LineRange, 0, len(b.Units))
	for _, u := range b.Units {
		out = append(out, analyzer.LineRange{StartLine: u.StartLine, EndLine: u.EndLine})
	}
	return out
}

// GeneralPayload builds the analyzer input: compact code for parents (child
// summaries spliced in), raw code for leaves.
func (b *Batch) GeneralPayload() string {
	parts := make([]string, 0, len(b.Units))
	for _, u := range b.Units {
		parts = append(parts, u.CompactCode())
	}
	return strings.Join(parts, "\n\n")
}

// TablePayload builds the data-manipulation input and its ranges. Empty
// when the batch has no DML members; the table-facts call is skipped then.
func (b *Batch) TablePayload() (string, []analyzer.LineRange) {
	var parts []string
	var ranges []analyzer.LineRange
	for _, u := range b.Units {
		if !u.DML {
			continue
		}
		parts = append(parts, u.RawCode())
		ranges = append(ranges, analyzer.LineRange{StartLine: u.StartLine, EndLine: u.EndLine, Kind: u.Kind})
	}
	return strings.Join(parts, "\n\n"), ranges
}

// Planner groups analyzable units into batches under a token budget.
type Planner struct {
	// Budget is the leaf-batch token limit. A single unit whose own size
	// exceeds it still forms its own batch.
	Budget int
}

// Plan walks units in flattener order and emits batches with sequence
// numbers equal to their emission position (1-based). A unit with children
// is never mixed into a leaf batch: it becomes its own singleton batch,
// which post-order emission guarantees a higher sequence number than every
// descendant's batch.
func (p *Planner) Plan(units []*Unit) []*Batch {
	var batches []*Batch
	var open []*Unit
	openTokens := 0

	flush := func() {
		if len(open) == 0 {
			return
		}
		batches = append(batches, makeBatch(len(batches)+1, open))
		open = nil
		openTokens = 0
	}

	for _, u := range units {
		if !u.Analyzable {
			continue
		}

		if len(u.Children) > 0 {
			flush()
			batches = append(batches, makeBatch(len(batches)+1, []*Unit{u}))
			continue
		}

		if len(open) > 0 && openTokens+u.Tokens > p.Budget {
			flush()
		}
		open = append(open, u)
		openTokens += u.Tokens
	}
	flush()

	return batches
}

func makeBatch(seq int, units []*Unit) *Batch {
	tokens := 0
	progress := 0
	for _, u := range units {
		tokens += u.Tokens
		if u.EndLine > progress {
			progress = u.EndLine
		}
	}
	members := make([]*Unit, len(units))
	copy(members, units)
	return &Batch{Seq: seq, Units: members, Tokens: tokens, ProgressLine: progress}
}
