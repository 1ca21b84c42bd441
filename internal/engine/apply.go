package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/graphein/plsql-insight/internal/analyzer"
	"github.com/graphein/plsql-insight/internal/store"
)

// BatchResult carries one analyzed batch from a worker to the applier.
// General is positionally aligned with Batch.Units; Tables covers only the
// data-manipulation members.
type BatchResult struct {
	Batch   *Batch
	General []analyzer.UnitAnalysis
	Tables  []analyzer.TableFact
}

// tableBucket accumulates per-statement table descriptions across a file so
// the rollup pass can condense them into one narrative per table.
type tableBucket struct {
	qn      string
	schema  string
	name    string
	descs   []string
	columns map[string][]string
}

// applier is the single goroutine that commits batch results in strict
// sequence order. Results may arrive in any order; a reorder buffer holds
// early arrivals until their turn. Only the applier resolves units, mutates
// procedure pending counts, or emits progress events, so none of that state
// needs locking.
type applier struct {
	session string
	folder  string
	file    string
	runID   string

	st   *store.Store
	az   analyzer.Analyzer
	sink Sink
	log  *slog.Logger

	procs map[string]*Procedure
	// ids maps qualified name to node ID for everything already written:
	// the static pass seeds it, commits extend it.
	ids map[string]int64

	results chan *BatchResult
	done    chan struct{}
	// failed closes on the first commit error so dependency waits and
	// submitters unblock instead of waiting on units that will never
	// resolve.
	failed chan struct{}

	next      int
	pending   map[int]*BatchResult
	maxLine   int
	totalLine int

	tables map[string]*tableBucket

	err error
}

func newApplier(session, folder, file, runID string, st *store.Store, az analyzer.Analyzer, sink Sink, log *slog.Logger, procs map[string]*Procedure, ids map[string]int64, totalLine int) *applier {
	return &applier{
		session:   session,
		folder:    folder,
		file:      file,
		runID:     runID,
		st:        st,
		az:        az,
		sink:      sink,
		log:       log,
		procs:     procs,
		ids:       ids,
		results:   make(chan *BatchResult),
		done:      make(chan struct{}),
		failed:    make(chan struct{}),
		next:      1,
		pending:   map[int]*BatchResult{},
		tables:    map[string]*tableBucket{},
		totalLine: totalLine,
	}
}

// submit hands a result to the applier. Blocks until accepted, the applier
// fails, or ctx ends.
func (a *applier) submit(ctx context.Context, r *BatchResult) error {
	select {
	case a.results <- r:
		return nil
	case <-a.failed:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abort records the first fatal error and signals it. Called only from the
// drain goroutine, so err is visible to anyone observing the closed channel.
func (a *applier) abort(err error) {
	if a.err != nil {
		return
	}
	a.err = err
	close(a.failed)
}

// close signals that no further results will arrive.
func (a *applier) close() {
	close(a.results)
}

// wait blocks until the drain loop exits and returns its error, if any.
func (a *applier) wait() error {
	<-a.done
	return a.err
}

// run drains the results channel, buffering out-of-order arrivals and
// committing strictly by sequence number. After the first failure it keeps
// draining (so workers never block on submit) but commits nothing more.
func (a *applier) run(ctx context.Context) {
	defer close(a.done)

	for r := range a.results {
		if a.err != nil {
			continue
		}
		seq := r.Batch.Seq
		if seq < a.next {
			a.abort(&OrderingViolation{Seq: seq, Next: a.next, Reason: "sequence already committed"})
			continue
		}
		if _, dup := a.pending[seq]; dup {
			a.abort(&OrderingViolation{Seq: seq, Next: a.next, Reason: "duplicate sequence"})
			continue
		}
		a.pending[seq] = r

		for {
			ready, ok := a.pending[a.next]
			if !ok {
				break
			}
			delete(a.pending, a.next)
			if err := a.commit(ctx, ready); err != nil {
				a.abort(err)
				break
			}
			a.next++
		}
	}
}

// commit writes one batch's results to the graph atomically, resolves its
// units, updates routine bookkeeping and emits a progress event.
func (a *applier) commit(ctx context.Context, r *BatchResult) error {
	b := r.Batch
	if len(r.General) != len(b.Units) {
		return &OrderingViolation{Seq: b.Seq, Next: a.next,
			Reason: fmt.Sprintf("result count %d does not match unit count %d", len(r.General), len(b.Units))}
	}

	var delta GraphDelta
	err := a.st.WithTransaction(func(tx *store.Store) error {
		for i, u := range b.Units {
			u.Summary = strings.TrimSpace(r.General[i].Summary)
			if err := a.commitUnit(tx, &delta, u, &r.General[i]); err != nil {
				return err
			}
		}
		return a.commitTableFacts(tx, &delta, b, r.Tables)
	})
	if err != nil {
		return &StoreWriteError{Op: fmt.Sprintf("batch %d", b.Seq), Err: err}
	}

	// Resolution happens only after the transaction is durable, so waiters
	// never observe a summary that could still be rolled back.
	for _, u := range b.Units {
		u.Resolve()
	}

	if err := a.settleProcedures(ctx, b); err != nil {
		return err
	}

	if b.ProgressLine > a.maxLine {
		a.maxLine = b.ProgressLine
	}
	a.emitProgress(delta)
	a.log.Debug("engine.batch.committed",
		"file", a.file, "seq", b.Seq, "units", len(b.Units),
		"line", a.maxLine, "nodes", delta.Nodes, "edges", delta.Edges)
	return nil
}

func (a *applier) emitProgress(delta GraphDelta) {
	percent := 100.0
	if a.totalLine > 0 {
		percent = float64(a.maxLine) / float64(a.totalLine) * 100
		if percent > 100 {
			percent = 100
		}
	}
	a.sink.Emit(Event{
		RunID:   a.runID,
		File:    a.file,
		Kind:    EventProgress,
		Line:    a.maxLine,
		Percent: percent,
		Delta:   delta,
	})
}

// commitUnit merges the unit's summary onto its construct node and links the
// variables it uses and the routines it calls.
func (a *applier) commitUnit(tx *store.Store, delta *GraphDelta, u *Unit, res *analyzer.UnitAnalysis) error {
	qn := unitQN(a.file, u.Kind, u.StartLine)
	unitID, ok := a.ids[qn]
	if !ok {
		return fmt.Errorf("construct node missing for %s", qn)
	}
	props := map[string]any{"summary": u.Summary, "analyzed_at": store.Now()}
	if err := tx.MergeNodeProps(a.session, qn, props); err != nil {
		return err
	}

	for _, name := range res.Variables {
		varID, ok := a.lookupVariable(u, name)
		if !ok {
			continue
		}
		if err := a.insertEdge(tx, delta, unitID, varID, "USES", nil); err != nil {
			return err
		}
	}

	for _, call := range res.Calls {
		targetID, err := a.resolveCall(tx, delta, call)
		if err != nil {
			return err
		}
		if targetID == 0 {
			continue
		}
		if err := a.insertEdge(tx, delta, unitID, targetID, "CALL", nil); err != nil {
			return err
		}
	}
	return nil
}

// lookupVariable finds a declared variable by name, preferring the unit's
// own routine scope over package scope. Unknown names are skipped; the
// analyzer sometimes reports record fields or built-ins as variables.
func (a *applier) lookupVariable(u *Unit, name string) (int64, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, false
	}
	if u.ProcKey != "" {
		if id, ok := a.ids[variableQN(a.file, u.ProcKey, name)]; ok {
			return id, true
		}
	}
	id, ok := a.ids[variableQN(a.file, "package", name)]
	return id, ok
}

// resolveCall maps a reported call to a routine node. Package-qualified
// names that resolve nowhere in the session become external stub nodes so
// cross-package edges survive until the other package is analyzed.
func (a *applier) resolveCall(tx *store.Store, delta *GraphDelta, call string) (int64, error) {
	call = strings.TrimSpace(call)
	if call == "" {
		return 0, nil
	}
	upper := strings.ToUpper(call)

	matches, err := tx.FindNodesByName(a.session, upper)
	if err != nil {
		return 0, err
	}
	for _, n := range matches {
		if routineKinds[n.Label] {
			return n.ID, nil
		}
	}

	dot := strings.LastIndex(upper, ".")
	if dot <= 0 {
		return 0, nil
	}
	pkg, name := upper[:dot], upper[dot+1:]
	return a.upsertNode(tx, delta, &store.Node{
		Session:       a.session,
		Label:         "PROCEDURE",
		Name:          upper,
		QualifiedName: externalRoutineQN(pkg, name),
		Properties:    map[string]any{"scope": "external"},
	})
}

// commitTableFacts writes table, column, database-link and foreign-key
// facts for the batch's data-manipulation members and accumulates rollup
// input.
func (a *applier) commitTableFacts(tx *store.Store, delta *GraphDelta, b *Batch, facts []analyzer.TableFact) error {
	if len(facts) == 0 {
		return nil
	}
	byStart := make(map[int]*Unit, len(b.Units))
	for _, u := range b.Units {
		byStart[u.StartLine] = u
	}

	for i := range facts {
		fact := &facts[i]
		u, ok := byStart[fact.StartLine]
		if !ok || strings.TrimSpace(fact.Table) == "" {
			continue
		}
		unitID := a.ids[unitQN(a.file, u.Kind, u.StartLine)]

		schema, table, link := parseTableIdentifier(fact.Table)
		tableID, err := a.ensureTable(tx, delta, schema, table)
		if err != nil {
			return err
		}

		edgeType, ok := dmlEdgeTypes[strings.ToUpper(fact.DMLKind)]
		if !ok {
			edgeType = dmlEdgeTypes[u.Kind]
		}
		if edgeType == "" {
			edgeType = "FROM"
		}
		if err := a.insertEdge(tx, delta, unitID, tableID, edgeType, nil); err != nil {
			return err
		}

		bucket := a.bucketFor(schema, table)
		if d := strings.TrimSpace(fact.Description); d != "" {
			bucket.descs = append(bucket.descs, d)
		}

		for _, col := range fact.Columns {
			if strings.TrimSpace(col.Name) == "" {
				continue
			}
			colID, err := a.ensureColumn(tx, delta, schema, table, col)
			if err != nil {
				return err
			}
			if err := a.insertEdge(tx, delta, tableID, colID, "HAS_COLUMN", nil); err != nil {
				return err
			}
			if d := strings.TrimSpace(col.Description); d != "" {
				key := strings.ToLower(col.Name)
				bucket.columns[key] = append(bucket.columns[key], d)
			}
		}

		links := fact.Links
		if link != "" {
			links = append(links, analyzer.DBLink{Name: link, Mode: "r"})
		}
		for _, l := range links {
			if strings.TrimSpace(l.Name) == "" {
				continue
			}
			linkID, err := a.upsertNode(tx, delta, &store.Node{
				Session:       a.session,
				Label:         "DbLink",
				Name:          strings.ToUpper(l.Name),
				QualifiedName: dbLinkQN(l.Name),
			})
			if err != nil {
				return err
			}
			if err := a.insertEdge(tx, delta, tableID, linkID, "DB_LINK", map[string]any{"mode": l.Mode}); err != nil {
				return err
			}
		}

		if err := a.commitForeignKeys(tx, delta, fact.ForeignKeys); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) commitForeignKeys(tx *store.Store, delta *GraphDelta, fks []analyzer.ForeignKey) error {
	for _, fk := range fks {
		srcSchema, srcTable, _ := parseTableIdentifier(fk.SourceTable)
		dstSchema, dstTable, _ := parseTableIdentifier(fk.TargetTable)
		if srcTable == "" || dstTable == "" {
			continue
		}
		srcTableID, err := a.ensureTable(tx, delta, srcSchema, srcTable)
		if err != nil {
			return err
		}
		dstTableID, err := a.ensureTable(tx, delta, dstSchema, dstTable)
		if err != nil {
			return err
		}
		if err := a.insertEdge(tx, delta, srcTableID, dstTableID, "FK_TO_TABLE", nil); err != nil {
			return err
		}
		if fk.SourceColumn == "" || fk.TargetColumn == "" {
			continue
		}
		srcColID, err := a.ensureColumn(tx, delta, srcSchema, srcTable, analyzer.ColumnFact{Name: fk.SourceColumn})
		if err != nil {
			return err
		}
		dstColID, err := a.ensureColumn(tx, delta, dstSchema, dstTable, analyzer.ColumnFact{Name: fk.TargetColumn})
		if err != nil {
			return err
		}
		if err := a.insertEdge(tx, delta, srcColID, dstColID, "FK_TO", nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) ensureTable(tx *store.Store, delta *GraphDelta, schema, table string) (int64, error) {
	qn := tableQN(schema, table)
	if id, ok := a.ids[qn]; ok {
		return id, nil
	}
	props := map[string]any{}
	if schema != "" {
		props["schema"] = strings.ToUpper(schema)
	}
	return a.upsertNode(tx, delta, &store.Node{
		Session:       a.session,
		Label:         "Table",
		Name:          strings.ToUpper(table),
		QualifiedName: qn,
		Properties:    props,
	})
}

func (a *applier) ensureColumn(tx *store.Store, delta *GraphDelta, schema, table string, col analyzer.ColumnFact) (int64, error) {
	fqn := columnFQN(schema, table, col.Name)
	qn := columnQN(fqn)
	if id, ok := a.ids[qn]; ok {
		return id, nil
	}
	props := map[string]any{}
	if col.DType != "" {
		props["dtype"] = col.DType
	}
	if col.Description != "" {
		props["description"] = col.Description
	}
	props["nullable"] = col.Nullable
	return a.upsertNode(tx, delta, &store.Node{
		Session:       a.session,
		Label:         "Column",
		Name:          strings.ToLower(col.Name),
		QualifiedName: qn,
		Properties:    props,
	})
}

func (a *applier) bucketFor(schema, table string) *tableBucket {
	qn := tableQN(schema, table)
	b, ok := a.tables[qn]
	if !ok {
		b = &tableBucket{qn: qn, schema: schema, name: strings.ToUpper(table), columns: map[string][]string{}}
		a.tables[qn] = b
	}
	return b
}

func (a *applier) upsertNode(tx *store.Store, delta *GraphDelta, n *store.Node) (int64, error) {
	id, err := tx.UpsertNode(n)
	if err != nil {
		return 0, err
	}
	if _, known := a.ids[n.QualifiedName]; !known {
		delta.Nodes++
	}
	a.ids[n.QualifiedName] = id
	return id, nil
}

func (a *applier) insertEdge(tx *store.Store, delta *GraphDelta, srcID, dstID int64, edgeType string, props map[string]any) error {
	if srcID == 0 || dstID == 0 {
		return nil
	}
	_, err := tx.InsertEdge(&store.Edge{
		Session:    a.session,
		SourceID:   srcID,
		TargetID:   dstID,
		Type:       edgeType,
		Properties: props,
	})
	if err != nil {
		return err
	}
	delta.Edges++
	return nil
}

// settleProcedures decrements routine pending counts for the batch's members
// and finalizes any routine whose last descendant just committed. Each
// routine is finalized exactly once, synchronously, so the aggregate summary
// reflects every committed descendant and nothing more.
func (a *applier) settleProcedures(ctx context.Context, b *Batch) error {
	touched := map[string]bool{}
	for _, u := range b.Units {
		if u.ProcKey == "" {
			continue
		}
		proc, ok := a.procs[u.ProcKey]
		if !ok {
			continue
		}
		if u.Summary != "" {
			proc.recordSummary(fmt.Sprintf("%s[%d-%d]", u.Kind, u.StartLine, u.EndLine), u.Summary)
		}
		proc.pending--
		touched[u.ProcKey] = true
	}

	for key := range touched {
		proc := a.procs[key]
		if proc.pending > 0 || proc.finalized {
			continue
		}
		proc.finalized = true
		if err := a.finalizeProcedure(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) finalizeProcedure(ctx context.Context, proc *Procedure) error {
	if len(proc.summaries) == 0 {
		return nil
	}
	summary, err := a.az.SummarizeAggregate(ctx, proc.summaries)
	if err != nil {
		return &AnalyzerError{Seq: a.next, Line: a.maxLine, Err: fmt.Errorf("routine rollup %s: %w", proc.Name, err)}
	}
	qn := unitQN(a.file, proc.Kind, proc.StartLine)
	props := map[string]any{"summary": summary, "routine": proc.Name}
	if proc.Schema != "" {
		props["schema"] = proc.Schema
	}
	if err := a.st.MergeNodeProps(a.session, qn, props); err != nil {
		return &StoreWriteError{Op: "routine rollup", Err: err}
	}
	a.log.Debug("engine.routine.finalized", "file", a.file, "routine", proc.Name)
	return nil
}

// finalizeTables condenses each table's accumulated descriptions into one
// narrative and merges it onto the table and column nodes. Runs after the
// drain loop, bounded by the same analyzer concurrency as the batch pool.
func (a *applier) finalizeTables(ctx context.Context, limit int) error {
	if len(a.tables) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, bucket := range a.tables {
		bucket := bucket
		if len(bucket.descs) == 0 && len(bucket.columns) == 0 {
			continue
		}
		g.Go(func() error {
			summary, err := a.az.SummarizeTable(ctx, bucket.name, bucket.descs, bucket.columns)
			if err != nil {
				return &AnalyzerError{Line: a.maxLine, Err: fmt.Errorf("table rollup %s: %w", bucket.name, err)}
			}
			if d := strings.TrimSpace(summary.Description); d != "" {
				if err := a.st.MergeNodeProps(a.session, bucket.qn, map[string]any{"summary": d}); err != nil {
					return &StoreWriteError{Op: "table rollup", Err: err}
				}
			}
			for _, col := range summary.Columns {
				if strings.TrimSpace(col.Description) == "" {
					continue
				}
				qn := columnQN(columnFQN(bucket.schema, bucket.name, col.Name))
				if err := a.st.MergeNodeProps(a.session, qn, map[string]any{"summary": col.Description}); err != nil {
					return &StoreWriteError{Op: "column rollup", Err: err}
				}
			}
			return nil
		})
	}
	return g.Wait()
}
