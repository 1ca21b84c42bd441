package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/graphein/plsql-insight/internal/analyzer"
	"github.com/graphein/plsql-insight/internal/source"
	"github.com/graphein/plsql-insight/internal/store"
)

// Config is the per-file scheduling policy.
type Config struct {
	Session string
	Folder  string
	File    string // folder-qualified name, the file identity in the graph
	Locale  string

	BatchTokenBudget    int
	MaxConcurrency      int
	VariableConcurrency int

	// RunID tags the progress stream; minted when empty.
	RunID string
}

func (c *Config) applyDefaults() {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.BatchTokenBudget <= 0 {
		c.BatchTokenBudget = 900
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.VariableConcurrency <= 0 {
		c.VariableConcurrency = c.MaxConcurrency
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
}

// Engine runs the analysis pipeline for one file: flatten, static graph
// pass, variable pass, batch planning, bounded dispatch and ordered commit.
type Engine struct {
	cfg  Config
	st   *store.Store
	az   analyzer.Analyzer
	sink Sink
	log  *slog.Logger
}

// New builds an engine. A nil sink discards events; a nil logger uses the
// process default.
func New(cfg Config, st *store.Store, az analyzer.Analyzer, sink Sink, log *slog.Logger) *Engine {
	cfg.applyDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, st: st, az: az, sink: sink, log: log}
}

// Run executes the pipeline over one parsed tree and its source lines. It
// returns nil after the terminal done event, or the first fatal error after
// the terminal error event.
func (e *Engine) Run(ctx context.Context, root *source.Node, lines []string) error {
	if root == nil || len(lines) == 0 {
		return e.fail(ErrSourceMissing, 0)
	}

	flat := NewFlattener(e.cfg.Folder, e.cfg.File, lines)
	units, procs := flat.Flatten(root)
	totalLine := root.EndLine
	if totalLine <= 0 {
		totalLine = len(lines)
	}

	e.log.Info("engine.run.start",
		"run_id", e.cfg.RunID, "file", e.cfg.File,
		"units", len(units), "routines", len(procs), "lines", totalLine)

	ids, err := e.staticPass(units)
	if err != nil {
		return e.fail(err, 0)
	}

	if err := e.variablePass(ctx, units, procs, ids); err != nil {
		return e.fail(err, 0)
	}

	batches := (&Planner{Budget: e.cfg.BatchTokenBudget}).Plan(units)
	if len(batches) == 0 {
		e.emitDone(totalLine)
		return nil
	}

	app := newApplier(e.cfg.Session, e.cfg.Folder, e.cfg.File, e.cfg.RunID,
		e.st, e.az, e.sink, e.log, procs, ids, totalLine)
	go app.run(ctx)

	workerErr := e.dispatch(ctx, batches, app)
	app.close()
	applyErr := app.wait()

	if err := firstError(workerErr, applyErr); err != nil {
		return e.fail(err, app.maxLine)
	}

	if err := app.finalizeTables(ctx, e.cfg.MaxConcurrency); err != nil {
		return e.fail(err, app.maxLine)
	}

	e.emitDone(totalLine)
	e.log.Info("engine.run.done", "run_id", e.cfg.RunID, "file", e.cfg.File, "batches", len(batches))
	return nil
}

// dispatch runs one worker per batch under a shared in-flight semaphore.
// A parent batch waits for every child's commit before taking a slot, so
// waiting on dependencies never starves the analyzer of concurrency.
func (e *Engine) dispatch(ctx context.Context, batches []*Batch, app *applier) error {
	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrency))
	g, gctx := errgroup.WithContext(ctx)

	for _, b := range batches {
		b := b
		g.Go(func() error {
			if b.IsParent() {
				for _, child := range b.Units[0].Children {
					select {
					case <-child.Resolved():
					case <-app.failed:
						// A failed commit means the child will never
						// resolve; surface the applier's error instead
						// of waiting forever.
						return app.err
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result, err := e.analyzeBatch(gctx, b)
			if err != nil {
				return &AnalyzerError{Seq: b.Seq, Line: b.ProgressLine, Err: err}
			}
			return app.submit(gctx, result)
		})
	}
	return g.Wait()
}

// analyzeBatch runs the general call and, when the batch has data
// manipulation members, the table-facts call concurrently within one slot.
func (e *Engine) analyzeBatch(ctx context.Context, b *Batch) (*BatchResult, error) {
	result := &BatchResult{Batch: b}

	tablePayload, tableRanges := b.TablePayload()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		general, err := e.az.AnalyzeGeneral(gctx, b.GeneralPayload(), b.Ranges())
		if err != nil {
			return err
		}
		result.General = general
		return nil
	})
	if len(tableRanges) > 0 {
		g.Go(func() error {
			tables, err := e.az.AnalyzeTableFacts(gctx, tablePayload, tableRanges)
			if err != nil {
				return err
			}
			result.Tables = tables
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// staticPass writes the structural skeleton before any analyzer call: one
// node per construct, a folder node, containment and sibling sequence edges.
// Re-runs converge on the same rows.
func (e *Engine) staticPass(units []*Unit) (map[string]int64, error) {
	nodes := make([]*store.Node, 0, len(units)+1)
	nodes = append(nodes, &store.Node{
		Session:       e.cfg.Session,
		Label:         "FOLDER",
		Name:          e.cfg.Folder,
		QualifiedName: folderQN(e.cfg.Folder),
	})

	for _, u := range units {
		name := unitName(u.Kind, u.StartLine)
		props := map[string]any{"kind": u.Kind}
		if routineKinds[u.Kind] && u.ProcName != "" {
			name = strings.ToUpper(u.ProcName)
			props["routine"] = u.ProcName
			if u.Schema != "" {
				props["schema"] = u.Schema
			}
		}
		nodes = append(nodes, &store.Node{
			Session:       e.cfg.Session,
			Label:         u.Kind,
			Name:          name,
			QualifiedName: unitQN(e.cfg.File, u.Kind, u.StartLine),
			FilePath:      e.cfg.File,
			StartLine:     u.StartLine,
			EndLine:       u.EndLine,
			Properties:    props,
		})
	}

	ids, err := e.st.UpsertNodeBatch(nodes)
	if err != nil {
		return nil, &StoreWriteError{Op: "static nodes", Err: err}
	}

	edges := e.staticEdges(units, ids)
	if err := e.st.InsertEdgeBatch(edges); err != nil {
		return nil, &StoreWriteError{Op: "static edges", Err: err}
	}

	e.log.Debug("engine.static.committed", "file", e.cfg.File, "nodes", len(nodes), "edges", len(edges))
	return ids, nil
}

func (e *Engine) staticEdges(units []*Unit, ids map[string]int64) []*store.Edge {
	var edges []*store.Edge
	add := func(srcID, dstID int64, edgeType string) {
		if srcID == 0 || dstID == 0 {
			return
		}
		edges = append(edges, &store.Edge{
			Session:  e.cfg.Session,
			SourceID: srcID,
			TargetID: dstID,
			Type:     edgeType,
		})
	}
	unitID := func(u *Unit) int64 {
		return ids[unitQN(e.cfg.File, u.Kind, u.StartLine)]
	}

	// The root unit is the last one materialized in post-order.
	if len(units) > 0 {
		add(ids[folderQN(e.cfg.Folder)], unitID(units[len(units)-1]), "CONTAINS")
	}

	for _, u := range units {
		if len(u.Children) == 0 {
			continue
		}
		children := make([]*Unit, len(u.Children))
		copy(children, u.Children)
		sort.Slice(children, func(i, j int) bool { return children[i].StartLine < children[j].StartLine })

		var prev *Unit
		for _, child := range children {
			add(unitID(u), unitID(child), "PARENT_OF")
			if noSequenceKinds[child.Kind] {
				continue
			}
			if prev != nil {
				add(unitID(prev), unitID(child), "NEXT")
			}
			prev = child
		}
	}
	return edges
}

// variablePass analyzes declaration blocks concurrently and writes Variable
// nodes with scope edges. Failures here degrade the graph (fewer USES edges
// later) but never abort the run.
func (e *Engine) variablePass(ctx context.Context, units []*Unit, procs map[string]*Procedure, ids map[string]int64) error {
	var decls []*Unit
	for _, u := range units {
		if variableKinds[u.Kind] {
			decls = append(decls, u)
		}
	}
	if len(decls) == 0 {
		return nil
	}

	type varResult struct {
		unit     *Unit
		analysis *analyzer.VariableAnalysis
	}
	var mu sync.Mutex
	var results []varResult

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.VariableConcurrency)
	for _, u := range decls {
		u := u
		g.Go(func() error {
			va, err := e.az.AnalyzeVariables(gctx, u.RawCode())
			if err != nil {
				e.log.Warn("engine.variables.failed",
					"file", e.cfg.File, "kind", u.Kind, "start_line", u.StartLine, "error", err)
				return nil
			}
			mu.Lock()
			results = append(results, varResult{unit: u, analysis: va})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var nodes []*store.Node
	type pendingEdge struct {
		srcQN, dstQN, kind string
	}
	var pendingEdges []pendingEdge

	for _, r := range results {
		u := r.unit
		scope := u.ProcKey
		scopeLabel := "Local"
		if scope == "" || u.Kind == "PACKAGE_VARIABLE" {
			scope = "package"
			scopeLabel = "Global"
		}
		declQN := unitQN(e.cfg.File, u.Kind, u.StartLine)

		for _, v := range r.analysis.Variables {
			name := strings.ToLower(strings.TrimSpace(v.Name))
			if name == "" {
				continue
			}
			props := map[string]any{
				"scope": scopeLabel,
				"role":  variableRoles[u.Kind],
			}
			if v.Type != "" {
				props["dtype"] = v.Type
			}
			if v.ParameterType != "" {
				props["parameter_type"] = v.ParameterType
			}
			if v.Value != "" {
				props["value"] = v.Value
			}
			qn := variableQN(e.cfg.File, scope, name)
			nodes = append(nodes, &store.Node{
				Session:       e.cfg.Session,
				Label:         "Variable",
				Name:          name,
				QualifiedName: qn,
				FilePath:      e.cfg.File,
				StartLine:     u.StartLine,
				EndLine:       u.EndLine,
				Properties:    props,
			})
			pendingEdges = append(pendingEdges, pendingEdge{srcQN: declQN, dstQN: qn, kind: "CONTAINS"})
			if proc, ok := procs[u.ProcKey]; ok {
				routineQN := unitQN(e.cfg.File, proc.Kind, proc.StartLine)
				pendingEdges = append(pendingEdges, pendingEdge{srcQN: qn, dstQN: routineQN, kind: "SCOPE"})
			}
		}
	}

	if len(nodes) > 0 {
		varIDs, err := e.st.UpsertNodeBatch(nodes)
		if err != nil {
			return &StoreWriteError{Op: "variable nodes", Err: err}
		}
		for qn, id := range varIDs {
			ids[qn] = id
		}
		var edges []*store.Edge
		for _, pe := range pendingEdges {
			srcID, dstID := ids[pe.srcQN], ids[pe.dstQN]
			if srcID == 0 || dstID == 0 {
				continue
			}
			edges = append(edges, &store.Edge{
				Session:  e.cfg.Session,
				SourceID: srcID,
				TargetID: dstID,
				Type:     pe.kind,
			})
		}
		if err := e.st.InsertEdgeBatch(edges); err != nil {
			return &StoreWriteError{Op: "variable edges", Err: err}
		}
	}

	for _, r := range results {
		if summary := strings.TrimSpace(r.analysis.Summary); summary != "" {
			qn := unitQN(e.cfg.File, r.unit.Kind, r.unit.StartLine)
			if err := e.st.MergeNodeProps(e.cfg.Session, qn, map[string]any{"summary": summary}); err != nil {
				return &StoreWriteError{Op: "declaration summary", Err: err}
			}
		}
	}

	e.log.Debug("engine.variables.committed", "file", e.cfg.File, "blocks", len(results), "variables", len(nodes))
	return nil
}

func (e *Engine) emitDone(line int) {
	e.sink.Emit(Event{
		RunID:   e.cfg.RunID,
		File:    e.cfg.File,
		Kind:    EventDone,
		Line:    line,
		Percent: 100,
	})
}

// fail emits the terminal error event and returns err. The event line is
// the failed batch's progress line when known, otherwise the last committed
// line.
func (e *Engine) fail(err error, committedLine int) error {
	line := committedLine
	var ae *AnalyzerError
	if errors.As(err, &ae) && ae.Line > 0 {
		line = ae.Line
	}
	e.sink.Emit(Event{
		RunID: e.cfg.RunID,
		File:  e.cfg.File,
		Kind:  EventError,
		Line:  line,
		Err:   err.Error(),
	})
	e.log.Error("engine.run.failed", "run_id", e.cfg.RunID, "file", e.cfg.File, "error", err)
	return err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
