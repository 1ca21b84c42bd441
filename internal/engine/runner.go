package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/graphein/plsql-insight/internal/analyzer"
	"github.com/graphein/plsql-insight/internal/source"
	"github.com/graphein/plsql-insight/internal/store"
)

// RunnerConfig is the project-wide policy shared by every file pipeline.
type RunnerConfig struct {
	Session    string
	Project    string
	Locale     string
	SourceRoot string

	BatchTokenBudget    int
	MaxConcurrency      int
	VariableConcurrency int
	FileConcurrency     int
}

// Runner discovers source files under the project root and runs one engine
// per file. Files are independent: a failing file never cancels its
// siblings, it only counts against the final result.
type Runner struct {
	cfg  RunnerConfig
	st   *store.Store
	az   analyzer.Analyzer
	sink Sink
	log  *slog.Logger
}

// NewRunner builds a runner over an opened store and analyzer.
func NewRunner(cfg RunnerConfig, st *store.Store, az analyzer.Analyzer, sink Sink, log *slog.Logger) *Runner {
	if cfg.FileConcurrency <= 0 {
		cfg.FileConcurrency = 4
	}
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{cfg: cfg, st: st, az: az, sink: sink, log: log}
}

// Run analyzes every discovered file and returns an error when any file
// failed. Unchanged files with graph state already present are skipped.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.st.UpsertSession(r.cfg.Session, r.cfg.Project); err != nil {
		return err
	}

	refs, err := r.discover()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		r.log.Warn("runner.no_sources", "root", r.cfg.SourceRoot)
		return nil
	}
	r.log.Info("runner.start", "root", r.cfg.SourceRoot, "files", len(refs))

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.cfg.FileConcurrency)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := r.runFile(ctx, ref); err != nil {
				failed.Add(1)
				r.log.Error("runner.file.failed", "file", ref.RelPath(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d files failed", n, len(refs))
	}
	r.log.Info("runner.done", "files", len(refs))
	return nil
}

// discover lists folder/name pairs under the source root that carry both a
// source file and its tree artifact. The layout is one folder level deep,
// matching how package sources are exported.
func (r *Runner) discover() ([]source.FileRef, error) {
	folders, err := os.ReadDir(r.cfg.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("read source root: %w", err)
	}

	var refs []source.FileRef
	for _, folder := range folders {
		if !folder.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(r.cfg.SourceRoot, folder.Name()))
		if err != nil {
			return nil, fmt.Errorf("read folder %s: %w", folder.Name(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
				continue
			}
			ref := source.FileRef{Root: r.cfg.SourceRoot, Folder: folder.Name(), Name: entry.Name()}
			if _, err := os.Stat(ref.TreePath()); err != nil {
				r.log.Warn("runner.tree_missing", "file", ref.RelPath())
				continue
			}
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].RelPath() < refs[j].RelPath() })
	return refs, nil
}

func (r *Runner) runFile(ctx context.Context, ref source.FileRef) error {
	rel := ref.RelPath()

	lines, err := source.LoadSource(ref)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return fmt.Errorf("%s: %w", rel, ErrSourceMissing)
		}
		return err
	}
	// Hash the normalized text so line-ending churn does not invalidate it.
	hash := fmt.Sprintf("%016x", xxh3.HashString(strings.Join(lines, "\n")))

	stored, err := r.st.FileHash(r.cfg.Session, rel)
	if err != nil {
		return err
	}
	if stored == hash {
		exists, err := r.st.NodeExists(r.cfg.Session, rel)
		if err != nil {
			return err
		}
		if exists {
			r.log.Info("runner.file.unchanged", "file", rel)
			return nil
		}
	}

	tree, err := source.LoadTree(ref)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return fmt.Errorf("%s: %w", rel, ErrSourceMissing)
		}
		return err
	}

	eng := New(Config{
		Session:             r.cfg.Session,
		Folder:              ref.Folder,
		File:                rel,
		Locale:              r.cfg.Locale,
		BatchTokenBudget:    r.cfg.BatchTokenBudget,
		MaxConcurrency:      r.cfg.MaxConcurrency,
		VariableConcurrency: r.cfg.VariableConcurrency,
	}, r.st, r.az, r.sink, r.log)

	if err := eng.Run(ctx, tree, lines); err != nil {
		return err
	}
	return r.st.SetFileHash(r.cfg.Session, rel, hash)
}
