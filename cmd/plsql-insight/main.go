package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/graphein/plsql-insight/internal/analyzer"
	"github.com/graphein/plsql-insight/internal/config"
	"github.com/graphein/plsql-insight/internal/engine"
	"github.com/graphein/plsql-insight/internal/store"
)

var version = "dev"

// logSink mirrors the progress stream to the structured log so a headless
// run still shows per-file advancement.
type logSink struct {
	log *slog.Logger
}

func (s logSink) Emit(ev engine.Event) {
	switch ev.Kind {
	case engine.EventProgress:
		s.log.Info("progress", "run_id", ev.RunID, "file", ev.File,
			"line", ev.Line, "percent", fmt.Sprintf("%.1f", ev.Percent),
			"nodes", ev.Delta.Nodes, "edges", ev.Delta.Edges)
	case engine.EventDone:
		s.log.Info("done", "run_id", ev.RunID, "file", ev.File, "line", ev.Line)
	case engine.EventError:
		s.log.Error("failed", "run_id", ev.RunID, "file", ev.File, "line", ev.Line, "error", ev.Err)
	}
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	sourceRoot := flag.String("source", "", "source root override")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("plsql-insight", version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(*cfgPath, *sourceRoot, log); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath, sourceRoot string, log *slog.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if sourceRoot != "" {
		cfg.SourceRoot = sourceRoot
	}
	if cfg.SourceRoot == "" {
		return fmt.Errorf("no source root configured")
	}

	st, err := store.OpenPath(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	az := analyzer.NewClient(analyzer.Config{
		BaseURL:     cfg.Analyzer.BaseURL,
		APIKey:      cfg.Analyzer.APIKey,
		Model:       cfg.Analyzer.Model,
		Temperature: cfg.Analyzer.Temperature,
		MaxTokens:   cfg.Analyzer.MaxTokens,
		Timeout:     cfg.Analyzer.Timeout,
		Locale:      cfg.Locale,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := engine.NewRunner(engine.RunnerConfig{
		Session:             cfg.Session,
		Project:             cfg.Project,
		Locale:              cfg.Locale,
		SourceRoot:          cfg.SourceRoot,
		BatchTokenBudget:    cfg.Engine.BatchTokenBudget,
		MaxConcurrency:      cfg.Engine.MaxConcurrency,
		VariableConcurrency: cfg.Engine.VariableConcurrency,
		FileConcurrency:     cfg.Engine.FileConcurrency,
	}, st, az, logSink{log: log}, log)

	return runner.Run(ctx)
}
