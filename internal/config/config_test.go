package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
source_root: /data/src
analyzer:
  base_url: https://api.example.com/v1/chat/completions
  model: test-model
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Session != "default" || cfg.DBMS != "postgres" || cfg.Locale != "en" {
		t.Fatalf("defaults = %q %q %q", cfg.Session, cfg.DBMS, cfg.Locale)
	}
	if cfg.Engine.BatchTokenBudget != 900 || cfg.Engine.MaxConcurrency != 5 {
		t.Fatalf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Engine.FileConcurrency != 4 || cfg.Engine.VariableConcurrency != 5 {
		t.Fatalf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Analyzer.Timeout != 60*time.Second || cfg.Analyzer.Temperature != 0.1 {
		t.Fatalf("analyzer defaults = %+v", cfg.Analyzer)
	}
	if cfg.SourceRoot != "/data/src" || cfg.Analyzer.Model != "test-model" {
		t.Fatalf("explicit values lost: %+v", cfg)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
session: payroll
dbms: oracle
locale: de
db_path: /tmp/graph.db
engine:
  batch_token_budget: 1200
  max_concurrency: 8
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session != "payroll" || cfg.DBMS != "oracle" || cfg.Locale != "de" {
		t.Fatalf("explicit values = %+v", cfg)
	}
	if cfg.Engine.BatchTokenBudget != 1200 || cfg.Engine.MaxConcurrency != 8 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
}

func TestLoadResolvesAPIKeyFromEnv(t *testing.T) {
	t.Setenv("PLSQL_INSIGHT_API_KEY", "env-key")
	path := writeConfig(t, "session: s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analyzer.APIKey != "env-key" {
		t.Fatalf("api key = %q", cfg.Analyzer.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
