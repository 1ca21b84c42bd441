// Package config loads the YAML configuration for a plsql-insight run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Session    string `yaml:"session"`
	Project    string `yaml:"project"`
	DBMS       string `yaml:"dbms"`
	Locale     string `yaml:"locale"`
	DBPath     string `yaml:"db_path"`
	SourceRoot string `yaml:"source_root"`

	Analyzer Analyzer `yaml:"analyzer"`
	Engine   Engine   `yaml:"engine"`
}

// Analyzer configures the remote semantic analyzer endpoint.
type Analyzer struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Engine configures scheduling policy. The batch token budget is a policy
// knob, not a hard constraint; analyzer context limits vary.
type Engine struct {
	BatchTokenBudget    int `yaml:"batch_token_budget"`
	MaxConcurrency      int `yaml:"max_concurrency"`
	VariableConcurrency int `yaml:"variable_concurrency"`
	FileConcurrency     int `yaml:"file_concurrency"`
}

// Load reads and decodes a config file, applies defaults, and resolves the
// analyzer API key from PLSQL_INSIGHT_API_KEY when unset in the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Session == "" {
		c.Session = "default"
	}
	if c.DBMS == "" {
		c.DBMS = "postgres"
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
	if c.DBPath == "" {
		c.DBPath = "plsql-insight.db"
	}
	if c.Analyzer.APIKey == "" {
		c.Analyzer.APIKey = os.Getenv("PLSQL_INSIGHT_API_KEY")
	}
	if c.Analyzer.Temperature == 0 {
		c.Analyzer.Temperature = 0.1
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = 60 * time.Second
	}
	if c.Engine.BatchTokenBudget == 0 {
		c.Engine.BatchTokenBudget = 900
	}
	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = 5
	}
	if c.Engine.VariableConcurrency == 0 {
		c.Engine.VariableConcurrency = 5
	}
	if c.Engine.FileConcurrency == 0 {
		c.Engine.FileConcurrency = 4
	}
}
