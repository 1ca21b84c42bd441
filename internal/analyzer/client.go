package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config configures the HTTP client for a chat-completions style endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Locale      string
}

// Client is an Analyzer backed by a remote chat-completions API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a Client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete posts one prompt and returns the raw completion text.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("analyzer status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("analyzer returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// decodeJSON strips optional markdown fences and unmarshals into v.
func decodeJSON(text string, v any) error {
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("malformed analyzer output: %w", err)
	}
	return nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// AnalyzeGeneral implements Analyzer.
func (c *Client) AnalyzeGeneral(ctx context.Context, payload string, ranges []LineRange) ([]UnitAnalysis, error) {
	rangesJSON, _ := json.Marshal(ranges)
	out, err := c.complete(ctx, generalSystemPrompt(c.cfg.Locale),
		fmt.Sprintf(generalUserPrompt, payload, rangesJSON, len(ranges)))
	if err != nil {
		return nil, fmt.Errorf("analyze general: %w", err)
	}
	var envelope struct {
		Analysis []UnitAnalysis `json:"analysis"`
	}
	if err := decodeJSON(out, &envelope); err != nil {
		return nil, fmt.Errorf("analyze general: %w", err)
	}
	if len(envelope.Analysis) != len(ranges) {
		return nil, fmt.Errorf("analyze general: got %d results for %d ranges", len(envelope.Analysis), len(ranges))
	}
	return envelope.Analysis, nil
}

// AnalyzeTableFacts implements Analyzer.
func (c *Client) AnalyzeTableFacts(ctx context.Context, payload string, ranges []LineRange) ([]TableFact, error) {
	rangesJSON, _ := json.Marshal(ranges)
	out, err := c.complete(ctx, tableSystemPrompt(c.cfg.Locale),
		fmt.Sprintf(tableUserPrompt, payload, rangesJSON))
	if err != nil {
		return nil, fmt.Errorf("analyze table facts: %w", err)
	}
	var envelope struct {
		Tables []TableFact `json:"tables"`
	}
	if err := decodeJSON(out, &envelope); err != nil {
		return nil, fmt.Errorf("analyze table facts: %w", err)
	}
	return envelope.Tables, nil
}

// SummarizeAggregate implements Analyzer.
func (c *Client) SummarizeAggregate(ctx context.Context, summaries map[string]string) (string, error) {
	payload, _ := json.Marshal(summaries)
	out, err := c.complete(ctx, aggregateSystemPrompt(c.cfg.Locale),
		fmt.Sprintf(aggregateUserPrompt, payload))
	if err != nil {
		return "", fmt.Errorf("summarize aggregate: %w", err)
	}
	var envelope struct {
		Summary string `json:"summary"`
	}
	if err := decodeJSON(out, &envelope); err != nil {
		return "", fmt.Errorf("summarize aggregate: %w", err)
	}
	return envelope.Summary, nil
}

// AnalyzeVariables implements Analyzer.
func (c *Client) AnalyzeVariables(ctx context.Context, code string) (*VariableAnalysis, error) {
	out, err := c.complete(ctx, variablesSystemPrompt(c.cfg.Locale),
		fmt.Sprintf(variablesUserPrompt, code))
	if err != nil {
		return nil, fmt.Errorf("analyze variables: %w", err)
	}
	var result VariableAnalysis
	if err := decodeJSON(out, &result); err != nil {
		return nil, fmt.Errorf("analyze variables: %w", err)
	}
	return &result, nil
}

// SummarizeTable implements Analyzer.
func (c *Client) SummarizeTable(ctx context.Context, table string, descriptions []string, columns map[string][]string) (*TableSummary, error) {
	input, _ := json.Marshal(map[string]any{
		"table":        table,
		"descriptions": descriptions,
		"columns":      columns,
	})
	out, err := c.complete(ctx, tableSummarySystemPrompt(c.cfg.Locale),
		fmt.Sprintf(tableSummaryUserPrompt, input))
	if err != nil {
		return nil, fmt.Errorf("summarize table: %w", err)
	}
	var result TableSummary
	if err := decodeJSON(out, &result); err != nil {
		return nil, fmt.Errorf("summarize table: %w", err)
	}
	return &result, nil
}
