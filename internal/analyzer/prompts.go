package analyzer

import "fmt"

// Prompts ask for strict JSON so results can be decoded without heuristics.
// The locale only affects the language of generated prose, never the schema.

func localeClause(locale string) string {
	if locale == "en" {
		return "Write all prose in English."
	}
	return fmt.Sprintf("Write all prose in the %q locale language.", locale)
}

func generalSystemPrompt(locale string) string {
	return "You are an expert Oracle PL/SQL analyst. Respond with JSON only, no markdown. " + localeClause(locale)
}

const generalUserPrompt = `Analyze the following stored-procedure code.

Code (line-numbered):
%s

Ranges to analyze (exactly one result per range, in order):
%s

Return JSON: {"analysis": [{"summary": "...", "variables": ["..."], "calls": ["..."]}]} with exactly %d elements.
Summaries describe business logic in 2-3 sentences. Variables exclude table columns. Calls use PACKAGE.NAME for external routines and NAME for local ones.`

func tableSystemPrompt(locale string) string {
	return "You are an expert database analyst extracting table metadata from SQL. Respond with JSON only, no markdown. " + localeClause(locale)
}

const tableUserPrompt = `Extract table facts for each data-manipulation statement below.

Code (line-numbered):
%s

Statement ranges:
%s

Return JSON: {"tables": [{"startLine": n, "endLine": n, "dmlType": "SELECT|INSERT|UPDATE|DELETE|MERGE|FETCH|EXECUTE", "table": "SCHEMA.NAME", "tableDescription": "...", "columns": [{"name": "...", "dtype": "...", "description": "...", "nullable": true}], "dbLinks": [{"name": "...", "mode": "r"}], "fkRelations": [{"sourceTable": "...", "sourceColumn": "...", "targetTable": "...", "targetColumn": "..."}]}]}.
Strip table aliases. Keep schema prefixes and @DBLINK suffixes in the table field.`

func aggregateSystemPrompt(locale string) string {
	return "You summarize procedural code from fragment summaries. Respond with JSON only, no markdown. " + localeClause(locale)
}

const aggregateUserPrompt = `The following maps statement positions to their summaries for one routine.

%s

Return JSON: {"summary": "..."} describing what the routine does end to end in 3-5 sentences.`

func variablesSystemPrompt(locale string) string {
	return "You extract variable and parameter declarations from PL/SQL. Respond with JSON only, no markdown. " + localeClause(locale)
}

const variablesUserPrompt = `Extract every declared variable, parameter and cursor from this declaration block.

Code (line-numbered):
%s

Return JSON: {"summary": "...", "variables": [{"name": "...", "type": "...", "parameter_type": "IN|OUT|INOUT|", "value": "..."}]}.`

func tableSummarySystemPrompt(locale string) string {
	return "You condense accumulated table and column descriptions into one narrative each. Respond with JSON only, no markdown. " + localeClause(locale)
}

const tableSummaryUserPrompt = `Accumulated observations for one table:

%s

Return JSON: {"tableDescription": "...", "columns": [{"name": "...", "description": "..."}]}.`
