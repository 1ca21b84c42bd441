package engine

import (
	"fmt"
	"strings"
)

// Graph vocabulary. Node qualified names are natural composite keys so
// repeated commits of the same logical entity converge in the store.

func unitQN(file, kind string, startLine int) string {
	return fmt.Sprintf("%s:%s:%d", file, kind, startLine)
}

func unitName(kind string, startLine int) string {
	return fmt.Sprintf("%s[%d]", kind, startLine)
}

func folderQN(folder string) string {
	return "folder:" + folder
}

func tableQN(schema, name string) string {
	if schema != "" {
		return "table:" + strings.ToUpper(schema) + "." + strings.ToUpper(name)
	}
	return "table:" + strings.ToUpper(name)
}

func columnFQN(schema, table, column string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{schema, table, column} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToLower(strings.Join(parts, "."))
}

func columnQN(fqn string) string {
	return "column:" + fqn
}

func variableQN(file, scope, name string) string {
	return fmt.Sprintf("%s:variable:%s:%s", file, scope, name)
}

func dbLinkQN(name string) string {
	return "dblink:" + strings.ToUpper(name)
}

func externalRoutineQN(pkg, name string) string {
	return "external:" + strings.ToUpper(pkg) + "." + strings.ToUpper(name)
}

// parseTableIdentifier splits "SCHEMA.TABLE@DBLINK" into its parts. Schema
// and link are empty when absent; original case is preserved.
func parseTableIdentifier(qualified string) (schema, table, link string) {
	text := strings.TrimSpace(qualified)
	if text == "" {
		return "", "", ""
	}
	if at := strings.Index(text, "@"); at >= 0 {
		link = strings.TrimSpace(text[at+1:])
		text = text[:at]
	}
	if dot := strings.Index(text, "."); dot >= 0 {
		schema = strings.TrimSpace(text[:dot])
		table = strings.TrimSpace(text[dot+1:])
		return schema, table, link
	}
	return "", strings.TrimSpace(text), link
}
