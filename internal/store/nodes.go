package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// UpsertNode inserts or replaces a node (dedup by session + qualified_name).
func (s *Store) UpsertNode(n *Node) (int64, error) {
	_, err := s.q.Exec(`
		INSERT INTO nodes (session, label, name, qualified_name, file_path, start_line, end_line, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session, qualified_name) DO UPDATE SET
			label=excluded.label, name=excluded.name, file_path=excluded.file_path,
			start_line=excluded.start_line, end_line=excluded.end_line, properties=excluded.properties`,
		n.Session, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
	if err != nil {
		return 0, fmt.Errorf("upsert node: %w", err)
	}
	// LastInsertId is unreliable on the conflict path (it reports the
	// connection's previous insert), so always resolve by natural key.
	var id int64
	if err := s.q.QueryRow("SELECT id FROM nodes WHERE session=? AND qualified_name=?",
		n.Session, n.QualifiedName).Scan(&id); err != nil {
		return 0, fmt.Errorf("get node id: %w", err)
	}
	return id, nil
}

// MergeNodeProps merges props into a node's existing properties, preserving
// keys not named in props. Used by rollups that enrich already-written nodes.
func (s *Store) MergeNodeProps(session, qualifiedName string, props map[string]any) error {
	n, err := s.FindNodeByQN(session, qualifiedName)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}
	for k, v := range props {
		n.Properties[k] = v
	}
	_, err = s.q.Exec("UPDATE nodes SET properties=? WHERE id=?", marshalProps(n.Properties), n.ID)
	if err != nil {
		return fmt.Errorf("merge node props: %w", err)
	}
	return nil
}

// FindNodeByQN finds a node by session and qualified name.
func (s *Store) FindNodeByQN(session, qualifiedName string) (*Node, error) {
	row := s.q.QueryRow(`SELECT id, session, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE session=? AND qualified_name=?`, session, qualifiedName)
	return scanNode(row)
}

// FindNodesByName finds nodes by session and name.
func (s *Store) FindNodesByName(session, name string) ([]*Node, error) {
	rows, err := s.q.Query(`SELECT id, session, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE session=? AND name=?`, session, name)
	if err != nil {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByLabel finds all nodes with a given label in a session.
func (s *Store) FindNodesByLabel(session, label string) ([]*Node, error) {
	rows, err := s.q.Query(`SELECT id, session, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE session=? AND label=?`, session, label)
	if err != nil {
		return nil, fmt.Errorf("find by label: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesByFile finds all nodes in a given file.
func (s *Store) FindNodesByFile(session, filePath string) ([]*Node, error) {
	rows, err := s.q.Query(`SELECT id, session, label, name, qualified_name, file_path, start_line, end_line, properties
		FROM nodes WHERE session=? AND file_path=?`, session, filePath)
	if err != nil {
		return nil, fmt.Errorf("find by file: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodeExists reports whether any node exists for the given file in a session.
// Callers use this to short-circuit already-analyzed files.
func (s *Store) NodeExists(session, filePath string) (bool, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes WHERE session=? AND file_path=?", session, filePath).Scan(&count)
	return count > 0, err
}

// CountNodes returns the number of nodes in a session.
func (s *Store) CountNodes(session string) (int, error) {
	var count int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes WHERE session=?", session).Scan(&count)
	return count, err
}

// DeleteNodesByFile deletes all nodes for a specific file in a session.
func (s *Store) DeleteNodesByFile(session, filePath string) error {
	_, err := s.q.Exec("DELETE FROM nodes WHERE session=? AND file_path=?", session, filePath)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var props string
	err := row.Scan(&n.ID, &n.Session, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Properties = unmarshalProps(props)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var result []*Node
	for rows.Next() {
		var n Node
		var props string
		if err := rows.Scan(&n.ID, &n.Session, &n.Label, &n.Name, &n.QualifiedName, &n.FilePath, &n.StartLine, &n.EndLine, &props); err != nil {
			return nil, err
		}
		n.Properties = unmarshalProps(props)
		result = append(result, &n)
	}
	return result, rows.Err()
}

// SQLite has a 999 bind variable limit; 8 columns per node row.
const nodesBatchSize = 999 / 8

// UpsertNodeBatch inserts or updates multiple nodes in batched multi-row
// INSERTs. Returns a map of qualifiedName → ID for all upserted nodes.
func (s *Store) UpsertNodeBatch(nodes []*Node) (map[string]int64, error) {
	if len(nodes) == 0 {
		return map[string]int64{}, nil
	}

	result := make(map[string]int64, len(nodes))

	for i := 0; i < len(nodes); i += nodesBatchSize {
		end := i + nodesBatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := s.upsertNodeChunk(nodes[i:end], result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) upsertNodeChunk(batch []*Node, idMap map[string]int64) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO nodes (session, label, name, qualified_name, file_path, start_line, end_line, properties) VALUES `)

	args := make([]any, 0, len(batch)*8)
	for i, n := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?,?)")
		args = append(args, n.Session, n.Label, n.Name, n.QualifiedName, n.FilePath, n.StartLine, n.EndLine, marshalProps(n.Properties))
	}
	sb.WriteString(` ON CONFLICT(session, qualified_name) DO UPDATE SET
		label=excluded.label, name=excluded.name, file_path=excluded.file_path,
		start_line=excluded.start_line, end_line=excluded.end_line, properties=excluded.properties`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("upsert node batch: %w", err)
	}

	// Recover IDs via SELECT ... IN (...), grouped by session since the
	// UNIQUE constraint is (session, qualified_name).
	bySession := make(map[string][]string)
	for _, n := range batch {
		bySession[n.Session] = append(bySession[n.Session], n.QualifiedName)
	}
	for session, qns := range bySession {
		if err := s.resolveNodeIDs(session, qns, idMap); err != nil {
			return err
		}
	}
	return nil
}

// resolveNodeIDs fetches IDs for a set of qualified names in a single
// session, batching the IN clause under the 999-var limit.
func (s *Store) resolveNodeIDs(session string, qns []string, idMap map[string]int64) error {
	const maxQNsPerQuery = 998

	for i := 0; i < len(qns); i += maxQNsPerQuery {
		end := i + maxQNsPerQuery
		if end > len(qns) {
			end = len(qns)
		}
		chunk := qns[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, session)
		for j, qn := range chunk {
			placeholders[j] = "?"
			args = append(args, qn)
		}

		query := fmt.Sprintf("SELECT id, qualified_name FROM nodes WHERE session = ? AND qualified_name IN (%s)",
			strings.Join(placeholders, ","))

		if err := func() error {
			rows, err := s.q.Query(query, args...)
			if err != nil {
				return fmt.Errorf("resolve node IDs: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var id int64
				var qn string
				if err := rows.Scan(&id, &qn); err != nil {
					return err
				}
				idMap[qn] = id
			}
			return rows.Err()
		}(); err != nil {
			return err
		}
	}
	return nil
}
