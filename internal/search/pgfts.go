package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL over boards and tasks ranked by ts_rank, with
// ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.WorkspaceIDs) == 0 {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)

	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.WorkspaceIDs}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultBoard {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'board'::text AS type, b.id, b.title,
				ts_headline('english', b.description, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.id AS board_id, ''::text AS list_id, b.workspace_id,
				ts_rank(b.fts, %[1]s) AS rank
			FROM boards b
			WHERE b.fts @@ %[1]s AND b.workspace_id = ANY($2)`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', t.description, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.board_id, t.list_id, b.workspace_id,
				ts_rank(t.fts, %[1]s) AS rank
			FROM tasks t
			JOIN boards b ON b.id = t.board_id
			WHERE t.fts @@ %[1]s AND b.workspace_id = ANY($2)`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, board_id, list_id, workspace_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.BoardID, &r.ListID, &r.WorkspaceID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every board and task for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BoardRecord, []TaskRecord, error) {
	boardRows, err := p.db.QueryContext(ctx, `SELECT id, title, description, workspace_id FROM boards`)
	if err != nil {
		return nil, nil, fmt.Errorf("load boards: %w", err)
	}
	defer boardRows.Close()

	boards := make([]BoardRecord, 0)
	for boardRows.Next() {
		var b BoardRecord
		if err := boardRows.Scan(&b.ID, &b.Title, &b.Description, &b.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := boardRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate boards: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.description, t.board_id, t.list_id, b.workspace_id
		FROM tasks t
		JOIN boards b ON b.id = t.board_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.BoardID, &t.ListID, &t.WorkspaceID); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return boards, tasks, nil
}
