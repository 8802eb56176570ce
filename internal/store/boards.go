package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, workspace_id, title, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, board.ID, board.WorkspaceID, board.Title, board.Description, board.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var item Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, title, description, cover_key, created_by, created_at, updated_at
		FROM boards WHERE id=$1
	`, boardID).Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &item.CoverKey, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Board{}, fmt.Errorf("get board: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListBoards(ctx context.Context, workspaceID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, title, description, cover_key, created_by, created_at, updated_at
		FROM boards
		WHERE workspace_id=$1
		ORDER BY created_at ASC, id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	defer rows.Close()

	items := make([]Board, 0)
	for rows.Next() {
		var item Board
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &item.CoverKey, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return items, nil
}

// ListBoardIDs returns every board id, oldest first.
func (s *PostgresStore) ListBoardIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM boards ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list board ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan board id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) UpdateBoard(ctx context.Context, boardID, title, description string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE boards SET title=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, boardID, title, description)
	if err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return requireOneRow(res, "update board")
}

func (s *PostgresStore) SetBoardCover(ctx context.Context, boardID, objectKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE boards SET cover_key=$2, updated_at=NOW() WHERE id=$1`, boardID, objectKey)
	if err != nil {
		return fmt.Errorf("set board cover: %w", err)
	}
	return requireOneRow(res, "set board cover")
}

func (s *PostgresStore) DeleteBoard(ctx context.Context, boardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id=$1`, boardID)
	if err != nil {
		return fmt.Errorf("delete board: %w", err)
	}
	return requireOneRow(res, "delete board")
}

const listColumns = `id, board_id, title, position, created_at, updated_at`

func scanList(row rowScanner) (BoardList, error) {
	var item BoardList
	err := row.Scan(&item.ID, &item.BoardID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (BoardList, error) {
	item, err := scanList(s.db.QueryRowContext(ctx, `SELECT `+listColumns+` FROM board_lists WHERE id=$1`, listID))
	if err != nil {
		return BoardList{}, fmt.Errorf("get list: %w", err)
	}
	return item, nil
}

// ListLists returns the lists of a board ordered by position.
func (s *PostgresStore) ListLists(ctx context.Context, boardID string) ([]BoardList, error) {
	return queryLists(ctx, s.db, boardID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryLists(ctx context.Context, q querier, boardID string) ([]BoardList, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+listColumns+` FROM board_lists WHERE board_id=$1 ORDER BY position ASC, id ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list board lists: %w", err)
	}
	defer rows.Close()

	items := make([]BoardList, 0)
	for rows.Next() {
		item, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board list: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board lists: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameList(ctx context.Context, listID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE board_lists SET title=$2, updated_at=NOW() WHERE id=$1`, listID, title)
	if err != nil {
		return fmt.Errorf("rename list: %w", err)
	}
	return requireOneRow(res, "rename list")
}

const taskColumns = `t.id, t.board_id, t.list_id, t.title, t.description, t.position, t.due_date, t.assignee_id,
	t.created_by, t.created_at, t.updated_at,
	COALESCE((SELECT string_agg(tt.tag_id, ',' ORDER BY tt.tag_id) FROM task_tags tt WHERE tt.task_id = t.id), '')`

func scanTask(row rowScanner) (Task, error) {
	var (
		item     Task
		assignee sql.NullString
		due      sql.NullTime
		tags     string
	)
	err := row.Scan(&item.ID, &item.BoardID, &item.ListID, &item.Title, &item.Description, &item.Position, &due, &assignee,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt, &tags)
	if err != nil {
		return Task{}, err
	}
	if due.Valid {
		at := due.Time
		item.DueDate = &at
	}
	if assignee.Valid {
		id := assignee.String
		item.AssigneeID = &id
	}
	item.TagIDs = splitIDs(tags)
	return item, nil
}

func splitIDs(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	item, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=$1`, taskID))
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return item, nil
}

// ListTasks returns the tasks of one list ordered by position.
func (s *PostgresStore) ListTasks(ctx context.Context, listID string) ([]Task, error) {
	return queryTasks(ctx, s.db, `t.list_id=$1`, listID)
}

// ListBoardTasks returns every task of a board ordered by list, then position.
func (s *PostgresStore) ListBoardTasks(ctx context.Context, boardID string) ([]Task, error) {
	return queryTasks(ctx, s.db, `t.board_id=$1`, boardID)
}

func queryTasks(ctx context.Context, q querier, where string, arg string) ([]Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks t WHERE `+where+` ORDER BY t.list_id ASC, t.position ASC, t.id ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// TaskPatch holds the editable task fields. Nil fields are left unchanged;
// ClearDueDate and ClearAssignee null the column.
type TaskPatch struct {
	Title         *string
	Description   *string
	DueDate       *time.Time
	ClearDueDate  bool
	AssigneeID    *string
	ClearAssignee bool
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			due_date = CASE WHEN $5 THEN NULL ELSE COALESCE($4, due_date) END,
			assignee_id = CASE WHEN $7 THEN NULL ELSE COALESCE($6, assignee_id) END,
			updated_at = NOW()
		WHERE id=$1
	`, taskID, patch.Title, patch.Description, patch.DueDate, patch.ClearDueDate, patch.AssigneeID, patch.ClearAssignee)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireOneRow(res, "update task")
}
