package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kanban/api/internal/reorder"
)

// ErrPositionConflict is returned by planners when the locked rows no longer
// match what the caller saw.
var ErrPositionConflict = errors.New("positions changed since snapshot")

// Activity describes the board_events row written with a plan.
type Activity struct {
	Kind    string
	ActorID string
	Extra   map[string]any
}

// PlanResult is what a plan transaction committed.
type PlanResult[T any] struct {
	Plan  reorder.Plan[T]
	Items []T // the parent list after the plan
	// Repaired is set when the locked rows were not dense and were
	// renumbered before planning.
	Repaired bool
}

// TransferResult is what a cross-list transfer committed.
type TransferResult struct {
	DeletePlan reorder.Plan[Task]
	InsertPlan reorder.Plan[Task]
	From       []Task
	To         []Task
	Repaired   bool
}

type (
	ListPlanner     func(lists []BoardList) (reorder.Plan[BoardList], error)
	TaskPlanner     func(tasks []Task) (reorder.Plan[Task], error)
	TransferPlanner func(from, to []Task) (del, ins reorder.Plan[Task], err error)
)

// ReorderLists locks a board, loads its lists, asks plan for the writes and
// applies them together with an activity row in one transaction.
func (s *PostgresStore) ReorderLists(ctx context.Context, boardID string, act Activity, plan ListPlanner) (PlanResult[BoardList], error) {
	var out PlanResult[BoardList]
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockRow(ctx, tx, `SELECT id FROM boards WHERE id=$1 FOR UPDATE`, boardID); err != nil {
			return fmt.Errorf("lock board: %w", err)
		}
		lists, err := queryLists(ctx, tx, boardID)
		if err != nil {
			return err
		}
		lists, out.Repaired, err = normalizeLocked(ctx, tx, "board_lists", lists)
		if err != nil {
			return err
		}

		p, err := plan(lists)
		if err != nil {
			return err
		}
		next, err := checkPlan(lists, p)
		if err != nil {
			return err
		}
		if err := writePlan(ctx, tx, "board_lists", p, func(l BoardList) error { return insertList(ctx, tx, l) }); err != nil {
			return err
		}
		if !p.Empty() || out.Repaired {
			if err := insertEvent(ctx, tx, boardID, act, map[string]any{"lists": p.FieldUpdates("lists")}); err != nil {
				return err
			}
		}
		out.Plan, out.Items = p, next
		return nil
	})
	if err != nil {
		return PlanResult[BoardList]{}, err
	}
	return out, nil
}

// ReorderTasks is ReorderLists for the tasks of one list. The list row is the
// lock.
func (s *PostgresStore) ReorderTasks(ctx context.Context, listID string, act Activity, plan TaskPlanner) (PlanResult[Task], error) {
	var out PlanResult[Task]
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		boardID, err := lockRow(ctx, tx, `SELECT board_id FROM board_lists WHERE id=$1 FOR UPDATE`, listID)
		if err != nil {
			return fmt.Errorf("lock list: %w", err)
		}
		tasks, err := queryTasks(ctx, tx, `t.list_id=$1`, listID)
		if err != nil {
			return err
		}
		tasks, out.Repaired, err = normalizeLocked(ctx, tx, "tasks", tasks)
		if err != nil {
			return err
		}

		p, err := plan(tasks)
		if err != nil {
			return err
		}
		next, err := checkPlan(tasks, p)
		if err != nil {
			return err
		}
		if err := writePlan(ctx, tx, "tasks", p, func(t Task) error { return insertTask(ctx, tx, t) }); err != nil {
			return err
		}
		if !p.Empty() || out.Repaired {
			extra := map[string]any{"listId": listID, "tasks": p.FieldUpdates("tasks")}
			if err := insertEvent(ctx, tx, boardID, act, extra); err != nil {
				return err
			}
		}
		out.Plan, out.Items = p, next
		return nil
	})
	if err != nil {
		return PlanResult[Task]{}, err
	}
	return out, nil
}

// TransferTask moves taskID from its list to toListID. Both lists are locked
// in id order. The delete plan closes the gap in the origin and the insert
// plan opens a slot in the target; the task row itself is re-parented rather
// than deleted so its tags survive.
func (s *PostgresStore) TransferTask(ctx context.Context, taskID, toListID string, act Activity, plan TransferPlanner) (TransferResult, error) {
	var out TransferResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var fromListID, boardID string
		if err := tx.QueryRowContext(ctx, `SELECT list_id, board_id FROM tasks WHERE id=$1`, taskID).Scan(&fromListID, &boardID); err != nil {
			return fmt.Errorf("read task: %w", err)
		}
		if fromListID == toListID {
			return fmt.Errorf("transfer task within list %s: %w", toListID, ErrPositionConflict)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, board_id FROM board_lists WHERE id IN ($1, $2) ORDER BY id FOR UPDATE
		`, fromListID, toListID)
		if err != nil {
			return fmt.Errorf("lock lists: %w", err)
		}
		boards := map[string]string{}
		for rows.Next() {
			var id, b string
			if err := rows.Scan(&id, &b); err != nil {
				rows.Close()
				return fmt.Errorf("scan locked list: %w", err)
			}
			boards[id] = b
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("lock lists: %w", err)
		}
		if _, ok := boards[toListID]; !ok {
			return fmt.Errorf("lock target list: %w", sql.ErrNoRows)
		}
		if boards[toListID] != boardID {
			return fmt.Errorf("transfer across boards: %w", ErrPositionConflict)
		}

		var current string
		if err := tx.QueryRowContext(ctx, `SELECT list_id FROM tasks WHERE id=$1 FOR UPDATE`, taskID).Scan(&current); err != nil {
			return fmt.Errorf("lock task: %w", err)
		}
		if current != fromListID {
			return fmt.Errorf("task %s moved concurrently: %w", taskID, ErrPositionConflict)
		}

		from, err := queryTasks(ctx, tx, `t.list_id=$1`, fromListID)
		if err != nil {
			return err
		}
		to, err := queryTasks(ctx, tx, `t.list_id=$1`, toListID)
		if err != nil {
			return err
		}
		var fixedFrom, fixedTo bool
		if from, fixedFrom, err = normalizeLocked(ctx, tx, "tasks", from); err != nil {
			return err
		}
		if to, fixedTo, err = normalizeLocked(ctx, tx, "tasks", to); err != nil {
			return err
		}

		del, ins, err := plan(from, to)
		if err != nil {
			return err
		}
		if del.Delete != taskID || ins.Insert == nil || ins.Insert.Item.ID != taskID {
			return fmt.Errorf("transfer plan does not carry task %s: %w", taskID, ErrPositionConflict)
		}
		nextFrom, err := checkPlan(from, del)
		if err != nil {
			return err
		}
		nextTo, err := checkPlan(to, ins)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET list_id=$2, position=$3, updated_at=NOW() WHERE id=$1
		`, taskID, toListID, ins.Insert.Position); err != nil {
			return fmt.Errorf("reparent task: %w", err)
		}
		if err := writeUpdates(ctx, tx, "tasks", del.Updates); err != nil {
			return err
		}
		if err := writeUpdates(ctx, tx, "tasks", ins.Updates); err != nil {
			return err
		}

		extra := map[string]any{
			"taskId":     taskID,
			"fromListId": fromListID,
			"toListId":   toListID,
			"from":       del.FieldUpdates("tasks"),
			"to":         ins.FieldUpdates("tasks"),
		}
		if err := insertEvent(ctx, tx, boardID, act, extra); err != nil {
			return err
		}

		for i := range nextTo {
			if nextTo[i].ID == taskID {
				nextTo[i].ListID = toListID
			}
		}
		out = TransferResult{DeletePlan: del, InsertPlan: ins, From: nextFrom, To: nextTo, Repaired: fixedFrom || fixedTo}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return out, nil
}

// VerifyBoard reports every parent list of a board whose positions are not
// dense. It takes no locks.
func (s *PostgresStore) VerifyBoard(ctx context.Context, boardID string) ([]DensityIssue, error) {
	lists, err := s.ListLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	issues := make([]DensityIssue, 0)
	if err := reorder.CheckDense(lists); err != nil {
		issues = append(issues, DensityIssue{BoardID: boardID, Parent: boardID, Kind: "lists", Err: err.Error()})
	}
	for _, list := range lists {
		tasks, err := s.ListTasks(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		if err := reorder.CheckDense(tasks); err != nil {
			issues = append(issues, DensityIssue{BoardID: boardID, Parent: list.ID, Kind: "tasks", Err: err.Error()})
		}
	}
	return issues, nil
}

// RepairBoard renumbers every parent list of a board that is not dense and
// returns how many were rewritten.
func (s *PostgresStore) RepairBoard(ctx context.Context, boardID, actorID string) (int, error) {
	act := Activity{Kind: "positions.repaired", ActorID: actorID}
	noop := func(lists []BoardList) (reorder.Plan[BoardList], error) { return reorder.Plan[BoardList]{}, nil }

	repaired := 0
	res, err := s.ReorderLists(ctx, boardID, act, noop)
	if err != nil {
		return 0, err
	}
	if res.Repaired {
		repaired++
	}
	for _, list := range res.Items {
		tr, err := s.ReorderTasks(ctx, list.ID, act, func([]Task) (reorder.Plan[Task], error) { return reorder.Plan[Task]{}, nil })
		if err != nil {
			return repaired, err
		}
		if tr.Repaired {
			repaired++
		}
	}
	return repaired, nil
}

func lockRow(ctx context.Context, tx *sql.Tx, query, id string) (string, error) {
	var value string
	if err := tx.QueryRowContext(ctx, query, id).Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

func normalizeLocked[T reorder.Ordered[T]](ctx context.Context, tx *sql.Tx, table string, items []T) ([]T, bool, error) {
	if reorder.CheckDense(items) == nil {
		return items, false, nil
	}
	fix := reorder.PlanNormalize(items)
	if err := writeUpdates(ctx, tx, table, fix.Updates); err != nil {
		return nil, false, err
	}
	return reorder.Apply(items, fix), true, nil
}

func checkPlan[T reorder.Ordered[T]](items []T, plan reorder.Plan[T]) ([]T, error) {
	next := reorder.Apply(items, plan)
	if err := reorder.CheckDense(next); err != nil {
		return nil, fmt.Errorf("check plan: %w", err)
	}
	return next, nil
}

func writePlan[T reorder.Ordered[T]](ctx context.Context, tx *sql.Tx, table string, plan reorder.Plan[T], insert func(T) error) error {
	if plan.Delete != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, plan.Delete); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if err := writeUpdates(ctx, tx, table, plan.Updates); err != nil {
		return err
	}
	if plan.Insert != nil {
		if err := insert(plan.Insert.Item.WithRank(plan.Insert.Position)); err != nil {
			return err
		}
	}
	return nil
}

func writeUpdates(ctx context.Context, tx *sql.Tx, table string, updates []reorder.Update) error {
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET position=$2, updated_at=NOW() WHERE id=$1`, u.ID, u.Position)
		if err != nil {
			return fmt.Errorf("update %s position: %w", table, err)
		}
		if err := requireOneRow(res, "update "+table+" position"); err != nil {
			return err
		}
	}
	return nil
}

func insertList(ctx context.Context, tx *sql.Tx, list BoardList) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO board_lists (id, board_id, title, position) VALUES ($1, $2, $3, $4)
	`, list.ID, list.BoardID, list.Title, list.Position)
	if err != nil {
		return fmt.Errorf("insert list: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx *sql.Tx, task Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, board_id, list_id, title, description, position, due_date, assignee_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.BoardID, task.ListID, task.Title, task.Description, task.Position, task.DueDate, task.AssigneeID, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, boardID string, act Activity, changes map[string]any) error {
	payload := make(map[string]any, len(act.Extra)+len(changes))
	for k, v := range act.Extra {
		payload[k] = v
	}
	for k, v := range changes {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO board_events (board_id, kind, actor_id, payload) VALUES ($1, $2, $3, $4::jsonb)
	`, boardID, act.Kind, act.ActorID, string(raw)); err != nil {
		return fmt.Errorf("insert board event: %w", err)
	}
	return nil
}

// RecordEvent writes an activity row outside of a plan transaction.
func (s *PostgresStore) RecordEvent(ctx context.Context, boardID string, act Activity) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, boardID, act, nil)
	})
}

func (s *PostgresStore) ListEvents(ctx context.Context, boardID string, limit int) ([]BoardEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, kind, actor_id, payload::text, created_at
		FROM board_events WHERE board_id=$1
		ORDER BY id DESC
		LIMIT $2
	`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list board events: %w", err)
	}
	defer rows.Close()

	items := make([]BoardEvent, 0)
	for rows.Next() {
		var (
			item    BoardEvent
			payload string
		)
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Kind, &item.ActorID, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board event: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board events: %w", err)
	}
	return items, nil
}
