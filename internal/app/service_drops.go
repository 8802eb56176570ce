package app

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"kanban/api/internal/drag"
	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
)

// DropEnvelope is the wire form of a drag request. Request holds the JSON of
// a drag.MoveRequest, drag.TransferRequest or drag.CancelNotification,
// selected by Type.
type DropEnvelope struct {
	Type    string          `json:"type"`
	Request json.RawMessage `json:"request"`
}

// DecodeDrop turns an envelope posted to a board into a typed drag request.
// A move whose list is the board itself reorders lists; any other key is a
// list id and reorders that list's tasks.
func DecodeDrop(boardID string, env DropEnvelope) (drag.Request, error) {
	switch strings.ToLower(env.Type) {
	case "move":
		var head struct {
			List drag.ListKey `json:"list"`
		}
		if err := json.Unmarshal(env.Request, &head); err != nil {
			return nil, validationError("request is not a move")
		}
		if string(head.List) == boardID {
			var req drag.MoveRequest[store.BoardList]
			if err := json.Unmarshal(env.Request, &req); err != nil {
				return nil, validationError("request is not a list move")
			}
			return req, nil
		}
		var req drag.MoveRequest[store.Task]
		if err := json.Unmarshal(env.Request, &req); err != nil {
			return nil, validationError("request is not a task move")
		}
		return req, nil
	case "transfer":
		var req drag.TransferRequest[store.Task]
		if err := json.Unmarshal(env.Request, &req); err != nil {
			return nil, validationError("request is not a task transfer")
		}
		return req, nil
	case "cancel":
		var req drag.CancelNotification
		if err := json.Unmarshal(env.Request, &req); err != nil {
			return nil, validationError("request is not a cancel notification")
		}
		return req, nil
	}
	return nil, validationError("type must be move, transfer or cancel")
}

// ApplyDrop persists a request emitted by the drag interpreter. Plans are
// recomputed from the locked rows; when they differ from the plan the client
// computed, the board changed underneath the gesture and the drop is refused
// with ErrPositionConflict.
func (s *Service) ApplyDrop(ctx context.Context, session Session, boardID string, req drag.Request) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case drag.MoveRequest[store.BoardList]:
		if string(r.List) != board.ID {
			return nil, validationError("list moves must target this board")
		}
		return s.reorderLists(ctx, session, board, func(lists []store.BoardList) (reorder.Plan[store.BoardList], error) {
			return replanMove(lists, r.From, r.To, r.Plan)
		})

	case drag.MoveRequest[store.Task]:
		list, err := s.boardList(ctx, board, string(r.List))
		if err != nil {
			return nil, err
		}
		return s.reorderTasks(ctx, session, board, list.ID, func(tasks []store.Task) (reorder.Plan[store.Task], error) {
			return replanMove(tasks, r.From, r.To, r.Plan)
		})

	case drag.TransferRequest[store.Task]:
		if _, err := s.boardList(ctx, board, string(r.From)); err != nil {
			return nil, err
		}
		if _, err := s.boardList(ctx, board, string(r.To)); err != nil {
			return nil, err
		}
		itemID, err := transferItemID(r)
		if err != nil {
			return nil, err
		}
		return s.transferTask(ctx, session, board, itemID, string(r.From), string(r.To), func(from, to []store.Task) (reorder.Plan[store.Task], reorder.Plan[store.Task], error) {
			return replanTransfer(from, to, itemID, r)
		})

	case drag.CancelNotification:
		s.log.Debug("drag cancelled", zap.String("board_id", board.ID), zap.String("list", string(r.List)), zap.String("item_id", r.ItemID))
		return map[string]any{"ok": true, "cancelled": true, "list": r.List, "itemId": r.ItemID}, nil
	}
	return nil, validationError(fmt.Sprintf("unsupported drop %T", req))
}

// boardList loads listID and checks it belongs to board.
func (s *Service) boardList(ctx context.Context, board store.Board, listID string) (store.BoardList, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.BoardList{}, notFound("List")
		}
		return store.BoardList{}, err
	}
	if list.BoardID != board.ID {
		return store.BoardList{}, notFound("List")
	}
	return list, nil
}

// transferItemID names the dragged task. When the interpreter attached an
// encoded payload it must describe the same task.
func transferItemID(r drag.TransferRequest[store.Task]) (string, error) {
	id := r.Item.ID
	if len(r.Payload) > 0 {
		var encoded store.Task
		if err := json.Unmarshal(r.Payload, &encoded); err != nil {
			return "", fmt.Errorf("%w: %v", drag.ErrPayload, err)
		}
		if id == "" {
			id = encoded.ID
		}
		if encoded.ID != id {
			return "", fmt.Errorf("%w: payload names %s, item is %s", drag.ErrPayload, encoded.ID, id)
		}
	}
	if id == "" {
		return "", drag.ErrNoItem
	}
	return id, nil
}

func replanMove[T reorder.Ordered[T]](items []T, from, to int, sent reorder.Plan[T]) (reorder.Plan[T], error) {
	if from < 0 || from >= len(items) {
		return reorder.Plan[T]{}, store.ErrPositionConflict
	}
	plan := reorder.PlanMove(items, from, to)
	if !maps.Equal(plan.Positions(), sent.Positions()) {
		return reorder.Plan[T]{}, store.ErrPositionConflict
	}
	return plan, nil
}

func replanTransfer(from, to []store.Task, itemID string, r drag.TransferRequest[store.Task]) (reorder.Plan[store.Task], reorder.Plan[store.Task], error) {
	var none reorder.Plan[store.Task]
	at := indexOf(from, itemID)
	if at < 0 || at != r.FromIndex || r.ToIndex < 0 || r.ToIndex > len(to) {
		return none, none, store.ErrPositionConflict
	}
	del := reorder.PlanDelete(from, at)
	ins := reorder.PlanInsert(to, from[at], r.ToIndex)
	if r.DeletePlan.Delete != itemID ||
		!maps.Equal(del.Positions(), r.DeletePlan.Positions()) ||
		!maps.Equal(ins.Positions(), r.InsertPlan.Positions()) {
		return none, none, store.ErrPositionConflict
	}
	return del, ins, nil
}
