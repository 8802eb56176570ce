package app

import (
	"context"
	"strings"

	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

func indexOf[T reorder.Ordered[T]](items []T, id string) int {
	for i, item := range items {
		if item.ItemID() == id {
			return i
		}
	}
	return -1
}

func listViews(lists []store.BoardList) []map[string]any {
	out := make([]map[string]any, 0, len(lists))
	for _, l := range lists {
		out = append(out, listView(l))
	}
	return out
}

// CreateList inserts a list at position, or appends it when position is nil.
func (s *Service) CreateList(ctx context.Context, session Session, boardID, title string, position *int) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}

	list := store.BoardList{ID: util.NewID("lst"), BoardID: board.ID, Title: title}
	res, err := s.store.ReorderLists(ctx, board.ID, activity("list.created", session, map[string]any{"title": title}),
		func(lists []store.BoardList) (reorder.Plan[store.BoardList], error) {
			at := len(lists)
			if position != nil {
				at = *position
			}
			if at < 0 || at > len(lists) {
				return reorder.Plan[store.BoardList]{}, validationError("position is out of range")
			}
			return reorder.PlanInsert(lists, list, at), nil
		})
	if err != nil {
		return nil, err
	}
	s.snapshot(ctx, board, session, "Add list "+title)

	created := res.Plan.Insert.Item
	payload := listView(created)
	payload["tasks"] = []map[string]any{}
	payload["lists"] = listViews(res.Items)
	return payload, nil
}

func (s *Service) RenameList(ctx context.Context, session Session, listID, title string) (map[string]any, error) {
	list, board, err := s.listFor(ctx, session, listID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if err := s.store.RenameList(ctx, listID, title); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, board.ID, activity("list.renamed", session, map[string]any{"listId": listID, "from": list.Title, "to": title}))
	s.snapshot(ctx, board, session, "Rename list "+list.Title+" to "+title)
	list.Title = title
	return listView(list), nil
}

// DeleteList removes a list with its tasks and closes the gap it leaves.
func (s *Service) DeleteList(ctx context.Context, session Session, listID string) (map[string]any, error) {
	list, board, err := s.listFor(ctx, session, listID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, listID)
	if err != nil {
		return nil, err
	}

	res, err := s.store.ReorderLists(ctx, board.ID, activity("list.deleted", session, map[string]any{"title": list.Title}),
		func(lists []store.BoardList) (reorder.Plan[store.BoardList], error) {
			at := indexOf(lists, listID)
			if at < 0 {
				return reorder.Plan[store.BoardList]{}, notFound("List")
			}
			return reorder.PlanDelete(lists, at), nil
		})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		for _, t := range tasks {
			s.search.DeleteTask(t.ID)
		}
	}
	s.snapshot(ctx, board, session, "Delete list "+list.Title)
	return map[string]any{"ok": true, "lists": listViews(res.Items)}, nil
}

// MoveList moves a list to index to among its board's lists.
func (s *Service) MoveList(ctx context.Context, session Session, listID string, to int) (map[string]any, error) {
	_, board, err := s.listFor(ctx, session, listID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	return s.reorderLists(ctx, session, board, func(lists []store.BoardList) (reorder.Plan[store.BoardList], error) {
		from := indexOf(lists, listID)
		if from < 0 {
			return reorder.Plan[store.BoardList]{}, store.ErrPositionConflict
		}
		if to < 0 || to >= len(lists) {
			return reorder.Plan[store.BoardList]{}, validationError("position is out of range")
		}
		return reorder.PlanMove(lists, from, to), nil
	})
}

func (s *Service) reorderLists(ctx context.Context, session Session, board store.Board, planner store.ListPlanner) (map[string]any, error) {
	res, err := s.store.ReorderLists(ctx, board.ID, activity("list.moved", session, nil), planner)
	if err != nil {
		return nil, err
	}
	if !res.Plan.Empty() {
		s.snapshot(ctx, board, session, "Reorder lists")
	}
	return map[string]any{
		"lists":    listViews(res.Items),
		"updates":  res.Plan.FieldUpdates("lists"),
		"repaired": res.Repaired,
	}, nil
}
