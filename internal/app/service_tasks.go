package app

import (
	"context"
	"regexp"
	"strings"
	"time"

	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

var tagColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type TaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	AssigneeID  *string    `json:"assigneeId"`
	Position    *int       `json:"position"`
}

// TaskPatch updates the fields that are set. ClearDueDate and ClearAssignee
// null the field.
type TaskPatch struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	DueDate       *time.Time `json:"dueDate"`
	ClearDueDate  bool       `json:"clearDueDate"`
	AssigneeID    *string    `json:"assigneeId"`
	ClearAssignee bool       `json:"clearAssignee"`
}

func taskViews(tasks []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t))
	}
	return out
}

// checkAssignee requires the assignee to be a member of the board's workspace.
func (s *Service) checkAssignee(ctx context.Context, board store.Board, assigneeID *string) error {
	if assigneeID == nil || *assigneeID == "" {
		return nil
	}
	if _, err := s.store.GetMemberRole(ctx, board.WorkspaceID, *assigneeID); err != nil {
		if store.IsNotFound(err) {
			return validationError("assignee is not a workspace member")
		}
		return err
	}
	return nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, listID string, input TaskInput) (map[string]any, error) {
	list, board, err := s.listFor(ctx, session, listID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if input.AssigneeID != nil && *input.AssigneeID == "" {
		input.AssigneeID = nil
	}
	if err := s.checkAssignee(ctx, board, input.AssigneeID); err != nil {
		return nil, err
	}

	task := store.Task{
		ID:          util.NewID("tsk"),
		BoardID:     board.ID,
		ListID:      list.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		DueDate:     input.DueDate,
		AssigneeID:  input.AssigneeID,
		CreatedBy:   session.UserID,
	}
	res, err := s.store.ReorderTasks(ctx, list.ID, activity("task.created", session, map[string]any{"title": title}),
		func(tasks []store.Task) (reorder.Plan[store.Task], error) {
			at := len(tasks)
			if input.Position != nil {
				at = *input.Position
			}
			if at < 0 || at > len(tasks) {
				return reorder.Plan[store.Task]{}, validationError("position is out of range")
			}
			return reorder.PlanInsert(tasks, task, at), nil
		})
	if err != nil {
		return nil, err
	}
	created := res.Plan.Insert.Item
	s.indexTask(created, board.WorkspaceID)
	s.snapshot(ctx, board, session, "Add task "+title)

	payload := taskView(created)
	payload["tasks"] = taskViews(res.Items)
	return payload, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	task, _, err := s.taskFor(ctx, session, taskID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return taskView(task), nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, patch TaskPatch) (map[string]any, error) {
	_, board, err := s.taskFor(ctx, session, taskID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	update := store.TaskPatch{
		Description:   patch.Description,
		DueDate:       patch.DueDate,
		ClearDueDate:  patch.ClearDueDate,
		AssigneeID:    patch.AssigneeID,
		ClearAssignee: patch.ClearAssignee,
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, validationError("title cannot be empty")
		}
		update.Title = &title
	}
	if err := s.checkAssignee(ctx, board, patch.AssigneeID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateTask(ctx, taskID, update); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, board.ID, activity("task.updated", session, map[string]any{"taskId": taskID}))
	s.indexTask(task, board.WorkspaceID)
	s.snapshot(ctx, board, session, "Update task "+task.Title)
	return taskView(task), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	task, board, err := s.taskFor(ctx, session, taskID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	res, err := s.store.ReorderTasks(ctx, task.ListID, activity("task.deleted", session, map[string]any{"title": task.Title}),
		func(tasks []store.Task) (reorder.Plan[store.Task], error) {
			at := indexOf(tasks, taskID)
			if at < 0 {
				return reorder.Plan[store.Task]{}, store.ErrPositionConflict
			}
			return reorder.PlanDelete(tasks, at), nil
		})
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	s.snapshot(ctx, board, session, "Delete task "+task.Title)
	return map[string]any{"ok": true, "listId": task.ListID, "tasks": taskViews(res.Items)}, nil
}

// MoveTask moves a task to index to within its own list.
func (s *Service) MoveTask(ctx context.Context, session Session, taskID string, to int) (map[string]any, error) {
	task, board, err := s.taskFor(ctx, session, taskID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	return s.reorderTasks(ctx, session, board, task.ListID, func(tasks []store.Task) (reorder.Plan[store.Task], error) {
		from := indexOf(tasks, taskID)
		if from < 0 {
			return reorder.Plan[store.Task]{}, store.ErrPositionConflict
		}
		if to < 0 || to >= len(tasks) {
			return reorder.Plan[store.Task]{}, validationError("position is out of range")
		}
		return reorder.PlanMove(tasks, from, to), nil
	})
}

func (s *Service) reorderTasks(ctx context.Context, session Session, board store.Board, listID string, planner store.TaskPlanner) (map[string]any, error) {
	res, err := s.store.ReorderTasks(ctx, listID, activity("task.moved", session, nil), planner)
	if err != nil {
		return nil, err
	}
	if !res.Plan.Empty() {
		s.snapshot(ctx, board, session, "Reorder tasks")
	}
	return map[string]any{
		"listId":   listID,
		"tasks":    taskViews(res.Items),
		"updates":  res.Plan.FieldUpdates("tasks"),
		"repaired": res.Repaired,
	}, nil
}

// TransferTask moves a task into another list of the same board at toIndex.
func (s *Service) TransferTask(ctx context.Context, session Session, taskID, toListID string, toIndex int) (map[string]any, error) {
	task, board, err := s.taskFor(ctx, session, taskID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	target, _, err := s.listFor(ctx, session, toListID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if target.BoardID != board.ID {
		return nil, validationError("tasks can only move between lists of the same board")
	}
	if target.ID == task.ListID {
		return s.MoveTask(ctx, session, taskID, toIndex)
	}
	return s.transferTask(ctx, session, board, taskID, task.ListID, toListID, func(from, to []store.Task) (reorder.Plan[store.Task], reorder.Plan[store.Task], error) {
		at := indexOf(from, taskID)
		if at < 0 {
			return reorder.Plan[store.Task]{}, reorder.Plan[store.Task]{}, store.ErrPositionConflict
		}
		if toIndex < 0 || toIndex > len(to) {
			return reorder.Plan[store.Task]{}, reorder.Plan[store.Task]{}, validationError("position is out of range")
		}
		return reorder.PlanDelete(from, at), reorder.PlanInsert(to, from[at], toIndex), nil
	})
}

func (s *Service) transferTask(ctx context.Context, session Session, board store.Board, taskID, fromListID, toListID string, planner store.TransferPlanner) (map[string]any, error) {
	res, err := s.store.TransferTask(ctx, taskID, toListID, activity("task.transferred", session, nil), planner)
	if err != nil {
		return nil, err
	}
	moved := res.InsertPlan.Insert.Item
	moved.ListID = toListID
	s.indexTask(moved, board.WorkspaceID)
	s.snapshot(ctx, board, session, "Move task "+moved.Title)
	return map[string]any{
		"task":     taskView(moved),
		"from":     map[string]any{"listId": fromListID, "tasks": taskViews(res.From)},
		"to":       map[string]any{"listId": toListID, "tasks": taskViews(res.To)},
		"repaired": res.Repaired,
	}, nil
}

// Tags

func (s *Service) CreateTag(ctx context.Context, session Session, boardID, name, color string) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if color == "" {
		color = "#8b949e"
	}
	if !tagColorPattern.MatchString(color) {
		return nil, validationError("color must be #rrggbb")
	}
	tag := store.Tag{ID: util.NewID("tag"), BoardID: board.ID, Name: name, Color: strings.ToLower(color)}
	if err := s.store.CreateTag(ctx, tag); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, board.ID, activity("tag.created", session, map[string]any{"tagId": tag.ID, "name": name}))
	return tagView(tag), nil
}

func (s *Service) ListTags(ctx context.Context, session Session, boardID string) ([]map[string]any, error) {
	if _, err := s.boardFor(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	tags, err := s.store.ListTags(ctx, boardID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(tags))
	for _, t := range tags {
		out = append(out, tagView(t))
	}
	return out, nil
}

func (s *Service) DeleteTag(ctx context.Context, session Session, boardID, tagID string) error {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil || tag.BoardID != board.ID {
		if err == nil || store.IsNotFound(err) {
			return notFound("Tag")
		}
		return err
	}
	if err := s.store.DeleteTag(ctx, tagID); err != nil {
		return err
	}
	s.recordEvent(ctx, board.ID, activity("tag.deleted", session, map[string]any{"tagId": tagID, "name": tag.Name}))
	s.snapshot(ctx, board, session, "Delete tag "+tag.Name)
	return nil
}

// SetTaskTag attaches or detaches a tag of the task's board.
func (s *Service) SetTaskTag(ctx context.Context, session Session, taskID, tagID string, attached bool) (map[string]any, error) {
	task, board, err := s.taskFor(ctx, session, taskID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	tag, err := s.store.GetTag(ctx, tagID)
	if err != nil || tag.BoardID != board.ID {
		if err == nil || store.IsNotFound(err) {
			return nil, notFound("Tag")
		}
		return nil, err
	}

	kind := "task.tagged"
	if attached {
		err = s.store.AttachTag(ctx, task.ID, tag.ID)
	} else {
		kind = "task.untagged"
		err = s.store.DetachTag(ctx, task.ID, tag.ID)
	}
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, board.ID, activity(kind, session, map[string]any{"taskId": task.ID, "tagId": tag.ID}))

	updated, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	s.snapshot(ctx, board, session, "Tag task "+task.Title)
	return taskView(updated), nil
}
