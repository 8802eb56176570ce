package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kanban/api/internal/export"
	"kanban/api/internal/history"
	"kanban/api/internal/media"
	"kanban/api/internal/rbac"
	"kanban/api/internal/reorder"
	"kanban/api/internal/search"
	"kanban/api/internal/store"
	"kanban/api/internal/util"
)

const (
	defaultHistoryLimit = 50
	defaultEventLimit   = 100
)

// boardContents is everything a board page shows, loaded in parallel.
type boardContents struct {
	board   store.Board
	lists   []store.BoardList
	tasks   []store.Task
	tags    []store.Tag
	members []store.Member
}

func (s *Service) loadContents(ctx context.Context, board store.Board) (boardContents, error) {
	out := boardContents{board: board}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.lists, err = s.store.ListLists(gctx, board.ID)
		return err
	})
	g.Go(func() (err error) {
		out.tasks, err = s.store.ListBoardTasks(gctx, board.ID)
		return err
	})
	g.Go(func() (err error) {
		out.tags, err = s.store.ListTags(gctx, board.ID)
		return err
	})
	g.Go(func() (err error) {
		out.members, err = s.store.ListMembers(gctx, board.WorkspaceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return boardContents{}, err
	}
	out.lists = reorder.Sorted(out.lists)
	return out, nil
}

// tasksByList groups tasks under their list in position order.
func (c boardContents) tasksByList() map[string][]store.Task {
	grouped := make(map[string][]store.Task, len(c.lists))
	for _, t := range c.tasks {
		grouped[t.ListID] = append(grouped[t.ListID], t)
	}
	for id, tasks := range grouped {
		grouped[id] = reorder.Sorted(tasks)
	}
	return grouped
}

func (s *Service) boardView(ctx context.Context, b store.Board) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"workspaceId": b.WorkspaceID,
		"title":       b.Title,
		"description": b.Description,
		"coverUrl":    s.mediaURL(ctx, b.CoverKey),
		"createdBy":   b.CreatedBy,
		"createdAt":   b.CreatedAt,
		"updatedAt":   b.UpdatedAt,
	}
}

func listView(l store.BoardList) map[string]any {
	return map[string]any{
		"id":        l.ID,
		"boardId":   l.BoardID,
		"title":     l.Title,
		"position":  l.Position,
		"updatedAt": l.UpdatedAt,
	}
}

func taskView(t store.Task) map[string]any {
	tagIDs := t.TagIDs
	if tagIDs == nil {
		tagIDs = []string{}
	}
	return map[string]any{
		"id":          t.ID,
		"boardId":     t.BoardID,
		"listId":      t.ListID,
		"title":       t.Title,
		"description": t.Description,
		"position":    t.Position,
		"dueDate":     t.DueDate,
		"assigneeId":  t.AssigneeID,
		"tagIds":      tagIDs,
		"createdBy":   t.CreatedBy,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

func tagView(t store.Tag) map[string]any {
	return map[string]any{"id": t.ID, "boardId": t.BoardID, "name": t.Name, "color": t.Color}
}

func (s *Service) CreateBoard(ctx context.Context, session Session, workspaceID, title, description string) (map[string]any, error) {
	if _, err := s.authorize(ctx, session, workspaceID, rbac.ActionManage); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, validationError("title is required")
	}
	board := store.Board{
		ID:          util.NewID("brd"),
		WorkspaceID: workspaceID,
		Title:       title,
		Description: strings.TrimSpace(description),
		CreatedBy:   session.UserID,
	}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	created, err := s.store.GetBoard(ctx, board.ID)
	if err != nil {
		return nil, err
	}
	s.recordEvent(ctx, created.ID, activity("board.created", session, map[string]any{"title": created.Title}))
	s.indexBoard(created)
	s.snapshot(ctx, created, session, "Create board "+created.Title)
	return s.boardView(ctx, created), nil
}

func (s *Service) ListBoards(ctx context.Context, session Session, workspaceID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, session, workspaceID, rbac.ActionRead); err != nil {
		return nil, err
	}
	boards, err := s.store.ListBoards(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(boards))
	for _, b := range boards {
		out = append(out, s.boardView(ctx, b))
	}
	return out, nil
}

// GetBoard returns the board page: lists in position order, each with its
// tasks in position order, plus the board's tags and the workspace members.
func (s *Service) GetBoard(ctx context.Context, session Session, boardID string) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	contents, err := s.loadContents(ctx, board)
	if err != nil {
		return nil, err
	}

	grouped := contents.tasksByList()
	lists := make([]map[string]any, 0, len(contents.lists))
	for _, l := range contents.lists {
		view := listView(l)
		tasks := make([]map[string]any, 0, len(grouped[l.ID]))
		for _, t := range grouped[l.ID] {
			tasks = append(tasks, taskView(t))
		}
		view["tasks"] = tasks
		lists = append(lists, view)
	}
	tags := make([]map[string]any, 0, len(contents.tags))
	for _, t := range contents.tags {
		tags = append(tags, tagView(t))
	}
	members := make([]map[string]any, 0, len(contents.members))
	for _, m := range contents.members {
		members = append(members, memberView(m))
	}

	payload := s.boardView(ctx, board)
	payload["lists"] = lists
	payload["tags"] = tags
	payload["members"] = members
	return payload, nil
}

type BoardPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Service) UpdateBoard(ctx context.Context, session Session, boardID string, patch BoardPatch) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	title, description := board.Title, board.Description
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, validationError("title cannot be empty")
		}
	}
	if patch.Description != nil {
		description = strings.TrimSpace(*patch.Description)
	}
	if err := s.store.UpdateBoard(ctx, boardID, title, description); err != nil {
		return nil, err
	}
	board.Title, board.Description = title, description
	s.recordEvent(ctx, boardID, activity("board.updated", session, map[string]any{"title": title}))
	s.indexBoard(board)
	s.snapshot(ctx, board, session, "Update board details")
	return s.boardView(ctx, board), nil
}

func (s *Service) DeleteBoard(ctx context.Context, session Session, boardID string) error {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return err
	}
	s.forgetBoard(ctx, board)
	return nil
}

// forgetBoard drops everything kept outside the database for a deleted board.
func (s *Service) forgetBoard(ctx context.Context, board store.Board) {
	if s.search != nil {
		s.search.DeleteBoard(board.ID)
	}
	if s.history != nil {
		if err := s.history.Remove(board.ID); err != nil {
			s.log.Warn("remove board history failed", zap.String("board_id", board.ID), zap.Error(err))
		}
	}
	if s.media != nil {
		s.media.Remove(ctx, board.CoverKey)
	}
}

func (s *Service) UploadCover(ctx context.Context, session Session, boardID string, data []byte) (map[string]any, error) {
	if s.media == nil {
		return nil, mediaUnavailable()
	}
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	key, err := s.media.Put(ctx, media.KindCover, board.ID, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetBoardCover(ctx, board.ID, key); err != nil {
		s.media.Remove(ctx, key)
		return nil, err
	}
	s.media.Remove(ctx, board.CoverKey)
	board.CoverKey = key
	return s.boardView(ctx, board), nil
}

func (s *Service) ExportBoard(ctx context.Context, session Session, boardID string, format export.Format) (*export.Result, error) {
	if s.export == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	contents, err := s.loadContents(ctx, board)
	if err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, board.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, exportView(contents, ws.Name, session.UserName, s.now()), format)
}

func exportView(c boardContents, workspaceName, exportedBy string, at time.Time) export.Board {
	names := make(map[string]string, len(c.members))
	for _, m := range c.members {
		names[m.UserID] = m.DisplayName
	}
	tags := make(map[string]export.Tag, len(c.tags))
	for _, t := range c.tags {
		tags[t.ID] = export.Tag{Name: t.Name, Color: t.Color}
	}

	grouped := c.tasksByList()
	out := export.Board{
		Title:         c.board.Title,
		Description:   c.board.Description,
		WorkspaceName: workspaceName,
		ExportedBy:    exportedBy,
		ExportedAt:    at,
	}
	for _, l := range c.lists {
		list := export.List{Title: l.Title}
		for _, t := range grouped[l.ID] {
			task := export.Task{Title: t.Title, Description: t.Description, DueDate: t.DueDate}
			if t.AssigneeID != nil {
				task.Assignee = names[*t.AssigneeID]
			}
			for _, id := range t.TagIDs {
				if tag, ok := tags[id]; ok {
					task.Tags = append(task.Tags, tag)
				}
			}
			list.Tasks = append(list.Tasks, task)
		}
		out.Lists = append(out.Lists, list)
	}
	return out
}

func historyUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Board history is not enabled", nil)
}

func (s *Service) BoardHistory(ctx context.Context, session Session, boardID string, limit int) ([]history.Commit, error) {
	if s.history == nil {
		return nil, historyUnavailable()
	}
	if _, err := s.boardFor(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.history.History(boardID, limit)
}

// CompareHistory lists what changed on a board between two snapshots.
func (s *Service) CompareHistory(ctx context.Context, session Session, boardID, fromHash, toHash string) ([]history.Change, error) {
	if s.history == nil {
		return nil, historyUnavailable()
	}
	if _, err := s.boardFor(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if fromHash == "" || toHash == "" {
		return nil, validationError("from and to are required")
	}
	from, err := s.history.Snapshot(boardID, fromHash)
	if err != nil {
		return nil, notFound("Snapshot " + fromHash)
	}
	to, err := s.history.Snapshot(boardID, toHash)
	if err != nil {
		return nil, notFound("Snapshot " + toHash)
	}
	changes := history.Diff(from, to)
	if changes == nil {
		changes = []history.Change{}
	}
	return changes, nil
}

func (s *Service) BoardEvents(ctx context.Context, session Session, boardID string, limit int) ([]map[string]any, error) {
	if _, err := s.boardFor(ctx, session, boardID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultEventLimit {
		limit = defaultEventLimit
	}
	events, err := s.store.ListEvents(ctx, boardID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":        e.ID,
			"kind":      e.Kind,
			"actorId":   e.ActorID,
			"payload":   e.Payload,
			"createdAt": e.CreatedAt,
		})
	}
	return out, nil
}

// RepairBoard reports density violations and, unless dryRun, renumbers the
// affected lists.
func (s *Service) RepairBoard(ctx context.Context, session Session, boardID string, dryRun bool) (map[string]any, error) {
	board, err := s.boardFor(ctx, session, boardID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	issues, err := s.store.VerifyBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	found := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		found = append(found, map[string]any{"kind": issue.Kind, "parent": issue.Parent, "error": issue.Err})
	}
	payload := map[string]any{"issues": found, "repaired": 0}
	if dryRun || len(issues) == 0 {
		return payload, nil
	}
	repaired, err := s.store.RepairBoard(ctx, boardID, session.UserID)
	if err != nil {
		return nil, err
	}
	payload["repaired"] = repaired
	s.log.Info("board positions repaired", zap.String("board_id", boardID), zap.Int("parents", repaired))
	s.snapshot(ctx, board, session, "Repair positions")
	return payload, nil
}

// snapshot commits the current board to its history repository. Failures are
// logged; the change itself is already committed.
func (s *Service) snapshot(ctx context.Context, board store.Board, session Session, message string) {
	if s.history == nil {
		return
	}
	lists, err := s.store.ListLists(ctx, board.ID)
	if err == nil {
		var tasks []store.Task
		tasks, err = s.store.ListBoardTasks(ctx, board.ID)
		if err == nil {
			snap := snapshotOf(boardContents{board: board, lists: reorder.Sorted(lists), tasks: tasks})
			_, _, err = s.history.Record(board.ID, snap, session.UserName, message)
		}
	}
	if err != nil {
		s.log.Warn("board snapshot failed", zap.String("board_id", board.ID), zap.Error(err))
	}
}

func snapshotOf(c boardContents) history.Snapshot {
	grouped := c.tasksByList()
	snap := history.Snapshot{Title: c.board.Title, Description: c.board.Description, Lists: []history.SnapshotList{}}
	for _, l := range c.lists {
		list := history.SnapshotList{ID: l.ID, Title: l.Title, Tasks: []history.SnapshotTask{}}
		for _, t := range grouped[l.ID] {
			task := history.SnapshotTask{
				ID:          t.ID,
				Title:       t.Title,
				Description: t.Description,
				DueDate:     t.DueDate,
				TagIDs:      t.TagIDs,
			}
			if t.AssigneeID != nil {
				task.AssigneeID = *t.AssigneeID
			}
			list.Tasks = append(list.Tasks, task)
		}
		snap.Lists = append(snap.Lists, list)
	}
	return snap
}

func (s *Service) recordEvent(ctx context.Context, boardID string, act store.Activity) {
	if err := s.store.RecordEvent(ctx, boardID, act); err != nil {
		s.log.Warn("record board event failed", zap.String("board_id", boardID), zap.String("kind", act.Kind), zap.Error(err))
	}
}

func (s *Service) indexBoard(b store.Board) {
	if s.search == nil {
		return
	}
	s.search.IndexBoard(search.BoardRecord{ID: b.ID, Title: b.Title, Description: b.Description, WorkspaceID: b.WorkspaceID})
}

func (s *Service) indexTask(t store.Task, workspaceID string) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		BoardID:     t.BoardID,
		ListID:      t.ListID,
		WorkspaceID: workspaceID,
	})
}
