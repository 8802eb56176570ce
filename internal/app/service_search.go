package app

import (
	"context"
	"strings"

	"kanban/api/internal/search"
)

// Search runs a full-text query over the boards and tasks of every workspace
// the caller belongs to.
func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}}, nil
	}
	var kind search.ResultType
	switch filterType {
	case "", "all":
	case string(search.ResultBoard), string(search.ResultTask):
		kind = search.ResultType(filterType)
	default:
		return search.Response{}, validationError("type must be board or task")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	workspaces, err := s.store.ListWorkspacesForUser(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	ids := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}
	return s.search.Search(ctx, search.Query{
		Text:         text,
		FilterType:   kind,
		WorkspaceIDs: ids,
		Limit:        limit,
		Offset:       offset,
	}), nil
}
