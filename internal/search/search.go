package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBoard ResultType = "board"
	ResultTask  ResultType = "task"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	BoardID     string     `json:"boardId"`
	ListID      string     `json:"listId,omitempty"`
	WorkspaceID string     `json:"workspaceId"`
}

// Query describes a search request. WorkspaceIDs bounds the result set; an
// empty slice matches nothing.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	WorkspaceIDs []string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// BoardRecord is the data we index for a board.
type BoardRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	WorkspaceID string `json:"workspaceId"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	BoardID     string `json:"boardId"`
	ListID      string `json:"listId"`
	WorkspaceID string `json:"workspaceId"`
}

func normalizePage(q Query) (limit, offset int) {
	limit, offset = q.Limit, q.Offset
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
