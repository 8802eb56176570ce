package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	AvatarKey             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Workspace struct {
	ID        string
	Name      string
	CreatedBy string
	Role      string // caller's role when listed for a user
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	WorkspaceID string
	UserID      string
	DisplayName string
	Email       string
	Role        string
	CreatedAt   time.Time
}

type Board struct {
	ID          string
	WorkspaceID string
	Title       string
	Description string
	CoverKey    string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BoardList is a column on a board, ordered by Position within BoardID.
type BoardList struct {
	ID        string
	BoardID   string
	Title     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l BoardList) ItemID() string { return l.ID }
func (l BoardList) Rank() int      { return l.Position }

func (l BoardList) WithRank(position int) BoardList {
	l.Position = position
	return l
}

// Task is a card ordered by Position within ListID.
type Task struct {
	ID          string
	BoardID     string
	ListID      string
	Title       string
	Description string
	Position    int
	DueDate     *time.Time
	AssigneeID  *string
	TagIDs      []string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t Task) ItemID() string { return t.ID }
func (t Task) Rank() int      { return t.Position }

func (t Task) WithRank(position int) Task {
	t.Position = position
	return t
}

type Tag struct {
	ID        string
	BoardID   string
	Name      string
	Color     string
	CreatedAt time.Time
}

type BoardEvent struct {
	ID        int64
	BoardID   string
	Kind      string
	ActorID   string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// DensityIssue reports a parent list whose positions are not 0..n-1.
type DensityIssue struct {
	BoardID string
	Parent  string // board id for lists, list id for tasks
	Kind    string // "lists" or "tasks"
	Err     string
}
