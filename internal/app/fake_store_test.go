package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kanban/api/internal/config"
	"kanban/api/internal/reorder"
	"kanban/api/internal/store"
)

// fakeStore keeps just enough state in memory to run the planners the
// service hands to it. The ...Fn hooks override single methods.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]store.User
	resets   map[string]string
	refresh  map[string]string
	revoked  map[string]bool
	spaces   map[string]store.Workspace
	roles    map[string]map[string]string
	boards   map[string]store.Board
	lists    map[string]store.BoardList
	tasks    map[string]store.Task
	tags     map[string]store.Tag
	events   []store.BoardEvent
	planRuns int

	pingFn          func(context.Context) error
	removeMemberFn  func(context.Context, string, string) error
	verifyBoardFn   func(context.Context, string) ([]store.DensityIssue, error)
	repairBoardFn   func(context.Context, string, string) (int, error)
	reorderListsFn  func(context.Context, string) error
	listBoardTaskFn func(context.Context, string) ([]store.Task, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[string]store.User{},
		resets:  map[string]string{},
		refresh: map[string]string{},
		revoked: map[string]bool{},
		spaces:  map[string]store.Workspace{},
		roles:   map[string]map[string]string{},
		boards:  map[string]store.Board{},
		lists:   map[string]store.BoardList{},
		tasks:   map[string]store.Task{},
		tags:    map[string]store.Tag{},
	}
}

func notFoundErr(what, id string) error {
	return fmt.Errorf("get %s %s: %w", what, id, sql.ErrNoRows)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, notFoundErr("user", id)
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			return u, nil
		}
	}
	return store.User{}, notFoundErr("user", email)
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.VerificationToken, u.VerificationExpiresAt = token, &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken == token && !u.IsEmailVerified {
			u.IsEmailVerified, u.VerificationToken = true, ""
			f.users[id] = u
			return nil
		}
	}
	return notFoundErr("verification", token)
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.PasswordHash = hash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.DisplayName = displayName
	f.users[userID] = u
	return nil
}

func (f *fakeStore) SetUserAvatar(_ context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.AvatarKey = key
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[tokenHash]
	if !ok {
		return "", notFoundErr("password reset", tokenHash)
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, tokenHash)
	return nil
}

// Tokens

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return "", notFoundErr("refresh session", tokenHash)
	}
	return userID, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Workspaces

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws.CreatedAt = time.Now()
	ws.UpdatedAt = ws.CreatedAt
	f.spaces[ws.ID] = ws
	f.roles[ws.ID] = map[string]string{ws.CreatedBy: "owner"}
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.spaces[id]
	if !ok {
		return store.Workspace{}, notFoundErr("workspace", id)
	}
	return ws, nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Workspace
	for id, members := range f.roles {
		if role, ok := members[userID]; ok {
			ws := f.spaces[id]
			ws.Role = role
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) RenameWorkspace(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.spaces[id]
	ws.Name = name
	f.spaces[id] = ws
	return nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.spaces, id)
	delete(f.roles, id)
	for bid, b := range f.boards {
		if b.WorkspaceID == id {
			delete(f.boards, bid)
		}
	}
	return nil
}

func (f *fakeStore) GetMemberRole(_ context.Context, wsID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[wsID][userID]
	if !ok {
		return "", notFoundErr("member", userID)
	}
	return role, nil
}

func (f *fakeStore) ListMembers(_ context.Context, wsID string) ([]store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Member
	for userID, role := range f.roles[wsID] {
		u := f.users[userID]
		out = append(out, store.Member{WorkspaceID: wsID, UserID: userID, DisplayName: u.DisplayName, Email: u.Email, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) AddMember(_ context.Context, wsID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[wsID] == nil {
		f.roles[wsID] = map[string]string{}
	}
	f.roles[wsID][userID] = role
	return nil
}

func (f *fakeStore) UpdateMemberRole(_ context.Context, wsID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[wsID][userID] == "owner" && role != "owner" && f.ownersLocked(wsID) == 1 {
		return store.ErrLastOwner
	}
	f.roles[wsID][userID] = role
	return nil
}

func (f *fakeStore) RemoveMember(ctx context.Context, wsID, userID string) error {
	if f.removeMemberFn != nil {
		return f.removeMemberFn(ctx, wsID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[wsID][userID] == "owner" && f.ownersLocked(wsID) == 1 {
		return store.ErrLastOwner
	}
	delete(f.roles[wsID], userID)
	return nil
}

func (f *fakeStore) ownersLocked(wsID string) int {
	n := 0
	for _, role := range f.roles[wsID] {
		if role == "owner" {
			n++
		}
	}
	return n
}

// Boards

func (f *fakeStore) CreateBoard(_ context.Context, b store.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	f.boards[b.ID] = b
	return nil
}

func (f *fakeStore) GetBoard(_ context.Context, id string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boards[id]
	if !ok {
		return store.Board{}, notFoundErr("board", id)
	}
	return b, nil
}

func (f *fakeStore) ListBoards(_ context.Context, wsID string) ([]store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Board
	for _, b := range f.boards {
		if b.WorkspaceID == wsID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateBoard(_ context.Context, id, title, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.boards[id]
	b.Title, b.Description = title, description
	f.boards[id] = b
	return nil
}

func (f *fakeStore) SetBoardCover(_ context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.boards[id]
	b.CoverKey = key
	f.boards[id] = b
	return nil
}

func (f *fakeStore) DeleteBoard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.boards, id)
	return nil
}

// Lists and tasks

func (f *fakeStore) GetList(_ context.Context, id string) (store.BoardList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lists[id]
	if !ok {
		return store.BoardList{}, notFoundErr("list", id)
	}
	return l, nil
}

func (f *fakeStore) ListLists(_ context.Context, boardID string) ([]store.BoardList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listsLocked(boardID), nil
}

func (f *fakeStore) listsLocked(boardID string) []store.BoardList {
	var out []store.BoardList
	for _, l := range f.lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	return reorder.Sorted(out)
}

func (f *fakeStore) RenameList(_ context.Context, id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lists[id]
	l.Title = title
	f.lists[id] = l
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return store.Task{}, notFoundErr("task", id)
	}
	return t, nil
}

func (f *fakeStore) ListTasks(_ context.Context, listID string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasksLocked(listID), nil
}

func (f *fakeStore) tasksLocked(listID string) []store.Task {
	var out []store.Task
	for _, t := range f.tasks {
		if t.ListID == listID {
			out = append(out, t)
		}
	}
	return reorder.Sorted(out)
}

func (f *fakeStore) ListBoardTasks(ctx context.Context, boardID string) ([]store.Task, error) {
	if f.listBoardTaskFn != nil {
		return f.listBoardTaskFn(ctx, boardID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Task
	for _, t := range f.tasks {
		if t.BoardID == boardID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, id string, patch store.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return notFoundErr("task", id)
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	if patch.ClearDueDate {
		t.DueDate = nil
	}
	if patch.AssigneeID != nil {
		t.AssigneeID = patch.AssigneeID
	}
	if patch.ClearAssignee {
		t.AssigneeID = nil
	}
	f.tasks[id] = t
	return nil
}

// Plans

func (f *fakeStore) ReorderLists(ctx context.Context, boardID string, act store.Activity, plan store.ListPlanner) (store.PlanResult[store.BoardList], error) {
	if f.reorderListsFn != nil {
		if err := f.reorderListsFn(ctx, boardID); err != nil {
			return store.PlanResult[store.BoardList]{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.boards[boardID]; !ok {
		return store.PlanResult[store.BoardList]{}, notFoundErr("board", boardID)
	}
	lists := f.listsLocked(boardID)
	p, err := plan(lists)
	if err != nil {
		return store.PlanResult[store.BoardList]{}, err
	}
	next := reorder.Apply(lists, p)
	if err := reorder.CheckDense(next); err != nil {
		return store.PlanResult[store.BoardList]{}, err
	}
	if p.Delete != "" {
		delete(f.lists, p.Delete)
		for id, t := range f.tasks {
			if t.ListID == p.Delete {
				delete(f.tasks, id)
			}
		}
	}
	for _, l := range next {
		f.lists[l.ID] = l
	}
	f.planRuns++
	if !p.Empty() {
		f.eventLocked(boardID, act, map[string]any{"lists": p.FieldUpdates("lists")})
	}
	return store.PlanResult[store.BoardList]{Plan: p, Items: next}, nil
}

func (f *fakeStore) ReorderTasks(_ context.Context, listID string, act store.Activity, plan store.TaskPlanner) (store.PlanResult[store.Task], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list, ok := f.lists[listID]
	if !ok {
		return store.PlanResult[store.Task]{}, notFoundErr("list", listID)
	}
	tasks := f.tasksLocked(listID)
	p, err := plan(tasks)
	if err != nil {
		return store.PlanResult[store.Task]{}, err
	}
	next := reorder.Apply(tasks, p)
	if err := reorder.CheckDense(next); err != nil {
		return store.PlanResult[store.Task]{}, err
	}
	if p.Delete != "" {
		delete(f.tasks, p.Delete)
	}
	for _, t := range next {
		f.tasks[t.ID] = t
	}
	f.planRuns++
	if !p.Empty() {
		f.eventLocked(list.BoardID, act, map[string]any{"listId": listID, "tasks": p.FieldUpdates("tasks")})
	}
	return store.PlanResult[store.Task]{Plan: p, Items: next}, nil
}

func (f *fakeStore) TransferTask(_ context.Context, taskID, toListID string, act store.Activity, plan store.TransferPlanner) (store.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.TransferResult{}, notFoundErr("task", taskID)
	}
	if task.ListID == toListID {
		return store.TransferResult{}, store.ErrPositionConflict
	}
	from, to := f.tasksLocked(task.ListID), f.tasksLocked(toListID)
	del, ins, err := plan(from, to)
	if err != nil {
		return store.TransferResult{}, err
	}
	if del.Delete != taskID || ins.Insert == nil || ins.Insert.Item.ID != taskID {
		return store.TransferResult{}, store.ErrPositionConflict
	}
	nextFrom, nextTo := reorder.Apply(from, del), reorder.Apply(to, ins)
	for i := range nextTo {
		nextTo[i].ListID = toListID
	}
	for _, t := range append(append([]store.Task{}, nextFrom...), nextTo...) {
		f.tasks[t.ID] = t
	}
	f.planRuns++
	f.eventLocked(task.BoardID, act, map[string]any{"taskId": taskID, "toListId": toListID})
	return store.TransferResult{DeletePlan: del, InsertPlan: ins, From: nextFrom, To: nextTo}, nil
}

func (f *fakeStore) VerifyBoard(ctx context.Context, boardID string) ([]store.DensityIssue, error) {
	if f.verifyBoardFn != nil {
		return f.verifyBoardFn(ctx, boardID)
	}
	return nil, nil
}

func (f *fakeStore) RepairBoard(ctx context.Context, boardID, actorID string) (int, error) {
	if f.repairBoardFn != nil {
		return f.repairBoardFn(ctx, boardID, actorID)
	}
	return 0, nil
}

func (f *fakeStore) RecordEvent(_ context.Context, boardID string, act store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventLocked(boardID, act, nil)
	return nil
}

func (f *fakeStore) eventLocked(boardID string, act store.Activity, changes map[string]any) {
	payload := map[string]any{}
	for k, v := range act.Extra {
		payload[k] = v
	}
	for k, v := range changes {
		payload[k] = v
	}
	raw, _ := json.Marshal(payload)
	f.events = append(f.events, store.BoardEvent{
		ID:      int64(len(f.events) + 1),
		BoardID: boardID,
		Kind:    act.Kind,
		ActorID: act.ActorID,
		Payload: raw,
	})
}

func (f *fakeStore) ListEvents(_ context.Context, boardID string, limit int) ([]store.BoardEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.BoardEvent
	for i := len(f.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.events[i].BoardID == boardID {
			out = append(out, f.events[i])
		}
	}
	return out, nil
}

func (f *fakeStore) eventKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

// Tags

func (f *fakeStore) CreateTag(_ context.Context, tag store.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[tag.ID] = tag
	return nil
}

func (f *fakeStore) GetTag(_ context.Context, id string) (store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag, ok := f.tags[id]
	if !ok {
		return store.Tag{}, notFoundErr("tag", id)
	}
	return tag, nil
}

func (f *fakeStore) ListTags(_ context.Context, boardID string) ([]store.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Tag
	for _, tag := range f.tags {
		if tag.BoardID == boardID {
			out = append(out, tag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) DeleteTag(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tags, id)
	for tid, t := range f.tasks {
		t.TagIDs = without(t.TagIDs, id)
		f.tasks[tid] = t
	}
	return nil
}

func (f *fakeStore) AttachTag(_ context.Context, taskID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.TagIDs = append(without(t.TagIDs, tagID), tagID)
	sort.Strings(t.TagIDs)
	f.tasks[taskID] = t
	return nil
}

func (f *fakeStore) DetachTag(_ context.Context, taskID, tagID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.TagIDs = without(t.TagIDs, tagID)
	f.tasks[taskID] = t
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Seeding

func (f *fakeStore) seedUser(id, name string) store.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	u := store.User{ID: id, DisplayName: name, Email: id + "@example.com", PasswordHash: string(hash), IsEmailVerified: true}
	f.users[id] = u
	return u
}

func (f *fakeStore) seedWorkspace(id string, roles map[string]string) {
	f.spaces[id] = store.Workspace{ID: id, Name: "Team " + id, CreatedBy: "usr_owner"}
	f.roles[id] = roles
}

func (f *fakeStore) seedBoard(id, wsID string, lists map[string][]string, order ...string) {
	f.boards[id] = store.Board{ID: id, WorkspaceID: wsID, Title: "Board " + id, CreatedBy: "usr_owner"}
	for i, listID := range order {
		f.lists[listID] = store.BoardList{ID: listID, BoardID: id, Title: listID, Position: i}
		for j, taskID := range lists[listID] {
			f.tasks[taskID] = store.Task{ID: taskID, BoardID: id, ListID: listID, Title: taskID, Position: j}
		}
	}
}

func (f *fakeStore) taskOrder(listID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ids(f.tasksLocked(listID))
}

func (f *fakeStore) listOrder(boardID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ids(f.listsLocked(boardID))
}

func ids[T reorder.Ordered[T]](items []T) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ItemID()
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://app.test",
	}
}

func newTestService(fs *fakeStore, deps Deps) *Service {
	deps.Store = fs
	deps.Logger = zap.NewNop()
	deps.BcryptCost = bcrypt.MinCost
	return New(testConfig(), deps)
}

// signIn issues a session for a seeded user without going through passwords.
func signIn(t *testing.T, svc *Service, userID string) Session {
	t.Helper()
	user, err := svc.store.GetUserByID(context.Background(), userID)
	if err != nil {
		t.Fatalf("load user %s: %v", userID, err)
	}
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session
}
