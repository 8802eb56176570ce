package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/api/internal/reorder"
)

func openTestStore(t *testing.T) (*PostgresStore, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("KANBAN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("KANBAN_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, resetPublicSchema(ctx, db))
	require.NoError(t, ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")))
	return NewPostgresStore(db), ctx
}

func seedBoard(t *testing.T, ctx context.Context, s *PostgresStore) Board {
	t.Helper()
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_1", Email: "Ada@Example.com", DisplayName: "Ada", IsEmailVerified: true}))
	require.NoError(t, s.CreateWorkspace(ctx, Workspace{ID: "ws_1", Name: "Team", CreatedBy: "usr_1"}))
	board := Board{ID: "brd_1", WorkspaceID: "ws_1", Title: "Launch", CreatedBy: "usr_1"}
	require.NoError(t, s.CreateBoard(ctx, board))
	return board
}

func appendList(id, title string) ListPlanner {
	return func(lists []BoardList) (reorder.Plan[BoardList], error) {
		return reorder.PlanInsert(lists, BoardList{ID: id, BoardID: "brd_1", Title: title}, len(lists)), nil
	}
}

func appendTask(listID, id string) TaskPlanner {
	return func(tasks []Task) (reorder.Plan[Task], error) {
		task := Task{ID: id, BoardID: "brd_1", ListID: listID, Title: id, CreatedBy: "usr_1"}
		return reorder.PlanInsert(tasks, task, len(tasks)), nil
	}
}

func listIDs(lists []BoardList) []string {
	out := make([]string, len(lists))
	for i, l := range lists {
		out[i] = l.ID
	}
	return out
}

func taskIDs(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}

func TestReorderListsPostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	act := Activity{Kind: "list.created", ActorID: "usr_1"}

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.ReorderLists(ctx, "brd_1", act, appendList(id, strings.ToUpper(id)))
		require.NoError(t, err)
	}

	res, err := s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.moved", ActorID: "usr_1"}, func(lists []BoardList) (reorder.Plan[BoardList], error) {
		return reorder.PlanMove(lists, 0, 2), nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 0, "c": 1, "a": 2}, res.Plan.Positions())

	lists, err := s.ListLists(ctx, "brd_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a", "d"}, listIDs(lists))
	require.NoError(t, reorder.CheckDense(lists))

	_, err = s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.deleted", ActorID: "usr_1"}, func(lists []BoardList) (reorder.Plan[BoardList], error) {
		return reorder.PlanDelete(lists, 1), nil
	})
	require.NoError(t, err)
	lists, err = s.ListLists(ctx, "brd_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "d"}, listIDs(lists))
	require.NoError(t, reorder.CheckDense(lists))

	events, err := s.ListEvents(ctx, "brd_1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "list.deleted", events[0].Kind)
	assert.Contains(t, string(events[0].Payload), `"lists.c"`)
}

func TestPlannerErrorRollsBack(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	_, err := s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.created", ActorID: "usr_1"}, appendList("a", "A"))
	require.NoError(t, err)

	_, err = s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.moved", ActorID: "usr_1"}, func([]BoardList) (reorder.Plan[BoardList], error) {
		return reorder.Plan[BoardList]{}, ErrPositionConflict
	})
	assert.ErrorIs(t, err, ErrPositionConflict)

	events, err := s.ListEvents(ctx, "brd_1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTransferTaskPostgres(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	act := Activity{Kind: "list.created", ActorID: "usr_1"}
	for _, id := range []string{"todo", "done"} {
		_, err := s.ReorderLists(ctx, "brd_1", act, appendList(id, id))
		require.NoError(t, err)
	}
	for _, id := range []string{"t1", "t2", "t3"} {
		_, err := s.ReorderTasks(ctx, "todo", Activity{Kind: "task.created", ActorID: "usr_1"}, appendTask("todo", id))
		require.NoError(t, err)
	}
	_, err := s.ReorderTasks(ctx, "done", Activity{Kind: "task.created", ActorID: "usr_1"}, appendTask("done", "d1"))
	require.NoError(t, err)

	require.NoError(t, s.CreateTag(ctx, Tag{ID: "tag_1", BoardID: "brd_1", Name: "urgent", Color: "#ff0000"}))
	require.NoError(t, s.AttachTag(ctx, "t2", "tag_1"))

	res, err := s.TransferTask(ctx, "t2", "done", Activity{Kind: "task.transferred", ActorID: "usr_1"}, func(from, to []Task) (reorder.Plan[Task], reorder.Plan[Task], error) {
		return reorder.PlanDelete(from, 1), reorder.PlanInsert(to, from[1], 0), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, taskIDs(res.From))
	assert.Equal(t, []string{"t2", "d1"}, taskIDs(res.To))

	moved, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "done", moved.ListID)
	assert.Equal(t, 0, moved.Position)
	assert.Equal(t, []string{"tag_1"}, moved.TagIDs)

	todo, err := s.ListTasks(ctx, "todo")
	require.NoError(t, err)
	require.NoError(t, reorder.CheckDense(todo))
	done, err := s.ListTasks(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, reorder.CheckDense(done))
}

func TestRepairBoardRenumbersSparseLists(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.created", ActorID: "usr_1"}, appendList(id, id))
		require.NoError(t, err)
	}
	_, err := s.DB().ExecContext(ctx, `UPDATE board_lists SET position = position * 10`)
	require.NoError(t, err)

	issues, err := s.VerifyBoard(ctx, "brd_1")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "lists", issues[0].Kind)

	n, err := s.RepairBoard(ctx, "brd_1", "usr_1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	issues, err = s.VerifyBoard(ctx, "brd_1")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestDuplicatePositionFailsAtCommit(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	for _, id := range []string{"a", "b"} {
		_, err := s.ReorderLists(ctx, "brd_1", Activity{Kind: "list.created", ActorID: "usr_1"}, appendList(id, id))
		require.NoError(t, err)
	}

	_, err := s.DB().ExecContext(ctx, `UPDATE board_lists SET position = 0 WHERE id = 'b'`)
	require.Error(t, err)

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "expected PgError, got %T", err)
	assert.Equal(t, "23505", pgErr.Code)
}

func TestLastOwnerCannotLeave(t *testing.T) {
	s, ctx := openTestStore(t)
	seedBoard(t, ctx, s)
	require.NoError(t, s.CreateUser(ctx, User{ID: "usr_2", Email: "bo@example.com", DisplayName: "Bo"}))
	require.NoError(t, s.AddMember(ctx, "ws_1", "usr_2", "editor"))

	assert.ErrorIs(t, s.RemoveMember(ctx, "ws_1", "usr_1"), ErrLastOwner)
	assert.ErrorIs(t, s.UpdateMemberRole(ctx, "ws_1", "usr_1", "admin"), ErrLastOwner)

	require.NoError(t, s.UpdateMemberRole(ctx, "ws_1", "usr_2", "owner"))
	require.NoError(t, s.RemoveMember(ctx, "ws_1", "usr_1"))

	user, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", user.ID)
}
