package drag

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/api/internal/reorder"
)

type card struct {
	ID  string `json:"id"`
	Pos int    `json:"position"`
}

func (c card) ItemID() string { return c.ID }
func (c card) Rank() int { return c.Pos }
func (c card) WithRank(pos int) card { c.Pos = pos; return c }

func cards(ids ...string) []card {
	out := make([]card, len(ids))
	for i, id := range ids {
		out[i] = card{ID: id, Pos: i}
	}
	return out
}

func jsonEncoder(c card) ([]byte, error) { return json.Marshal(c) }

func newLoaded(t *testing.T, lists map[ListKey][]card) *Interpreter[card] {
	t.Helper()
	in := New(jsonEncoder)
	for key, items := range lists {
		require.NoError(t, in.Load(key, items))
	}
	return in
}

// render prints a view as ids with "_" for the drop zone.
func render(slots []Slot[card]) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		if s.Placeholder {
			out[i] = "_"
			continue
		}
		out[i] = s.Item.ID
	}
	return out
}

func ids(items []card) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func placeholders(in *Interpreter[card], lists ...ListKey) int {
	n := 0
	for _, l := range lists {
		for _, s := range in.View(l) {
			if s.Placeholder {
				n++
			}
		}
	}
	return n
}

func TestStartThenCancelLeavesStateUntouched(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b", "c")})
	beforeView := in.View("todo")
	beforePersisted := in.Persisted("todo")

	require.NoError(t, in.StartDrag("todo", 1))
	assert.Equal(t, Dragging, in.State())

	got := in.End(false)
	assert.Equal(t, CancelNotification{List: "todo", ItemID: "b"}, got)
	assert.Equal(t, Idle, in.State())

	if diff := cmp.Diff(beforeView, in.View("todo")); diff != "" {
		t.Fatalf("view changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(beforePersisted, in.Persisted("todo")); diff != "" {
		t.Fatalf("persisted changed (-before +after):\n%s", diff)
	}
	_, active := in.Session()
	assert.False(t, active)
}

func TestStartDragCarriesPayload(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b")})
	require.NoError(t, in.StartDrag("todo", 1))

	s, ok := in.Session()
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"b","position":1}`, string(s.Payload))
	assert.Equal(t, ListKey("todo"), s.Origin)
	assert.Equal(t, 1, s.OriginIndex)
	assert.Equal(t, 1, s.Ghost)
}

func TestStartDragPayloadFailureStaysIdle(t *testing.T) {
	boom := errors.New("not serializable")
	in := New(func(card) ([]byte, error) { return nil, boom })
	require.NoError(t, in.Load("todo", cards("a", "b")))
	before := in.View("todo")

	err := in.StartDrag("todo", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayload)
	assert.Equal(t, Idle, in.State())
	assert.Equal(t, before, in.View("todo"))

	// A failed start is not a gesture: a new one may begin.
	in.encode = nil
	require.NoError(t, in.StartDrag("todo", 0))
}

func TestStartDragRejectsMissingItem(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a")})
	assert.ErrorIs(t, in.StartDrag("todo", 1), ErrNoItem)
	assert.ErrorIs(t, in.StartDrag("missing", 0), ErrNoItem)
	assert.Equal(t, Idle, in.State())
}

func TestLoadRejectsSparsePositions(t *testing.T) {
	in := New[card](nil)
	err := in.Load("todo", []card{{"a", 0}, {"b", 5}})
	assert.ErrorIs(t, err, reorder.ErrNotDense)
}

func TestHoverSameListMovesOneSlotLater(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b", "c", "d")})
	require.NoError(t, in.StartDrag("todo", 0))

	// Upper half of the next slot: no move yet.
	assert.False(t, in.Hover(Hover{List: "todo", Index: 1, Y: 3, Top: 0, Bottom: 10}))
	assert.Equal(t, []string{"a", "b", "c", "d"}, render(in.View("todo")))

	assert.True(t, in.Hover(Hover{List: "todo", Index: 1, Y: 6, Top: 0, Bottom: 10}))
	assert.Equal(t, []string{"b", "a", "c", "d"}, render(in.View("todo")))

	assert.True(t, in.Hover(Hover{List: "todo", Index: 2, Y: 25, Top: 20, Bottom: 30}))
	assert.Equal(t, []string{"b", "c", "a", "d"}, render(in.View("todo")))

	s, _ := in.Session()
	assert.Equal(t, 2, s.Ghost)
	assert.True(t, in.View("todo")[2].Dragged)
}

func TestHoverSameListIsDebouncedPerDwell(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b", "c", "d")})
	require.NoError(t, in.StartDrag("todo", 3))

	far := Hover{List: "todo", Index: 1, Y: 11, Top: 10, Bottom: 20}
	assert.True(t, in.Hover(far))
	assert.Equal(t, []string{"a", "b", "d", "c"}, render(in.View("todo")))

	// Same dwell, same direction: ignored.
	assert.False(t, in.Hover(far))
	assert.Equal(t, []string{"a", "b", "d", "c"}, render(in.View("todo")))

	// A new slot starts a new dwell.
	assert.True(t, in.Hover(Hover{List: "todo", Index: 0, Y: 1, Top: 0, Bottom: 10}))
	assert.Equal(t, []string{"a", "d", "b", "c"}, render(in.View("todo")))
}

func TestHoverOutOfRangeIsIgnored(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b")})
	require.NoError(t, in.StartDrag("todo", 0))
	assert.False(t, in.Hover(Hover{List: "todo", Index: 9, Y: 100, Top: 90, Bottom: 100}))
	assert.False(t, in.Hover(Hover{List: "todo", Index: -1}))
	assert.Equal(t, []string{"a", "b"}, render(in.View("todo")))
}

func TestHoverOtherListKeepsSingleDropZone(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{
		"todo":  cards("a", "b", "c"),
		"doing": cards("x", "y"),
		"done":  nil,
	})
	require.NoError(t, in.StartDrag("todo", 1))

	assert.True(t, in.Hover(Hover{List: "doing", Index: 0, Y: 8, Top: 0, Bottom: 10}))
	assert.Equal(t, []string{"a", "c"}, render(in.View("todo")))
	assert.Equal(t, []string{"x", "_", "y"}, render(in.View("doing")))
	assert.Equal(t, 1, placeholders(in, "todo", "doing", "done"))

	// Moving inside the hovered list relocates the zone.
	assert.True(t, in.Hover(Hover{List: "doing", Index: 0, Y: 2, Top: 0, Bottom: 10}))
	assert.Equal(t, []string{"_", "x", "y"}, render(in.View("doing")))
	assert.False(t, in.Hover(Hover{List: "doing", Index: 0, Y: 1, Top: 0, Bottom: 10}))

	assert.True(t, in.Hover(Hover{List: "done", Index: 0}))
	assert.Equal(t, []string{"x", "y"}, render(in.View("doing")))
	assert.Equal(t, []string{"_"}, render(in.View("done")))
	assert.Equal(t, 1, placeholders(in, "todo", "doing", "done"))
}

func TestHoverBackToOriginRestoresItem(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{
		"todo":  cards("a", "b", "c"),
		"doing": cards("x"),
	})
	require.NoError(t, in.StartDrag("todo", 1))
	require.True(t, in.Hover(Hover{List: "doing", Index: 0}))

	assert.True(t, in.Hover(Hover{List: "todo", Index: 1, Y: 9, Top: 0, Bottom: 10}))
	view := in.View("todo")
	assert.Equal(t, []string{"a", "c", "b"}, render(view))
	assert.True(t, view[2].Dragged)
	assert.Equal(t, 0, placeholders(in, "todo", "doing"))

	s, _ := in.Session()
	assert.Equal(t, ListKey("todo"), s.List)
	assert.Equal(t, 2, s.Ghost)
}

func TestCancelAfterCrossListHoverRestoresEveryList(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{
		"todo":  cards("a", "b", "c"),
		"doing": cards("x", "y"),
	})
	before := map[ListKey][]Slot[card]{"todo": in.View("todo"), "doing": in.View("doing")}

	require.NoError(t, in.StartDrag("todo", 0))
	in.Hover(Hover{List: "doing", Index: 1})
	in.Hover(Hover{List: "todo", Index: 1, Y: 9, Top: 0, Bottom: 10})
	in.Hover(Hover{List: "doing", Index: 0})
	require.Equal(t, []string{"b", "c"}, render(in.View("todo")))

	got := in.End(false)
	assert.Equal(t, CancelNotification{List: "todo", ItemID: "a"}, got)
	after := map[ListKey][]Slot[card]{"todo": in.View("todo"), "doing": in.View("doing")}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("views not restored (-before +after):\n%s", diff)
	}
	assert.Equal(t, 0, placeholders(in, "todo", "doing"))
}

func TestDropSameListEmitsMove(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b", "c", "d")})
	require.NoError(t, in.StartDrag("todo", 0))

	req, ok := in.Drop("todo", 2)
	require.True(t, ok)
	move, isMove := req.(MoveRequest[card])
	require.True(t, isMove)
	assert.Equal(t, 0, move.From)
	assert.Equal(t, 2, move.To)
	assert.Equal(t, map[string]int{"b": 0, "c": 1, "a": 2}, move.Plan.Positions())
	assert.Equal(t, Dropped, in.State())

	// The persisted snapshot is untouched until the gesture ends.
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(in.Persisted("todo")))

	assert.Nil(t, in.End(true))
	assert.Equal(t, []string{"b", "c", "a", "d"}, ids(in.Persisted("todo")))
	require.NoError(t, reorder.CheckDense(in.Persisted("todo")))
}

func TestDropCrossListEmitsTransfer(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{
		"todo":  cards("a", "b", "c"),
		"doing": cards("x", "y"),
	})
	require.NoError(t, in.StartDrag("todo", 1))
	require.True(t, in.Hover(Hover{List: "doing", Index: 0, Y: 9, Top: 0, Bottom: 10}))

	req, ok := in.DropAtGhost()
	require.True(t, ok)
	tr, isTransfer := req.(TransferRequest[card])
	require.True(t, isTransfer)

	assert.Equal(t, ListKey("todo"), tr.From)
	assert.Equal(t, ListKey("doing"), tr.To)
	assert.Equal(t, "b", tr.Item.ID)
	assert.Equal(t, 1, tr.ToIndex)
	assert.Equal(t, "b", tr.DeletePlan.Delete)
	assert.Equal(t, map[string]int{"c": 1}, tr.DeletePlan.Positions())
	require.NotNil(t, tr.InsertPlan.Insert)
	assert.Equal(t, map[string]int{"b": 1, "y": 2}, tr.InsertPlan.Positions())
	assert.JSONEq(t, `{"id":"b","position":1}`, string(tr.Payload))

	assert.Nil(t, in.End(true))
	assert.Equal(t, []string{"a", "c"}, ids(in.Persisted("todo")))
	assert.Equal(t, []string{"x", "b", "y"}, ids(in.Persisted("doing")))
	assert.Equal(t, 0, placeholders(in, "todo", "doing"))
}

func TestDropRejectsInvalidIndex(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{
		"todo":  cards("a", "b"),
		"doing": cards("x"),
	})
	require.NoError(t, in.StartDrag("todo", 0))

	_, ok := in.Drop("todo", -1)
	assert.False(t, ok)
	_, ok = in.Drop("todo", 2)
	assert.False(t, ok)
	_, ok = in.Drop("doing", 2)
	assert.False(t, ok)
	assert.Equal(t, Dragging, in.State())

	assert.IsType(t, CancelNotification{}, in.End(false))
	assert.Equal(t, []string{"a", "b"}, render(in.View("todo")))
}

func TestFailedDropRollsBackVisualMove(t *testing.T) {
	in := newLoaded(t, map[ListKey][]card{"todo": cards("a", "b", "c")})
	require.NoError(t, in.StartDrag("todo", 0))
	require.True(t, in.Hover(Hover{List: "todo", Index: 1, Y: 9, Top: 0, Bottom: 10}))

	_, ok := in.Drop("todo", 1)
	require.True(t, ok)
	in.End(false)
	assert.Equal(t, []string{"a", "b", "c"}, render(in.View("todo")))
	assert.Equal(t, []string{"a", "b", "c"}, ids(in.Persisted("todo")))
}

func TestMisusePanics(t *testing.T) {
	idle := func() *Interpreter[card] {
		return newLoaded(t, map[ListKey][]card{"todo": cards("a", "b")})
	}
	dragging := func() *Interpreter[card] {
		in := idle()
		require.NoError(t, in.StartDrag("todo", 0))
		return in
	}

	assert.Panics(t, func() { idle().Drop("todo", 0) })
	assert.Panics(t, func() { idle().DropAtGhost() })
	assert.Panics(t, func() { idle().Hover(Hover{List: "todo"}) })
	assert.Panics(t, func() { idle().End(false) })
	assert.Panics(t, func() { dragging().StartDrag("todo", 1) })
	assert.Panics(t, func() { dragging().End(true) })
	assert.Panics(t, func() { _ = dragging().Load("todo", cards("a")) })
	assert.Panics(t, func() {
		in := dragging()
		in.Drop("todo", 1)
		in.Drop("todo", 0)
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "dragging", Dragging.String())
	assert.Equal(t, "dropped", Dropped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
