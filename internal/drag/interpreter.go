// Package drag turns a stream of pointer events into reorder requests.
//
// An Interpreter keeps two views of every loaded list: the persisted snapshot
// handed to Load and the visual ordering the user sees while dragging. Only
// the visual ordering changes during a gesture. Drop computes plans against
// the persisted snapshot and returns them; writing them is the caller's job.
//
// The interpreter is driven by one event at a time and is not safe for
// concurrent use.
package drag

import (
	"errors"
	"fmt"

	"kanban/api/internal/reorder"
)

// ListKey names one parent list, for example a board id or a board list id.
type ListKey string

// State is the gesture phase.
type State int

const (
	Idle State = iota
	Dragging
	Dropped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrPayload wraps an Encoder failure at StartDrag.
	ErrPayload = errors.New("drag payload unavailable")
	// ErrNoItem is returned by StartDrag when the index does not name an item.
	ErrNoItem = errors.New("no item at drag origin")
)

// Encoder builds the transferable payload for a dragged item.
type Encoder[T any] func(item T) ([]byte, error)

// Hover describes the pointer over one slot. Y, Top and Bottom share the
// coordinate space of the hovered list.
type Hover struct {
	List   ListKey
	Index  int
	Y      float64
	Top    float64
	Bottom float64
}

func (h Hover) belowMidpoint() bool { return h.Y >= (h.Top+h.Bottom)/2 }
func (h Hover) aboveMidpoint() bool { return h.Y <= (h.Top+h.Bottom)/2 }

// Slot is one visible row. A placeholder slot is the drop zone and carries no
// item.
type Slot[T any] struct {
	Item        T
	Placeholder bool
	Dragged     bool
}

// Session is the drag in progress. It lives from StartDrag until End.
type Session[T any] struct {
	Item        T
	Payload     []byte
	Origin      ListKey
	OriginIndex int

	// List and Ghost locate the dragged item, or the drop zone when List is not
	// the origin.
	List  ListKey
	Ghost int

	hoverList ListKey
	hoverIdx  int
	movedUp   bool
	movedDown bool
}

type dropZone struct {
	list  ListKey
	index int
}

type Interpreter[T reorder.Ordered[T]] struct {
	encode Encoder[T]

	persisted map[ListKey][]T
	visual    map[ListKey][]T
	zone      *dropZone

	state    State
	session  *Session[T]
	snapshot map[ListKey][]T
	dropped  Request
}

// New returns an idle interpreter. A nil encoder produces empty payloads.
func New[T reorder.Ordered[T]](encode Encoder[T]) *Interpreter[T] {
	return &Interpreter[T]{
		encode:    encode,
		persisted: map[ListKey][]T{},
		visual:    map[ListKey][]T{},
	}
}

// Load installs the persisted snapshot of one list. Items must be dense.
// Loading while a drag is in progress is a programming error.
func (in *Interpreter[T]) Load(list ListKey, items []T) error {
	if in.state != Idle {
		panic(fmt.Sprintf("drag: Load(%q) while %s", list, in.state))
	}
	if err := reorder.CheckDense(items); err != nil {
		return fmt.Errorf("load list %s: %w", list, err)
	}
	sorted := reorder.Sorted(items)
	in.persisted[list] = sorted
	in.visual[list] = append([]T(nil), sorted...)
	return nil
}

func (in *Interpreter[T]) State() State { return in.state }

// Session returns a copy of the active session.
func (in *Interpreter[T]) Session() (Session[T], bool) {
	if in.session == nil {
		return Session[T]{}, false
	}
	return *in.session, true
}

// Persisted returns the loaded snapshot of list.
func (in *Interpreter[T]) Persisted(list ListKey) []T {
	return append([]T(nil), in.persisted[list]...)
}

// View returns the visual ordering of list including the drop zone, if any.
func (in *Interpreter[T]) View(list ListKey) []Slot[T] {
	items := in.visual[list]
	out := make([]Slot[T], 0, len(items)+1)
	var draggedID string
	if in.session != nil {
		draggedID = in.session.Item.ItemID()
	}
	for i, item := range items {
		if in.zone != nil && in.zone.list == list && in.zone.index == i {
			out = append(out, Slot[T]{Placeholder: true})
		}
		out = append(out, Slot[T]{Item: item, Dragged: draggedID != "" && item.ItemID() == draggedID})
	}
	if in.zone != nil && in.zone.list == list && in.zone.index >= len(items) {
		out = append(out, Slot[T]{Placeholder: true})
	}
	return out
}

// StartDrag begins dragging the item at index in list. On error the
// interpreter stays Idle and nothing visible changes.
func (in *Interpreter[T]) StartDrag(list ListKey, index int) error {
	if in.state != Idle {
		panic(fmt.Sprintf("drag: StartDrag while %s", in.state))
	}
	items := in.visual[list]
	if index < 0 || index >= len(items) {
		return fmt.Errorf("start drag %s[%d]: %w", list, index, ErrNoItem)
	}
	item := items[index]

	var payload []byte
	if in.encode != nil {
		var err error
		payload, err = in.encode(item)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPayload, err)
		}
	}

	in.snapshot = cloneLists(in.visual)
	in.session = &Session[T]{
		Item:        item,
		Payload:     payload,
		Origin:      list,
		OriginIndex: index,
		List:        list,
		Ghost:       index,
		hoverList:   list,
		hoverIdx:    -1,
	}
	in.state = Dragging
	return nil
}

// Hover feeds one pointer move. It reports whether the visual ordering
// changed.
func (in *Interpreter[T]) Hover(h Hover) bool {
	if in.state != Dragging {
		panic(fmt.Sprintf("drag: Hover while %s", in.state))
	}
	s := in.session
	if h.List != s.hoverList || h.Index != s.hoverIdx {
		s.hoverList, s.hoverIdx = h.List, h.Index
		s.movedUp, s.movedDown = false, false
	}

	if h.List != s.List {
		return in.enterList(h)
	}
	if h.List != s.Origin {
		return in.moveZone(h)
	}
	return in.moveGhost(h)
}

func (in *Interpreter[T]) moveGhost(h Hover) bool {
	s := in.session
	items := in.visual[s.List]
	if h.Index < 0 || h.Index >= len(items) {
		return false
	}

	to := s.Ghost
	switch {
	case h.Index > s.Ghost && h.belowMidpoint() && !s.movedDown:
		to = s.Ghost + 1
		s.movedDown = true
	case h.Index < s.Ghost && h.aboveMidpoint() && !s.movedUp:
		to = s.Ghost - 1
		s.movedUp = true
	default:
		return false
	}

	in.visual[s.List] = reorder.Apply(items, reorder.PlanMove(items, s.Ghost, to))
	s.Ghost = to
	return true
}

func (in *Interpreter[T]) moveZone(h Hover) bool {
	at := in.slotFor(h)
	if in.zone != nil && in.zone.index == at {
		return false
	}
	in.zone = &dropZone{list: h.List, index: at}
	in.session.Ghost = at
	return true
}

func (in *Interpreter[T]) enterList(h Hover) bool {
	s := in.session

	// Leave the previous list.
	if s.List == s.Origin {
		items := in.visual[s.Origin]
		in.visual[s.Origin] = reorder.Apply(items, reorder.PlanDelete(items, s.Ghost))
	}
	in.zone = nil

	at := in.slotFor(h)
	s.List = h.List
	s.Ghost = at

	if h.List == s.Origin {
		items := in.visual[s.Origin]
		in.visual[s.Origin] = reorder.Apply(items, reorder.PlanInsert(items, s.Item, at))
		return true
	}
	in.zone = &dropZone{list: h.List, index: at}
	return true
}

// slotFor maps a hover to an insertion index in the hovered list's visual
// ordering, which never contains the dragged item here.
func (in *Interpreter[T]) slotFor(h Hover) int {
	n := len(in.visual[h.List])
	at := h.Index
	if at >= 0 && at < n && h.Y > (h.Top+h.Bottom)/2 {
		at++
	}
	return min(max(at, 0), n)
}

// Drop commits the gesture to list and index. Index is a position in the
// persisted target list: an origin index for a move, an insertion index for a
// transfer. An invalid index is rejected and the interpreter stays Dragging so
// the caller can End(false).
func (in *Interpreter[T]) Drop(list ListKey, index int) (Request, bool) {
	if in.state != Dragging {
		panic(fmt.Sprintf("drag: Drop while %s", in.state))
	}
	s := in.session

	var req Request
	if list == s.Origin {
		items := in.persisted[list]
		if index < 0 || index >= len(items) {
			return nil, false
		}
		req = MoveRequest[T]{
			List: list,
			From: s.OriginIndex,
			To:   index,
			Plan: reorder.PlanMove(items, s.OriginIndex, index),
		}
	} else {
		target := in.persisted[list]
		if index < 0 || index > len(target) {
			return nil, false
		}
		req = TransferRequest[T]{
			From:       s.Origin,
			To:         list,
			Item:       s.Item,
			Payload:    s.Payload,
			FromIndex:  s.OriginIndex,
			ToIndex:    index,
			DeletePlan: reorder.PlanDelete(in.persisted[s.Origin], s.OriginIndex),
			InsertPlan: reorder.PlanInsert(target, s.Item, index),
		}
	}

	in.dropped = req
	in.state = Dropped
	return req, true
}

// DropAtGhost drops where the user currently sees the dragged item or drop
// zone.
func (in *Interpreter[T]) DropAtGhost() (Request, bool) {
	if in.state != Dragging {
		panic(fmt.Sprintf("drag: DropAtGhost while %s", in.state))
	}
	return in.Drop(in.session.List, in.session.Ghost)
}

// End closes the gesture. A successful end adopts the dropped result as both
// the visual and the persisted snapshot and returns nil. An unsuccessful end
// restores every list to its state at StartDrag and returns a
// CancelNotification.
func (in *Interpreter[T]) End(success bool) Request {
	switch {
	case in.state == Idle:
		panic("drag: End while idle")
	case success && in.state != Dropped:
		panic("drag: End(true) without a drop")
	}

	var out Request
	if success {
		in.commit(in.dropped)
	} else {
		in.visual = in.snapshot
		out = CancelNotification{List: in.session.Origin, ItemID: in.session.Item.ItemID()}
	}

	in.zone = nil
	in.session = nil
	in.snapshot = nil
	in.dropped = nil
	in.state = Idle
	return out
}

func (in *Interpreter[T]) commit(req Request) {
	switch r := req.(type) {
	case MoveRequest[T]:
		next := reorder.Apply(in.persisted[r.List], r.Plan)
		in.persisted[r.List] = next
		in.visual[r.List] = append([]T(nil), next...)
	case TransferRequest[T]:
		from := reorder.Apply(in.persisted[r.From], r.DeletePlan)
		to := reorder.Apply(in.persisted[r.To], r.InsertPlan)
		in.persisted[r.From], in.persisted[r.To] = from, to
		in.visual[r.From] = append([]T(nil), from...)
		in.visual[r.To] = append([]T(nil), to...)
	}
}

func cloneLists[T any](lists map[ListKey][]T) map[ListKey][]T {
	out := make(map[ListKey][]T, len(lists))
	for k, v := range lists {
		out[k] = append([]T(nil), v...)
	}
	return out
}
