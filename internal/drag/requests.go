package drag

import "kanban/api/internal/reorder"

// Request is emitted by the interpreter for the caller to act on. It is one of
// MoveRequest, TransferRequest or CancelNotification.
type Request interface {
	request()
}

// MoveRequest reorders an item inside the list it started in. Plan was computed
// over the persisted snapshot and is empty when From == To.
type MoveRequest[T any] struct {
	List ListKey         `json:"list"`
	From int             `json:"from"`
	To   int             `json:"to"`
	Plan reorder.Plan[T] `json:"plan"`
}

// TransferRequest moves Item out of From and into To at ToIndex. DeletePlan and
// InsertPlan are written together by the caller.
type TransferRequest[T any] struct {
	From       ListKey         `json:"from"`
	To         ListKey         `json:"to"`
	Item       T               `json:"item"`
	Payload    []byte          `json:"payload,omitempty"`
	FromIndex  int             `json:"fromIndex"`
	ToIndex    int             `json:"toIndex"`
	DeletePlan reorder.Plan[T] `json:"deletePlan"`
	InsertPlan reorder.Plan[T] `json:"insertPlan"`
}

// CancelNotification asks the UI to refresh from the last persisted state.
type CancelNotification struct {
	List   ListKey `json:"list"`
	ItemID string  `json:"itemId"`
}

func (MoveRequest[T]) request()     {}
func (TransferRequest[T]) request() {}
func (CancelNotification) request() {}
