// Package reorder computes position updates for items kept in a dense,
// zero-based ordering inside a parent list.
//
// Every function here is pure: it reads a snapshot and returns a Plan that the
// caller persists. Planning the same change twice yields the same Plan, but
// applying a Plan twice does not: positions move again. A Plan that is only
// partially written leaves the parent list with gaps or duplicates; recover by
// re-reading the list and calling PlanNormalize.
package reorder

import (
	"errors"
	"fmt"
	"sort"
)

// Ordered is implemented by anything stored with a position in a parent list.
// WithRank returns a copy of the item carrying the given position.
type Ordered[T any] interface {
	ItemID() string
	Rank() int
	WithRank(position int) T
}

// Update assigns a new position to an existing item.
type Update struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Insertion carries a full item that enters the list at Position.
type Insertion[T any] struct {
	Item     T   `json:"item"`
	Position int `json:"position"`
}

// Plan is the set of writes that restores density after one structural change.
type Plan[T any] struct {
	Updates []Update      `json:"updates"`
	Delete  string        `json:"delete,omitempty"`
	Insert  *Insertion[T] `json:"insert,omitempty"`
}

// Empty reports whether the plan writes nothing.
func (p Plan[T]) Empty() bool {
	return len(p.Updates) == 0 && p.Delete == "" && p.Insert == nil
}

// Positions returns the new position of every item the plan touches,
// including an inserted item. Deleted items are absent.
func (p Plan[T]) Positions() map[string]int {
	out := make(map[string]int, len(p.Updates)+1)
	for _, u := range p.Updates {
		out[u.ID] = u.Position
	}
	if p.Insert != nil {
		var item any = p.Insert.Item
		if o, ok := item.(interface{ ItemID() string }); ok {
			out[o.ItemID()] = p.Insert.Position
		}
	}
	return out
}

// PlanMove moves the item at from to to. Out-of-range indices, including the
// -1 "no drop target" sentinel, and from == to produce an empty plan.
func PlanMove[T Ordered[T]](items []T, from, to int) Plan[T] {
	n := len(items)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return Plan[T]{}
	}

	var plan Plan[T]
	moved := items[from].ItemID()
	for _, item := range items {
		pos := item.Rank()
		next := pos
		switch {
		case item.ItemID() == moved:
			next = to
		case from < to && pos > from && pos <= to:
			next = pos - 1
		case from > to && pos >= to && pos < from:
			next = pos + 1
		}
		if next != pos {
			plan.Updates = append(plan.Updates, Update{ID: item.ItemID(), Position: next})
		}
	}
	sortUpdates(plan.Updates)
	return plan
}

// PlanDelete removes the item at from and closes the gap it leaves.
func PlanDelete[T Ordered[T]](items []T, from int) Plan[T] {
	if from < 0 || from >= len(items) {
		return Plan[T]{}
	}

	removed := items[from]
	plan := Plan[T]{Delete: removed.ItemID()}
	cut := removed.Rank()
	for _, item := range items {
		if item.ItemID() == removed.ItemID() {
			continue
		}
		if pos := item.Rank(); pos > cut {
			plan.Updates = append(plan.Updates, Update{ID: item.ItemID(), Position: pos - 1})
		}
	}
	sortUpdates(plan.Updates)
	return plan
}

// PlanInsert opens a slot at to for item. to may equal len(items) to append.
func PlanInsert[T Ordered[T]](items []T, item T, to int) Plan[T] {
	if to < 0 || to > len(items) {
		return Plan[T]{}
	}

	plan := Plan[T]{Insert: &Insertion[T]{Item: item.WithRank(to), Position: to}}
	for _, existing := range items {
		if pos := existing.Rank(); pos >= to {
			plan.Updates = append(plan.Updates, Update{ID: existing.ItemID(), Position: pos + 1})
		}
	}
	sortUpdates(plan.Updates)
	return plan
}

// PlanNormalize reassigns 0..n-1 following the current order of items
// (position, then id). It repairs lists left with gaps or duplicates.
func PlanNormalize[T Ordered[T]](items []T) Plan[T] {
	sorted := Sorted(items)
	var plan Plan[T]
	for i, item := range sorted {
		if item.Rank() != i {
			plan.Updates = append(plan.Updates, Update{ID: item.ItemID(), Position: i})
		}
	}
	sortUpdates(plan.Updates)
	return plan
}

// Apply returns the ordering that results from writing plan over items,
// sorted by position. items is not modified.
func Apply[T Ordered[T]](items []T, plan Plan[T]) []T {
	out := make([]T, 0, len(items)+1)
	positions := make(map[string]int, len(plan.Updates))
	for _, u := range plan.Updates {
		positions[u.ID] = u.Position
	}
	for _, item := range items {
		if plan.Delete != "" && item.ItemID() == plan.Delete {
			continue
		}
		if pos, ok := positions[item.ItemID()]; ok {
			item = item.WithRank(pos)
		}
		out = append(out, item)
	}
	if plan.Insert != nil {
		out = append(out, plan.Insert.Item.WithRank(plan.Insert.Position))
	}
	return Sorted(out)
}

// Sorted returns a copy of items ordered by position, ties broken by id.
func Sorted[T Ordered[T]](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank() != out[j].Rank() {
			return out[i].Rank() < out[j].Rank()
		}
		return out[i].ItemID() < out[j].ItemID()
	})
	return out
}

// ErrNotDense is wrapped by CheckDense when positions are not exactly 0..n-1.
var ErrNotDense = errors.New("positions are not dense")

// CheckDense verifies the density invariant for one parent list.
func CheckDense[T Ordered[T]](items []T) error {
	seen := make(map[int]string, len(items))
	for _, item := range items {
		pos := item.Rank()
		if pos < 0 || pos >= len(items) {
			return fmt.Errorf("%w: %s at %d outside [0,%d)", ErrNotDense, item.ItemID(), pos, len(items))
		}
		if other, ok := seen[pos]; ok {
			return fmt.Errorf("%w: %s and %s share %d", ErrNotDense, other, item.ItemID(), pos)
		}
		seen[pos] = item.ItemID()
	}
	return nil
}

func sortUpdates(updates []Update) {
	sort.Slice(updates, func(i, j int) bool {
		if updates[i].Position != updates[j].Position {
			return updates[i].Position < updates[j].Position
		}
		return updates[i].ID < updates[j].ID
	})
}
