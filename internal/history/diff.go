package history

// Change is one structural difference between two snapshots.
type Change struct {
	Kind   string `json:"kind"` // list.added, list.removed, list.moved, list.renamed, task.added, task.removed, task.moved
	ID     string `json:"id"`
	Title  string `json:"title"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	ListID string `json:"listId,omitempty"`
}

type taskPlace struct {
	listID string
	title  string
}

// Diff reports list and task additions, removals, renames and moves between
// two snapshots. Neighbours shifted by a move are not reported as moved.
func Diff(from, to Snapshot) []Change {
	var changes []Change

	fromLists := map[string]int{}
	fromTitles := map[string]string{}
	fromTasks := map[string]taskPlace{}
	for i, l := range from.Lists {
		fromLists[l.ID] = i
		fromTitles[l.ID] = l.Title
		for _, t := range l.Tasks {
			fromTasks[t.ID] = taskPlace{listID: l.ID, title: t.Title}
		}
	}

	toLists := map[string]bool{}
	toTasks := map[string]bool{}
	movedLists := movedByOrder(listIDs(from.Lists), listIDs(to.Lists))
	for _, l := range to.Lists {
		toLists[l.ID] = true
		if _, ok := fromLists[l.ID]; !ok {
			changes = append(changes, Change{Kind: "list.added", ID: l.ID, Title: l.Title})
		} else {
			if fromTitles[l.ID] != l.Title {
				changes = append(changes, Change{Kind: "list.renamed", ID: l.ID, Title: l.Title, From: fromTitles[l.ID], To: l.Title})
			}
			if movedLists[l.ID] {
				changes = append(changes, Change{Kind: "list.moved", ID: l.ID, Title: l.Title})
			}
		}

		var prevIDs []string
		for _, prev := range from.Lists {
			if prev.ID == l.ID {
				prevIDs = taskIDs(prev.Tasks)
			}
		}
		movedTasks := movedByOrder(prevIDs, taskIDs(l.Tasks))
		for _, t := range l.Tasks {
			toTasks[t.ID] = true
			place, ok := fromTasks[t.ID]
			switch {
			case !ok:
				changes = append(changes, Change{Kind: "task.added", ID: t.ID, Title: t.Title, ListID: l.ID})
			case place.listID != l.ID:
				changes = append(changes, Change{Kind: "task.moved", ID: t.ID, Title: t.Title, From: place.listID, To: l.ID, ListID: l.ID})
			case movedTasks[t.ID]:
				changes = append(changes, Change{Kind: "task.moved", ID: t.ID, Title: t.Title, From: l.ID, To: l.ID, ListID: l.ID})
			}
		}
	}

	for _, l := range from.Lists {
		if !toLists[l.ID] {
			changes = append(changes, Change{Kind: "list.removed", ID: l.ID, Title: l.Title})
			continue
		}
		for _, t := range l.Tasks {
			if !toTasks[t.ID] {
				changes = append(changes, Change{Kind: "task.removed", ID: t.ID, Title: t.Title, ListID: l.ID})
			}
		}
	}
	return changes
}

// movedByOrder marks ids present in both orderings that are not part of the
// longest common subsequence of the two, i.e. the ones that were dragged.
func movedByOrder(before, after []string) map[string]bool {
	inAfter := map[string]bool{}
	for _, id := range after {
		inAfter[id] = true
	}
	inBefore := map[string]bool{}
	var a []string
	for _, id := range before {
		inBefore[id] = true
		if inAfter[id] {
			a = append(a, id)
		}
	}
	var b []string
	for _, id := range after {
		if inBefore[id] {
			b = append(b, id)
		}
	}

	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	stay := map[string]bool{}
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] == b[j]:
			stay[a[i]] = true
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			i++
		default:
			j++
		}
	}

	moved := map[string]bool{}
	for _, id := range a {
		if !stay[id] {
			moved[id] = true
		}
	}
	return moved
}

func listIDs(lists []SnapshotList) []string {
	out := make([]string, len(lists))
	for i, l := range lists {
		out[i] = l.ID
	}
	return out
}

func taskIDs(tasks []SnapshotTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
