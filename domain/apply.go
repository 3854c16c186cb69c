package domain

// ApplyDelta returns the board that results from applying d to b. b is left
// untouched. Replicas built from a sync:tasks snapshot and the deltas that
// follow it converge on the server's board. A created or moved task that the
// replica already holds is not duplicated.
func ApplyDelta(b Board, d Delta) Board {
	out := b.Clone()
	switch d.Kind {
	case Created:
		if d.Task == nil || !d.Column.Valid() {
			return out
		}
		place(out, d.Column, *d.Task)
	case Updated:
		if d.Task == nil || !d.Column.Valid() {
			return out
		}
		tasks := out[d.Column]
		for i := range tasks {
			if tasks[i].ID == d.Task.ID {
				tasks[i] = d.Task.Clone()
			}
		}
	case Moved:
		if d.Task == nil || !d.SourceColumn.Valid() || !d.TargetColumn.Valid() {
			return out
		}
		out[d.SourceColumn] = without(out[d.SourceColumn], d.TaskID)
		place(out, d.TargetColumn, *d.Task)
	case Deleted:
		if !d.Column.Valid() {
			return out
		}
		out[d.Column] = without(out[d.Column], d.TaskID)
	}
	return out
}

// place appends t to column unless the board already holds its id. A copy
// already in column is replaced in position; one elsewhere is removed first.
func place(b Board, column Column, t Task) {
	if c, i, ok := b.Locate(t.ID); ok {
		if c == column {
			b[c][i] = t.Clone()
			return
		}
		b[c] = without(b[c], t.ID)
	}
	b[column] = append(b[column], t.Clone())
}

func without(tasks []Task, id string) []Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}
