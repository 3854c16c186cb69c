package domain

// Board maps every column to its ordered task sequence.
type Board map[Column][]Task

// NewBoard returns a board with all three columns present and empty.
func NewBoard() Board {
	b := make(Board, len(Columns))
	for _, c := range Columns {
		b[c] = []Task{}
	}
	return b
}

// Clone deep-copies the board. Missing columns come back as empty slices so
// the encoded form always carries all three keys.
func (b Board) Clone() Board {
	out := NewBoard()
	for _, c := range Columns {
		tasks := b[c]
		cp := make([]Task, len(tasks))
		for i, t := range tasks {
			cp[i] = t.Clone()
		}
		out[c] = cp
	}
	return out
}

// Locate returns the column holding id.
func (b Board) Locate(id string) (Column, int, bool) {
	for _, c := range Columns {
		for i, t := range b[c] {
			if t.ID == id {
				return c, i, true
			}
		}
	}
	return "", -1, false
}

// Counts returns the number of tasks per column.
func (b Board) Counts() map[Column]int {
	counts := make(map[Column]int, len(Columns))
	for _, c := range Columns {
		counts[c] = len(b[c])
	}
	return counts
}

// Len is the total number of tasks across all columns.
func (b Board) Len() int {
	n := 0
	for _, c := range Columns {
		n += len(b[c])
	}
	return n
}
