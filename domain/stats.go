package domain

import "math"

// Stats holds the display-only aggregates the progress chart renders.
type Stats struct {
	Todo       int     `json:"todo"`
	InProgress int     `json:"inProgress"`
	Done       int     `json:"done"`
	Total      int     `json:"total"`
	Completion float64 `json:"completion"`
}

// Summarize derives per-column counts and the done percentage, rounded to two
// decimals. An empty board is 0% complete.
func Summarize(counts map[Column]int) Stats {
	s := Stats{
		Todo:       counts[ColumnTodo],
		InProgress: counts[ColumnInProgress],
		Done:       counts[ColumnDone],
	}
	s.Total = s.Todo + s.InProgress + s.Done
	if s.Total > 0 {
		s.Completion = math.Round(float64(s.Done)/float64(s.Total)*10000) / 100
	}
	return s
}
