package domain

// Column identifies one of the three fixed board partitions.
type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inProgress"
	ColumnDone       Column = "done"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnTodo, ColumnInProgress, ColumnDone}

// Valid reports whether c is one of the fixed columns. The check is case-sensitive.
func (c Column) Valid() bool {
	switch c {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Category string

const (
	CategoryBug         Category = "Bug"
	CategoryFeature     Category = "Feature"
	CategoryEnhancement Category = "Enhancement"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryBug, CategoryFeature, CategoryEnhancement:
		return true
	}
	return false
}

// Attachment is a file reference appended to a task. URL may hold a data URL.
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Task represents a single card on the board.
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Category    Category     `json:"category"`
	Attachments []Attachment `json:"attachments"`
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	cp := t
	cp.Attachments = make([]Attachment, len(t.Attachments))
	copy(cp.Attachments, t.Attachments)
	return cp
}
