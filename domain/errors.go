package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidColumn is returned when an operation names a column outside the fixed set.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrTaskNotFound is returned when a task id is not present in the expected column.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidPayload is returned for missing or malformed operation fields.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrDuplicateTask guards the partition invariant on insert.
	ErrDuplicateTask = fmt.Errorf("%w: task id already on board", ErrInvalidPayload)
)

// ErrorKind is the wire name of an operation failure.
type ErrorKind string

const (
	KindInvalidColumn  ErrorKind = "InvalidColumn"
	KindTaskNotFound   ErrorKind = "TaskNotFound"
	KindInvalidPayload ErrorKind = "InvalidPayload"
	KindInternal       ErrorKind = "Internal"
)

// KindOf maps err to the kind reported to clients.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidColumn):
		return KindInvalidColumn
	case errors.Is(err, ErrTaskNotFound):
		return KindTaskNotFound
	case errors.Is(err, ErrInvalidPayload):
		return KindInvalidPayload
	default:
		return KindInternal
	}
}

func invalidColumn(c Column) error {
	return fmt.Errorf("%w: %q", ErrInvalidColumn, string(c))
}

// CheckColumn returns a wrapped ErrInvalidColumn when c is not a board column.
func CheckColumn(c Column) error {
	if !c.Valid() {
		return invalidColumn(c)
	}
	return nil
}

// TaskNotFound wraps ErrTaskNotFound with the id and column searched.
func TaskNotFound(id string, c Column) error {
	return fmt.Errorf("%w: %s in %s", ErrTaskNotFound, id, c)
}
