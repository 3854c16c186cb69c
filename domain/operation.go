package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Client to server event names.
const (
	EventCreate = "task:create"
	EventUpdate = "task:update"
	EventMove   = "task:move"
	EventDelete = "task:delete"
)

// Envelope wraps every message exchanged with a client.
type Envelope struct {
	Event     string                 `json:"event"`
	RequestID string                 `json:"requestId,omitempty"`
	Data      sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// Operation is a decoded client intent.
type Operation interface {
	Event() string
}

type CreateTask struct {
	Column      Column       `json:"column"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Category    Category     `json:"category"`
	Attachments []Attachment `json:"attachments"`
}

// UpdateTask replaces a task's fields. Empty Priority or Category and nil
// Attachments keep the current values.
type UpdateTask struct {
	ID          string       `json:"id"`
	Column      Column       `json:"column"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Category    Category     `json:"category"`
	Attachments []Attachment `json:"attachments"`
}

type MoveTask struct {
	TaskID       string `json:"taskId"`
	SourceColumn Column `json:"sourceColumn"`
	TargetColumn Column `json:"targetColumn"`
}

type DeleteTask struct {
	TaskID string `json:"taskId"`
	Column Column `json:"column"`
}

func (CreateTask) Event() string { return EventCreate }
func (UpdateTask) Event() string { return EventUpdate }
func (MoveTask) Event() string   { return EventMove }
func (DeleteTask) Event() string { return EventDelete }

// DecodeOperation parses the payload of a client event. Unknown fields are
// ignored; browsers send the whole form state, including an empty id on create.
func DecodeOperation(event string, data []byte) (Operation, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrInvalidPayload, event)
	}
	var (
		op  Operation
		err error
	)
	switch event {
	case EventCreate:
		var v CreateTask
		err = sonic.Unmarshal(data, &v)
		op = v
	case EventUpdate:
		var v UpdateTask
		err = sonic.Unmarshal(data, &v)
		op = v
	case EventMove:
		var v MoveTask
		err = sonic.Unmarshal(data, &v)
		op = v
	case EventDelete:
		var v DeleteTask
		err = sonic.Unmarshal(data, &v)
		op = v
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, event)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	return op, nil
}

// Ack reports the outcome of one operation to the client that sent it.
type Ack struct {
	RequestID string    `json:"requestId,omitempty"`
	Event     string    `json:"event"`
	OK        bool      `json:"ok"`
	Applied   bool      `json:"applied"`
	Duplicate bool      `json:"duplicate,omitempty"`
	Error     *AckError `json:"error,omitempty"`
}

type AckError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewAck builds the acknowledgement for an operation outcome.
func NewAck(requestID, event string, applied bool, err error) Ack {
	ack := Ack{RequestID: requestID, Event: event, OK: err == nil, Applied: applied && err == nil}
	if err != nil {
		ack.Error = &AckError{Kind: KindOf(err), Message: err.Error()}
	}
	return ack
}
