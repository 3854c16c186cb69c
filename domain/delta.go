package domain

// Server to client event names.
const (
	EventSync    = "sync:tasks"
	EventCreated = "task:created"
	EventUpdated = "task:updated"
	EventMoved   = "task:moved"
	EventDeleted = "task:deleted"
	EventAck     = "ack"
)

// DeltaKind names an accepted mutation. Its value doubles as the broadcast event name.
type DeltaKind string

const (
	Created DeltaKind = EventCreated
	Updated DeltaKind = EventUpdated
	Moved   DeltaKind = EventMoved
	Deleted DeltaKind = EventDeleted
)

// Delta describes one accepted mutation. Only the fields relevant to Kind are
// set, which keeps the encoded payload in the shape clients expect:
//
//	task:created / task:updated  {column, task}
//	task:moved                   {taskId, sourceColumn, targetColumn, task}
//	task:deleted                 {taskId, column}
type Delta struct {
	Kind         DeltaKind `json:"-"`
	Column       Column    `json:"column,omitempty"`
	TaskID       string    `json:"taskId,omitempty"`
	SourceColumn Column    `json:"sourceColumn,omitempty"`
	TargetColumn Column    `json:"targetColumn,omitempty"`
	Task         *Task     `json:"task,omitempty"`
}

// Event returns the broadcast event name for d.
func (d Delta) Event() string { return string(d.Kind) }
