// Package processor validates client operations and applies them to the board.
package processor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"board-sync/domain"
)

// Store is the subset of the task store the processor mutates.
type Store interface {
	Find(column domain.Column, id string) (domain.Task, error)
	Insert(column domain.Column, task domain.Task) error
	Replace(column domain.Column, id string, task domain.Task) error
	Relocate(id string, source, target domain.Column) (domain.Task, error)
	Remove(column domain.Column, id string) error
}

// Processor turns operations into store calls and deltas. Every operation is
// fully validated before the store is touched. Callers serialize Apply.
type Processor struct {
	store Store
	newID func() string
}

// New creates a processor over store. Task ids come from uuid.NewString.
func New(store Store) *Processor {
	return &Processor{store: store, newID: uuid.NewString}
}

// WithIDGenerator replaces the task id source.
func (p *Processor) WithIDGenerator(gen func() string) *Processor {
	p.newID = gen
	return p
}

// Apply dispatches op. A nil delta with a nil error means the operation was
// accepted but changed nothing.
func (p *Processor) Apply(op domain.Operation) (*domain.Delta, error) {
	switch v := op.(type) {
	case domain.CreateTask:
		return p.Create(v)
	case domain.UpdateTask:
		return p.Update(v)
	case domain.MoveTask:
		return p.Move(v)
	case domain.DeleteTask:
		return p.Delete(v)
	default:
		return nil, fmt.Errorf("%w: unsupported operation %T", domain.ErrInvalidPayload, op)
	}
}

func (p *Processor) Create(cmd domain.CreateTask) (*domain.Delta, error) {
	if err := domain.CheckColumn(cmd.Column); err != nil {
		return nil, err
	}
	task := domain.Task{
		ID:          p.newID(),
		Title:       cmd.Title,
		Description: cmd.Description,
		Priority:    cmd.Priority,
		Category:    cmd.Category,
		Attachments: cmd.Attachments,
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	if task.Category == "" {
		task.Category = domain.CategoryFeature
	}
	if task.Attachments == nil {
		task.Attachments = []domain.Attachment{}
	}
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if err := p.store.Insert(cmd.Column, task); err != nil {
		return nil, err
	}
	return &domain.Delta{Kind: domain.Created, Column: cmd.Column, Task: &task}, nil
}

func (p *Processor) Update(cmd domain.UpdateTask) (*domain.Delta, error) {
	if err := domain.CheckColumn(cmd.Column); err != nil {
		return nil, err
	}
	if cmd.ID == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidPayload)
	}
	current, err := p.store.Find(cmd.Column, cmd.ID)
	if err != nil {
		return nil, err
	}
	task := domain.Task{
		ID:          cmd.ID,
		Title:       cmd.Title,
		Description: cmd.Description,
		Priority:    cmd.Priority,
		Category:    cmd.Category,
		Attachments: cmd.Attachments,
	}
	if task.Priority == "" {
		task.Priority = current.Priority
	}
	if task.Category == "" {
		task.Category = current.Category
	}
	if task.Attachments == nil {
		task.Attachments = current.Attachments
	}
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if err := p.store.Replace(cmd.Column, cmd.ID, task); err != nil {
		return nil, err
	}
	return &domain.Delta{Kind: domain.Updated, Column: cmd.Column, Task: &task}, nil
}

func (p *Processor) Move(cmd domain.MoveTask) (*domain.Delta, error) {
	if err := domain.CheckColumn(cmd.SourceColumn); err != nil {
		return nil, err
	}
	if err := domain.CheckColumn(cmd.TargetColumn); err != nil {
		return nil, err
	}
	if cmd.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrInvalidPayload)
	}
	if cmd.SourceColumn == cmd.TargetColumn {
		return nil, nil
	}
	task, err := p.store.Relocate(cmd.TaskID, cmd.SourceColumn, cmd.TargetColumn)
	if err != nil {
		return nil, err
	}
	return &domain.Delta{
		Kind:         domain.Moved,
		TaskID:       cmd.TaskID,
		SourceColumn: cmd.SourceColumn,
		TargetColumn: cmd.TargetColumn,
		Task:         &task,
	}, nil
}

func (p *Processor) Delete(cmd domain.DeleteTask) (*domain.Delta, error) {
	if err := domain.CheckColumn(cmd.Column); err != nil {
		return nil, err
	}
	if cmd.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrInvalidPayload)
	}
	if err := p.store.Remove(cmd.Column, cmd.TaskID); err != nil {
		return nil, err
	}
	return &domain.Delta{Kind: domain.Deleted, TaskID: cmd.TaskID, Column: cmd.Column}, nil
}

func validateTask(t domain.Task) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", domain.ErrInvalidPayload)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", domain.ErrInvalidPayload, string(t.Priority))
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", domain.ErrInvalidPayload, string(t.Category))
	}
	for i, a := range t.Attachments {
		if a.Name == "" {
			return fmt.Errorf("%w: attachment %d has no name", domain.ErrInvalidPayload, i)
		}
		if a.Size < 0 {
			return fmt.Errorf("%w: attachment %s has negative size", domain.ErrInvalidPayload, a.Name)
		}
	}
	return nil
}
