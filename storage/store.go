package storage

import (
	"sync"

	"board-sync/domain"
)

// Store holds the authoritative board in memory. Mutations take the write
// lock; snapshots take the read lock and never see a half-applied change.
type Store struct {
	mu    sync.RWMutex
	board domain.Board
	index map[string]domain.Column
}

// New creates an empty store.
func New() *Store {
	return &Store{board: domain.NewBoard(), index: make(map[string]domain.Column)}
}

// Snapshot returns a deep copy of the board.
func (s *Store) Snapshot() domain.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// Counts returns the number of tasks per column.
func (s *Store) Counts() map[domain.Column]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Counts()
}

// Find returns a copy of the task with id in column.
func (s *Store) Find(column domain.Column, id string) (domain.Task, error) {
	if err := domain.CheckColumn(column); err != nil {
		return domain.Task{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.position(column, id)
	if i < 0 {
		return domain.Task{}, domain.TaskNotFound(id, column)
	}
	return s.board[column][i].Clone(), nil
}

// Insert appends task to column.
func (s *Store) Insert(column domain.Column, task domain.Task) error {
	if err := domain.CheckColumn(column); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[task.ID]; exists {
		return domain.ErrDuplicateTask
	}
	s.board[column] = append(s.board[column], task.Clone())
	s.index[task.ID] = column
	return nil
}

// Replace swaps the task with id in column for task, keeping its position.
func (s *Store) Replace(column domain.Column, id string, task domain.Task) error {
	if err := domain.CheckColumn(column); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.position(column, id)
	if i < 0 {
		return domain.TaskNotFound(id, column)
	}
	task.ID = id
	s.board[column][i] = task.Clone()
	return nil
}

// Relocate moves the task from source to the tail of target. Equal columns
// are a successful no-op.
func (s *Store) Relocate(id string, source, target domain.Column) (domain.Task, error) {
	if err := domain.CheckColumn(source); err != nil {
		return domain.Task{}, err
	}
	if err := domain.CheckColumn(target); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.position(source, id)
	if source == target {
		if i < 0 {
			return domain.Task{}, nil
		}
		return s.board[source][i].Clone(), nil
	}
	if i < 0 {
		return domain.Task{}, domain.TaskNotFound(id, source)
	}
	t := s.board[source][i]
	s.board[source] = append(s.board[source][:i], s.board[source][i+1:]...)
	s.board[target] = append(s.board[target], t)
	s.index[id] = target
	return t.Clone(), nil
}

// Remove deletes the task with id from column.
func (s *Store) Remove(column domain.Column, id string) error {
	if err := domain.CheckColumn(column); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.position(column, id)
	if i < 0 {
		return domain.TaskNotFound(id, column)
	}
	s.board[column] = append(s.board[column][:i], s.board[column][i+1:]...)
	delete(s.index, id)
	return nil
}

// position must be called with s.mu held.
func (s *Store) position(column domain.Column, id string) int {
	if s.index[id] != column {
		return -1
	}
	for i, t := range s.board[column] {
		if t.ID == id {
			return i
		}
	}
	return -1
}
