package board

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrDuplicateID = errors.New("duplicate task id")
	ErrNotFound    = errors.New("task not found")
)

// Store is the ordered, in-memory set of task records. It is not safe for concurrent use; the owner serializes access.
type Store struct {
	tasks []Task
	index map[string]int
}

func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

func (s *Store) Insert(t Task) error {
	if _, ok := s.index[t.ID]; ok {
		return fmt.Errorf("failed to insert %q: %w", t.ID, ErrDuplicateID)
	}
	s.index[t.ID] = len(s.tasks)
	s.tasks = append(s.tasks, t.clone())
	return nil
}

// Replace merges the supplied fields into the existing record. ID and CreatedAt are never touched.
func (s *Store) Replace(id string, p Patch) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("failed to replace %q: %w", id, ErrNotFound)
	}
	p.applyTo(&s.tasks[i])
	return nil
}

func (s *Store) SetColumn(id string, column Column) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("failed to move %q: %w", id, ErrNotFound)
	}
	s.tasks[i].Column = column
	return nil
}

// Remove deletes the record if present. Removing an unknown id is not an error.
func (s *Store) Remove(id string) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.tasks); j++ {
		s.index[s.tasks[j].ID] = j
	}
}

func (s *Store) Clear() {
	s.tasks = nil
	s.index = make(map[string]int)
}

func (s *Store) Get(id string) (Task, bool) {
	i, ok := s.index[id]
	if !ok {
		return Task{}, false
	}
	return s.tasks[i].clone(), true
}

func (s *Store) Len() int {
	return len(s.tasks)
}

// Snapshot returns a deep copy of every record in insertion order. It is never nil.
func (s *Store) Snapshot() []Task {
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.clone()
	}
	return out
}

// NewID returns a time ordered identifier: a UUIDv7 carries a millisecond timestamp followed by random bits.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
