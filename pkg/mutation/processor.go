package mutation

import (
	"errors"
	"fmt"
	"time"

	"github.com/astromechza/kanban-sync/pkg/board"
)

// Result describes what an applied mutation did. Applied is false when the mutation completed as a no-op.
type Result struct {
	Kind    Kind
	TaskID  string
	Applied bool
}

type Processor struct {
	// NewID generates task ids; it must never repeat within the process.
	NewID func() string
	Now   func() time.Time
	// StrictEnums rejects priority, category and column values outside the known sets.
	StrictEnums bool
}

func NewProcessor(strictEnums bool) *Processor {
	return &Processor{
		NewID:       board.NewID,
		Now:         time.Now,
		StrictEnums: strictEnums,
	}
}

// Apply validates the mutation and applies it to the store. Either the whole mutation lands or the store is left
// untouched. Unknown targets are not errors: the result simply reports Applied false.
func (p *Processor) Apply(store *board.Store, m Mutation) (Result, error) {
	switch v := m.(type) {
	case Create:
		task := board.NewTask(p.NewID(), p.Now(), p.sanitize(v.Fields))
		if err := store.Insert(task); err != nil {
			return Result{Kind: KindCreate}, fmt.Errorf("failed to create task: %w", err)
		}
		return Result{Kind: KindCreate, TaskID: task.ID, Applied: true}, nil

	case Update:
		res := Result{Kind: KindUpdate, TaskID: v.ID}
		if v.ID == "" {
			return res, nil
		}
		fields := p.sanitize(v.Fields)
		if err := store.Replace(v.ID, fields); err != nil {
			if errors.Is(err, board.ErrNotFound) {
				return res, nil
			}
			return res, err
		}
		res.Applied = true
		return res, nil

	case Move:
		res := Result{Kind: KindMove, TaskID: v.TaskID}
		if v.TaskID == "" || (p.StrictEnums && !v.NewColumn.Valid()) {
			return res, nil
		}
		if err := store.SetColumn(v.TaskID, v.NewColumn); err != nil {
			if errors.Is(err, board.ErrNotFound) {
				return res, nil
			}
			return res, err
		}
		res.Applied = true
		return res, nil

	case Delete:
		_, found := store.Get(v.TaskID)
		store.Remove(v.TaskID)
		return Result{Kind: KindDelete, TaskID: v.TaskID, Applied: found}, nil

	case Reset:
		store.Clear()
		return Result{Kind: KindReset, Applied: true}, nil

	default:
		return Result{}, fmt.Errorf("failed to apply %T: %w", m, ErrUnknownKind)
	}
}

// sanitize drops fields that would break the record invariants: an empty title always, and out of set enum values
// in strict mode.
func (p *Processor) sanitize(f board.Patch) board.Patch {
	if f.Title != nil && *f.Title == "" {
		f.Title = nil
	}
	if !p.StrictEnums {
		return f
	}
	if f.Priority != nil && !f.Priority.Valid() {
		f.Priority = nil
	}
	if f.Category != nil && !f.Category.Valid() {
		f.Category = nil
	}
	if f.Column != nil && !f.Column.Valid() {
		f.Column = nil
	}
	return f
}
