package board

import (
	"time"
)

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

type Column string

const (
	ColumnToDo       Column = "To Do"
	ColumnInProgress Column = "In Progress"
	ColumnDone       Column = "Done"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnToDo, ColumnInProgress, ColumnDone}

func (c Column) Valid() bool {
	return c.Index() >= 0
}

// Index returns the position of the column on the board, or -1 for unknown columns.
func (c Column) Index() int {
	for i, known := range Columns {
		if c == known {
			return i
		}
	}
	return -1
}

const DefaultTitle = "Untitled Task"

type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    Priority     `json:"priority"`
	Category    Category     `json:"category"`
	Column      Column       `json:"column"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
}

func (t Task) clone() Task {
	out := t
	out.Attachments = make([]Attachment, len(t.Attachments))
	copy(out.Attachments, t.Attachments)
	return out
}

// Patch carries the client supplied subset of task fields. Nil fields are left untouched when merged.
type Patch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Priority    *Priority     `json:"priority,omitempty"`
	Category    *Category     `json:"category,omitempty"`
	Column      *Column       `json:"column,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Category == nil && p.Column == nil && p.Attachments == nil
}

func (p Patch) applyTo(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Column != nil {
		t.Column = *p.Column
	}
	if p.Attachments != nil {
		t.Attachments = make([]Attachment, len(*p.Attachments))
		copy(t.Attachments, *p.Attachments)
	}
}

// NewTask builds a task from a patch, filling every omitted field with its default.
func NewTask(id string, createdAt time.Time, p Patch) Task {
	t := Task{
		ID:          id,
		Title:       DefaultTitle,
		Priority:    PriorityMedium,
		Category:    CategoryFeature,
		Column:      ColumnToDo,
		Attachments: []Attachment{},
		CreatedAt:   createdAt.UTC(),
	}
	p.applyTo(&t)
	if t.Title == "" {
		t.Title = DefaultTitle
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Category == "" {
		t.Category = CategoryFeature
	}
	if t.Column == "" {
		t.Column = ColumnToDo
	}
	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
	return t
}
