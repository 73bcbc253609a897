package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

// History keeps one automerge change per applied mutation, with the full board as the document content at that
// change. It exists for offline inspection; nothing reads it back into a live board.
type History struct {
	mu       sync.Mutex
	doc      *automerge.Doc
	revision int64
}

type Revision struct {
	Hash      string
	Actor     string
	Seq       uint64
	Revision  int64
	Mutation  string
	TaskCount int64
}

func New() *History {
	return &History{doc: automerge.New()}
}

func Load(raw []byte) (*History, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	h := &History{doc: doc}
	if v, err := doc.Path("revision").Get(); err == nil {
		h.revision = toInt64(v.Interface())
	}
	return h, nil
}

func (h *History) Observe(_ context.Context, m mutation.Mutation, res mutation.Result, snapshot []board.Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tasks := make([]interface{}, len(snapshot))
	for i, t := range snapshot {
		attachments := make([]interface{}, len(t.Attachments))
		for j, a := range t.Attachments {
			attachments[j] = map[string]interface{}{"name": a.Name, "type": a.Type}
		}
		tasks[i] = map[string]interface{}{
			"id":          t.ID,
			"title":       t.Title,
			"description": t.Description,
			"priority":    string(t.Priority),
			"category":    string(t.Category),
			"column":      string(t.Column),
			"attachments": attachments,
			"createdAt":   t.CreatedAt.Format(time.RFC3339Nano),
		}
	}

	h.revision++
	if err := h.doc.Path("tasks").Set(tasks); err != nil {
		return fmt.Errorf("failed to set tasks: %w", err)
	}
	if err := h.doc.Path("revision").Set(h.revision); err != nil {
		return fmt.Errorf("failed to set revision: %w", err)
	}
	if err := h.doc.Path("mutation").Set(string(m.Kind())); err != nil {
		return fmt.Errorf("failed to set mutation: %w", err)
	}
	if err := h.doc.Path("taskCount").Set(int64(len(snapshot))); err != nil {
		return fmt.Errorf("failed to set task count: %w", err)
	}
	if _, err := h.doc.Commit(fmt.Sprintf("%s %s", m.Kind(), res.TaskID), automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit revision %d: %w", h.revision, err)
	}
	return nil
}

func (h *History) Revision() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.revision
}

// Fork returns an independent copy of the document, safe to render while mutations continue.
func (h *History) Fork() (*automerge.Doc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Fork()
}

func (h *History) Save() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc.Save()
}

// Dump writes the saved document into dir and returns the file path.
func (h *History) Dump(dir string) (string, error) {
	h.mu.Lock()
	name := h.doc.ActorID() + ".automerge"
	h.mu.Unlock()
	tf := filepath.Join(dir, name)
	if err := os.WriteFile(tf, h.Save(), 0o644); err != nil {
		return "", fmt.Errorf("failed to dump history: %w", err)
	}
	return tf, nil
}

// Revisions lists every change of the document with the board summary recorded at that change.
func (h *History) Revisions() ([]Revision, error) {
	doc, err := h.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork history: %w", err)
	}
	return Revisions(doc)
}

func Revisions(doc *automerge.Doc) ([]Revision, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]Revision, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		r := Revision{Hash: change.Hash().String(), Actor: change.ActorID(), Seq: change.ActorSeq()}
		if v, err := docAt.Path("revision").Get(); err == nil {
			r.Revision = toInt64(v.Interface())
		}
		if v, err := docAt.Path("taskCount").Get(); err == nil {
			r.TaskCount = toInt64(v.Interface())
		}
		if v, err := docAt.Path("mutation").Get(); err == nil {
			if s, ok := v.Interface().(string); ok {
				r.Mutation = s
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
