package mutation

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/astromechza/kanban-sync/pkg/board"
)

func strPtr(s string) *string { return &s }

// newTestProcessor returns a processor with a deterministic clock and id sequence.
func newTestProcessor(strict bool) *Processor {
	p := NewProcessor(strict)
	var n int
	p.NewID = func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Now = func() time.Time {
		return base.Add(time.Duration(n) * time.Minute)
	}
	return p
}

func mustApply(t *testing.T, p *Processor, s *board.Store, m Mutation) Result {
	t.Helper()
	res, err := p.Apply(s, m)
	if err != nil {
		t.Fatalf("apply %s: %v", m.Kind(), err)
	}
	return res
}

func TestCreateFillsDefaults(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	res := mustApply(t, p, s, Create{Fields: board.Patch{Title: strPtr("A")}})
	if !res.Applied || res.TaskID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one task, got %d", len(snap))
	}
	got := snap[0]
	if got.Title != "A" || got.Priority != board.PriorityMedium || got.Category != board.CategoryFeature || got.Column != board.ColumnToDo {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created at not stamped")
	}
}

func TestCreateIDsNeverRepeat(t *testing.T) {
	p := NewProcessor(true)
	s := board.NewStore()
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		res := mustApply(t, p, s, Create{})
		if seen[res.TaskID] {
			t.Fatalf("id %s issued twice", res.TaskID)
		}
		seen[res.TaskID] = true
		if i%10 == 0 {
			mustApply(t, p, s, Reset{})
		}
	}
}

func TestUpdatePreservesIDAndCreatedAt(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	id := mustApply(t, p, s, Create{Fields: board.Patch{Title: strPtr("A"), Description: strPtr("keep")}}).TaskID
	before, _ := s.Get(id)

	m, err := Decode(string(KindUpdate), []byte(`{"id":"`+id+`","title":"B","createdAt":"1999-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	res := mustApply(t, p, s, m)
	if !res.Applied {
		t.Fatal("expected update to apply")
	}
	after, _ := s.Get(id)
	if after.ID != id || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("identity changed: before %+v after %+v", before, after)
	}
	if after.Title != "B" || after.Description != "keep" {
		t.Fatalf("merge failed: %+v", after)
	}
}

func TestUpdateUnknownIsNoop(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	mustApply(t, p, s, Create{Fields: board.Patch{Title: strPtr("A")}})
	before := s.Snapshot()

	for _, m := range []Mutation{
		Update{ID: "nope", Fields: board.Patch{Title: strPtr("B")}},
		Update{Fields: board.Patch{Title: strPtr("B")}},
	} {
		res := mustApply(t, p, s, m)
		if res.Applied {
			t.Fatalf("expected no-op for %+v", m)
		}
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("store changed by unknown update")
	}
}

func TestUpdateStrictDropsInvalidEnums(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	id := mustApply(t, p, s, Create{}).TaskID
	col := board.Column("Archive")
	prio := board.PriorityHigh
	mustApply(t, p, s, Update{ID: id, Fields: board.Patch{Column: &col, Priority: &prio, Title: strPtr("")}})
	got, _ := s.Get(id)
	if got.Column != board.ColumnToDo || got.Priority != board.PriorityHigh || got.Title != board.DefaultTitle {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestPermissiveAcceptsUnknownColumns(t *testing.T) {
	p := newTestProcessor(false)
	s := board.NewStore()
	id := mustApply(t, p, s, Create{}).TaskID
	res := mustApply(t, p, s, Move{TaskID: id, NewColumn: "Archive"})
	if !res.Applied {
		t.Fatal("expected permissive move to apply")
	}
	if got, _ := s.Get(id); got.Column != "Archive" {
		t.Fatalf("expected Archive, got %s", got.Column)
	}
}

func TestMoveScenario(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	id := mustApply(t, p, s, Create{Fields: board.Patch{Title: strPtr("X"), Description: strPtr("d")}}).TaskID
	before, _ := s.Get(id)

	m, err := Decode(string(KindMove), []byte(`{"taskId":"`+id+`","newColumn":"Done"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	mustApply(t, p, s, m)
	after, _ := s.Get(id)
	if after.Column != board.ColumnDone {
		t.Fatalf("expected Done, got %s", after.Column)
	}
	after.Column = before.Column
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("other fields changed: before %+v after %+v", before, after)
	}

	if res := mustApply(t, p, s, Move{TaskID: id, NewColumn: "Backlog"}); res.Applied {
		t.Fatal("strict move to unknown column applied")
	}
	if res := mustApply(t, p, s, Move{TaskID: "missing", NewColumn: board.ColumnDone}); res.Applied {
		t.Fatal("move of unknown task applied")
	}
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	id := mustApply(t, p, s, Create{}).TaskID
	before := s.Snapshot()
	if res := mustApply(t, p, s, Delete{TaskID: "missing"}); res.Applied {
		t.Fatal("expected no-op")
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("store changed")
	}
	if res := mustApply(t, p, s, Delete{TaskID: id}); !res.Applied {
		t.Fatal("expected delete to apply")
	}
	if s.Len() != 0 {
		t.Fatal("task not removed")
	}
}

func TestResetClears(t *testing.T) {
	p := newTestProcessor(true)
	s := board.NewStore()
	mustApply(t, p, s, Create{})
	mustApply(t, p, s, Create{})
	mustApply(t, p, s, Reset{})
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

type unknownMutation struct{}

func (unknownMutation) Kind() Kind { return "task:archive" }

func TestApplyUnknownMutation(t *testing.T) {
	p := newTestProcessor(true)
	if _, err := p.Apply(board.NewStore(), unknownMutation{}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
}

// randomMutations builds a sequence referencing ids the deterministic generator will issue.
func randomMutations(r *rand.Rand, n int) []Mutation {
	columns := []board.Column{board.ColumnToDo, board.ColumnInProgress, board.ColumnDone}
	out := make([]Mutation, 0, n)
	created := 0
	for i := 0; i < n; i++ {
		target := fmt.Sprintf("task-%d", r.Intn(created+2))
		switch r.Intn(10) {
		case 0, 1, 2:
			created++
			out = append(out, Create{Fields: board.Patch{Title: strPtr(fmt.Sprintf("t%d", i))}})
		case 3, 4:
			out = append(out, Update{ID: target, Fields: board.Patch{Description: strPtr(fmt.Sprintf("d%d", i))}})
		case 5, 6:
			out = append(out, Move{TaskID: target, NewColumn: columns[r.Intn(len(columns))]})
		case 7, 8:
			out = append(out, Delete{TaskID: target})
		default:
			out = append(out, Reset{})
		}
	}
	return out
}

func TestOrderDeterminism(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		seq := randomMutations(r, 60)

		run := func() []board.Task {
			p := newTestProcessor(true)
			s := board.NewStore()
			for _, m := range seq {
				mustApply(t, p, s, m)
			}
			return s.Snapshot()
		}
		if a, b := run(), run(); !reflect.DeepEqual(a, b) {
			t.Fatalf("round %d: replaying the same sequence diverged", round)
		}
	}
}
