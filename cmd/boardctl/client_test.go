package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/hub"
	"github.com/astromechza/kanban-sync/pkg/mutation"
	"github.com/astromechza/kanban-sync/pkg/protocol"
)

func TestClientSubmitRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service := hub.NewService()
	srv := httptest.NewServer(hub.NewHandler(ctx, service, hub.HandlerOptions{}))
	defer srv.Close()

	c := &client{addr: strings.TrimPrefix(srv.URL, "http://")}
	title := "from the cli"
	tasks, err := c.submit(ctx, mutation.Create{Fields: board.Patch{Title: &title}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != title {
		t.Fatalf("unexpected board %+v", tasks)
	}

	tasks, err = c.submit(ctx, mutation.Move{TaskID: tasks[0].ID, NewColumn: board.ColumnDone})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if tasks[0].Column != board.ColumnDone {
		t.Fatalf("unexpected board after move %+v", tasks)
	}
}

func TestPrinterGroupsByColumn(t *testing.T) {
	var buf bytes.Buffer
	p := printer{w: &buf}
	err := p.board([]board.Task{
		{ID: "3", Title: "done", Column: board.ColumnDone},
		{ID: "1", Title: "todo", Column: board.ColumnToDo},
		{ID: "2", Title: "doing", Column: board.ColumnInProgress},
	})
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !(strings.Index(out, "todo") < strings.Index(out, "doing") && strings.Index(out, "doing") < strings.Index(out, "done ")) {
		t.Fatalf("columns out of order:\n%s", out)
	}
	if !strings.HasSuffix(out, "3 tasks\n") {
		t.Fatalf("missing summary:\n%s", out)
	}
}

// scriptedBoards answers the first frame a client sends with each of boards in turn.
func scriptedBoards(t *testing.T, initial []board.Task, boards ...[]board.Task) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		write := func(tasks []board.Task) {
			frame, err := protocol.Encode(protocol.EventSyncTasks, tasks)
			if err != nil {
				t.Errorf("encode: %v", err)
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
		write(initial)
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, b := range boards {
			write(b)
		}
		_, _, _ = conn.ReadMessage()
	}))
}

func TestSubmitSkipsBoardsFromOtherMutations(t *testing.T) {
	existing := board.Task{ID: "1", Title: "existing", Column: board.ColumnToDo}
	other := board.Task{ID: "2", Title: "someone else", Column: board.ColumnToDo}
	mine := board.Task{ID: "3", Title: "mine", Column: board.ColumnToDo}
	srv := scriptedBoards(t, []board.Task{existing},
		[]board.Task{existing, other},
		[]board.Task{existing, other, mine},
	)
	defer srv.Close()

	c := &client{addr: strings.TrimPrefix(srv.URL, "http://")}
	title := "mine"
	tasks, err := c.submit(context.Background(), mutation.Create{Fields: board.Patch{Title: &title}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(tasks) != 3 || tasks[2].ID != "3" {
		t.Fatalf("returned a board without the new task: %+v", tasks)
	}
}

func TestReflects(t *testing.T) {
	a := board.Task{ID: "a", Title: "A", Priority: board.PriorityMedium, Column: board.ColumnToDo}
	moved := a
	moved.Column = board.ColumnDone
	high := board.PriorityHigh
	bogus := board.Priority("Urgent")

	cases := []struct {
		name   string
		m      mutation.Mutation
		before []board.Task
		after  []board.Task
		want   bool
	}{
		{"move pending", mutation.Move{TaskID: "a", NewColumn: board.ColumnDone}, []board.Task{a}, []board.Task{a}, false},
		{"move shown", mutation.Move{TaskID: "a", NewColumn: board.ColumnDone}, []board.Task{a}, []board.Task{moved}, true},
		{"move invalid column", mutation.Move{TaskID: "a", NewColumn: "Later"}, []board.Task{a}, []board.Task{a}, true},
		{"delete pending", mutation.Delete{TaskID: "a"}, []board.Task{a}, []board.Task{a}, false},
		{"delete shown", mutation.Delete{TaskID: "a"}, []board.Task{a}, []board.Task{}, true},
		{"update pending", mutation.Update{ID: "a", Fields: board.Patch{Priority: &high}}, []board.Task{a}, []board.Task{a}, false},
		{"update dropped enum", mutation.Update{ID: "a", Fields: board.Patch{Priority: &bogus}}, []board.Task{a}, []board.Task{a}, true},
		{"update of removed task", mutation.Update{ID: "a", Fields: board.Patch{Priority: &high}}, []board.Task{a}, []board.Task{}, true},
		{"create pending", mutation.Create{}, []board.Task{a}, []board.Task{a}, false},
		{"reset", mutation.Reset{}, []board.Task{a}, []board.Task{a}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reflects(tc.m, tc.before, tc.after); got != tc.want {
				t.Fatalf("reflects = %v, want %v", got, tc.want)
			}
		})
	}
}
