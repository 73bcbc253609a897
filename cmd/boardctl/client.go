package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
	"github.com/astromechza/kanban-sync/pkg/protocol"
)

type client struct {
	addr string
}

func (c *client) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: c.addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return conn, nil
}

// readSnapshot skips anything that is not a sync:tasks frame.
func readSnapshot(conn *websocket.Conn) ([]board.Task, error) {
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(p)
		if err != nil {
			return nil, err
		}
		if env.Event != protocol.EventSyncTasks {
			slog.Debug("ignoring event", "event", env.Event)
			continue
		}
		var tasks []board.Task
		if err := json.Unmarshal(env.Data, &tasks); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		return tasks, nil
	}
}

func (c *client) watch(ctx context.Context, fn func([]board.Task)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	for {
		tasks, err := readSnapshot(conn)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("stopping watch")
				return nil
			}
			return err
		}
		fn(tasks)
	}
}

// submitWait bounds how long submit looks for a board that shows the mutation.
const submitWait = 5 * time.Second

// submit sends one mutation and returns the first board that reflects it. Boards broadcast for other clients'
// mutations in between are skipped. If none reflects it before submitWait, the latest board seen is returned.
func (c *client) submit(ctx context.Context, m mutation.Mutation) ([]board.Task, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	before, err := readSnapshot(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to receive initial board: %w", err)
	}
	event, payload, err := mutation.Encode(m)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}
	defer func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	_ = conn.SetReadDeadline(time.Now().Add(submitWait))
	var latest []board.Task
	for {
		tasks, err := readSnapshot(conn)
		if err != nil {
			if latest != nil {
				slog.Warn("no board reflected the mutation in time, showing the latest", "kind", m.Kind())
				return latest, nil
			}
			return nil, err
		}
		if reflects(m, before, tasks) {
			return tasks, nil
		}
		slog.Debug("skipping board from another mutation", "tasks", len(tasks))
		latest = tasks
	}
}

// reflects reports whether after could be the board produced by m applied to before. Checks are loose where the
// server may legitimately store something other than what was asked, such as dropped enum values.
func reflects(m mutation.Mutation, before, after []board.Task) bool {
	find := func(tasks []board.Task, id string) (board.Task, bool) {
		for _, t := range tasks {
			if t.ID == id {
				return t, true
			}
		}
		return board.Task{}, false
	}
	switch m := m.(type) {
	case mutation.Create:
		for _, t := range after {
			if _, ok := find(before, t.ID); !ok && patchShown(t, m.Fields) {
				return true
			}
		}
		return false
	case mutation.Update:
		t, ok := find(after, m.ID)
		return !ok || patchShown(t, m.Fields)
	case mutation.Move:
		t, ok := find(after, m.TaskID)
		return !ok || !m.NewColumn.Valid() || t.Column == m.NewColumn
	case mutation.Delete:
		_, ok := find(after, m.TaskID)
		return !ok
	default:
		return true
	}
}

func patchShown(t board.Task, p board.Patch) bool {
	if p.Title != nil && *p.Title != "" && t.Title != *p.Title {
		return false
	}
	if p.Description != nil && t.Description != *p.Description {
		return false
	}
	if p.Priority != nil && p.Priority.Valid() && t.Priority != *p.Priority {
		return false
	}
	if p.Category != nil && p.Category.Valid() && t.Category != *p.Category {
		return false
	}
	if p.Column != nil && p.Column.Valid() && t.Column != *p.Column {
		return false
	}
	return true
}

type printer struct {
	w    io.Writer
	json bool
}

// board prints the tasks grouped by column in board order; unknown columns come last.
func (p printer) board(tasks []board.Task) error {
	if p.json {
		raw, err := json.Marshal(tasks)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(raw))
		return err
	}
	ordered := make([]board.Task, len(tasks))
	copy(ordered, tasks)
	rank := func(c board.Column) int {
		if i := c.Index(); i >= 0 {
			return i
		}
		return len(board.Columns)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Column) < rank(ordered[j].Column)
	})
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tID\tTITLE\tPRIORITY\tCATEGORY\tATTACHMENTS")
	for _, t := range ordered {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", t.Column, t.ID, t.Title, t.Priority, t.Category, len(t.Attachments))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.w, "%d tasks\n", len(tasks))
	return err
}
