package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/protocol"
)

// Fanout delivers sync:tasks snapshots. Broadcast goes to every registered session, the originator of a mutation
// included; there is no sender exclusion.
type Fanout struct {
	registry *Registry
}

func NewFanout(registry *Registry) *Fanout {
	return &Fanout{registry: registry}
}

// Broadcast sends the snapshot to all sessions and returns how many accepted it. A failing session is dropped and
// does not affect delivery to the others.
func (f *Fanout) Broadcast(ctx context.Context, snapshot []board.Task) (int, error) {
	frame, err := encodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}
	delivered := 0
	f.registry.ForEach(func(s *Session) {
		if f.deliver(ctx, s, frame) == nil {
			delivered++
		}
	})
	return delivered, nil
}

func (f *Fanout) SendTo(ctx context.Context, s *Session, snapshot []board.Task) error {
	frame, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return f.deliver(ctx, s, frame)
}

func (f *Fanout) deliver(ctx context.Context, s *Session, frame []byte) error {
	if err := s.Send(ctx, frame); err != nil {
		slog.Warn("dropping session after failed delivery", "session", s.ID, "err", err)
		if f.registry.Unregister(s) {
			if cerr := s.Close(); cerr != nil {
				slog.Debug("failed to close session", "session", s.ID, "err", cerr)
			}
		}
		return err
	}
	return nil
}

func encodeSnapshot(snapshot []board.Task) ([]byte, error) {
	if snapshot == nil {
		snapshot = []board.Task{}
	}
	frame, err := protocol.Encode(protocol.EventSyncTasks, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return frame, nil
}
