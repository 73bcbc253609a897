package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
	"github.com/astromechza/kanban-sync/pkg/protocol"
	"github.com/astromechza/kanban-sync/pkg/session"
)

// Observer is told about every accepted mutation after it is applied and before the snapshot is broadcast. Errors
// are logged; they never undo the mutation or hold back the broadcast.
type Observer interface {
	Observe(ctx context.Context, m mutation.Mutation, res mutation.Result, snapshot []board.Task) error
}

// Service owns one board and the sessions following it. All mutations pass through Submit and are applied one at a
// time in the order they are accepted; each is broadcast to every session before the next is applied.
type Service struct {
	mu        sync.Mutex
	store     *board.Store
	processor *mutation.Processor
	observers []Observer

	registry *session.Registry
	fanout   *session.Fanout
}

type Option func(*Service)

func WithProcessor(p *mutation.Processor) Option {
	return func(s *Service) { s.processor = p }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

func NewService(opts ...Option) *Service {
	registry := session.NewRegistry()
	s := &Service{
		store:     board.NewStore(),
		processor: mutation.NewProcessor(true),
		registry:  registry,
		fanout:    session.NewFanout(registry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join registers the connection and sends it, and only it, the current board.
func (s *Service) Join(ctx context.Context, conn session.Conn) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.registry.Register(conn)
	if err := s.fanout.SendTo(ctx, sess, s.store.Snapshot()); err != nil {
		return sess, fmt.Errorf("failed to send initial snapshot: %w", err)
	}
	return sess, nil
}

// Leave drops the session. Nothing is broadcast.
func (s *Service) Leave(sess *session.Session) {
	s.registry.Unregister(sess)
}

// Submit applies one mutation and broadcasts the resulting board to every session, the sender included. from may be
// nil for mutations that do not originate from a session.
func (s *Service) Submit(ctx context.Context, from *session.Session, m mutation.Mutation) (mutation.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.processor.Apply(s.store, m)
	if err != nil {
		return res, fmt.Errorf("failed to apply %s: %w", m.Kind(), err)
	}
	snapshot := s.store.Snapshot()
	for _, o := range s.observers {
		if err := o.Observe(ctx, m, res, snapshot); err != nil {
			slog.Error("mutation observer failed", "kind", m.Kind(), "observer", fmt.Sprintf("%T", o), "err", err)
		}
	}
	delivered, err := s.fanout.Broadcast(ctx, snapshot)
	if err != nil {
		return res, fmt.Errorf("failed to broadcast: %w", err)
	}
	slog.Debug("applied mutation", "kind", res.Kind, "task", res.TaskID, "applied", res.Applied, "from", sessionID(from), "delivered", delivered, "tasks", len(snapshot))
	return res, nil
}

// Dispatch decodes one inbound frame and submits it. Unknown events and unreadable frames are dropped without a
// broadcast. Known events with unreadable payloads degrade to defaults or a no-op and are still broadcast.
func (s *Service) Dispatch(ctx context.Context, from *session.Session, frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		slog.Warn("dropping unreadable frame", "session", sessionID(from), "err", err)
		return err
	}
	m, err := mutation.Decode(env.Event, env.Data)
	if err != nil {
		if errors.Is(err, mutation.ErrUnknownKind) {
			slog.Warn("ignoring unknown event", "session", sessionID(from), "event", env.Event)
			return err
		}
		slog.Warn("degraded mutation payload", "session", sessionID(from), "event", env.Event, "err", err)
	}
	if _, err := s.Submit(ctx, from, m); err != nil {
		slog.Error("failed to submit mutation", "session", sessionID(from), "event", env.Event, "err", err)
		return err
	}
	return nil
}

func (s *Service) Snapshot() []board.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

func (s *Service) SessionCount() int {
	return s.registry.Count()
}

func sessionID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
