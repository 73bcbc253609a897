package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var ErrTransport = errors.New("session transport failure")

// Conn is the transport side of a session. Send and Close are called while mutations are serialized and must not wait
// on the peer.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

type Session struct {
	ID       string
	JoinedAt time.Time

	seq   uint64
	conn  Conn
	alive atomic.Bool
}

func (s *Session) Alive() bool {
	return s.alive.Load()
}

func (s *Session) Send(ctx context.Context, frame []byte) error {
	if !s.Alive() {
		return fmt.Errorf("%w: session %s is disconnected", ErrTransport, s.ID)
	}
	if err := s.conn.Send(ctx, frame); err != nil {
		return fmt.Errorf("%w: session %s: %v", ErrTransport, s.ID, err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.conn.Close()
}

type Registry struct {
	mu       sync.RWMutex
	nextSeq  uint64
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Register(conn Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	s := &Session{ID: uuid.NewString(), JoinedAt: time.Now(), seq: r.nextSeq, conn: conn}
	s.alive.Store(true)
	r.sessions[s.ID] = s
	return s
}

// Unregister marks the session dead and drops it. It reports whether the session was still registered.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.alive.Store(false)
	if _, ok := r.sessions[s.ID]; !ok {
		return false
	}
	delete(r.sessions, s.ID)
	return true
}

// ForEach calls fn for every live session in registration order. fn runs outside the registry lock, so sessions may
// register or unregister while iteration is in progress.
func (r *Registry) ForEach(fn func(*Session)) {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(live, func(a, b *Session) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	for _, s := range live {
		if s.Alive() {
			fn(s)
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
