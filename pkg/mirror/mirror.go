package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

const DefaultPrefix = "kanban:"

// Update is the message published for every accepted mutation.
type Update struct {
	Kind  string       `json:"kind"`
	Tasks []board.Task `json:"tasks"`
}

// Mirror copies every broadcast snapshot into Redis: the latest board under a key, and each update on a channel.
type Mirror struct {
	rc      *redis.Client
	prefix  string
	timeout time.Duration
}

func New(rc *redis.Client, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Mirror{rc: rc, prefix: prefix, timeout: 2 * time.Second}
}

func (m *Mirror) SnapshotKey() string { return m.prefix + "snapshot" }
func (m *Mirror) Channel() string     { return m.prefix + "updates" }

func (m *Mirror) Observe(ctx context.Context, mut mutation.Mutation, _ mutation.Result, snapshot []board.Task) error {
	if snapshot == nil {
		snapshot = []board.Task{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	update, err := json.Marshal(Update{Kind: string(mut.Kind()), Tasks: snapshot})
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.rc.Set(ctx, m.SnapshotKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if err := m.rc.Publish(ctx, m.Channel(), update).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Latest returns the last mirrored board, or an empty board when nothing has been mirrored yet.
func (m *Mirror) Latest(ctx context.Context) ([]board.Task, error) {
	raw, err := m.rc.Get(ctx, m.SnapshotKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []board.Task{}, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var tasks []board.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return tasks, nil
}

// Follow delivers mirrored updates to fn until ctx is done, resubscribing if the channel closes.
func (m *Mirror) Follow(ctx context.Context, fn func(Update)) {
	for {
		sub := m.rc.Subscribe(ctx, m.Channel())
		ch := sub.Channel()
	inner:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break inner
				}
				var u Update
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					slog.Error("unable to parse mirrored update", "err", err)
					continue
				}
				fn(u)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		slog.Error("mirror channel closed, resubscribing")
		time.Sleep(time.Second)
	}
}
