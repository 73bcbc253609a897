package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		rc.Close()
		m.Close()
	})
	return rc
}

func TestLatestBeforeAnyMutation(t *testing.T) {
	mr := New(setupRedis(t), "")
	tasks, err := mr.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty board, got %#v", tasks)
	}
}

func TestObserveCachesAndPublishes(t *testing.T) {
	rc := setupRedis(t)
	mr := New(rc, "test:")

	var mu sync.Mutex
	var got []Update
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mr.Follow(ctx, func(u Update) {
			mu.Lock()
			got = append(got, u)
			mu.Unlock()
		})
		close(done)
	}()
	// wait for subscription to start
	time.Sleep(50 * time.Millisecond)

	snap := []board.Task{{ID: "t1", Title: "task1", Column: board.ColumnToDo, Attachments: []board.Attachment{}}}
	if err := mr.Observe(context.Background(), mutation.Create{}, mutation.Result{Kind: mutation.KindCreate}, snap); err != nil {
		t.Fatalf("observe: %v", err)
	}

	latest, err := mr.Latest(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 || latest[0].ID != "t1" || latest[0].Title != "task1" {
		t.Fatalf("unexpected cached snapshot %+v", latest)
	}
	if ttl := rc.TTL(context.Background(), "test:snapshot").Val(); ttl > 0 {
		t.Fatalf("expected no expiry, got %v", ttl)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	if len(got) != 1 || got[0].Kind != string(mutation.KindCreate) || len(got[0].Tasks) != 1 {
		t.Fatalf("unexpected updates %+v", got)
	}
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not exit")
	}
}
