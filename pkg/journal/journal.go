package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

// Journal is an append only sqlite log of accepted mutations in acceptance order. Each process run writes under its
// own run id and nothing is ever loaded back into a live board.
type Journal struct {
	database *sql.DB
	runID    string

	mu  sync.Mutex
	seq int64
}

type Entry struct {
	Seq        int64
	Kind       mutation.Kind
	Payload    json.RawMessage
	TaskID     string
	Applied    bool
	CreatedAt  time.Time
	RecordedAt time.Time
}

func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// a single connection keeps ":memory:" journals on one database
	db.SetMaxOpenConns(1)
	j := &Journal{database: db, runID: uuid.NewString()}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("opened mutation journal", "path", path, "run", j.runID)
	return j, nil
}

func (j *Journal) init() error {
	if _, err := j.database.Exec(
		`CREATE TABLE IF NOT EXISTS mutations (
		run_id text not null,
		seq integer not null,
		kind text not null,
		payload text,
		task_id text,
		applied integer not null,
		created_at text,
		recorded_at text not null,
		primary key (run_id, seq)
		)`,
	); err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	return nil
}

func (j *Journal) RunID() string {
	return j.runID
}

func (j *Journal) Close() error {
	return j.database.Close()
}

// Observe records the mutation. The snapshot is consulted only to capture the creation time of new tasks so the log
// can be replayed exactly.
func (j *Journal) Observe(ctx context.Context, m mutation.Mutation, res mutation.Result, snapshot []board.Task) error {
	_, payload, err := mutation.Encode(m)
	if err != nil {
		return err
	}
	var rawPayload []byte
	if payload != nil {
		if rawPayload, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to encode journal payload: %w", err)
		}
	}
	var createdAt sql.NullString
	if res.Kind == mutation.KindCreate && res.Applied {
		for _, t := range snapshot {
			if t.ID == res.TaskID {
				createdAt = sql.NullString{String: t.CreatedAt.Format(time.RFC3339Nano), Valid: true}
				break
			}
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	if _, err := j.database.ExecContext(
		ctx,
		`INSERT INTO mutations (run_id, seq, kind, payload, task_id, applied, created_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, j.seq, string(res.Kind), string(rawPayload), res.TaskID, res.Applied, createdAt, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		j.seq--
		return fmt.Errorf("failed to record mutation: %w", err)
	}
	return nil
}

// Entries returns this run's log in acceptance order.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := j.database.QueryContext(
		ctx,
		`SELECT seq, kind, payload, task_id, applied, created_at, recorded_at FROM mutations WHERE run_id = ? ORDER BY seq`,
		j.runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close journal rows", "err", err)
		}
	}(rows)

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var kind, recordedAt string
		var payload, taskID, createdAt sql.NullString
		if err := rows.Scan(&e.Seq, &kind, &payload, &taskID, &e.Applied, &createdAt, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		e.Kind = mutation.Kind(kind)
		e.TaskID = taskID.String
		if payload.String != "" {
			e.Payload = json.RawMessage(payload.String)
		}
		if createdAt.Valid {
			if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt.String); err != nil {
				return nil, fmt.Errorf("failed to parse created_at of entry %d: %w", e.Seq, err)
			}
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at of entry %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return out, nil
}

// Replay applies the entries to an empty board, reusing the ids and creation times that were issued live.
func Replay(entries []Entry, strictEnums bool) (*board.Store, error) {
	store := board.NewStore()
	p := mutation.NewProcessor(strictEnums)
	for _, e := range entries {
		m, err := mutation.Decode(string(e.Kind), e.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %d: %w", e.Seq, err)
		}
		entry := e
		p.NewID = func() string { return entry.TaskID }
		p.Now = func() time.Time { return entry.CreatedAt }
		if _, err := p.Apply(store, m); err != nil {
			return nil, fmt.Errorf("failed to replay entry %d: %w", e.Seq, err)
		}
	}
	return store, nil
}
