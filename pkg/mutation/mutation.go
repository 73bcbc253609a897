package mutation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/protocol"
)

var (
	ErrUnknownKind = errors.New("unknown mutation kind")
	ErrValidation  = errors.New("invalid mutation payload")
)

type Kind string

const (
	KindCreate Kind = protocol.EventTaskCreate
	KindUpdate Kind = protocol.EventTaskUpdate
	KindMove   Kind = protocol.EventTaskMove
	KindDelete Kind = protocol.EventTaskDelete
	KindReset  Kind = protocol.EventTasksReset
)

// Mutation is one of Create, Update, Move, Delete or Reset.
type Mutation interface {
	Kind() Kind
}

type Create struct {
	Fields board.Patch
}

type Update struct {
	ID     string
	Fields board.Patch
}

type Move struct {
	TaskID    string
	NewColumn board.Column
}

type Delete struct {
	TaskID string
}

type Reset struct{}

func (Create) Kind() Kind { return KindCreate }
func (Update) Kind() Kind { return KindUpdate }
func (Move) Kind() Kind   { return KindMove }
func (Delete) Kind() Kind { return KindDelete }
func (Reset) Kind() Kind  { return KindReset }

// Decode turns a wire event into a mutation. Unknown events fail with ErrUnknownKind. For known events a usable
// mutation is always returned; when the payload could not be read the error wraps ErrValidation and the mutation
// carries no fields, so it degrades to defaults or a no-op when applied.
func Decode(event string, data json.RawMessage) (Mutation, error) {
	switch Kind(event) {
	case KindCreate:
		var p board.Patch
		if err := unmarshalOptional(data, &p); err != nil {
			return Create{}, fmt.Errorf("failed to read %s: %w: %v", event, ErrValidation, err)
		}
		return Create{Fields: p}, nil
	case KindUpdate:
		var payload struct {
			ID string `json:"id"`
			board.Patch
		}
		if err := unmarshalOptional(data, &payload); err != nil {
			return Update{}, fmt.Errorf("failed to read %s: %w: %v", event, ErrValidation, err)
		}
		return Update{ID: payload.ID, Fields: payload.Patch}, nil
	case KindMove:
		var payload struct {
			TaskID    string       `json:"taskId"`
			NewColumn board.Column `json:"newColumn"`
		}
		if err := unmarshalOptional(data, &payload); err != nil {
			return Move{}, fmt.Errorf("failed to read %s: %w: %v", event, ErrValidation, err)
		}
		return Move{TaskID: payload.TaskID, NewColumn: payload.NewColumn}, nil
	case KindDelete:
		id, err := decodeTaskID(data)
		if err != nil {
			return Delete{}, fmt.Errorf("failed to read %s: %w: %v", event, ErrValidation, err)
		}
		return Delete{TaskID: id}, nil
	case KindReset:
		return Reset{}, nil
	default:
		return nil, fmt.Errorf("failed to decode %q: %w", event, ErrUnknownKind)
	}
}

// Encode is the inverse of Decode, used by clients and the journal.
func Encode(m Mutation) (string, any, error) {
	switch v := m.(type) {
	case Create:
		return string(v.Kind()), v.Fields, nil
	case Update:
		return string(v.Kind()), struct {
			ID string `json:"id"`
			board.Patch
		}{v.ID, v.Fields}, nil
	case Move:
		return string(v.Kind()), map[string]any{"taskId": v.TaskID, "newColumn": v.NewColumn}, nil
	case Delete:
		return string(v.Kind()), v.TaskID, nil
	case Reset:
		return string(v.Kind()), nil, nil
	default:
		return "", nil, fmt.Errorf("failed to encode %T: %w", m, ErrUnknownKind)
	}
}

func unmarshalOptional(data json.RawMessage, into any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, into)
}

// decodeTaskID accepts the bare id string sent by board clients, and also an object carrying id or taskId.
func decodeTaskID(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	var obj struct {
		ID     string `json:"id"`
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	if obj.TaskID != "" {
		return obj.TaskID, nil
	}
	return obj.ID, nil
}
