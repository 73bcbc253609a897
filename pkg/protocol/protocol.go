package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	EventSyncTasks  = "sync:tasks"
	EventTaskCreate = "task:create"
	EventTaskUpdate = "task:update"
	EventTaskMove   = "task:move"
	EventTaskDelete = "task:delete"
	EventTasksReset = "tasks:reset"
)

// Envelope is one websocket text frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", event, err)
	}
	return out, nil
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("failed to decode envelope: missing event name")
	}
	return env, nil
}
