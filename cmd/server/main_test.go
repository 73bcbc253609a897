package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/hub"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

func TestGetAndResetTasks(t *testing.T) {
	service := hub.NewService()
	if _, err := service.Submit(context.Background(), nil, mutation.Create{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	s := &server{service: service}

	rec := httptest.NewRecorder()
	s.getTasks(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	var tasks []board.Task
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != board.DefaultTitle {
		t.Fatalf("unexpected tasks %+v", tasks)
	}

	rec = httptest.NewRecorder()
	s.resetTasks(rec, httptest.NewRequest(http.MethodDelete, "/tasks", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health struct {
		Sessions int `json:"sessions"`
		Tasks    int `json:"tasks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Tasks != 0 || health.Sessions != 0 {
		t.Fatalf("unexpected health %+v", health)
	}
}
