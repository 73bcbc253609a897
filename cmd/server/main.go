package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/astromechza/kanban-sync/pkg/config"
	"github.com/astromechza/kanban-sync/pkg/history"
	"github.com/astromechza/kanban-sync/pkg/hub"
	"github.com/astromechza/kanban-sync/pkg/journal"
	"github.com/astromechza/kanban-sync/pkg/mirror"
	"github.com/astromechza/kanban-sync/pkg/mutation"
	"github.com/astromechza/kanban-sync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	configVar := flag.String("config", "", "optional yaml config file")
	addrVar := flag.String("addr", "", "the address to listen on, overrides the config")
	journalVar := flag.String("journal", "", "sqlite file to journal mutations into, overrides the config")
	redisVar := flag.String("redis", "", "redis address to mirror snapshots to, overrides the config")
	historyVar := flag.Bool("history", false, "keep a revision history and dump it on shutdown")
	printConfigVar := flag.Bool("print-config", false, "print the effective config as yaml and exit")
	flag.Parse()

	cfg, err := config.Load(*configVar)
	if err != nil {
		return err
	}
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}
	if *journalVar != "" {
		cfg.Journal.Path = *journalVar
	}
	if *redisVar != "" {
		cfg.Redis.Addr = *redisVar
	}
	if *historyVar {
		cfg.History.Enabled = true
	}
	if *printConfigVar {
		raw, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(raw)
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := []hub.Option{hub.WithProcessor(mutation.NewProcessor(cfg.StrictEnums))}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, hub.WithObserver(j))
	}

	var hist *history.History
	if cfg.History.Enabled {
		hist = history.New()
		opts = append(opts, hub.WithObserver(hist))
	}

	if cfg.Redis.Addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rc.Close()
		if err := rc.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		m := mirror.New(rc, cfg.Redis.Prefix)
		slog.Info("mirroring snapshots to redis", "addr", cfg.Redis.Addr, "key", m.SnapshotKey(), "channel", m.Channel())
		opts = append(opts, hub.WithObserver(m))
	}

	service := hub.NewService(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &server{service: service}
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	wsHandler := hub.NewHandler(ctx, service, hub.HandlerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
	})
	r.Methods(http.MethodGet).Path("/ws").Handler(wsHandler)
	r.Methods(http.MethodGet).Path("/tasks").HandlerFunc(s.getTasks)
	r.Methods(http.MethodDelete).Path("/tasks").HandlerFunc(s.resetTasks)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.health)

	wg := new(sync.WaitGroup)

	httpServer := &http.Server{Addr: cfg.Addr, Handler: r}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
			cancel()
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	// sessions are hijacked connections that httpServer.Close does not track; drain them before the observers close
	wsHandler.Wait()
	slog.Info("sessions drained")

	if hist != nil {
		dumpHistory(hist, cfg.History)
	}
	return nil
}

func dumpHistory(hist *history.History, cfg config.HistoryConfig) {
	dir := cfg.DumpDir
	if dir == "" {
		dir = os.TempDir()
	}
	if path, err := hist.Dump(dir); err != nil {
		slog.Error("failed to dump history", "err", err)
	} else {
		slog.Info("dumped history", "path", path, "revisions", hist.Revision())
	}
	if !cfg.RenderSVG {
		return
	}
	doc, err := hist.Fork()
	if err != nil {
		slog.Error("failed to fork history", "err", err)
		return
	}
	if svgPath, err := viz.RenderToTemp(doc); err != nil {
		slog.Error("failed to render history", "err", err)
	} else {
		slog.Info("rendered", "path", "file://"+svgPath)
	}
}

type server struct {
	service *hub.Service
}

func (s *server) getTasks(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(s.service.Snapshot()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

// resetTasks is the administrative equivalent of a tasks:reset event; connected sessions receive the empty board.
func (s *server) resetTasks(writer http.ResponseWriter, request *http.Request) {
	if _, err := s.service.Submit(request.Context(), nil, mutation.Reset{}); err != nil {
		slog.Error("failed to reset", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *server) health(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(map[string]interface{}{
		"sessions": s.service.SessionCount(),
		"tasks":    len(s.service.Snapshot()),
	}); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
