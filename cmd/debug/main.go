package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/astromechza/kanban-sync/pkg/history"
	"github.com/astromechza/kanban-sync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	svgVar := flag.String("svg", "", "also render the change graph to this svg file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the history dump to read")
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	buff, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	h, err := history.Load(buff)
	if err != nil {
		return err
	}
	buff = nil
	slog.Info("loaded history", "revision", h.Revision())

	revisions, err := h.Revisions()
	if err != nil {
		return err
	}
	for i, r := range revisions {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", r.Hash, "actor", r.Actor, "seq", r.Seq, "revision", r.Revision, "mutation", r.Mutation, "tasks", r.TaskCount)
	}

	if *svgVar != "" {
		doc, err := h.Fork()
		if err != nil {
			return fmt.Errorf("failed to fork history: %w", err)
		}
		if err := viz.RenderHistoryToSvg(doc, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "path", "file://"+*svgVar)
	}
	return nil
}
