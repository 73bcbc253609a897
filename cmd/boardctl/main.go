package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/astromechza/kanban-sync/pkg/board"
	"github.com/astromechza/kanban-sync/pkg/mirror"
	"github.com/astromechza/kanban-sync/pkg/mutation"
)

var Version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	var addr string
	var asJSON bool
	rootCmd := &cobra.Command{
		Use:          "boardctl",
		Short:        "Watch and edit a shared task board",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:5000", "the address of the board server")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print boards as JSON")

	out := func() printer { return printer{w: os.Stdout, json: asJSON} }
	c := func() *client { return &client{addr: addr} }

	rootCmd.AddCommand(watchCmd(c, out))
	rootCmd.AddCommand(createCmd(c, out))
	rootCmd.AddCommand(updateCmd(c, out))
	rootCmd.AddCommand(moveCmd(c, out))
	rootCmd.AddCommand(deleteCmd(c, out))
	rootCmd.AddCommand(resetCmd(c, out))
	rootCmd.AddCommand(followCmd(out))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func watchCmd(c func() *client, out func() printer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the board every time it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := out()
			return c().watch(cmd.Context(), func(tasks []board.Task) {
				if err := p.board(tasks); err != nil {
					slog.Error("failed to print board", "err", err)
				}
			})
		},
	}
}

func patchFlags(cmd *cobra.Command) {
	cmd.Flags().String("title", "", "task title")
	cmd.Flags().String("description", "", "task description")
	cmd.Flags().String("priority", "", "Low, Medium or High")
	cmd.Flags().String("category", "", "Bug, Feature or Enhancement")
	cmd.Flags().String("column", "", "To Do, In Progress or Done")
}

// patchFromFlags only includes the flags the user actually set, so updates leave other fields alone.
func patchFromFlags(cmd *cobra.Command) board.Patch {
	var p board.Patch
	str := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	p.Title = str("title")
	p.Description = str("description")
	if v := str("priority"); v != nil {
		prio := board.Priority(*v)
		p.Priority = &prio
	}
	if v := str("category"); v != nil {
		cat := board.Category(*v)
		p.Category = &cat
	}
	if v := str("column"); v != nil {
		col := board.Column(*v)
		p.Column = &col
	}
	return p
}

func submitAndPrint(cmd *cobra.Command, c *client, p printer, m mutation.Mutation) error {
	tasks, err := c.submit(cmd.Context(), m)
	if err != nil {
		return err
	}
	return p.board(tasks)
}

func createCmd(c func() *client, out func() printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitAndPrint(cmd, c(), out(), mutation.Create{Fields: patchFromFlags(cmd)})
		},
	}
	patchFlags(cmd)
	return cmd
}

func updateCmd(c func() *client, out func() printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Update fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := patchFromFlags(cmd)
			if p.Empty() {
				return fmt.Errorf("nothing to update: set at least one field flag")
			}
			return submitAndPrint(cmd, c(), out(), mutation.Update{ID: args[0], Fields: p})
		},
	}
	patchFlags(cmd)
	return cmd
}

func moveCmd(c func() *client, out func() printer) *cobra.Command {
	return &cobra.Command{
		Use:   "move [id] [column]",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitAndPrint(cmd, c(), out(), mutation.Move{TaskID: args[0], NewColumn: board.Column(args[1])})
		},
	}
}

func deleteCmd(c func() *client, out func() printer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitAndPrint(cmd, c(), out(), mutation.Delete{TaskID: args[0]})
		},
	}
}

func resetCmd(c func() *client, out func() printer) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove every task from the board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitAndPrint(cmd, c(), out(), mutation.Reset{})
		},
	}
}

func followCmd(out func() printer) *cobra.Command {
	var redisAddr, prefix string
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow board updates from the redis mirror instead of the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rc := redis.NewClient(&redis.Options{Addr: redisAddr})
			defer rc.Close()
			m := mirror.New(rc, prefix)
			p := out()
			latest, err := m.Latest(ctx)
			if err != nil {
				return err
			}
			if err := p.board(latest); err != nil {
				return err
			}
			m.Follow(ctx, func(u mirror.Update) {
				if p.json {
					raw, _ := json.Marshal(u)
					fmt.Fprintln(p.w, string(raw))
					return
				}
				fmt.Fprintf(p.w, "# %s\n", u.Kind)
				if err := p.board(u.Tasks); err != nil {
					slog.Error("failed to print board", "err", err)
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis", "127.0.0.1:6379", "redis address")
	cmd.Flags().StringVar(&prefix, "prefix", mirror.DefaultPrefix, "key prefix used by the server")
	return cmd
}
