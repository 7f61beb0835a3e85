package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/mcp"
	"github.com/dshills/programmodel/internal/queue"
	"github.com/dshills/programmodel/internal/registry"
	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

var (
	enqueueReq      types.IndexRequest
	enqueueDeadline time.Duration
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Push an index request onto the inbound queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := enqueueReq.Validate(); err != nil {
			return err
		}
		return withStore(func(ctx context.Context, store storage.Storage) error {
			if enqueueDeadline > 0 {
				deadline := time.Now().Add(enqueueDeadline)
				if err := registry.New(store, logger).Register(ctx, enqueueReq.TaskID, deadline); err != nil {
					return err
				}
			}
			tasks := queue.NewFactory(store).IndexRequests()
			id, err := tasks.Push(ctx, enqueueReq)
			if err != nil {
				return err
			}
			logger.Info("Enqueued index request",
				zap.String("task_id", enqueueReq.TaskID),
				zap.String("package", enqueueReq.PackageName),
				zap.Int64("item_id", id))
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel TASK_ID",
	Short: "Mark a task as cancelled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage) error {
			return registry.New(store, logger).Cancel(ctx, args[0])
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print inbound and output queue statistics as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage) error {
			queues := queue.NewFactory(store)
			in, err := queues.IndexRequests().Stats(ctx)
			if err != nil {
				return err
			}
			out, err := queues.IndexOutputs().Stats(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]*storage.QueueStats{
				"index_requests": in,
				"index_outputs":  out,
			})
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the admin tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, store storage.Storage) error {
			server, err := mcp.NewServer(store, logger)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Serve(ctx)
		})
	},
}

func init() {
	f := enqueueCmd.Flags()
	f.StringVar(&enqueueReq.TaskID, "task-id", "", "task identifier")
	f.StringVar(&enqueueReq.PackageName, "package", "", "package name")
	f.StringVar(&enqueueReq.BuildType, "build-type", "", "build type")
	f.StringVar(&enqueueReq.Sanitizer, "sanitizer", "", "sanitizer")
	f.StringVar(&enqueueReq.TaskDir, "task-dir", "", "task directory holding the source and tooling trees")
	f.BoolVar(&enqueueReq.HasDiff, "diff", false, "the task directory carries a diff to apply")
	f.DurationVar(&enqueueDeadline, "deadline", 0, "register a deadline this far in the future")
	_ = enqueueCmd.MarkFlagRequired("task-id")
	_ = enqueueCmd.MarkFlagRequired("task-dir")
}

// withStore opens the configured database for the duration of fn
func withStore(fn func(ctx context.Context, store storage.Storage) error) error {
	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, store)
}
