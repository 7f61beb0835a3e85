package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/archive"
	"github.com/dshills/programmodel/internal/codequery"
	"github.com/dshills/programmodel/internal/config"
	"github.com/dshills/programmodel/internal/execx"
	"github.com/dshills/programmodel/internal/graph"
	"github.com/dshills/programmodel/internal/indexer"
	"github.com/dshills/programmodel/internal/kythe"
	"github.com/dshills/programmodel/internal/orchestrator"
	"github.com/dshills/programmodel/internal/queue"
	"github.com/dshills/programmodel/internal/registry"
	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/internal/strategy"
	"github.com/dshills/programmodel/internal/workcopy"
	"github.com/dshills/programmodel/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume index requests until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			return fmt.Errorf("failed to create work dir: %w", err)
		}

		store, err := storage.NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		w, err := buildWorker(cfg, store, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("Index worker starting",
			zap.String("version", version),
			zap.String("db_path", cfg.DBPath),
			zap.String("work_dir", cfg.WorkDir),
			zap.Bool("graphdb_enabled", cfg.GraphDBEnabled))

		err = w.Serve(ctx)
		if ctx.Err() != nil {
			logger.Info("Index worker stopped")
			return nil
		}
		return err
	},
}

// buildWorker wires the strategies, queues and registry described by cfg.
// Missing tool directories leave the matching component unset; the strategy
// then fails each task with a configuration error instead of stopping the
// service.
func buildWorker(cfg *config.Config, store storage.Storage, logger *zap.Logger) (*worker.Worker, error) {
	runner := execx.NewExecRunner(logger)
	copies := workcopy.New(runner, logger)
	queues := queue.NewFactory(store, queue.WithClaimTimeout(cfg.ClaimTimeout))

	var archiver archive.Archiver = archive.NoopArchiver{}
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3Archiver(cfg.Archive.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		archiver = s3
	}

	cq := &strategy.CodeQueryStrategy{
		WorkDir:  cfg.WorkDir,
		Copies:   copies,
		Builder:  codequery.NewBuilder(runner, logger),
		Archiver: archiver,
		Logger:   logger,
	}

	ks := &strategy.KytheStrategy{
		WorkDir: cfg.WorkDir,
		Copies:  copies,
		Loader:  graph.NewGremlinLoader(cfg.GraphDBURL),
		Logger:  logger,
	}
	if cfg.ReconcileOwnership {
		ks.Owner = workcopy.NewSudoChown(runner)
	} else {
		ks.Owner = workcopy.NoopReconciler{}
	}
	idx, err := indexer.New(indexer.Conf{
		ScriptDir:    cfg.ScriptDir,
		Python:       cfg.Python,
		AllowPull:    cfg.AllowPull,
		BaseImageURL: cfg.BaseImageURL,
	}, runner, logger)
	if err != nil {
		logger.Warn("Indexer not configured, kythe strategy will fail", zap.Error(err))
	} else {
		ks.Indexer = idx
	}
	tool, err := kythe.NewTool(kythe.Conf{Dir: cfg.KytheDir}, runner, logger)
	if err != nil {
		logger.Warn("Kythe tools not configured, kythe strategy will fail", zap.Error(err))
	} else {
		ks.Tool = tool
	}

	return &worker.Worker{
		Tasks:    queues.IndexRequests(),
		Outputs:  queues.IndexOutputs(),
		Registry: registry.New(store, logger),
		Orchestrator: &orchestrator.Orchestrator{
			CodeQuery:      cq,
			Kythe:          ks,
			GraphDBEnabled: cfg.GraphDBEnabled,
			Logger:         logger,
		},
		SleepTime: cfg.SleepTime,
		Logger:    logger,
	}, nil
}
