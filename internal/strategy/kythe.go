package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/graph"
	"github.com/dshills/programmodel/internal/indexer"
	"github.com/dshills/programmodel/internal/kythe"
	"github.com/dshills/programmodel/internal/workcopy"
	"github.com/dshills/programmodel/pkg/types"
)

// KytheStrategy indexes a task with the Kythe toolchain and loads the
// resulting graph into the graph database.
type KytheStrategy struct {
	WorkDir string
	Copies  *workcopy.Lifecycle
	Indexer *indexer.Indexer
	Owner   workcopy.OwnershipReconciler
	Tool    *kythe.Tool
	Loader  graph.Loader
	Logger  *zap.Logger

	// NewRunID names the artifacts of one run. Defaults to a random UUID.
	NewRunID func() string
}

// Name implements Strategy
func (s *KytheStrategy) Name() types.StrategyName { return types.StrategyKythe }

func (s *KytheStrategy) validate() error {
	switch {
	case s.WorkDir == "":
		return fmt.Errorf("%w: %v", ErrNotConfigured, workcopy.ErrWorkDirMissing)
	case s.Copies == nil:
		return fmt.Errorf("%w: working copy lifecycle", ErrNotConfigured)
	case s.Indexer == nil:
		return fmt.Errorf("%w: indexer", ErrNotConfigured)
	case s.Tool == nil:
		return fmt.Errorf("%w: kythe tools", ErrNotConfigured)
	case s.Loader == nil:
		return fmt.Errorf("%w: graph loader", ErrNotConfigured)
	}
	return nil
}

func (s *KytheStrategy) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Run implements Strategy
func (s *KytheStrategy) Run(ctx context.Context, req *types.IndexRequest) (res types.StrategyResult) {
	start := time.Now()
	logger := s.logger()
	defer recoverPanic(logger, s.Name(), req, start, &res)
	f := failer{logger: logger, name: s.Name(), req: req, start: start}

	if err := s.validate(); err != nil {
		return f.fail(StageConfig, err)
	}
	if err := req.Validate(); err != nil {
		return f.fail(StageRequest, err)
	}

	logger.Info("Processing task with kythe", taskFields(req)...)

	ws, err := workcopy.NewWorkspace(s.WorkDir, "kythe-")
	if err != nil {
		return f.fail(StageWorkspace, err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			logger.Warn("Failed to remove workspace", zap.String("path", ws.Dir), zap.Error(err))
		}
	}()

	// The graph database reads the GraphML document from this directory
	if err := workcopy.GrantReaderAccess(ws.Dir); err != nil {
		return f.fail(StagePermissions, err, zap.String("path", ws.Dir))
	}

	wc, err := s.Copies.Acquire(ctx, req.TaskDir, ws.Dir)
	if err != nil {
		return f.fail(StageWorkingCopy, err)
	}
	defer func() { _ = wc.Release() }()

	outputDir, err := s.Indexer.IndexTarget(ctx, wc, ws.Dir)
	if err != nil {
		return f.fail(StageIndexTarget, err)
	}

	owner := s.Owner
	if owner == nil {
		owner = workcopy.NoopReconciler{}
	}
	if err := owner.Reconcile(ctx, wc.Dir); err != nil {
		return f.fail(StageOwnership, err, zap.String("path", wc.Dir))
	}

	if outputDir == "" {
		return f.fail(StageIndexTarget, ErrNoIndexerOutput)
	}

	runID := uuid.NewString()
	if s.NewRunID != nil {
		runID = s.NewRunID()
	}
	runLog := logger.With(zap.String("task_id", req.TaskID), zap.String("run_id", runID))

	binFile, err := s.Tool.BinaryIndex(ctx, req.TaskID, runID, outputDir, ws.Dir)
	if err != nil {
		return f.fail(StageBinaryIndex, err, zap.String("run_id", runID))
	}

	graphmlFile := graph.GraphMLPath(ws.Dir, runID)
	stats, err := graph.WriteGraphML(ctx, req.TaskID, binFile, graphmlFile)
	if err != nil {
		return f.fail(StageGraphML, err, zap.String("run_id", runID), zap.String("path", binFile))
	}
	runLog.Debug("Wrote GraphML document",
		zap.String("path", graphmlFile),
		zap.Int("entries", stats.Entries),
		zap.Int("vertices", stats.Vertices),
		zap.Int("edges", stats.Edges))

	if err := s.Loader.Load(ctx, graphmlFile); err != nil {
		return f.fail(StageGraphLoad, err, zap.String("run_id", runID), zap.String("path", graphmlFile))
	}

	runLog.Info("Successfully processed task with kythe",
		zap.String("package", req.PackageName),
		zap.String("task_dir", req.TaskDir),
		zap.Duration("duration", time.Since(start)))
	return types.Succeeded(s.Name(), time.Since(start))
}
