package strategy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/archive"
	"github.com/dshills/programmodel/internal/codequery"
	"github.com/dshills/programmodel/internal/workcopy"
	"github.com/dshills/programmodel/pkg/types"
)

// CodeQueryStrategy builds a CodeQuery database for a task and archives it
type CodeQueryStrategy struct {
	WorkDir  string
	Copies   *workcopy.Lifecycle
	Builder  *codequery.Builder
	Archiver archive.Archiver
	Logger   *zap.Logger
}

// Name implements Strategy
func (s *CodeQueryStrategy) Name() types.StrategyName { return types.StrategyCodeQuery }

func (s *CodeQueryStrategy) validate() error {
	switch {
	case s.WorkDir == "":
		return fmt.Errorf("%w: %v", ErrNotConfigured, workcopy.ErrWorkDirMissing)
	case s.Copies == nil:
		return fmt.Errorf("%w: working copy lifecycle", ErrNotConfigured)
	case s.Builder == nil:
		return fmt.Errorf("%w: codequery builder", ErrNotConfigured)
	}
	return nil
}

// Run implements Strategy
func (s *CodeQueryStrategy) Run(ctx context.Context, req *types.IndexRequest) (res types.StrategyResult) {
	start := time.Now()
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defer recoverPanic(logger, s.Name(), req, start, &res)
	f := failer{logger: logger, name: s.Name(), req: req, start: start}

	if err := s.validate(); err != nil {
		return f.fail(StageConfig, err)
	}
	if err := req.Validate(); err != nil {
		return f.fail(StageRequest, err)
	}
	indexDir, err := codequery.IndexDir(s.WorkDir, req.TaskID)
	if err != nil {
		return f.fail(StageRequest, err)
	}

	logger.Info("Processing task with codequery", taskFields(req)...)

	wc, err := s.Copies.Acquire(ctx, req.TaskDir, s.WorkDir)
	if err != nil {
		return f.fail(StageWorkingCopy, err)
	}
	defer func() { _ = wc.Release() }()

	if _, err := s.Builder.Build(ctx, wc); err != nil {
		return f.fail(StageBuild, err)
	}

	if err := codequery.Persist(wc, indexDir); err != nil {
		return f.fail(StagePersist, err, zap.String("path", indexDir))
	}

	archiver := s.Archiver
	if archiver == nil {
		archiver = archive.NoopArchiver{}
	}
	if err := archiver.Archive(ctx, indexDir); err != nil {
		return f.fail(StageArchive, err, zap.String("path", indexDir))
	}

	logger.Info("Successfully processed task with codequery",
		append(taskFields(req), zap.String("path", indexDir), zap.Duration("duration", time.Since(start)))...)
	return types.Succeeded(s.Name(), time.Since(start))
}
