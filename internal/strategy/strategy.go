// Package strategy implements the indexing strategies run for every
// IndexRequest. A strategy never returns an error or panics past its
// boundary: every failure becomes a failed types.StrategyResult that names
// the stage that broke.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/pkg/types"
)

// Stage names reported in failed results and logs
const (
	StageConfig      = "config"
	StageRequest     = "request"
	StageWorkspace   = "workspace"
	StagePermissions = "permissions"
	StageWorkingCopy = "working_copy"
	StageIndexTarget = "index_target"
	StageOwnership   = "ownership"
	StageBinaryIndex = "binary_index"
	StageGraphML     = "graphml"
	StageGraphLoad   = "graph_load"
	StageBuild       = "build"
	StagePersist     = "persist"
	StageArchive     = "archive"
	StagePanic       = "panic"
)

var (
	ErrNotConfigured   = errors.New("strategy is missing a required collaborator")
	ErrNoIndexerOutput = errors.New("indexer produced no output")
)

// Strategy is one self-contained indexing approach
type Strategy interface {
	Name() types.StrategyName
	Run(ctx context.Context, req *types.IndexRequest) types.StrategyResult
}

// taskFields are the log fields identifying a request
func taskFields(req *types.IndexRequest) []zap.Field {
	return []zap.Field{
		zap.String("task_id", req.TaskID),
		zap.String("package", req.PackageName),
		zap.String("task_dir", req.TaskDir),
	}
}

// recoverPanic converts a panic inside Run into a failed result. It must be
// deferred directly by Run.
func recoverPanic(logger *zap.Logger, name types.StrategyName, req *types.IndexRequest, start time.Time, res *types.StrategyResult) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("panic: %v", r)
	logger.Error("Strategy panicked",
		append(taskFields(req), zap.String("strategy", string(name)), zap.Error(err), zap.Stack("stack"))...)
	*res = types.Failed(name, StagePanic, err, time.Since(start))
}

// failer logs a stage failure and builds the matching result
type failer struct {
	logger *zap.Logger
	name   types.StrategyName
	req    *types.IndexRequest
	start  time.Time
}

func (f failer) fail(stage string, err error, fields ...zap.Field) types.StrategyResult {
	all := append(taskFields(f.req),
		zap.String("strategy", string(f.name)),
		zap.String("stage", stage),
		zap.Error(err))
	f.logger.Error("Failed to process task", append(all, fields...)...)
	return types.Failed(f.name, stage, err, time.Since(f.start))
}
