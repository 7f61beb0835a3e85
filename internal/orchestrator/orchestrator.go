// Package orchestrator runs the indexing strategies for one request and
// combines their results.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/strategy"
	"github.com/dshills/programmodel/pkg/types"
)

// Orchestrator runs codequery first and kythe only when graph indexing is
// enabled. The task succeeds when any strategy that ran succeeded.
type Orchestrator struct {
	CodeQuery      strategy.Strategy
	Kythe          strategy.Strategy
	GraphDBEnabled bool
	Logger         *zap.Logger
}

// Process runs the strategies sequentially and returns the combined outcome
func (o *Orchestrator) Process(ctx context.Context, req *types.IndexRequest) types.TaskOutcome {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	logger.Info("Processing task",
		zap.String("task_id", req.TaskID),
		zap.String("package", req.PackageName),
		zap.String("task_dir", req.TaskDir))

	var results []types.StrategyResult
	if o.CodeQuery != nil {
		results = append(results, o.CodeQuery.Run(ctx, req))
	}
	if o.GraphDBEnabled && o.Kythe != nil {
		results = append(results, o.Kythe.Run(ctx, req))
	}

	outcome := types.NewTaskOutcome(req.TaskID, results...)
	fields := []zap.Field{
		zap.String("task_id", req.TaskID),
		zap.Bool("success", outcome.Success),
		zap.Duration("duration", time.Since(start)),
	}
	for _, r := range outcome.Results {
		fields = append(fields, zap.Bool(string(r.Strategy), r.Success))
	}
	logger.Info("Finished task", fields...)
	return outcome
}
