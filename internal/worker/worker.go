// Package worker consumes index requests from the durable queue, runs the
// orchestrator for each one and publishes completion records.
//
// Every popped item ends in one of these states:
//
//   - empty: nothing to do, the loop sleeps
//   - discarded: the task was cancelled or is past its deadline, or the
//     payload is unreadable; the item is acknowledged without indexing
//   - succeeded: an IndexOutput is published, then the item is acknowledged
//   - failed: the item is left unacknowledged and is redelivered once its
//     claim times out
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/queue"
	"github.com/dshills/programmodel/pkg/types"
)

// DefaultSleepTime is the pause after polling an empty queue
const DefaultSleepTime = time.Second

var (
	// ErrQueueNotInitialized means the worker was built without its queues
	ErrQueueNotInitialized = errors.New("queue is not initialized")
	// ErrAlreadyServing is returned when Serve is called while a loop is running
	ErrAlreadyServing = errors.New("worker is already serving")
)

// Processor runs the indexing strategies for one request
type Processor interface {
	Process(ctx context.Context, req *types.IndexRequest) types.TaskOutcome
}

// CancellationChecker reports whether a task should no longer be processed
type CancellationChecker interface {
	ShouldStopProcessing(ctx context.Context, taskID string) bool
}

// Worker is a single sequential queue consumer
type Worker struct {
	Tasks        *queue.Queue[types.IndexRequest]
	Outputs      *queue.Queue[types.IndexOutput]
	Registry     CancellationChecker // optional
	Orchestrator Processor
	SleepTime    time.Duration
	Logger       *zap.Logger

	lock serveLock
}

func (w *Worker) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *Worker) checkQueues() error {
	if w.Tasks == nil || w.Outputs == nil || w.Orchestrator == nil {
		return ErrQueueNotInitialized
	}
	return nil
}

// ServeItem handles at most one queue item. It reports whether an item was
// consumed. Processing failures are logged, never returned.
func (w *Worker) ServeItem(ctx context.Context) (bool, error) {
	if err := w.checkQueues(); err != nil {
		return false, err
	}
	logger := w.logger()

	item, err := w.Tasks.Pop(ctx)
	if err != nil {
		logger.Error("Failed to pop index request", zap.String("queue", w.Tasks.Name()), zap.Error(err))
		return false, nil
	}
	if item == nil {
		return false, nil
	}
	itemLog := logger.With(zap.String("queue", w.Tasks.Name()), zap.Int64("item_id", item.ID))

	if item.DecodeErr != nil {
		itemLog.Error("Dropping unreadable index request", zap.Error(item.DecodeErr))
		w.ack(ctx, itemLog, item.ID)
		return true, nil
	}

	req := item.Value
	if err := req.Validate(); err != nil {
		itemLog.Error("Dropping invalid index request", zap.String("task_id", req.TaskID), zap.Error(err))
		w.ack(ctx, itemLog, item.ID)
		return true, nil
	}
	itemLog = itemLog.With(zap.String("task_id", req.TaskID))

	if w.Registry != nil && w.Registry.ShouldStopProcessing(ctx, req.TaskID) {
		itemLog.Debug("Task is cancelled or expired, skipping")
		w.ack(ctx, itemLog, item.ID)
		return true, nil
	}

	outcome := w.Orchestrator.Process(ctx, &req)
	if !outcome.Success {
		itemLog.Error("Failed to process task",
			zap.Int("deliveries", item.Deliveries),
			zap.Strings("strategies", strategyNames(outcome.Ran())))
		return true, nil
	}

	if _, err := w.Outputs.Push(ctx, types.NewIndexOutput(req)); err != nil {
		// Not acknowledged: the request is redelivered and the output retried
		itemLog.Error("Failed to publish index output", zap.String("queue", w.Outputs.Name()), zap.Error(err))
		return true, nil
	}
	w.ack(ctx, itemLog, item.ID)

	itemLog.Info("Successfully processed task",
		zap.String("package", req.PackageName),
		zap.String("task_dir", req.TaskDir),
		zap.Strings("strategies", strategyNames(outcome.Succeeded())))
	return true, nil
}

func (w *Worker) ack(ctx context.Context, logger *zap.Logger, id int64) {
	if err := w.Tasks.Ack(ctx, id); err != nil {
		logger.Error("Failed to acknowledge index request", zap.Error(err))
	}
}

// Serve runs the consumer loop until ctx is cancelled
func (w *Worker) Serve(ctx context.Context) error {
	if err := w.checkQueues(); err != nil {
		return err
	}
	if !w.lock.TryAcquire() {
		return ErrAlreadyServing
	}
	defer w.lock.Release()

	sleep := w.SleepTime
	if sleep <= 0 {
		sleep = DefaultSleepTime
	}

	w.logger().Debug("Starting indexing service",
		zap.String("queue", w.Tasks.Name()),
		zap.Duration("sleep", sleep))
	return ServeLoop(ctx, w.ServeItem, sleep)
}

// ServeLoop calls fn until ctx is done, sleeping whenever fn reports that it
// found no work. An error from fn stops the loop. Cancellation is not an
// error.
func ServeLoop(ctx context.Context, fn func(context.Context) (bool, error), sleep time.Duration) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		didWork, err := fn(ctx)
		if err != nil {
			return err
		}
		if didWork {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func strategyNames(names []types.StrategyName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
