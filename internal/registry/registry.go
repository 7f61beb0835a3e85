// Package registry answers whether a task should still be processed.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/storage"
)

// DefaultCacheSize is the number of cancelled task ids kept in memory
const DefaultCacheSize = 4096

// Registry wraps the task table of the storage layer.
// Cancelled ids are memoized because cancellation never reverts; deadlines
// are always read fresh.
type Registry struct {
	store     storage.Storage
	cancelled *lru.Cache[string, struct{}]
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Registry
func New(store storage.Storage, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := lru.New[string, struct{}](DefaultCacheSize)
	if err != nil {
		// Only returned for a non-positive size
		panic(err)
	}
	return &Registry{
		store:     store,
		cancelled: cache,
		logger:    logger,
		now:       time.Now,
	}
}

// ShouldStopProcessing reports whether taskID was cancelled or is past its
// deadline. Unknown tasks and lookup failures keep the task running: dropping
// a task on a registry outage would lose work.
func (r *Registry) ShouldStopProcessing(ctx context.Context, taskID string) bool {
	if r.cancelled.Contains(taskID) {
		return true
	}

	task, err := r.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.Warn("Task registry lookup failed, continuing",
			zap.String("task_id", taskID), zap.Error(err))
		return false
	}

	if task.Cancelled {
		r.cancelled.Add(taskID, struct{}{})
		return true
	}
	return task.Expired(r.now())
}

// Register records a task with an optional deadline (zero means none)
func (r *Registry) Register(ctx context.Context, taskID string, deadline time.Time) error {
	if err := r.store.UpsertTask(ctx, &storage.TaskRecord{TaskID: taskID, Deadline: deadline}); err != nil {
		return fmt.Errorf("failed to register task %s: %w", taskID, err)
	}
	return nil
}

// Cancel marks a task as cancelled
func (r *Registry) Cancel(ctx context.Context, taskID string) error {
	if err := r.store.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	r.cancelled.Add(taskID, struct{}{})
	return nil
}
