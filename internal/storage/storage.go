package storage

import (
	"context"
	"time"
)

// Storage defines the interface for the durable work queues and the task registry
type Storage interface {
	// Queue operations
	EnqueueItem(ctx context.Context, queue string, payload []byte) (int64, error)
	ClaimItem(ctx context.Context, queue, group, consumer string, claimTimeout time.Duration) (*QueueItem, error)
	AckItem(ctx context.Context, queue, group string, itemID int64) error
	QueueStats(ctx context.Context, queue, group string) (*QueueStats, error)

	// Task registry operations
	UpsertTask(ctx context.Context, task *TaskRecord) error
	GetTask(ctx context.Context, taskID string) (*TaskRecord, error)
	CancelTask(ctx context.Context, taskID string) error

	// Database operations
	Close() error
}

// QueueItem is one claimed queue entry
type QueueItem struct {
	ID         int64
	Queue      string
	Payload    []byte
	Deliveries int // Number of times the item has been claimed by the group, including this one
	CreatedAt  time.Time
	ClaimedAt  time.Time
}

// QueueStats summarizes a queue from the point of view of one consumer group
type QueueStats struct {
	Queue   string
	Group   string
	Total   int
	Pending int // Never claimed
	Claimed int // Claimed and not yet acknowledged, expired claims included
	Acked   int
}

// TaskRecord is the registry entry for a task
type TaskRecord struct {
	TaskID    string
	Deadline  time.Time // Zero means no deadline
	Cancelled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the task's deadline has passed at now
func (t *TaskRecord) Expired(now time.Time) bool {
	return !t.Deadline.IsZero() && !now.Before(t.Deadline)
}
