// Package queue provides typed, at-least-once work queues on top of the
// SQLite storage layer.
//
// A popped item stays claimed by the consumer until it is acknowledged. Items
// that are never acknowledged become visible again after the claim timeout,
// which is how a failed task gets redelivered.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

// Queue and group names shared by every worker
const (
	IndexQueue       = "index_queue"
	IndexGroup       = "index_group"
	IndexOutputQueue = "index_output_queue"

	// DefaultClaimTimeout is how long a popped item stays invisible to other consumers
	DefaultClaimTimeout = 10 * time.Minute

	maxClaimAttempts = 3
)

// Item is one popped queue entry. Value is the decoded payload; DecodeErr is
// set instead when the payload could not be decoded.
type Item[T any] struct {
	ID         int64
	Value      T
	Deliveries int
	DecodeErr  error
}

// Queue is a typed reliable queue
type Queue[T any] struct {
	store        storage.Storage
	name         string
	group        string
	consumer     string
	claimTimeout time.Duration
}

// Option configures a Queue
type Option func(*options)

type options struct {
	consumer     string
	claimTimeout time.Duration
}

// WithConsumer sets the consumer name recorded on claims
func WithConsumer(name string) Option {
	return func(o *options) { o.consumer = name }
}

// WithClaimTimeout sets how long a claim stays valid
func WithClaimTimeout(d time.Duration) Option {
	return func(o *options) { o.claimTimeout = d }
}

// New creates a queue handle. group may be empty for produce-only queues.
func New[T any](store storage.Storage, name, group string, opts ...Option) *Queue[T] {
	o := options{
		consumer:     "consumer-" + uuid.NewString(),
		claimTimeout: DefaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.claimTimeout <= 0 {
		o.claimTimeout = DefaultClaimTimeout
	}
	return &Queue[T]{
		store:        store,
		name:         name,
		group:        group,
		consumer:     o.consumer,
		claimTimeout: o.claimTimeout,
	}
}

// Name returns the queue name
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends value to the queue
func (q *Queue[T]) Push(ctx context.Context, value T) (int64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s item: %w", q.name, err)
	}
	id, err := q.store.EnqueueItem(ctx, q.name, payload)
	if err != nil {
		return 0, fmt.Errorf("failed to push to %s: %w", q.name, err)
	}
	return id, nil
}

// Pop claims the next ready item. It returns nil, nil when the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (*Item[T], error) {
	if q.group == "" {
		return nil, fmt.Errorf("queue %s has no consumer group", q.name)
	}

	var (
		raw *storage.QueueItem
		err error
	)
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		raw, err = q.store.ClaimItem(ctx, q.name, q.group, q.consumer, q.claimTimeout)
		if !errors.Is(err, storage.ErrClaimConflict) {
			break
		}
	}
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrClaimConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}

	item := &Item[T]{ID: raw.ID, Deliveries: raw.Deliveries}
	if err := json.Unmarshal(raw.Payload, &item.Value); err != nil {
		item.DecodeErr = fmt.Errorf("failed to decode %s item %d: %w", q.name, raw.ID, err)
	}
	return item, nil
}

// Ack acknowledges an item so it is never redelivered to this group
func (q *Queue[T]) Ack(ctx context.Context, id int64) error {
	if err := q.store.AckItem(ctx, q.name, q.group, id); err != nil {
		return fmt.Errorf("failed to ack %s item %d: %w", q.name, id, err)
	}
	return nil
}

// Stats returns delivery counts for this queue's group
func (q *Queue[T]) Stats(ctx context.Context) (*storage.QueueStats, error) {
	return q.store.QueueStats(ctx, q.name, q.group)
}

// Factory builds the named queues used by the indexing service
type Factory struct {
	store storage.Storage
	opts  []Option
}

// NewFactory creates a Factory whose queues share opts
func NewFactory(store storage.Storage, opts ...Option) *Factory {
	return &Factory{store: store, opts: opts}
}

// IndexRequests returns the inbound queue, consumed by the index group
func (f *Factory) IndexRequests() *Queue[types.IndexRequest] {
	return New[types.IndexRequest](f.store, IndexQueue, IndexGroup, f.opts...)
}

// IndexOutputs returns the outbound completion queue
func (f *Factory) IndexOutputs() *Queue[types.IndexOutput] {
	return New[types.IndexOutput](f.store, IndexOutputQueue, "", f.opts...)
}
