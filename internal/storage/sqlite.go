package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrClaimConflict is returned when another consumer claimed the same item first
	ErrClaimConflict = errors.New("item claimed by another consumer")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode so several worker processes can share one queue file
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Queue operations

// EnqueueItem appends a payload to the named queue
func (s *SQLiteStorage) EnqueueItem(ctx context.Context, queue string, payload []byte) (int64, error) {
	if payload == nil {
		payload = []byte{}
	}
	result, err := s.querier().ExecContext(ctx,
		`INSERT INTO queue_items (queue, payload, created_at) VALUES (?, ?, ?)`,
		queue, payload, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue item: %w", err)
	}
	return result.LastInsertId()
}

// ClaimItem claims the oldest item of queue that group has not acknowledged and
// that is either unclaimed or whose claim is older than claimTimeout.
// Returns ErrNotFound when no item is ready.
func (s *SQLiteStorage) ClaimItem(ctx context.Context, queue, group, consumer string, claimTimeout time.Duration) (*QueueItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := s.claimItemWithQuerier(ctx, tx, queue, group, consumer, claimTimeout)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return item, nil
}

// claimItemWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) claimItemWithQuerier(ctx context.Context, q querier, queue, group, consumer string, claimTimeout time.Duration) (*QueueItem, error) {
	now := s.now()
	expiredBefore := toMillis(now.Add(-claimTimeout))

	query := `
		SELECT i.id, i.payload, i.created_at, COALESCE(d.deliveries, 0)
		FROM queue_items i
		LEFT JOIN queue_deliveries d ON d.item_id = i.id AND d.group_name = ?
		WHERE i.queue = ?
		  AND (d.item_id IS NULL OR (d.acked_at IS NULL AND d.claimed_at <= ?))
		ORDER BY i.id
		LIMIT 1
	`
	var (
		item       QueueItem
		createdAt  int64
		deliveries int
	)
	err := q.QueryRowContext(ctx, query, group, queue, expiredBefore).Scan(
		&item.ID, &item.Payload, &createdAt, &deliveries,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue item: %w", err)
	}

	// The guard on the update branch makes the claim fail if another consumer
	// refreshed the claim between the select and this statement.
	upsert := `
		INSERT INTO queue_deliveries (item_id, group_name, consumer, claimed_at, deliveries)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(item_id, group_name) DO UPDATE SET
			consumer = excluded.consumer,
			claimed_at = excluded.claimed_at,
			deliveries = queue_deliveries.deliveries + 1
		WHERE queue_deliveries.acked_at IS NULL AND queue_deliveries.claimed_at <= ?
	`
	result, err := q.ExecContext(ctx, upsert, item.ID, group, consumer, toMillis(now), expiredBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrClaimConflict
	}

	item.Queue = queue
	item.Deliveries = deliveries + 1
	item.CreatedAt = fromMillis(createdAt)
	item.ClaimedAt = fromMillis(toMillis(now))
	return &item, nil
}

// AckItem marks an item as consumed by group. Acknowledging twice is a no-op.
func (s *SQLiteStorage) AckItem(ctx context.Context, queue, group string, itemID int64) error {
	var id int64
	err := s.querier().QueryRowContext(ctx,
		`SELECT id FROM queue_items WHERE id = ? AND queue = ?`, itemID, queue).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up queue item: %w", err)
	}

	now := toMillis(s.now())
	query := `
		INSERT INTO queue_deliveries (item_id, group_name, consumer, claimed_at, acked_at, deliveries)
		VALUES (?, ?, '', ?, ?, 0)
		ON CONFLICT(item_id, group_name) DO UPDATE SET
			acked_at = COALESCE(queue_deliveries.acked_at, excluded.acked_at)
	`
	if _, err := s.querier().ExecContext(ctx, query, itemID, group, now, now); err != nil {
		return fmt.Errorf("failed to ack queue item: %w", err)
	}
	return nil
}

// QueueStats counts the items of queue by delivery state for group
func (s *SQLiteStorage) QueueStats(ctx context.Context, queue, group string) (*QueueStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN d.acked_at IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN d.item_id IS NOT NULL AND d.acked_at IS NULL THEN 1 ELSE 0 END), 0)
		FROM queue_items i
		LEFT JOIN queue_deliveries d ON d.item_id = i.id AND d.group_name = ?
		WHERE i.queue = ?
	`
	stats := &QueueStats{Queue: queue, Group: group}
	if err := s.querier().QueryRowContext(ctx, query, group, queue).Scan(
		&stats.Total, &stats.Acked, &stats.Claimed,
	); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	stats.Pending = stats.Total - stats.Acked - stats.Claimed
	return stats, nil
}

// Task registry operations

// UpsertTask creates or updates a registry entry. Cancellation is sticky: an
// upsert never clears a previous cancellation.
func (s *SQLiteStorage) UpsertTask(ctx context.Context, task *TaskRecord) error {
	now := s.now()
	query := `
		INSERT INTO tasks (task_id, deadline, cancelled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			deadline = excluded.deadline,
			cancelled = tasks.cancelled OR excluded.cancelled,
			updated_at = excluded.updated_at
	`
	_, err := s.querier().ExecContext(ctx, query,
		task.TaskID, toMillis(task.Deadline), task.Cancelled, toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	task.UpdatedAt = fromMillis(toMillis(now))
	return nil
}

// GetTask returns the registry entry for taskID or ErrNotFound
func (s *SQLiteStorage) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	query := `
		SELECT task_id, deadline, cancelled, created_at, updated_at
		FROM tasks
		WHERE task_id = ?
	`
	var (
		task                          TaskRecord
		deadline, createdAt, updateAt int64
	)
	err := s.querier().QueryRowContext(ctx, query, taskID).Scan(
		&task.TaskID, &deadline, &task.Cancelled, &createdAt, &updateAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	task.Deadline = fromMillis(deadline)
	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updateAt)
	return &task, nil
}

// CancelTask marks a task as cancelled, creating the entry if needed
func (s *SQLiteStorage) CancelTask(ctx context.Context, taskID string) error {
	now := toMillis(s.now())
	query := `
		INSERT INTO tasks (task_id, deadline, cancelled, created_at, updated_at)
		VALUES (?, 0, 1, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			cancelled = 1,
			updated_at = excluded.updated_at
	`
	if _, err := s.querier().ExecContext(ctx, query, taskID, now, now); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}
	return nil
}
