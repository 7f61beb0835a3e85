package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStorage creates an in-memory SQLite database with a controllable clock
func setupTestStorage(t *testing.T) (*SQLiteStorage, *time.Time) {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestNewSQLiteStorage_AppliesMigrations(t *testing.T) {
	store, _ := setupTestStorage(t)

	var version string
	err := store.db.QueryRow("SELECT version FROM schema_version").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Re-applying is a no-op
	require.NoError(t, ApplyMigrations(context.Background(), store.db))
}

func TestClaimItem_EmptyQueue(t *testing.T) {
	store, _ := setupTestStorage(t)

	item, err := store.ClaimItem(context.Background(), "q", "g", "c1", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, item)
}

func TestClaimItem_FIFOAndExclusive(t *testing.T) {
	store, _ := setupTestStorage(t)
	ctx := context.Background()

	id1, err := store.EnqueueItem(ctx, "q", []byte(`{"n":1}`))
	require.NoError(t, err)
	id2, err := store.EnqueueItem(ctx, "q", []byte(`{"n":2}`))
	require.NoError(t, err)
	_, err = store.EnqueueItem(ctx, "other", []byte(`{}`))
	require.NoError(t, err)

	first, err := store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id1, first.ID)
	assert.Equal(t, []byte(`{"n":1}`), first.Payload)
	assert.Equal(t, 1, first.Deliveries)

	second, err := store.ClaimItem(ctx, "q", "g", "c2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id2, second.ID)

	_, err = store.ClaimItem(ctx, "q", "g", "c3", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimItem_RedeliversAfterClaimTimeout(t *testing.T) {
	store, now := setupTestStorage(t)
	ctx := context.Background()

	id, err := store.EnqueueItem(ctx, "q", []byte("x"))
	require.NoError(t, err)

	_, err = store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	require.NoError(t, err)

	*now = now.Add(30 * time.Second)
	_, err = store.ClaimItem(ctx, "q", "g", "c2", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound, "claim still valid")

	*now = now.Add(time.Minute)
	item, err := store.ClaimItem(ctx, "q", "g", "c2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, 2, item.Deliveries)
}

func TestAckItem(t *testing.T) {
	store, now := setupTestStorage(t)
	ctx := context.Background()

	id, err := store.EnqueueItem(ctx, "q", []byte("x"))
	require.NoError(t, err)

	item, err := store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.AckItem(ctx, "q", "g", item.ID))
	require.NoError(t, store.AckItem(ctx, "q", "g", item.ID), "ack is idempotent")

	*now = now.Add(time.Hour)
	_, err = store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound, "acked items are never redelivered")

	// Another group still sees the item
	other, err := store.ClaimItem(ctx, "q", "g2", "c1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id, other.ID)

	assert.ErrorIs(t, store.AckItem(ctx, "q", "g", 9999), ErrNotFound)
	assert.ErrorIs(t, store.AckItem(ctx, "wrong", "g", id), ErrNotFound)
}

func TestQueueStats(t *testing.T) {
	store, _ := setupTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.EnqueueItem(ctx, "q", []byte("x"))
		require.NoError(t, err)
	}

	item, err := store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.AckItem(ctx, "q", "g", item.ID))
	_, err = store.ClaimItem(ctx, "q", "g", "c1", time.Minute)
	require.NoError(t, err)

	stats, err := store.QueueStats(ctx, "q", "g")
	require.NoError(t, err)
	assert.Equal(t, &QueueStats{Queue: "q", Group: "g", Total: 3, Pending: 1, Claimed: 1, Acked: 1}, stats)
}

func TestTaskRegistry(t *testing.T) {
	store, now := setupTestStorage(t)
	ctx := context.Background()

	_, err := store.GetTask(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	deadline := now.Add(time.Hour)
	require.NoError(t, store.UpsertTask(ctx, &TaskRecord{TaskID: "T1", Deadline: deadline}))

	task, err := store.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, task.Cancelled)
	assert.True(t, task.Deadline.Equal(deadline))
	assert.False(t, task.Expired(*now))
	assert.True(t, task.Expired(deadline))

	require.NoError(t, store.CancelTask(ctx, "T1"))
	require.NoError(t, store.UpsertTask(ctx, &TaskRecord{TaskID: "T1"}))

	task, err = store.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, task.Cancelled, "cancellation is sticky")
	assert.True(t, task.Deadline.IsZero())

	require.NoError(t, store.CancelTask(ctx, "T2"))
	task, err = store.GetTask(ctx, "T2")
	require.NoError(t, err)
	assert.True(t, task.Cancelled)
}
