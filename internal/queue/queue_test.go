package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

func setupTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestQueue_PushPopAck(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(setupTestStorage(t), WithConsumer("w1"))
	q := f.IndexRequests()

	item, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, item, "empty queue pops nil")

	req := types.IndexRequest{TaskID: "T1", PackageName: "libpng", TaskDir: "/tasks/T1", HasDiff: true}
	_, err = q.Push(ctx, req)
	require.NoError(t, err)

	item, err = q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.NoError(t, item.DecodeErr)
	assert.Equal(t, req, item.Value)
	assert.Equal(t, 1, item.Deliveries)

	require.NoError(t, q.Ack(ctx, item.ID))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Acked)
	assert.Equal(t, 0, stats.Pending)
}

func TestQueue_UnackedItemIsRedelivered(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	q := New[types.IndexRequest](store, IndexQueue, IndexGroup, WithClaimTimeout(time.Millisecond))
	_, err := q.Push(ctx, types.IndexRequest{TaskID: "T1", TaskDir: "/t"})
	require.NoError(t, err)

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(5 * time.Millisecond)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Deliveries)
}

func TestQueue_DecodeError(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)

	_, err := store.EnqueueItem(ctx, IndexQueue, []byte("not json"))
	require.NoError(t, err)

	q := NewFactory(store).IndexRequests()
	item, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Error(t, item.DecodeErr)
}

func TestQueue_PopWithoutGroup(t *testing.T) {
	q := NewFactory(setupTestStorage(t)).IndexOutputs()

	_, err := q.Pop(context.Background())
	assert.Error(t, err)

	id, err := q.Push(context.Background(), types.IndexOutput{TaskID: "T1"})
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.Equal(t, IndexOutputQueue, q.Name())
}
