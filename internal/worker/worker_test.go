package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/programmodel/internal/queue"
	"github.com/dshills/programmodel/internal/registry"
	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedProcessor returns queued outcomes in order, then fails
type scriptedProcessor struct {
	mu       sync.Mutex
	outcomes []bool
	seen     []string
}

func (p *scriptedProcessor) Process(_ context.Context, req *types.IndexRequest) types.TaskOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, req.TaskID)
	success := false
	if len(p.outcomes) > 0 {
		success, p.outcomes = p.outcomes[0], p.outcomes[1:]
	}
	if success {
		return types.NewTaskOutcome(req.TaskID, types.Succeeded(types.StrategyCodeQuery, 0))
	}
	return types.NewTaskOutcome(req.TaskID, types.Failed(types.StrategyCodeQuery, "build", errors.New("boom"), 0))
}

func (p *scriptedProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

type fixture struct {
	store   storage.Storage
	worker  *Worker
	proc    *scriptedProcessor
	reg     *registry.Registry
	outputs *queue.Queue[types.IndexOutput]
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, claimTimeout time.Duration, outcomes ...bool) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	f := queue.NewFactory(store, queue.WithConsumer("w1"), queue.WithClaimTimeout(claimTimeout))
	proc := &scriptedProcessor{outcomes: outcomes}
	reg := registry.New(store, logger)

	return &fixture{
		store: store,
		worker: &Worker{
			Tasks:        f.IndexRequests(),
			Outputs:      f.IndexOutputs(),
			Registry:     reg,
			Orchestrator: proc,
			SleepTime:    5 * time.Millisecond,
			Logger:       logger,
		},
		proc:    proc,
		reg:     reg,
		outputs: queue.New[types.IndexOutput](store, queue.IndexOutputQueue, "downstream"),
		logs:    logs,
	}
}

func (f *fixture) push(t *testing.T, req types.IndexRequest) {
	t.Helper()
	_, err := f.worker.Tasks.Push(context.Background(), req)
	require.NoError(t, err)
}

func (f *fixture) publishedOutputs(t *testing.T) []types.IndexOutput {
	t.Helper()
	var out []types.IndexOutput
	for {
		item, err := f.outputs.Pop(context.Background())
		require.NoError(t, err)
		if item == nil {
			return out
		}
		require.NoError(t, item.DecodeErr)
		out = append(out, item.Value)
		require.NoError(t, f.outputs.Ack(context.Background(), item.ID))
	}
}

func (f *fixture) inboundStats(t *testing.T) *storage.QueueStats {
	t.Helper()
	stats, err := f.worker.Tasks.Stats(context.Background())
	require.NoError(t, err)
	return stats
}

var request = types.IndexRequest{
	TaskID:      "T1",
	PackageName: "libpng",
	BuildType:   "fuzzer",
	Sanitizer:   "address",
	TaskDir:     "/tasks/T1",
}

func TestServeItem_Empty(t *testing.T) {
	f := newFixture(t, time.Minute)

	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
	assert.Zero(t, f.proc.calls())
}

func TestServeItem_SuccessPublishesOneOutputAndAcks(t *testing.T) {
	f := newFixture(t, time.Minute, true)
	f.push(t, request)

	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	want := []types.IndexOutput{{
		BuildType:   "fuzzer",
		PackageName: "libpng",
		Sanitizer:   "address",
		TaskDir:     "/tasks/T1",
		TaskID:      "T1",
	}}
	if diff := cmp.Diff(want, f.publishedOutputs(t)); diff != "" {
		t.Errorf("published outputs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, f.inboundStats(t).Acked)
	assert.Equal(t, 1, f.logs.FilterMessage("Successfully processed task").Len())
}

func TestServeItem_FailureLeavesItemUnacked(t *testing.T) {
	f := newFixture(t, time.Minute, false)
	f.push(t, request)

	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	assert.Empty(t, f.publishedOutputs(t))
	stats := f.inboundStats(t)
	assert.Zero(t, stats.Acked)
	assert.Equal(t, 1, stats.Claimed)

	failures := f.logs.FilterMessage("Failed to process task").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "T1", failures[0].ContextMap()["task_id"])

	// Still claimed, so not visible again yet
	didWork, err = f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestServeItem_RetryAfterFailureProducesExactlyOneOutput(t *testing.T) {
	f := newFixture(t, time.Millisecond, false, true)
	f.push(t, request)

	_, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond) // claim expires
	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	assert.Equal(t, []string{"T1", "T1"}, f.proc.seen)
	assert.Len(t, f.publishedOutputs(t), 1)
	assert.Equal(t, 1, f.inboundStats(t).Acked)

	// Acked items are never redelivered
	time.Sleep(10 * time.Millisecond)
	didWork, err = f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestServeItem_CancelledTaskIsAckedWithoutProcessing(t *testing.T) {
	f := newFixture(t, time.Minute, true)
	require.NoError(t, f.reg.Cancel(context.Background(), "T1"))
	f.push(t, request)

	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	assert.Zero(t, f.proc.calls())
	assert.Empty(t, f.publishedOutputs(t))
	assert.Equal(t, 1, f.inboundStats(t).Acked)
}

func TestServeItem_ExpiredTaskIsAcked(t *testing.T) {
	f := newFixture(t, time.Minute, true)
	require.NoError(t, f.reg.Register(context.Background(), "T1", time.Now().Add(-time.Hour)))
	f.push(t, request)

	didWork, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)
	assert.Zero(t, f.proc.calls())
	assert.Equal(t, 1, f.inboundStats(t).Acked)
}

func TestServeItem_NoRegistryAlwaysProcesses(t *testing.T) {
	f := newFixture(t, time.Minute, true)
	require.NoError(t, f.reg.Cancel(context.Background(), "T1"))
	f.worker.Registry = nil
	f.push(t, request)

	_, err := f.worker.ServeItem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.proc.calls())
}

func TestServeItem_PoisonMessagesAreDropped(t *testing.T) {
	f := newFixture(t, time.Minute, true)
	_, err := f.store.EnqueueItem(context.Background(), queue.IndexQueue, []byte("{not json"))
	require.NoError(t, err)
	f.push(t, types.IndexRequest{PackageName: "no-task-id"})

	for i := 0; i < 2; i++ {
		didWork, err := f.worker.ServeItem(context.Background())
		require.NoError(t, err)
		assert.True(t, didWork)
	}

	assert.Zero(t, f.proc.calls())
	assert.Equal(t, 2, f.inboundStats(t).Acked)
	assert.Equal(t, 1, f.logs.FilterMessage("Dropping unreadable index request").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("Dropping invalid index request").Len())
}

func TestServeItem_QueueNotInitialized(t *testing.T) {
	w := &Worker{Orchestrator: &scriptedProcessor{}}
	_, err := w.ServeItem(context.Background())
	assert.ErrorIs(t, err, ErrQueueNotInitialized)
	assert.ErrorIs(t, w.Serve(context.Background()), ErrQueueNotInitialized)
}

func TestServe_ProcessesUntilCancelled(t *testing.T) {
	f := newFixture(t, time.Minute, true, true)
	f.push(t, request)
	second := request
	second.TaskID = "T2"
	f.push(t, second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Serve(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := f.worker.Tasks.Stats(context.Background())
		return err == nil && stats.Acked == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.worker.Serve(ctx), ErrAlreadyServing)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, f.proc.calls())
	assert.Len(t, f.publishedOutputs(t), 2)
}

func TestServeLoop(t *testing.T) {
	t.Run("sleeps when idle and stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := ServeLoop(ctx, func(context.Context) (bool, error) {
			calls++
			if calls == 3 {
				cancel()
			}
			return false, nil
		}, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not sleep after work", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		calls := 0
		start := time.Now()
		err := ServeLoop(ctx, func(context.Context) (bool, error) {
			calls++
			if calls == 50 {
				cancel()
			}
			return true, nil
		}, time.Hour)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Minute)
	})

	t.Run("propagates errors", func(t *testing.T) {
		boom := errors.New("boom")
		err := ServeLoop(context.Background(), func(context.Context) (bool, error) {
			return false, boom
		}, time.Millisecond)
		assert.ErrorIs(t, err, boom)
	})
}

func TestServeLock(t *testing.T) {
	var l serveLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
