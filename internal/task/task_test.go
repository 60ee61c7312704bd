package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-flashforge/logger"
)

func newDebugLogger() *logger.MockLogger {
	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", mock.Anything, mock.Anything).Return()

	return mockLogger
}

func TestManager_Start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, newDebugLogger())

	var runs atomic.Int32
	err := mgr.Start("testTask", func() bool {
		runs.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() > 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mgr.TaskCount())

	cancel()
	require.Eventually(t, func() bool { return mgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestManager_StartReceiver(t *testing.T) {
	mockLogger := newDebugLogger()
	mgr := NewManager(context.Background(), mockLogger)

	var canceled atomic.Bool
	var bufLen atomic.Int32
	err := mgr.StartReceiver("testReceiver", 16, func(buf []byte) bool {
		bufLen.Store(int32(len(buf)))
		return false
	}, func() { canceled.Store(true) })
	require.NoError(t, err)

	mgr.Wait()
	assert.Equal(t, int32(16), bufLen.Load())
	assert.True(t, canceled.Load())
	assert.Equal(t, 0, mgr.TaskCount())
	mockLogger.AssertNumberOfCalls(t, "Error", 0)

	require.Error(t, mgr.StartReceiver("bad", 0, func([]byte) bool { return false }, nil))
}

func TestStartConsumer(t *testing.T) {
	mgr := NewManager(context.Background(), newDebugLogger())

	input := make(chan int)
	var sum atomic.Int32
	var canceled atomic.Bool
	err := StartConsumer(mgr, "testConsumer", input, func(v int) bool {
		sum.Add(int32(v))
		return true
	}, func() { canceled.Store(true) })
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		input <- i
	}
	close(input)

	mgr.Wait()
	assert.Equal(t, int32(55), sum.Load())
	assert.True(t, canceled.Load())

	require.Error(t, StartConsumer[int](mgr, "nil", nil, func(int) bool { return true }, nil))
}

func TestManager_PanicRecovered(t *testing.T) {
	mockLogger := newDebugLogger()
	mgr := NewManager(context.Background(), mockLogger)

	require.NoError(t, mgr.Start("panicky", func() bool {
		panic("boom")
	}))

	mgr.Wait()
	assert.Equal(t, 0, mgr.TaskCount())
	mockLogger.AssertCalled(t, "Error", "panic in task", []any{"name", "panicky", "panic", "boom"})
}

func TestManager_StopAndRearm(t *testing.T) {
	mgr := NewManager(context.Background(), newDebugLogger())

	require.NoError(t, mgr.Start("loop", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}))

	mgr.Stop()
	require.ErrorIs(t, mgr.Start("late", func() bool { return false }), ErrStopped)

	require.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, 0, mgr.TaskCount())

	// Wait re-arms the manager
	require.NoError(t, mgr.Start("again", func() bool { return false }))
	mgr.Wait()
}

func TestManager_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(ctx, newDebugLogger())
	cancel()

	require.ErrorIs(t, mgr.Start("task", func() bool { return true }), ErrStopped)
}
