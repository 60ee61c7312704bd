// Package task manages the lifecycle of background goroutines: start, stop,
// wait and panic recovery.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-flashforge/internal/pool"
	"github.com/arloliu/go-flashforge/logger"
)

// StartTimeout bounds how long a Start call waits for its goroutine to come up.
const StartTimeout = 5 * time.Second

// ErrStopped is returned when a task is started on a stopped manager.
var ErrStopped = errors.New("task manager already stopped")

// Func is run repeatedly until it returns false or the manager is stopped.
type Func func() bool

// RecvFunc is run repeatedly with a reusable read buffer until it returns
// false or the manager is stopped.
type RecvFunc func(buf []byte) bool

// CancelFunc is called when a goroutine exits, for cleanup.
type CancelFunc func()

// Manager manages the goroutines belonging to one owner, usually a connection.
//
// Stop cancels the manager context; Wait blocks until every goroutine has
// returned and then re-arms the manager so it can be used again.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("poller", func() bool {
//	    // ... task logic ...
//	    return true // keep running
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager whose goroutines are canceled with ctx.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context of the current generation of tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a goroutine that runs fn until it returns false.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.run(name, func(ctx context.Context) {
		mgr.loop(ctx, name, fn)
	})
}

// StartReceiver starts a goroutine that runs fn with a bufSize read buffer
// until it returns false. cancel, when not nil, runs when the goroutine exits.
func (mgr *Manager) StartReceiver(name string, bufSize int, fn RecvFunc, cancel CancelFunc) error {
	mgr.logger.Debug("start receiver task", "name", name, "buf_size", bufSize)

	if bufSize <= 0 {
		return fmt.Errorf("invalid receive buffer size: %d", bufSize)
	}

	return mgr.run(name, func(ctx context.Context) {
		if cancel != nil {
			defer cancel()
		}

		buf := make([]byte, bufSize)
		mgr.loop(ctx, name, func() bool { return fn(buf) })
	})
}

// StartConsumer starts a goroutine that calls fn for every item received from
// input until fn returns false, input is closed or mgr is stopped.
// cancel, when not nil, runs when the goroutine exits.
func StartConsumer[T any](mgr *Manager, name string, input <-chan T, fn func(item T) bool, cancel CancelFunc) error {
	mgr.logger.Debug("start consumer task", "name", name)

	if input == nil {
		return errors.New("input channel is nil")
	}

	return mgr.run(name, func(ctx context.Context) {
		if cancel != nil {
			defer cancel()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-input:
				if !ok {
					mgr.logger.Debug("input channel closed", "name", name)
					return
				}
				if !mgr.CallWithRecover(name, func() bool { return fn(item) }) {
					return
				}
			}
		}
	})
}

// CallWithRecover calls fn and converts a panic into a logged error and a false result.
func (mgr *Manager) CallWithRecover(name string, fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			ok = false
		}
	}()

	return fn()
}

// Stop signals all running goroutines to exit.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to exit, then re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// WaitTimeout is Wait bounded by timeout. It reports whether every goroutine exited in time;
// the manager is re-armed only in that case.
func (mgr *Manager) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// TaskCount returns the number of running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) run(name string, body func(ctx context.Context)) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.Context()
	select {
	case <-ctx.Done():
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	default:
	}

	started := make(chan struct{})
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		close(started)
		body(ctx)
	}()

	timer := pool.GetTimer(StartTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-started:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

func (mgr *Manager) loop(ctx context.Context, name string, fn Func) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !mgr.CallWithRecover(name, fn) {
				return
			}
		}
	}
}
