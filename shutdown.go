// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"container/heap"
	"context"
	"time"
)

// shutdownParams is published once, by the first GracefulShutdown call.
type shutdownParams struct {
	quietPeriod     time.Duration
	timeout         time.Duration
	start           int64
	timeoutDeadline int64
}

// GracefulShutdown is GracefulShutdownWithin, using the configured defaults
// (see [WithDefaultQuietPeriod] and [WithDefaultShutdownTimeout]).
func (x *SingleThreadEventExecutor) GracefulShutdown() *Future[struct{}] {
	// the defaults were validated on construction
	f, _ := x.GracefulShutdownWithin(x.quietPeriod, x.shutdownTimeout)
	return f
}

// GracefulShutdownWithin starts shutting down, returning the termination
// future.
//
// Queued and already scheduled work keeps running. The executor shuts down
// once it has been idle for quietPeriod, where every unit run restarts the
// period, or once timeout has elapsed, whichever is first. Scheduled tasks
// that are still pending at that point are cancelled, with
// [ErrExecutorShutDown]; immediate units are always run.
//
// Only the first call has any effect, later calls return the same future.
func (x *SingleThreadEventExecutor) GracefulShutdownWithin(quietPeriod, timeout time.Duration) (*Future[struct{}], error) {
	if quietPeriod < 0 {
		return nil, invalidArgument(`negative quiet period %s`, quietPeriod)
	}
	if timeout < quietPeriod {
		return nil, invalidArgument(`shutdown timeout %s is less than the quiet period %s`, timeout, quietPeriod)
	}
	if x.shutdown.Load() == nil {
		now := x.nanoTime()
		p := &shutdownParams{
			quietPeriod:     quietPeriod,
			timeout:         timeout,
			start:           now,
			timeoutDeadline: deadlineAfter(now, timeout),
		}
		if x.shutdown.CompareAndSwap(nil, p) {
			x.state.TryTransition(StateRunning, StateShuttingDown)
			x.logShuttingDown(p)
			x.wake()
		}
	}
	return x.termination, nil
}

// Shutdown starts a graceful shutdown, with the default parameters, and
// waits for termination, or for ctx to be done.
func (x *SingleThreadEventExecutor) Shutdown(ctx context.Context) error {
	_, err := x.GracefulShutdown().Wait(ctx)
	return err
}

// TerminationFuture returns the future that succeeds once the executor has
// terminated.
func (x *SingleThreadEventExecutor) TerminationFuture() *Future[struct{}] {
	return x.termination
}

// IsShuttingDown reports whether a shutdown has started (including if it has
// since completed).
func (x *SingleThreadEventExecutor) IsShuttingDown() bool {
	return x.state.Load() >= StateShuttingDown
}

// IsShutDown reports whether the executor has stopped taking work from other
// goroutines, for good.
func (x *SingleThreadEventExecutor) IsShutDown() bool {
	return x.state.Load() >= StateShutDown
}

// IsTerminated reports whether the loop has exited.
func (x *SingleThreadEventExecutor) IsTerminated() bool {
	return x.state.Load() == StateTerminated
}

// quietDeadline is when the quiet period ends, given no further activity.
func (x *SingleThreadEventExecutor) quietDeadline(p *shutdownParams) int64 {
	return deadlineAfter(max(p.start, x.lastActivity), p.quietPeriod)
}

// confirmShutdown applies the shutdown policy, returning true once the
// executor has terminated and the loop must exit.
func (x *SingleThreadEventExecutor) confirmShutdown() bool {
	switch x.state.Load() {
	case StateRunning:
		return false

	case StateShuttingDown:
		p := x.shutdown.Load()
		now := x.nanoTime()
		if now >= p.timeoutDeadline {
			x.timedOut = true
		} else if !x.idle() || now < x.quietDeadline(p) {
			return false
		}
		if x.state.Advance(StateShutDown) {
			x.logShutDown(x.timedOut, x.shutdownRan)
		}
	}

	x.drain()

	x.state.Advance(StateTerminated)
	x.logTerminated(x.shutdownCancelled)
	x.termination.trySucceed(struct{}{})

	return true
}

// drain runs the remaining immediate units, and cancels every scheduled task,
// until nothing more can be submitted.
func (x *SingleThreadEventExecutor) drain() {
	for {
		x.cancelAllScheduled()
		x.runImmediate(x.batchLen - x.batchPos + x.tasks.Length())
		if x.batchPos == x.batchLen && x.tasks.Close() {
			break
		}
	}

	// cancellation callbacks run on this goroutine, and may still schedule
	x.schedMu.Lock()
	x.schedClosed = true
	x.schedMu.Unlock()

	x.cancelAllScheduled()
}

func (x *SingleThreadEventExecutor) cancelAllScheduled() {
	x.mergeIncoming()
	for len(x.scheduled) != 0 {
		st := heap.Pop(&x.scheduled).(*ScheduledTask)
		x.scheduledLen.Store(int64(len(x.scheduled)))
		var cancelled bool
		if err := guard(func() { cancelled = st.future.tryCancel(ErrExecutorShutDown) }, x.goexitFn); err != nil {
			x.logTaskPanic(err)
		}
		if cancelled {
			x.shutdownCancelled++
		}
	}
}
