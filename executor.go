// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"context"
	"time"

	"github.com/joeycumines/go-eventexecutor/internal/goroutineid"
)

// EventExecutor runs units of work on a single, identifiable goroutine.
//
// All submission methods are safe to call from any goroutine. Once the
// executor is shutting down, submissions are rejected with
// [ErrRejectedExecution], unless made from the loop goroutine itself.
type EventExecutor interface {
	// InEventLoop reports whether the caller is the loop goroutine.
	InEventLoop() bool
	// IsInEventLoop reports whether goroutineID identifies the loop goroutine.
	IsInEventLoop(goroutineID uint64) bool

	Execute(fn func()) error
	ExecuteWithState(fn func(state any), state any) error
	ExecuteWithArgs(fn func(arg, state any), arg, state any) error

	Schedule(delay time.Duration, fn func()) (*ScheduledTask, error)
	ScheduleWithState(delay time.Duration, fn func(state any), state any) (*ScheduledTask, error)
	ScheduleWithArgs(delay time.Duration, fn func(arg, state any), arg, state any) (*ScheduledTask, error)

	GracefulShutdown() *Future[struct{}]
	GracefulShutdownWithin(quietPeriod, timeout time.Duration) (*Future[struct{}], error)
	TerminationFuture() *Future[struct{}]
	IsShuttingDown() bool
	IsShutDown() bool
	IsTerminated() bool

	// Unwrap returns the innermost executor that isn't a wrapper, which may
	// be the receiver itself. It never returns a wrapper.
	Unwrap() EventExecutor
}

var (
	_ EventExecutor = (*SingleThreadEventExecutor)(nil)
	_ EventExecutor = (*WrappedExecutor)(nil)
)

// GoroutineID returns the calling goroutine's identity, for use with
// [EventExecutor.IsInEventLoop].
func GoroutineID() uint64 {
	return goroutineid.Get()
}

// asyncTask is a value-returning unit, bound to the future it completes.
type asyncTask[T any] struct {
	ctx    context.Context
	future *Future[T]
	call   func(ctx context.Context) (T, error)
}

func runAsync[T any](arg, _ any) {
	arg.(*asyncTask[T]).run()
}

func (a *asyncTask[T]) run() {
	if err := a.ctx.Err(); err != nil {
		a.future.tryCancel(context.Cause(a.ctx))
		return
	}
	if !a.future.setUncancellable() {
		return
	}
	var (
		value T
		err   error
	)
	if perr := guard(func() { value, err = a.call(a.ctx) }, a.goexit); perr != nil {
		a.future.tryFail(perr)
		return
	}
	a.future.completeFrom(value, err)
}

func (a *asyncTask[T]) goexit() {
	a.future.tryFail(ErrGoexit)
}

// watch cancels the future once ctx is done, until the future settles.
func (a *asyncTask[T]) watch() {
	if a.ctx.Done() == nil {
		return
	}
	stop := context.AfterFunc(a.ctx, func() {
		a.future.tryCancel(context.Cause(a.ctx))
	})
	a.future.OnComplete(func(*Future[T]) { stop() })
}

func newAsyncTask[T any](ctx context.Context, e EventExecutor, call func(ctx context.Context) (T, error)) *asyncTask[T] {
	a := &asyncTask[T]{ctx: ctx, future: newFuture[T](), call: call}
	if x, ok := Unwrap(e).(*SingleThreadEventExecutor); ok {
		a.future.panicked = x.logContinuationPanic
	}
	return a
}

// rejectedBy reports the error Execute would fail with, without enqueuing
// anything. Executors of unknown type never reject.
func rejectedBy(e EventExecutor) error {
	x, ok := Unwrap(e).(*SingleThreadEventExecutor)
	if !ok {
		return nil
	}
	if err := x.accept(); err != nil {
		x.rejected(err)
		return err
	}
	return nil
}

// cancelledFuture is returned for submissions made with a context that is
// already done. Nothing is enqueued.
func cancelledFuture[T any](ctx context.Context) *Future[T] {
	f := newFuture[T]()
	f.tryCancel(context.Cause(ctx))
	return f
}

// SubmitAsync enqueues fn, returning a future for its outcome.
//
// The future is cancelled, with the context's cause, if ctx is done before
// fn starts. Once fn has started it always runs to completion; it may observe
// ctx itself. A panic in fn fails the future with a *[PanicError].
//
// The error is non-nil only if the submission itself failed (see
// [EventExecutor.Execute]), in which case the future is nil. Rejection takes
// precedence over an already done ctx.
func SubmitAsync[T any](ctx context.Context, e EventExecutor, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return submitAsync(ctx, e, fn)
}

// SubmitAsyncWithState is like SubmitAsync, passing state to fn.
func SubmitAsyncWithState[T any](ctx context.Context, e EventExecutor, fn func(ctx context.Context, state any) (T, error), state any) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return submitAsync(ctx, e, func(ctx context.Context) (T, error) { return fn(ctx, state) })
}

// SubmitAsyncWithArgs is like SubmitAsync, passing arg and state to fn.
func SubmitAsyncWithArgs[T any](ctx context.Context, e EventExecutor, fn func(ctx context.Context, arg, state any) (T, error), arg, state any) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return submitAsync(ctx, e, func(ctx context.Context) (T, error) { return fn(ctx, arg, state) })
}

// RunAsync is SubmitAsync, for functions that produce no value.
func RunAsync(ctx context.Context, e EventExecutor, fn func(ctx context.Context) error) (*Future[struct{}], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return submitAsync(ctx, e, func(ctx context.Context) (struct{}, error) { return struct{}{}, fn(ctx) })
}

func submitAsync[T any](ctx context.Context, e EventExecutor, call func(ctx context.Context) (T, error)) (*Future[T], error) {
	if ctx.Err() != nil {
		if err := rejectedBy(e); err != nil {
			return nil, err
		}
		return cancelledFuture[T](ctx), nil
	}
	a := newAsyncTask(ctx, e, call)
	if err := e.ExecuteWithArgs(runAsync[T], a, nil); err != nil {
		return nil, err
	}
	a.watch()
	return a.future, nil
}

// ScheduleAsync registers fn to run once delay has elapsed, returning a
// future for its outcome. Cancellation, via ctx or the future, behaves as
// for SubmitAsync, and additionally removes the underlying scheduled task.
// If the executor shuts down before the task is due, the future is cancelled
// with [ErrExecutorShutDown].
func ScheduleAsync[T any](ctx context.Context, e EventExecutor, delay time.Duration, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return scheduleAsync(ctx, e, delay, fn)
}

// ScheduleAsyncWithState is like ScheduleAsync, passing state to fn.
func ScheduleAsyncWithState[T any](ctx context.Context, e EventExecutor, delay time.Duration, fn func(ctx context.Context, state any) (T, error), state any) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return scheduleAsync(ctx, e, delay, func(ctx context.Context) (T, error) { return fn(ctx, state) })
}

// ScheduleAsyncWithArgs is like ScheduleAsync, passing arg and state to fn.
func ScheduleAsyncWithArgs[T any](ctx context.Context, e EventExecutor, delay time.Duration, fn func(ctx context.Context, arg, state any) (T, error), arg, state any) (*Future[T], error) {
	if fn == nil {
		return nil, invalidArgument(`nil function`)
	}
	return scheduleAsync(ctx, e, delay, func(ctx context.Context) (T, error) { return fn(ctx, arg, state) })
}

// ScheduleActionAsync is ScheduleAsync, for an action that produces no value
// and cannot fail, other than by panicking.
func ScheduleActionAsync(ctx context.Context, e EventExecutor, delay time.Duration, fn func()) (*Future[struct{}], error) {
	if fn == nil {
		return nil, invalidArgument(`nil action`)
	}
	return scheduleAsync(ctx, e, delay, func(context.Context) (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
}

func scheduleAsync[T any](ctx context.Context, e EventExecutor, delay time.Duration, call func(ctx context.Context) (T, error)) (*Future[T], error) {
	if delay < 0 {
		return nil, invalidArgument(`negative delay %s`, delay)
	}
	if ctx.Err() != nil {
		if err := rejectedBy(e); err != nil {
			return nil, err
		}
		return cancelledFuture[T](ctx), nil
	}
	a := newAsyncTask(ctx, e, call)
	st, err := e.ScheduleWithArgs(delay, runAsync[T], a, nil)
	if err != nil {
		return nil, err
	}
	// the task may already be running, see setCancelHook
	a.future.setCancelHook(func() { st.Cancel() })
	st.future.OnComplete(func(sf *Future[struct{}]) {
		if sf.IsCancelled() {
			a.future.tryCancel(sf.Cause())
		}
	})
	a.watch()
	return a.future, nil
}
