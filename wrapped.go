// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"sync/atomic"
	"time"
)

// TaskDecorator wraps every unit submitted through a [WrappedExecutor],
// e.g. to attach tracing or timing. It runs on the submitting goroutine, and
// the func it returns runs on the loop goroutine.
type TaskDecorator func(fn func()) func()

// WrappedExecutor is an [EventExecutor] that forwards every operation to an
// inner executor. Loop identity is always that of the inner executor.
type WrappedExecutor struct {
	inner     EventExecutor
	decorate  TaskDecorator
	submitted atomic.Uint64
}

// NewWrappedExecutor wraps inner, which must not be nil. The decorator is
// optional.
func NewWrappedExecutor(inner EventExecutor, decorate TaskDecorator) *WrappedExecutor {
	if inner == nil {
		panic(invalidArgument(`nil inner executor`))
	}
	return &WrappedExecutor{inner: inner, decorate: decorate}
}

// Unwrap follows e's wrapper chain to the innermost executor.
func Unwrap(e EventExecutor) EventExecutor {
	if e == nil {
		return nil
	}
	return e.Unwrap()
}

// Inner returns the executor this one forwards to, which may itself be a
// wrapper.
func (w *WrappedExecutor) Inner() EventExecutor {
	return w.inner
}

// Unwrap returns the innermost executor, never a wrapper.
func (w *WrappedExecutor) Unwrap() EventExecutor {
	return w.inner.Unwrap()
}

// Submitted returns the number of submissions made through w, including
// rejected ones.
func (w *WrappedExecutor) Submitted() uint64 {
	return w.submitted.Load()
}

func (w *WrappedExecutor) InEventLoop() bool {
	return w.inner.InEventLoop()
}

func (w *WrappedExecutor) IsInEventLoop(goroutineID uint64) bool {
	return w.inner.IsInEventLoop(goroutineID)
}

func (w *WrappedExecutor) Execute(fn func()) error {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.Execute(fn)
	}
	return w.inner.Execute(w.decorate(fn))
}

func (w *WrappedExecutor) ExecuteWithState(fn func(state any), state any) error {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.ExecuteWithState(fn, state)
	}
	return w.inner.Execute(w.decorate(func() { fn(state) }))
}

func (w *WrappedExecutor) ExecuteWithArgs(fn func(arg, state any), arg, state any) error {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.ExecuteWithArgs(fn, arg, state)
	}
	return w.inner.Execute(w.decorate(func() { fn(arg, state) }))
}

func (w *WrappedExecutor) Schedule(delay time.Duration, fn func()) (*ScheduledTask, error) {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.Schedule(delay, fn)
	}
	return w.inner.Schedule(delay, w.decorate(fn))
}

func (w *WrappedExecutor) ScheduleWithState(delay time.Duration, fn func(state any), state any) (*ScheduledTask, error) {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.ScheduleWithState(delay, fn, state)
	}
	return w.inner.Schedule(delay, w.decorate(func() { fn(state) }))
}

func (w *WrappedExecutor) ScheduleWithArgs(delay time.Duration, fn func(arg, state any), arg, state any) (*ScheduledTask, error) {
	w.submitted.Add(1)
	if w.decorate == nil || fn == nil {
		return w.inner.ScheduleWithArgs(delay, fn, arg, state)
	}
	return w.inner.Schedule(delay, w.decorate(func() { fn(arg, state) }))
}

func (w *WrappedExecutor) GracefulShutdown() *Future[struct{}] {
	return w.inner.GracefulShutdown()
}

func (w *WrappedExecutor) GracefulShutdownWithin(quietPeriod, timeout time.Duration) (*Future[struct{}], error) {
	return w.inner.GracefulShutdownWithin(quietPeriod, timeout)
}

func (w *WrappedExecutor) TerminationFuture() *Future[struct{}] {
	return w.inner.TerminationFuture()
}

func (w *WrappedExecutor) IsShuttingDown() bool {
	return w.inner.IsShuttingDown()
}

func (w *WrappedExecutor) IsShutDown() bool {
	return w.inner.IsShutDown()
}

func (w *WrappedExecutor) IsTerminated() bool {
	return w.inner.IsTerminated()
}
