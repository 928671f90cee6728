// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"context"
	"sync"
)

// FutureState is the lifecycle state of a [Future]. A future starts
// [FuturePending] and settles exactly once, into one of the other states.
type FutureState int

const (
	// FuturePending indicates no outcome has been recorded yet.
	FuturePending FutureState = iota
	// FutureSucceeded indicates the computation produced a value.
	FutureSucceeded
	// FutureFailed indicates the computation returned an error or panicked.
	FutureFailed
	// FutureCancelled indicates cancellation won the race against starting
	// the computation.
	FutureCancelled
)

// String returns a human-readable representation of the state.
func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "Pending"
	case FutureSucceeded:
		return "Succeeded"
	case FutureFailed:
		return "Failed"
	case FutureCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Future is a single-assignment completion signal, readable from any
// goroutine. Continuations may be attached before or after settlement,
// without losing notifications.
//
// Futures are created by the executor; the zero value is not usable.
type Future[T any] struct {
	value T
	err   error
	done  chan struct{}
	// cancelHook runs (outside the lock) after a successful Cancel, e.g. to
	// remove a scheduled task from its queue.
	cancelHook func()
	callbacks  []func(*Future[T])
	// panicked receives panics recovered from continuations, may be nil.
	panicked func(*PanicError)
	state    FutureState
	// uncancellable is set once the computation has started.
	uncancellable bool
	mu            sync.Mutex
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// State returns the current state.
func (f *Future[T]) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Done returns a channel that is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has settled, in any state.
func (f *Future[T]) IsDone() bool {
	return f.State() != FuturePending
}

// IsSuccess reports whether the future settled with a value.
func (f *Future[T]) IsSuccess() bool {
	return f.State() == FutureSucceeded
}

// IsCancelled reports whether the future settled as cancelled.
func (f *Future[T]) IsCancelled() bool {
	return f.State() == FutureCancelled
}

// Cause returns the failure or cancellation error, or nil if the future is
// pending or succeeded.
func (f *Future[T]) Cause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Result returns the outcome without blocking. While pending it returns
// [ErrFutureNotDone].
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FuturePending {
		var zero T
		return zero, ErrFutureNotDone
	}
	return f.value, f.err
}

// Wait blocks until the future settles or ctx is done. A cancelled future
// returns an error matching [ErrCancelled].
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to be called once the future settles. If it has
// already settled, fn is called immediately on the calling goroutine;
// otherwise it is called on the goroutine that settles the future, in
// registration order. A continuation that panics is logged by the owning
// executor, and the remaining continuations still run.
func (f *Future[T]) OnComplete(fn func(*Future[T])) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		fn(f)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Cancel attempts to cancel the computation, returning true if cancellation
// won. It has no effect once the computation has started or the future has
// settled.
func (f *Future[T]) Cancel() bool {
	return f.tryCancel(nil)
}

func (f *Future[T]) tryCancel(cause error) bool {
	f.mu.Lock()
	if f.state != FuturePending || f.uncancellable {
		f.mu.Unlock()
		return false
	}
	f.state = FutureCancelled
	f.err = cancelledError(cause)
	hook := f.cancelHook
	f.cancelHook = nil
	callbacks := f.settleLocked()
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.notify(callbacks)
	return true
}

// setUncancellable marks the computation as started. It returns false if the
// future was already cancelled (or otherwise settled), in which case the
// computation must not run.
func (f *Future[T]) setUncancellable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != FuturePending {
		return false
	}
	f.uncancellable = true
	f.cancelHook = nil
	return true
}

// setCancelHook sets the hook run by a successful cancellation. It has no
// effect if the computation has started, or the future has settled.
func (f *Future[T]) setCancelHook(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FuturePending && !f.uncancellable {
		f.cancelHook = hook
	}
}

func (f *Future[T]) trySucceed(value T) bool {
	return f.complete(FutureSucceeded, value, nil)
}

func (f *Future[T]) tryFail(err error) bool {
	var zero T
	return f.complete(FutureFailed, zero, err)
}

func (f *Future[T]) complete(state FutureState, value T, err error) bool {
	f.mu.Lock()
	if f.state != FuturePending {
		f.mu.Unlock()
		return false
	}
	f.state = state
	f.value = value
	f.err = err
	f.cancelHook = nil
	callbacks := f.settleLocked()
	f.mu.Unlock()
	f.notify(callbacks)
	return true
}

// settleLocked closes done and detaches the callbacks. Must be called with
// f.mu held, after the state has been set.
func (f *Future[T]) settleLocked() []func(*Future[T]) {
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	return callbacks
}

func (f *Future[T]) notify(callbacks []func(*Future[T])) {
	for _, fn := range callbacks {
		if err := guard(func() { fn(f) }, nil); err != nil && f.panicked != nil {
			f.panicked(err)
		}
	}
}

// completeFrom settles f with the outcome of a computation.
func (f *Future[T]) completeFrom(value T, err error) {
	if err != nil {
		f.tryFail(err)
	} else {
		f.trySucceed(value)
	}
}
