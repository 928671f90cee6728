// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockLoop occupies the loop until the returned func is called.
func blockLoop(t *testing.T, e EventExecutor) (release func()) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	if err := e.Execute(func() {
		close(started)
		<-gate
	}); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	waitChan(t, started, "blocking unit to start")
	return func() { close(gate) }
}

func TestSubmitAsync_value(t *testing.T) {
	e := newTestExecutor(t)
	f, err := SubmitAsync(context.Background(), e, func(ctx context.Context) (int, error) {
		if !e.InEventLoop() {
			return 0, errors.New("not on the loop")
		}
		return 42, nil
	})
	require.NoError(t, err)
	v, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.IsSuccess())
}

func TestSubmitAsync_error(t *testing.T) {
	e := newTestExecutor(t)
	f, err := SubmitAsync(context.Background(), e, func(context.Context) (string, error) {
		return "", errTest
	})
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, errTest)
	assert.Equal(t, FutureFailed, f.State())
}

func TestSubmitAsync_panic(t *testing.T) {
	e := newTestExecutor(t)
	f, err := SubmitAsync(context.Background(), e, func(context.Context) (int, error) {
		panic("kaboom")
	})
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "kaboom", perr.Value)

	// the loop carries on
	g, err := SubmitAsync(context.Background(), e, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	v, err := waitFuture(t, g)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSubmitAsync_goexit(t *testing.T) {
	e := newTestExecutor(t)
	f, err := SubmitAsync(context.Background(), e, func(context.Context) (int, error) {
		runtime.Goexit()
		return 0, nil
	})
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, ErrGoexit)
	syncRun(t, e, func() {})
}

func TestSubmitAsync_cancelledBeforeStart(t *testing.T) {
	e := newTestExecutor(t)
	release := blockLoop(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	var called atomic.Bool
	f, err := SubmitAsync(ctx, e, func(context.Context) (int, error) {
		called.Store(true)
		return 1, nil
	})
	require.NoError(t, err)
	cancel()
	release()

	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.IsCancelled())
	syncRun(t, e, func() {})
	assert.False(t, called.Load())
}

func TestSubmitAsync_cancelCause(t *testing.T) {
	e := newTestExecutor(t)
	release := blockLoop(t, e)
	defer release()

	ctx, cancel := context.WithCancelCause(context.Background())
	f, err := SubmitAsync(ctx, e, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	cancel(errTest)
	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, errTest)
}

func TestSubmitAsync_futureCancel(t *testing.T) {
	e := newTestExecutor(t)
	release := blockLoop(t, e)
	f, err := SubmitAsync(context.Background(), e, func(context.Context) (int, error) {
		t.Error("cancelled computation ran")
		return 0, nil
	})
	require.NoError(t, err)
	require.True(t, f.Cancel())
	release()
	syncRun(t, e, func() {})
}

func TestSubmitAsync_alreadyCancelledContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := SubmitAsync(ctx, e, func(context.Context) (int, error) {
		t.Error("computation ran")
		return 0, nil
	})
	require.NoError(t, err)
	assert.True(t, f.IsCancelled())
	assert.Equal(t, 0, e.PendingTasks())
}

func TestSubmitAsync_cancelAfterStartHasNoEffect(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	f, err := SubmitAsync(ctx, e, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		// runs to completion, and may observe the cancellation itself
		return 5, nil
	})
	require.NoError(t, err)
	waitChan(t, started, "computation to start")
	cancel()
	assert.False(t, f.Cancel())
	v, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestSubmitAsync_shapes(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	f1, err := SubmitAsyncWithState(ctx, e, func(_ context.Context, state any) (string, error) {
		return state.(string) + "!", nil
	}, "state")
	require.NoError(t, err)
	f2, err := SubmitAsyncWithArgs(ctx, e, func(_ context.Context, arg, state any) (int, error) {
		return arg.(int) * state.(int), nil
	}, 6, 7)
	require.NoError(t, err)
	var ran atomic.Bool
	f3, err := RunAsync(ctx, e, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	v1, err := waitFuture(t, f1)
	require.NoError(t, err)
	assert.Equal(t, "state!", v1)
	v2, err := waitFuture(t, f2)
	require.NoError(t, err)
	assert.Equal(t, 42, v2)
	_, err = waitFuture(t, f3)
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestSubmitAsync_nilFunction(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()
	_, err := SubmitAsync[int](ctx, e, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = SubmitAsyncWithState[int](ctx, e, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = SubmitAsyncWithArgs[int](ctx, e, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = RunAsync(ctx, e, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ScheduleAsync[int](ctx, e, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ScheduleActionAsync(ctx, e, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSubmitAsync_rejected(t *testing.T) {
	e := newTestExecutor(t, WithDefaultQuietPeriod(10*time.Millisecond))
	_, err := waitFuture(t, e.GracefulShutdown())
	require.NoError(t, err)
	f, err := SubmitAsync(context.Background(), e, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.Nil(t, f)
}

func TestScheduleAsync_value(t *testing.T) {
	e := newTestExecutor(t)
	start := time.Now()
	f, err := ScheduleAsync(context.Background(), e, 20*time.Millisecond, func(context.Context) (time.Time, error) {
		return time.Now(), nil
	})
	require.NoError(t, err)
	at, err := waitFuture(t, f)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond)
}

func TestScheduleAsync_shapes(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()
	f1, err := ScheduleAsyncWithState(ctx, e, time.Millisecond, func(_ context.Context, state any) (int, error) {
		return state.(int) + 1, nil
	}, 1)
	require.NoError(t, err)
	f2, err := ScheduleAsyncWithArgs(ctx, e, time.Millisecond, func(_ context.Context, arg, state any) (string, error) {
		return arg.(string) + state.(string), nil
	}, "a", "b")
	require.NoError(t, err)
	var ran atomic.Bool
	f3, err := ScheduleActionAsync(ctx, e, time.Millisecond, func() { ran.Store(true) })
	require.NoError(t, err)

	v1, err := waitFuture(t, f1)
	require.NoError(t, err)
	assert.Equal(t, 2, v1)
	v2, err := waitFuture(t, f2)
	require.NoError(t, err)
	assert.Equal(t, "ab", v2)
	_, err = waitFuture(t, f3)
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestScheduleAsync_negativeDelay(t *testing.T) {
	e := newTestExecutor(t)
	_, err := ScheduleAsync(context.Background(), e, -1, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestScheduleAsync_cancelRemovesTask(t *testing.T) {
	e := newTestExecutor(t)
	f, err := ScheduleAsync(context.Background(), e, time.Hour, func(context.Context) (int, error) {
		t.Error("cancelled computation ran")
		return 0, nil
	})
	require.NoError(t, err)
	eventually(t, "task to be scheduled", func() bool { return e.ScheduledTasks() == 1 })
	require.True(t, f.Cancel())
	eventually(t, "task to be removed", func() bool { return e.ScheduledTasks() == 0 })
	assert.True(t, f.IsCancelled())
}

func TestScheduleAsync_contextCancel(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	f, err := ScheduleAsync(ctx, e, time.Hour, func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	cancel()
	_, err = waitFuture(t, f)
	assert.ErrorIs(t, err, context.Canceled)
	eventually(t, "task to be removed", func() bool { return e.ScheduledTasks() == 0 })
}

func TestScheduleAsync_alreadyCancelledContext(t *testing.T) {
	e := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := ScheduleAsync(ctx, e, 0, func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.True(t, f.IsCancelled())
	assert.Equal(t, 0, e.ScheduledTasks())
}

func TestSubmitAsync_panickingContinuationDoesNotStopOthers(t *testing.T) {
	var logs logBuffer
	e := newTestExecutor(t, WithName(`continuations`), WithLogger(newTestLogger(&logs, logiface.LevelError)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := blockLoop(t, e)
	f, err := SubmitAsync(ctx, e, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	f.OnComplete(func(*Future[int]) { panic("continuation boom") })
	second := make(chan int, 1)
	f.OnComplete(func(f *Future[int]) {
		v, _ := f.Result()
		second <- v
	})
	release()

	assert.Equal(t, 7, waitChan(t, second, "second continuation"))
	syncRun(t, e, func() {})

	cancel()
	assert.True(t, f.IsSuccess())

	out := strings.Join(logs.Lines(), "\n")
	assert.Contains(t, out, `continuation panicked`)
	assert.Contains(t, out, `continuation boom`)
	assert.Contains(t, out, `continuations`)
}

func TestScheduleAsync_panickingContinuationDoesNotStopOthers(t *testing.T) {
	var logs logBuffer
	e := newTestExecutor(t, WithLogger(newTestLogger(&logs, logiface.LevelError)))
	release := blockLoop(t, e)
	st, err := e.Schedule(time.Millisecond, func() {})
	require.NoError(t, err)
	var ran recorder[int]
	st.Future().OnComplete(func(*Future[struct{}]) {
		ran.Add(1)
		panic(errTest)
	})
	done := make(chan struct{})
	st.Future().OnComplete(func(*Future[struct{}]) {
		ran.Add(2)
		close(done)
	})
	release()
	waitChan(t, done, "second continuation")
	assert.Equal(t, []int{1, 2}, ran.Values())
	syncRun(t, e, func() {})
	assert.Contains(t, strings.Join(logs.Lines(), "\n"), `continuation panicked`)
}

func TestSubmitAsync_rejectedTakesPrecedenceOverDoneContext(t *testing.T) {
	e := newTestExecutor(t)
	term, err := e.GracefulShutdownWithin(0, 0)
	require.NoError(t, err)
	_, err = waitFuture(t, term)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f, err := SubmitAsync(ctx, e, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.Nil(t, f)

	r, err := RunAsync(ctx, NewWrappedExecutor(e, nil), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.Nil(t, r)

	sf, err := ScheduleAsync(ctx, e, time.Millisecond, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.Nil(t, sf)
}

func TestGoroutineID(t *testing.T) {
	id := GoroutineID()
	if id == 0 {
		t.Fatal("GoroutineID() returned 0")
	}
	other := make(chan uint64)
	go func() { other <- GoroutineID() }()
	if <-other == id {
		t.Fatal("distinct goroutines share an id")
	}
}
