// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulShutdown_idempotent(t *testing.T) {
	e := newTestExecutor(t)
	f1, err := e.GracefulShutdownWithin(20*time.Millisecond, time.Second)
	require.NoError(t, err)
	f2 := e.GracefulShutdown()
	f3, err := e.GracefulShutdownWithin(0, 0)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Same(t, f1, f3)
	assert.Same(t, f1, e.TerminationFuture())

	_, err = waitFuture(t, f1)
	require.NoError(t, err)
	assert.True(t, e.IsTerminated())
}

func TestGracefulShutdown_secondCallDoesNotRestartQuietPeriod(t *testing.T) {
	e := newTestExecutor(t)
	start := time.Now()
	f, err := e.GracefulShutdownWithin(200*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)
	_, err = e.GracefulShutdownWithin(200*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	// a restarted quiet period would end at 320ms
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Fatalf("quiet period appears to have restarted, took %s", elapsed)
	}
}

func TestGracefulShutdownWithin_invalid(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.GracefulShutdownWithin(-time.Second, time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.GracefulShutdownWithin(time.Second, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, e.IsShuttingDown())
}

// A task scheduled before the shutdown still runs, and the quiet period
// restarts after it.
func TestGracefulShutdown_scheduledTaskStillRuns(t *testing.T) {
	e := newTestExecutor(t)
	ranAt := make(chan time.Time, 1)
	_, err := e.Schedule(50*time.Millisecond, func() { ranAt <- time.Now() })
	require.NoError(t, err)

	start := time.Now()
	f, err := e.GracefulShutdownWithin(10*time.Millisecond, 200*time.Millisecond)
	require.NoError(t, err)

	_, err = waitFuture(t, f)
	require.NoError(t, err)
	terminatedAt := time.Now()

	var ran time.Time
	select {
	case ran = <-ranAt:
	default:
		t.Fatal("scheduled task did not run")
	}
	if d := ran.Sub(start); d < 40*time.Millisecond {
		t.Errorf("scheduled task ran early, after %s", d)
	}
	if d := terminatedAt.Sub(ran); d < 10*time.Millisecond {
		t.Errorf("terminated %s after the task ran, before the quiet period elapsed", d)
	}
	if d := terminatedAt.Sub(start); d >= 200*time.Millisecond+100*time.Millisecond {
		t.Errorf("termination took %s", d)
	}
}

func TestGracefulShutdown_activityExtendsQuietPeriod(t *testing.T) {
	e := newTestExecutor(t)
	start := time.Now()
	// a chain of units, each scheduling the next, keeps the executor busy
	var step func(n int)
	step = func(n int) {
		if n == 0 {
			return
		}
		if _, err := e.Schedule(10*time.Millisecond, func() { step(n - 1) }); err != nil {
			t.Errorf("Schedule() from the loop failed: %v", err)
		}
	}
	syncRun(t, e, func() { step(8) })
	f, err := e.GracefulShutdownWithin(30*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	if d := time.Since(start); d < 80*time.Millisecond+30*time.Millisecond {
		t.Fatalf("terminated after %s, while still active", d)
	}
}

func TestGracefulShutdown_timeoutCancelsScheduled(t *testing.T) {
	var logs logBuffer
	e := newTestExecutor(t, WithLogger(newTestLogger(&logs, logiface.LevelInformational)))
	st, err := e.Schedule(time.Hour, func() { t.Error("task ran after shutdown") })
	require.NoError(t, err)
	async, err := ScheduleAsync(context.Background(), e, time.Hour, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	start := time.Now()
	f, err := e.GracefulShutdownWithin(10*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	_, err = waitFuture(t, st.Future())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, ErrExecutorShutDown)
	_, err = waitFuture(t, async)
	assert.ErrorIs(t, err, ErrExecutorShutDown)
	assert.True(t, async.IsCancelled())

	out := logs.Lines()
	var sawShuttingDown, sawTimedOut, sawTerminated bool
	for _, line := range out {
		switch {
		case strings.Contains(line, `shutting down`):
			sawShuttingDown = true
		case strings.Contains(line, `timed_out`) && strings.Contains(line, `true`):
			sawTimedOut = true
		case strings.Contains(line, `terminated`):
			sawTerminated = true
		}
	}
	assert.True(t, sawShuttingDown, "logs: %v", out)
	assert.True(t, sawTimedOut, "logs: %v", out)
	assert.True(t, sawTerminated, "logs: %v", out)
}

func TestGracefulShutdown_drainsImmediateWork(t *testing.T) {
	e := newTestExecutor(t)
	gate := make(chan struct{})
	require.NoError(t, e.Execute(func() { <-gate }))
	var ran recorder[int]
	for i := range 100 {
		require.NoError(t, e.Execute(func() { ran.Add(i) }))
	}
	f, err := e.GracefulShutdownWithin(0, 0)
	require.NoError(t, err)
	close(gate)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	assert.Len(t, ran.Values(), 100)
}

func TestShuttingDown_rejectsExternalAcceptsLoop(t *testing.T) {
	e := newTestExecutor(t)
	started := make(chan struct{})
	proceed := make(chan struct{})
	var innerErr error
	innerRan := make(chan struct{})
	require.NoError(t, e.Execute(func() {
		close(started)
		<-proceed
		innerErr = e.Execute(func() { close(innerRan) })
	}))
	waitChan(t, started, "unit to start")

	f, err := e.GracefulShutdownWithin(10*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, e.IsShuttingDown())
	assert.False(t, e.IsShutDown())
	assert.Equal(t, StateShuttingDown, e.State())

	err = e.Execute(func() { t.Error("external unit ran") })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	_, err = e.Schedule(0, func() { t.Error("external scheduled unit ran") })
	assert.ErrorIs(t, err, ErrRejectedExecution)
	_, err = SubmitAsync(context.Background(), e, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrRejectedExecution)

	close(proceed)
	waitChan(t, innerRan, "unit submitted from the loop")
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	assert.NoError(t, innerErr)
}

func TestExecute_afterTerminated(t *testing.T) {
	e := newTestExecutor(t)
	f, err := e.GracefulShutdownWithin(0, 0)
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)

	assert.True(t, e.IsShuttingDown())
	assert.True(t, e.IsShutDown())
	assert.True(t, e.IsTerminated())
	assert.Equal(t, StateTerminated, e.State())
	assert.False(t, e.InEventLoop())

	err = e.Execute(func() {})
	if !errors.Is(err, ErrRejectedExecution) {
		t.Fatalf("expected ErrRejectedExecution, got %v", err)
	}
	_, err = e.Schedule(time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrRejectedExecution)
	assert.True(t, f.IsSuccess())
	assert.False(t, f.Cancel())
}

func TestTerminationFuture_cannotBeCancelled(t *testing.T) {
	e := newTestExecutor(t)
	assert.False(t, e.TerminationFuture().Cancel())
	assert.False(t, e.TerminationFuture().IsDone())
}

func TestShutdown_blocks(t *testing.T) {
	e := newTestExecutor(t, WithDefaultQuietPeriod(5*time.Millisecond), WithDefaultShutdownTimeout(time.Second))
	var mu sync.Mutex
	var ran bool
	require.NoError(t, e.Execute(func() {
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		ran = true
		mu.Unlock()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))
	assert.True(t, e.IsTerminated())
	mu.Lock()
	assert.True(t, ran)
	mu.Unlock()
}

func TestShutdown_contextDone(t *testing.T) {
	e := newTestExecutor(t, WithDefaultQuietPeriod(time.Second), WithDefaultShutdownTimeout(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)
	assert.True(t, e.IsShuttingDown())
}

func TestShutdown_cancellationCallbackCanObserveLoop(t *testing.T) {
	e := newTestExecutor(t)
	st, err := e.Schedule(time.Hour, func() {})
	require.NoError(t, err)
	inLoop := make(chan bool, 1)
	var execErr error
	drained := make(chan struct{})
	st.Future().OnComplete(func(*Future[struct{}]) {
		inLoop <- e.InEventLoop()
		execErr = e.Execute(func() { close(drained) })
	})
	f, err := e.GracefulShutdownWithin(0, 0)
	require.NoError(t, err)
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	assert.True(t, <-inLoop)
	require.NoError(t, execErr)
	select {
	case <-drained:
	default:
		t.Fatal("unit submitted by the cancellation callback was not drained")
	}
}

func TestTerminationFuture_panickingContinuationDoesNotStopOthers(t *testing.T) {
	var logs logBuffer
	e := newTestExecutor(t, WithLogger(newTestLogger(&logs, logiface.LevelError)))
	e.TerminationFuture().OnComplete(func(*Future[struct{}]) { panic("termination boom") })
	after := make(chan struct{})
	e.TerminationFuture().OnComplete(func(*Future[struct{}]) { close(after) })

	f, err := e.GracefulShutdownWithin(0, time.Second)
	require.NoError(t, err)
	waitChan(t, after, "second termination continuation")
	_, err = waitFuture(t, f)
	require.NoError(t, err)
	assert.True(t, e.IsTerminated())

	out := strings.Join(logs.Lines(), "\n")
	assert.Contains(t, out, `continuation panicked`)
	assert.Contains(t, out, `termination boom`)
}

func TestGracefulShutdown_cancelledAfterPromotionIsNotActivity(t *testing.T) {
	e := newTestExecutor(t)
	gate := make(chan struct{})
	var (
		st     *ScheduledTask
		stRan  atomic.Bool
		cancel bool
	)
	require.NoError(t, e.Execute(func() {
		<-gate
		var err error
		st, err = e.Schedule(10*time.Millisecond, func() { stRan.Store(true) })
		if err != nil {
			panic(err)
		}
		// the next iteration promotes st behind the canceller
		time.Sleep(30 * time.Millisecond)
		if err := e.Execute(func() { cancel = st.Cancel() }); err != nil {
			panic(err)
		}
	}))

	f, err := e.GracefulShutdownWithin(50*time.Millisecond, 5*time.Second)
	require.NoError(t, err)
	close(gate)
	_, err = waitFuture(t, f)
	require.NoError(t, err)

	assert.True(t, cancel)
	assert.True(t, st.IsCancelled())
	assert.False(t, stRan.Load())
	// the blocker and the canceller
	assert.Equal(t, 2, e.shutdownRan)
}
