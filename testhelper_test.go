// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// newTestExecutor creates an executor that is shut down (quickly) when the
// test ends.
func newTestExecutor(t *testing.T, opts ...ExecutorOption) *SingleThreadEventExecutor {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		f, err := e.GracefulShutdownWithin(0, time.Second)
		if err != nil {
			t.Errorf("GracefulShutdownWithin() failed: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := f.Wait(ctx); err != nil {
			t.Errorf("executor %s did not terminate: %v", e.Name(), err)
		}
	})
	return e
}

// waitFuture waits for f to settle, failing the test if it takes too long.
func waitFuture[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("future did not settle, state %s", f.State())
	}
	return f.Result()
}

// waitChan waits for ch to be closed or to receive, failing the test on
// timeout.
func waitChan[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

// syncRun runs fn on the loop and waits for it, useful as a barrier.
func syncRun(t *testing.T, e EventExecutor, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := e.Execute(func() {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	waitChan(t, done, "unit to run")
}

// eventually polls cond until it holds, failing the test on timeout.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recorder collects values from multiple goroutines.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (x *recorder[T]) Add(v T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.values = append(x.values, v)
}

func (x *recorder[T]) Values() []T {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]T(nil), x.values...)
}

// logBuffer is a goroutine-safe sink for a stumpy logger.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *logBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *logBuffer) Lines() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	s := strings.TrimSpace(x.buf.String())
	if s == `` {
		return nil
	}
	return strings.Split(s, "\n")
}

func newTestLogger(w *logBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

var errTest = errors.New("test error")
