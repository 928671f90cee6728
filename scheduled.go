// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"container/heap"
	"math"
	"time"
)

// ScheduledTask is the handle to a unit registered to run at or after a
// deadline. It is safe for concurrent use.
type ScheduledTask struct {
	executor *SingleThreadEventExecutor
	future   *Future[struct{}]
	task     task
	// deadline is in nanoseconds relative to the executor's monotonic anchor
	deadline int64
	seq      uint64
	// index is the position in scheduledQueue, or -1; owned by the driver
	index int
}

// Cancel attempts to cancel the task, returning true if it will never run.
// Cancelling a task that has started (or finished) has no effect.
func (t *ScheduledTask) Cancel() bool {
	return t.future.Cancel()
}

// Future returns the task's completion signal.
func (t *ScheduledTask) Future() *Future[struct{}] {
	return t.future
}

// Deadline returns the time at or after which the task becomes due.
func (t *ScheduledTask) Deadline() time.Time {
	return t.executor.anchor.Add(time.Duration(t.deadline))
}

// Delay returns the time remaining until the deadline, floored at zero.
func (t *ScheduledTask) Delay() time.Duration {
	return max(time.Duration(t.deadline-t.executor.nanoTime()), 0)
}

// IsCancelled reports whether the task was cancelled.
func (t *ScheduledTask) IsCancelled() bool {
	return t.future.IsCancelled()
}

// IsDone reports whether the task ran, failed, or was cancelled.
func (t *ScheduledTask) IsDone() bool {
	return t.future.IsDone()
}

// start marks the task as running, returning false if it was cancelled.
func (t *ScheduledTask) start() bool {
	return t.future.setUncancellable()
}

// run is the unit promoted to the immediate queue once the deadline elapses.
// It must only be called after a successful start.
func (t *ScheduledTask) run() {
	if err := guard(t.task.run, t.goexit); err != nil {
		t.executor.metrics.recordFailure()
		t.future.tryFail(err)
		return
	}
	t.future.trySucceed(struct{}{})
}

func (t *ScheduledTask) goexit() {
	t.future.tryFail(ErrGoexit)
}

func runScheduled(arg, _ any) {
	arg.(*ScheduledTask).run()
}

// before orders by deadline, then by sequence number (submission order).
func (t *ScheduledTask) before(o *ScheduledTask) bool {
	if t.deadline != o.deadline {
		return t.deadline < o.deadline
	}
	return t.seq < o.seq
}

// scheduledQueue is the deadline-ordered half of the task queue pair, a
// min-heap of scheduled tasks. Only the driver goroutine touches it.
type scheduledQueue []*ScheduledTask

func (h scheduledQueue) Len() int           { return len(h) }
func (h scheduledQueue) Less(i, j int) bool { return h[i].before(h[j]) }

func (h scheduledQueue) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *scheduledQueue) Push(x any) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *scheduledQueue) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Peek returns the earliest task, or nil.
func (h scheduledQueue) Peek() *ScheduledTask {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// PopDue removes and returns the earliest task if its deadline is <= now.
func (h *scheduledQueue) PopDue(now int64) *ScheduledTask {
	if t := h.Peek(); t != nil && t.deadline <= now {
		return heap.Pop(h).(*ScheduledTask)
	}
	return nil
}

// Remove deletes t if it is still queued.
func (h *scheduledQueue) Remove(t *ScheduledTask) bool {
	if t.index < 0 || t.index >= len(*h) || (*h)[t.index] != t {
		return false
	}
	heap.Remove(h, t.index)
	return true
}

// deadlineAfter returns now+d, saturating instead of overflowing.
func deadlineAfter(now int64, d time.Duration) int64 {
	if int64(d) > math.MaxInt64-now {
		return math.MaxInt64
	}
	return now + int64(d)
}
