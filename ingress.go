// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"sync"
)

// chunkSize is the number of units per node of the chunked FIFO.
const chunkSize = 128

// task is the single internal representation of a runnable unit, regardless
// of which submission shape produced it. It is immutable once queued.
type task struct {
	fn    func(arg, state any)
	arg   any
	state any
	// internal marks bookkeeping work enqueued by the executor itself, which
	// doesn't count as activity for the quiet period.
	internal bool
	// scheduled marks a promoted *ScheduledTask (arg), which must be started
	// before it runs.
	scheduled bool
}

func (t *task) run() {
	t.fn(t.arg, t.state)
}

// plainTask adapts a bare action to the internal representation, without
// allocating a closure per submission.
func plainTask(fn func()) task {
	return task{fn: runPlain, arg: fn}
}

func runPlain(arg, _ any) {
	arg.(func())()
}

func stateTask(fn func(state any), state any) task {
	return task{fn: runState, arg: fn, state: state}
}

func runState(arg, state any) {
	arg.(func(any))(state)
}

// chunkPool recycles chunks, to avoid GC churn under sustained throughput.
var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunk is a fixed-size node of chunkedIngress, consumed via readPos.
type chunk struct {
	tasks   [chunkSize]task
	next    *chunk
	readPos int
	pos     int
}

func newChunk() *chunk {
	c := chunkPool.Get().(*chunk)
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears any retained closures before pooling the chunk.
func returnChunk(c *chunk) {
	clear(c.tasks[:c.pos])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	chunkPool.Put(c)
}

// chunkedIngress is an unbounded FIFO built from a linked list of
// fixed-size chunks.
//
// Thread Safety: NOT thread-safe, see taskQueue.
type chunkedIngress struct {
	head   *chunk
	tail   *chunk
	length int
}

func (q *chunkedIngress) Push(t task) {
	if q.tail == nil {
		q.tail = newChunk()
		q.head = q.tail
	}
	if q.tail.pos == chunkSize {
		c := newChunk()
		q.tail.next = c
		q.tail = c
	}
	q.tail.tasks[q.tail.pos] = t
	q.tail.pos++
	q.length++
}

func (q *chunkedIngress) Pop() (task, bool) {
	if q.length == 0 {
		return task{}, false
	}
	if q.head.readPos == q.head.pos {
		// exhausted, and length > 0 guarantees a next chunk
		old := q.head
		q.head = old.next
		returnChunk(old)
	}
	t := q.head.tasks[q.head.readPos]
	q.head.tasks[q.head.readPos] = task{}
	q.head.readPos++
	q.length--
	if q.length == 0 {
		// head == tail, reuse it from the start
		q.head.pos = 0
		q.head.readPos = 0
	}
	return t, true
}

func (q *chunkedIngress) Length() int {
	return q.length
}

// taskQueue is the immediate (FIFO) half of the task queue pair. Any number
// of goroutines may push; only the driver pops.
//
// The mutex also linearizes the acceptance check of each submission against
// the driver's final emptiness check, see taskQueue.Close.
type taskQueue struct {
	mu     sync.Mutex
	q      chunkedIngress
	closed bool
}

// Push enqueues t, unless the queue has been closed. The accept func is
// evaluated under the lock, and may veto the push by returning an error.
func (x *taskQueue) Push(t task, accept func() error) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrRejectedExecution
	}
	if accept != nil {
		if err := accept(); err != nil {
			return err
		}
	}
	x.q.Push(t)
	return nil
}

// PopBatch moves up to len(buf) units into buf, returning the count.
func (x *taskQueue) PopBatch(buf []task) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	var n int
	for n < len(buf) {
		t, ok := x.q.Pop()
		if !ok {
			break
		}
		buf[n] = t
		n++
	}
	return n
}

func (x *taskQueue) Length() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.q.Length()
}

// Close marks the queue closed if and only if it is empty, returning true on
// success. After a successful Close every Push fails.
func (x *taskQueue) Close() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.q.Length() != 0 {
		return false
	}
	x.closed = true
	return true
}
