// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"container/heap"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-eventexecutor/internal/goroutineid"
	"github.com/joeycumines/logiface"
)

// executorIDs numbers executors that weren't given a name.
var executorIDs atomic.Uint64

// SingleThreadEventExecutor is an [EventExecutor] backed by exactly one loop
// goroutine, which it starts on construction.
//
// Units run one at a time, immediate units in FIFO order, scheduled units in
// (deadline, submission) order once due. Submission is safe from any
// goroutine and never blocks.
type SingleThreadEventExecutor struct {
	anchor       time.Time
	termination  *Future[struct{}]
	logger       *logiface.Logger[logiface.Event]
	panicLimiter *catrate.Limiter
	metrics      *metricsCollector
	wakeup       chan struct{}
	timer        *time.Timer
	acceptFn     func() error
	goexitFn     func()
	name         string

	// scheduled submissions not yet merged into the heap, guarded by schedMu
	incoming []*ScheduledTask
	merging  []*ScheduledTask

	// driver-owned
	scheduled scheduledQueue
	batch     []task

	tasks    taskQueue
	shutdown atomic.Pointer[shutdownParams]
	schedMu  sync.Mutex
	state    fastState

	seq             atomic.Uint64
	loopGoroutineID atomic.Uint64
	scheduledLen    atomic.Int64

	// driver-owned
	batchPos          int
	batchLen          int
	lastActivity      int64
	shutdownRan       int
	shutdownCancelled int

	quietPeriod     time.Duration
	shutdownTimeout time.Duration

	schedClosed  bool // guarded by schedMu
	lockOSThread bool
	timedOut     bool // driver-owned
}

// New creates an executor and starts its loop goroutine. The executor runs
// until shut down, see [SingleThreadEventExecutor.GracefulShutdown].
func New(opts ...ExecutorOption) (*SingleThreadEventExecutor, error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}
	return newExecutor(cfg)
}

func newExecutor(cfg *executorOptions) (*SingleThreadEventExecutor, error) {
	limiter, err := newPanicLimiter(cfg.panicLogRates)
	if err != nil {
		return nil, err
	}

	x := &SingleThreadEventExecutor{
		anchor:          time.Now(),
		termination:     newFuture[struct{}](),
		logger:          cfg.logger,
		panicLimiter:    limiter,
		wakeup:          make(chan struct{}, 1),
		timer:           time.NewTimer(math.MaxInt64),
		name:            cfg.name,
		batch:           make([]task, cfg.batchSize),
		quietPeriod:     cfg.quietPeriod,
		shutdownTimeout: cfg.shutdownTimeout,
		lockOSThread:    cfg.lockOSThread,
	}
	x.timer.Stop()
	x.termination.setUncancellable()
	x.termination.panicked = x.logContinuationPanic
	x.acceptFn = x.accept
	x.goexitFn = x.logGoexit
	if x.name == `` {
		x.name = fmt.Sprintf(`eventexecutor-%d`, executorIDs.Add(1))
	}
	if cfg.metricsEnabled {
		x.metrics = newMetricsCollector()
	}

	go x.run()

	return x, nil
}

// Name returns the executor's name.
func (x *SingleThreadEventExecutor) Name() string {
	return x.name
}

// State returns the current lifecycle state.
func (x *SingleThreadEventExecutor) State() ExecutorState {
	return x.state.Load()
}

// PendingTasks returns the number of units waiting in the immediate queue.
func (x *SingleThreadEventExecutor) PendingTasks() int {
	return x.tasks.Length()
}

// ScheduledTasks returns the number of scheduled tasks not yet due, as last
// observed by the loop, plus submissions the loop hasn't picked up yet.
func (x *SingleThreadEventExecutor) ScheduledTasks() int {
	x.schedMu.Lock()
	n := len(x.incoming)
	x.schedMu.Unlock()
	return n + int(x.scheduledLen.Load())
}

// Metrics returns a snapshot of the runtime metrics, or nil if metrics were
// not enabled, see [WithMetrics].
func (x *SingleThreadEventExecutor) Metrics() *Metrics {
	return x.metrics.snapshot()
}

// InEventLoop reports whether the caller is running on the loop goroutine.
func (x *SingleThreadEventExecutor) InEventLoop() bool {
	return x.IsInEventLoop(goroutineid.Get())
}

// IsInEventLoop reports whether the given goroutine (see [GoroutineID]) is
// the loop goroutine.
func (x *SingleThreadEventExecutor) IsInEventLoop(goroutineID uint64) bool {
	return goroutineID != 0 && goroutineID == x.loopGoroutineID.Load()
}

// Unwrap returns x, which isn't a wrapper.
func (x *SingleThreadEventExecutor) Unwrap() EventExecutor {
	return x
}

// Execute enqueues fn, to run on the loop goroutine after everything queued
// before it. Calls from the loop goroutine are queued too, never run inline.
func (x *SingleThreadEventExecutor) Execute(fn func()) error {
	if fn == nil {
		return invalidArgument(`nil action`)
	}
	return x.execute(plainTask(fn))
}

// ExecuteWithState is like Execute, passing state to fn.
func (x *SingleThreadEventExecutor) ExecuteWithState(fn func(state any), state any) error {
	if fn == nil {
		return invalidArgument(`nil action`)
	}
	return x.execute(stateTask(fn, state))
}

// ExecuteWithArgs is like Execute, passing arg and state to fn.
func (x *SingleThreadEventExecutor) ExecuteWithArgs(fn func(arg, state any), arg, state any) error {
	if fn == nil {
		return invalidArgument(`nil action`)
	}
	return x.execute(task{fn: fn, arg: arg, state: state})
}

// Schedule registers fn to run once delay has elapsed. A zero delay makes it
// due immediately, though it still queues behind every earlier submission.
func (x *SingleThreadEventExecutor) Schedule(delay time.Duration, fn func()) (*ScheduledTask, error) {
	if fn == nil {
		return nil, invalidArgument(`nil action`)
	}
	return x.schedule(delay, plainTask(fn))
}

// ScheduleWithState is like Schedule, passing state to fn.
func (x *SingleThreadEventExecutor) ScheduleWithState(delay time.Duration, fn func(state any), state any) (*ScheduledTask, error) {
	if fn == nil {
		return nil, invalidArgument(`nil action`)
	}
	return x.schedule(delay, stateTask(fn, state))
}

// ScheduleWithArgs is like Schedule, passing arg and state to fn.
func (x *SingleThreadEventExecutor) ScheduleWithArgs(delay time.Duration, fn func(arg, state any), arg, state any) (*ScheduledTask, error) {
	if fn == nil {
		return nil, invalidArgument(`nil action`)
	}
	return x.schedule(delay, task{fn: fn, arg: arg, state: state})
}

func (x *SingleThreadEventExecutor) execute(t task) error {
	if err := x.tasks.Push(t, x.acceptFn); err != nil {
		x.rejected(err)
		return err
	}
	x.wake()
	return nil
}

func (x *SingleThreadEventExecutor) schedule(delay time.Duration, t task) (*ScheduledTask, error) {
	if delay < 0 {
		return nil, invalidArgument(`negative delay %s`, delay)
	}

	st := &ScheduledTask{
		executor: x,
		future:   newFuture[struct{}](),
		task:     t,
		index:    -1,
	}
	st.future.cancelHook = st.dequeue
	st.future.panicked = x.logContinuationPanic

	x.schedMu.Lock()
	err := x.accept()
	if err == nil && x.schedClosed {
		err = ErrRejectedExecution
	}
	if err != nil {
		x.schedMu.Unlock()
		x.rejected(err)
		return nil, err
	}
	// assigned under the lock, so sequence order matches deadline order for
	// equal delays, across goroutines
	st.seq = x.seq.Add(1)
	st.deadline = deadlineAfter(x.nanoTime(), delay)
	x.incoming = append(x.incoming, st)
	x.schedMu.Unlock()

	x.wake()

	return st, nil
}

// accept decides whether the calling goroutine may submit work. Once
// shutting down, only the loop goroutine may, to finish draining.
func (x *SingleThreadEventExecutor) accept() error {
	switch state := x.state.Load(); state {
	case StateRunning:
		return nil
	case StateShuttingDown, StateShutDown:
		if x.InEventLoop() {
			return nil
		}
		fallthrough
	default:
		return fmt.Errorf(`%w: %s is %s`, ErrRejectedExecution, x.name, state)
	}
}

func (x *SingleThreadEventExecutor) rejected(err error) {
	x.metrics.recordRejected()
	x.logRejected(err)
}

// dequeue is the cancel hook of a scheduled task, called at most once, on the
// cancelling goroutine.
func (t *ScheduledTask) dequeue() {
	x := t.executor
	x.metrics.recordCancelled()
	if x.InEventLoop() {
		x.removeScheduled(t)
		return
	}
	// the loop skips cancelled tasks anyway, this just releases them early
	if x.tasks.Push(task{fn: removeScheduled, arg: t, internal: true}, nil) == nil {
		x.wake()
	}
}

func removeScheduled(arg, _ any) {
	st := arg.(*ScheduledTask)
	st.executor.removeScheduled(st)
}

func (x *SingleThreadEventExecutor) removeScheduled(st *ScheduledTask) {
	if x.scheduled.Remove(st) {
		x.scheduledLen.Store(int64(len(x.scheduled)))
	}
}

func (x *SingleThreadEventExecutor) wake() {
	select {
	case x.wakeup <- struct{}{}:
	default:
	}
}

// nanoTime returns the monotonic time, relative to the executor's anchor.
func (x *SingleThreadEventExecutor) nanoTime() int64 {
	return int64(time.Since(x.anchor))
}

// run is the loop goroutine. If a unit calls runtime.Goexit, it starts its
// own replacement, so exactly one goroutine drives the loop at a time.
func (x *SingleThreadEventExecutor) run() {
	if x.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	x.loopGoroutineID.Store(goroutineid.Get())

	var exited bool
	defer func() {
		x.loopGoroutineID.Store(0)
		if !exited {
			go x.run()
		}
	}()

	x.loop()

	exited = true
}

func (x *SingleThreadEventExecutor) loop() {
	for {
		x.runAllTasks()
		if x.confirmShutdown() {
			return
		}
		x.await()
	}
}

// runAllTasks is a single iteration: promote every due scheduled task to the
// back of the immediate queue, then run what the immediate queue holds.
// Units enqueued while this runs wait for the next iteration.
func (x *SingleThreadEventExecutor) runAllTasks() {
	now := x.nanoTime()
	x.mergeIncoming()
	x.promoteDue(now)
	pending := x.tasks.Length()
	if x.metrics != nil {
		x.metrics.sampleQueues(pending, len(x.scheduled))
	}
	x.runImmediate(x.batchLen - x.batchPos + pending)
}

// mergeIncoming moves scheduled submissions into the heap.
func (x *SingleThreadEventExecutor) mergeIncoming() {
	x.schedMu.Lock()
	x.incoming, x.merging = x.merging[:0], x.incoming
	x.schedMu.Unlock()

	for i, st := range x.merging {
		x.merging[i] = nil
		if !st.future.IsDone() {
			heap.Push(&x.scheduled, st)
		}
	}
	x.scheduledLen.Store(int64(len(x.scheduled)))
}

func (x *SingleThreadEventExecutor) promoteDue(now int64) {
	var promoted bool
	for {
		st := x.scheduled.PopDue(now)
		if st == nil {
			break
		}
		promoted = true
		if st.future.IsDone() {
			continue
		}
		// can't fail, the queue is only closed by this goroutine
		_ = x.tasks.Push(task{fn: runScheduled, arg: st, scheduled: true}, nil)
	}
	if promoted {
		x.scheduledLen.Store(int64(len(x.scheduled)))
	}
}

// runImmediate runs up to limit units, popping batches as needed. The batch
// cursor lives on x, so a replacement loop goroutine resumes where a Goexit
// left off.
func (x *SingleThreadEventExecutor) runImmediate(limit int) (ran int) {
	for ; ran < limit; ran++ {
		if x.batchPos == x.batchLen {
			x.batchPos = 0
			x.batchLen = x.tasks.PopBatch(x.batch[:min(len(x.batch), limit-ran)])
			if x.batchLen == 0 {
				return
			}
		}
		t := x.batch[x.batchPos]
		x.batch[x.batchPos] = task{}
		x.batchPos++
		x.runUnit(&t)
	}
	return
}

func (x *SingleThreadEventExecutor) runUnit(t *task) {
	if t.scheduled && !t.arg.(*ScheduledTask).start() {
		// cancelled after it was promoted, nothing runs
		return
	}

	var start time.Time
	if x.metrics != nil {
		start = time.Now()
	}

	err := guard(t.run, x.goexitFn)

	if x.metrics != nil {
		x.metrics.recordTask(time.Since(start))
		if err != nil {
			x.metrics.recordFailure()
		}
	}
	if err != nil {
		x.logTaskPanic(err)
	}
	if !t.internal && x.state.Load() != StateRunning {
		x.lastActivity = x.nanoTime()
		x.shutdownRan++
	}
}

// idle reports whether there is nothing left to run, now or later.
func (x *SingleThreadEventExecutor) idle() bool {
	if x.batchPos != x.batchLen || len(x.scheduled) != 0 || x.tasks.Length() != 0 {
		return false
	}
	x.schedMu.Lock()
	defer x.schedMu.Unlock()
	return len(x.incoming) == 0
}

// await blocks until a submission arrives, or the next deadline the loop
// cares about elapses. It returns immediately if there is runnable work.
func (x *SingleThreadEventExecutor) await() {
	if x.batchPos != x.batchLen || x.tasks.Length() != 0 {
		return
	}
	x.schedMu.Lock()
	incoming := len(x.incoming)
	x.schedMu.Unlock()
	if incoming != 0 {
		return
	}

	deadline := int64(math.MaxInt64)
	if st := x.scheduled.Peek(); st != nil {
		deadline = st.deadline
	}
	if x.state.Load() == StateShuttingDown {
		p := x.shutdown.Load()
		deadline = min(deadline, p.timeoutDeadline)
		if len(x.scheduled) == 0 {
			// the quiet period only matters once nothing is left to run
			deadline = min(deadline, x.quietDeadline(p))
		}
	}

	if deadline == math.MaxInt64 {
		<-x.wakeup
		return
	}

	d := time.Duration(deadline - x.nanoTime())
	if d <= 0 {
		return
	}
	x.timer.Reset(d)
	select {
	case <-x.wakeup:
		x.timer.Stop()
	case <-x.timer.C:
	}
}

// guard runs fn, recovering a panic as a *PanicError. If fn calls
// runtime.Goexit, onGoexit (if non-nil) runs before the goroutine exits.
func guard(fn func(), onGoexit func()) (err *PanicError) {
	var completed bool
	defer func() {
		if completed {
			return
		}
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			return
		}
		if onGoexit != nil {
			onGoexit()
		}
	}()
	fn()
	completed = true
	return nil
}
