// Package eventexecutor provides single-goroutine event executors: the
// execution substrate for event-driven transports, where every callback,
// task, and timer for a channel must run on one identifiable goroutine, in
// order, without re-entrancy.
//
// # Architecture
//
// A [SingleThreadEventExecutor] owns a loop goroutine, started by [New], and
// a pair of queues: a FIFO of immediate units, and a min-heap of scheduled
// tasks ordered by (deadline, submission order). Each loop iteration moves
// every due scheduled task to the back of the immediate queue, then runs
// what the immediate queue holds. When there is nothing to run, the loop
// blocks until a submission arrives, or the next deadline elapses.
//
// A [Group] spreads channels across several executors, and a
// [WrappedExecutor] decorates an executor without changing its identity,
// see [Unwrap].
//
// # Submission
//
// Every submission shape has a bare, a state, and an arg+state variant,
// which share one internal representation:
//   - [SingleThreadEventExecutor.Execute] enqueues a fire-and-forget unit
//   - [SingleThreadEventExecutor.Schedule] returns a cancellable
//     [ScheduledTask]
//   - [SubmitAsync] and [ScheduleAsync] return a [Future] for a computed
//     value, cancellable through a [context.Context] until the computation
//     starts
//
// A unit that panics never stops the loop. The failure is recorded on the
// unit's future, if it has one, or logged otherwise, see [WithLogger].
//
// # Thread Safety
//
// Submission, cancellation, and lifecycle methods are safe to call from any
// goroutine, and never block. [SingleThreadEventExecutor.InEventLoop]
// reports whether the caller is the loop goroutine.
//
// # Shutdown
//
// [SingleThreadEventExecutor.GracefulShutdownWithin] moves the executor
// through the states of [ExecutorState]. While shutting down, queued and
// scheduled work still runs, but only the loop goroutine may submit more.
// The executor shuts down once it has been idle for the quiet period, or
// once the timeout elapses, then drains the immediate queue, cancels any
// remaining scheduled tasks, and settles the termination future.
//
// # Usage
//
//	e, err := eventexecutor.New(eventexecutor.WithName(`io-0`))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Shutdown(context.Background())
//
//	f, err := eventexecutor.SubmitAsync(ctx, e, func(ctx context.Context) (int, error) {
//	    return 42, nil
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	v, err := f.Wait(ctx)
package eventexecutor
