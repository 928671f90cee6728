// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
)

// Log categories, used as the rate limiter key, and as the "category" field.
const (
	categoryTask         = "task"
	categoryContinuation = "continuation"
	categoryShutdown     = "shutdown"
	categorySubmit       = "submit"
)

// newPanicLimiter builds the limiter applied to panic logs. An empty rates map
// yields a nil limiter, which allows everything.
func newPanicLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			limiter = nil
			err = invalidArgument("panic log rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// logTaskPanic reports a panic from a unit whose failure has no completion
// signal to be recorded on.
func (x *SingleThreadEventExecutor) logTaskPanic(err *PanicError) {
	x.logPanic(categoryTask, `task panicked`, err)
}

// logContinuationPanic reports a panic from an OnComplete continuation of a
// future owned by this executor.
func (x *SingleThreadEventExecutor) logContinuationPanic(err *PanicError) {
	x.logPanic(categoryContinuation, `continuation panicked`, err)
}

func (x *SingleThreadEventExecutor) logPanic(category, msg string, err *PanicError) {
	b := x.logger.Err()
	if !b.Enabled() {
		return
	}
	next, ok := x.panicLimiter.Allow(category)
	if !ok {
		b.Release()
		return
	}
	b = b.Str(`executor`, x.name).
		Str(`category`, category).
		Str(`panic`, fmt.Sprint(err.Value)).
		Str(`stack`, string(err.Stack))
	if !next.IsZero() {
		// this is the last event before the limit kicks in
		b = b.Time(`next`, next)
	}
	b.Log(msg)
}

func (x *SingleThreadEventExecutor) logRejected(err error) {
	x.logger.Debug().
		Str(`executor`, x.name).
		Str(`category`, categorySubmit).
		Err(err).
		Log(`submission rejected`)
}

func (x *SingleThreadEventExecutor) logShuttingDown(p *shutdownParams) {
	x.logger.Info().
		Str(`executor`, x.name).
		Str(`category`, categoryShutdown).
		Dur(`quiet_period`, p.quietPeriod).
		Dur(`timeout`, p.timeout).
		Log(`shutting down`)
}

func (x *SingleThreadEventExecutor) logShutDown(timedOut bool, ran int) {
	x.logger.Info().
		Str(`executor`, x.name).
		Str(`category`, categoryShutdown).
		Bool(`timed_out`, timedOut).
		Int(`tasks_run`, ran).
		Log(`shut down`)
}

func (x *SingleThreadEventExecutor) logTerminated(cancelled int) {
	x.logger.Info().
		Str(`executor`, x.name).
		Str(`category`, categoryShutdown).
		Int(`scheduled_cancelled`, cancelled).
		Log(`terminated`)
}

func (x *SingleThreadEventExecutor) logGoexit() {
	x.logger.Warning().
		Str(`executor`, x.name).
		Str(`category`, categoryTask).
		Log(`task called runtime.Goexit, replacing the loop goroutine`)
}
