// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var groupIDs atomic.Uint64

// Group is a fixed set of executors, handed out round-robin, so that work
// for many channels can be spread across loops while each channel stays
// pinned to one of them.
type Group struct {
	executors   []*SingleThreadEventExecutor
	termination *Future[struct{}]
	next        atomic.Uint64
}

// NewGroup starts n executors, configured by opts. Member names are the
// configured name (or a generated one), suffixed by the member's index.
func NewGroup(n int, opts ...ExecutorOption) (*Group, error) {
	if n < 1 {
		return nil, invalidArgument(`group size %d must be positive`, n)
	}
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}
	name := cfg.name
	if name == `` {
		name = fmt.Sprintf(`eventexecutor-group-%d`, groupIDs.Add(1))
	}

	g := &Group{
		executors:   make([]*SingleThreadEventExecutor, 0, n),
		termination: newFuture[struct{}](),
	}
	g.termination.setUncancellable()

	for i := range n {
		c := *cfg
		c.name = fmt.Sprintf(`%s-%d`, name, i)
		e, err := newExecutor(&c)
		if err != nil {
			for _, e := range g.executors {
				_, _ = e.GracefulShutdownWithin(0, 0)
			}
			return nil, err
		}
		g.executors = append(g.executors, e)
	}

	g.termination.panicked = g.executors[0].logContinuationPanic

	var remaining atomic.Int64
	remaining.Store(int64(n))
	for _, e := range g.executors {
		e.TerminationFuture().OnComplete(func(*Future[struct{}]) {
			if remaining.Add(-1) == 0 {
				g.termination.trySucceed(struct{}{})
			}
		})
	}

	return g, nil
}

// Next returns the next member, round-robin.
func (g *Group) Next() *SingleThreadEventExecutor {
	i := g.next.Add(1) - 1
	return g.executors[i%uint64(len(g.executors))]
}

// Executors returns the members, in index order.
func (g *Group) Executors() []*SingleThreadEventExecutor {
	return append([]*SingleThreadEventExecutor(nil), g.executors...)
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.executors)
}

// GracefulShutdown shuts down every member, with their default parameters,
// returning a future that succeeds once all of them have terminated.
func (g *Group) GracefulShutdown() *Future[struct{}] {
	for _, e := range g.executors {
		e.GracefulShutdown()
	}
	return g.termination
}

// GracefulShutdownWithin shuts down every member, see
// [SingleThreadEventExecutor.GracefulShutdownWithin].
func (g *Group) GracefulShutdownWithin(quietPeriod, timeout time.Duration) (*Future[struct{}], error) {
	for _, e := range g.executors {
		if _, err := e.GracefulShutdownWithin(quietPeriod, timeout); err != nil {
			return nil, err
		}
	}
	return g.termination, nil
}

// Shutdown shuts down every member and waits for them all to terminate, or
// for ctx to be done.
func (g *Group) Shutdown(ctx context.Context) error {
	var eg errgroup.Group
	for _, e := range g.executors {
		eg.Go(func() error {
			if err := e.Shutdown(ctx); err != nil {
				return fmt.Errorf(`%s: %w`, e.Name(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// TerminationFuture returns the future that succeeds once every member has
// terminated.
func (g *Group) TerminationFuture() *Future[struct{}] {
	return g.termination
}

// IsShuttingDown reports whether every member is shutting down.
func (g *Group) IsShuttingDown() bool {
	return g.all((*SingleThreadEventExecutor).IsShuttingDown)
}

// IsShutDown reports whether every member is shut down.
func (g *Group) IsShutDown() bool {
	return g.all((*SingleThreadEventExecutor).IsShutDown)
}

// IsTerminated reports whether every member has terminated.
func (g *Group) IsTerminated() bool {
	return g.all((*SingleThreadEventExecutor).IsTerminated)
}

func (g *Group) all(fn func(*SingleThreadEventExecutor) bool) bool {
	for _, e := range g.executors {
		if !fn(e) {
			return false
		}
	}
	return true
}
