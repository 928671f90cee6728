// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ExecutorState is the lifecycle state of an executor.
//
// State Machine (monotonic, no state is ever revisited):
//
//	StateRunning → StateShuttingDown   [GracefulShutdown*]
//	StateShuttingDown → StateShutDown  [quiet period elapsed, or timeout]
//	StateShutDown → StateTerminated    [queues drained, driver exiting]
//
// The numeric values are ordered, so "at least" comparisons are valid.
type ExecutorState uint32

const (
	// StateRunning accepts work from any goroutine.
	StateRunning ExecutorState = iota
	// StateShuttingDown keeps running queued work, waiting for a quiet period.
	StateShuttingDown
	// StateShutDown drains the remaining immediate work.
	StateShutDown
	// StateTerminated is terminal; the termination future has settled.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s ExecutorState) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateShutDown:
		return "ShutDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is the executor's lock-free state word, padded so that the hot
// load on every submission doesn't false-share with neighbouring fields.
type fastState struct { // betteralign:ignore
	_ cpu.CacheLinePad
	v atomic.Uint32
	_ cpu.CacheLinePad
}

func (s *fastState) Load() ExecutorState {
	return ExecutorState(s.v.Load())
}

// TryTransition attempts to atomically move from one state to another.
func (s *fastState) TryTransition(from, to ExecutorState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// Advance moves the state forward to at least the target, never backwards.
// It returns true if this call performed the transition.
func (s *fastState) Advance(to ExecutorState) bool {
	for {
		current := s.Load()
		if current >= to {
			return false
		}
		if s.TryTransition(current, to) {
			return true
		}
	}
}
