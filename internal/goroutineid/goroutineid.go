// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package goroutineid extracts the runtime's identifier for the calling
// goroutine.
//
// The identifier is parsed from the header line of [runtime.Stack], which has
// the stable form "goroutine N [status]:". It costs on the order of a
// microsecond, so callers should avoid it on hot paths where a cheaper check
// (e.g. an atomic state load) can short-circuit.
package goroutineid

import (
	"runtime"
)

const prefix = "goroutine "

// Get returns the ID of the calling goroutine, or 0 if it could not be
// determined. Real goroutine IDs are never 0.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(b []byte) uint64 {
	if len(b) <= len(prefix) || string(b[:len(prefix)]) != prefix {
		return 0
	}
	var id uint64
	for _, c := range b[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
