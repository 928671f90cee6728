// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command loopbench drives a group of event executors with concurrent
// producers, checks the ordering guarantees, and reports the executors'
// metrics.
package main

import (
	"fmt"
	"os"
)

func main() {
	ctx, stop := signalContext(os.Stderr)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "loopbench: %v\n", err)
		os.Exit(1)
	}
}
