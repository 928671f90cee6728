// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// signalContext returns a context that is cancelled on the first SIGINT or
// SIGTERM. A second signal exits immediately.
func signalContext(stderr io.Writer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go watchSignals(ch, done, stderr, cancel, os.Exit)
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel()
		})
	}
}

// watchSignals calls cancel on the first signal, and exit on the second. It
// returns once done is closed.
func watchSignals(ch <-chan os.Signal, done <-chan struct{}, stderr io.Writer, cancel func(), exit func(code int)) {
	select {
	case sig := <-ch:
		fmt.Fprintf(stderr, "loopbench: received %s, shutting down\n", sig)
		cancel()
	case <-done:
		return
	}
	select {
	case sig := <-ch:
		fmt.Fprintf(stderr, "loopbench: received %s again, exiting\n", sig)
		exit(1)
	case <-done:
	}
}
