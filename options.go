// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultQuietPeriod is the quiet period used by GracefulShutdown.
	DefaultQuietPeriod = 2 * time.Second
	// DefaultShutdownTimeout is the timeout used by GracefulShutdown.
	DefaultShutdownTimeout = 15 * time.Second
	// DefaultBatchSize is the number of units taken from the immediate queue
	// per lock acquisition.
	DefaultBatchSize = 256
)

// executorOptions holds configuration options for executor creation.
type executorOptions struct {
	logger          *logiface.Logger[logiface.Event]
	panicLogRates   map[time.Duration]int
	name            string
	quietPeriod     time.Duration
	shutdownTimeout time.Duration
	batchSize       int
	metricsEnabled  bool
	lockOSThread    bool
}

// ExecutorOption configures a SingleThreadEventExecutor (or Group) instance.
type ExecutorOption interface {
	applyExecutor(*executorOptions) error
}

// executorOptionImpl implements ExecutorOption.
type executorOptionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (x *executorOptionImpl) applyExecutor(opts *executorOptions) error {
	return x.applyExecutorFunc(opts)
}

// WithName sets the name reported by Name and attached to log events.
func WithName(name string) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.name = name
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger disables logging,
// which is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics enables runtime metrics collection.
// When enabled, metrics can be accessed via SingleThreadEventExecutor.Metrics.
func WithMetrics(enabled bool) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithDefaultQuietPeriod sets the quiet period used by GracefulShutdown.
func WithDefaultQuietPeriod(d time.Duration) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if d < 0 {
			return invalidArgument("negative quiet period %s", d)
		}
		opts.quietPeriod = d
		return nil
	}}
}

// WithDefaultShutdownTimeout sets the timeout used by GracefulShutdown.
// It must not be less than the quiet period, which is validated once all
// options have been applied.
func WithDefaultShutdownTimeout(d time.Duration) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if d < 0 {
			return invalidArgument("negative shutdown timeout %s", d)
		}
		opts.shutdownTimeout = d
		return nil
	}}
}

// WithLockOSThread pins the loop goroutine to its OS thread, for units that
// rely on thread-local state (e.g. cgo libraries).
func WithLockOSThread(enabled bool) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// WithBatchSize sets how many units the loop takes from the immediate queue
// per lock acquisition.
func WithBatchSize(n int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if n < 1 {
			return invalidArgument("batch size %d must be positive", n)
		}
		opts.batchSize = n
		return nil
	}}
}

// WithPanicLogRates sets the rate limits applied to logging of panics from
// fire-and-forget units, as a map of window to maximum events (see
// catrate.NewLimiter). An empty map disables the limit. Each longer window
// must allow more events, at a lower rate, than every shorter one.
func WithPanicLogRates(rates map[time.Duration]int) ExecutorOption {
	return &executorOptionImpl{func(opts *executorOptions) error {
		if _, err := newPanicLimiter(rates); err != nil {
			return err
		}
		opts.panicLogRates = rates
		return nil
	}}
}

// resolveExecutorOptions applies ExecutorOption instances to executorOptions.
func resolveExecutorOptions(opts []ExecutorOption) (*executorOptions, error) {
	cfg := &executorOptions{
		quietPeriod:     DefaultQuietPeriod,
		shutdownTimeout: DefaultShutdownTimeout,
		batchSize:       DefaultBatchSize,
		panicLogRates: map[time.Duration]int{
			time.Second: 10,
			time.Minute: 100,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.shutdownTimeout < cfg.quietPeriod {
		return nil, invalidArgument("shutdown timeout %s is less than the quiet period %s", cfg.shutdownTimeout, cfg.quietPeriod)
	}
	return cfg, nil
}
