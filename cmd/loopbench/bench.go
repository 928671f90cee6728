// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/joeycumines/go-eventexecutor"
	"github.com/joeycumines/logiface"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type benchConfig struct {
	Loops       int
	Producers   int
	Tasks       int
	Scheduled   int
	BatchSize   int
	MaxDelay    time.Duration
	QuietPeriod time.Duration
	Timeout     time.Duration
	Seed        int64
}

func loadBenchConfig(v *viper.Viper) (benchConfig, error) {
	cfg := benchConfig{
		Loops:       v.GetInt(`loops`),
		Producers:   v.GetInt(`producers`),
		Tasks:       v.GetInt(`tasks`),
		Scheduled:   v.GetInt(`scheduled`),
		BatchSize:   v.GetInt(`batch-size`),
		MaxDelay:    v.GetDuration(`max-delay`),
		QuietPeriod: v.GetDuration(`quiet-period`),
		Timeout:     v.GetDuration(`timeout`),
		Seed:        v.GetInt64(`seed`),
	}
	switch {
	case cfg.Loops < 1:
		return cfg, fmt.Errorf(`loops must be positive, got %d`, cfg.Loops)
	case cfg.Producers < 1:
		return cfg, fmt.Errorf(`producers must be positive, got %d`, cfg.Producers)
	case cfg.Tasks < 0 || cfg.Scheduled < 0:
		return cfg, fmt.Errorf(`task counts must not be negative`)
	case cfg.MaxDelay < 0:
		return cfg, fmt.Errorf(`max delay must not be negative, got %s`, cfg.MaxDelay)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return cfg, nil
}

// lane is the per-executor scheduled run order. Loop goroutine only.
type lane struct {
	order uint64
}

// producer submits to a single executor, so its immediate tasks must run in
// submission order. The last group of fields is only touched by the loop
// goroutine, until the group terminates.
type producer struct {
	executor  *eventexecutor.SingleThreadEventExecutor
	lane      *lane
	rand      *rand.Rand
	accepted  int
	scheduled []*scheduledRecord

	next       int
	ran        int
	violations int
}

type scheduledRecord struct {
	task  *eventexecutor.ScheduledTask
	lane  *lane
	order uint64 // 0 if it never ran
	ranAt time.Time
}

func runTask(arg, state any) {
	p, seq := arg.(*producer), state.(int)
	if seq != p.next {
		p.violations++
	}
	p.next = seq + 1
	p.ran++
}

func runScheduledRecord(arg any) {
	r := arg.(*scheduledRecord)
	r.lane.order++
	r.order = r.lane.order
	r.ranAt = time.Now()
}

func (p *producer) submit(ctx context.Context, cfg benchConfig) error {
	every := 0
	if cfg.Scheduled != 0 {
		every = max(cfg.Tasks/cfg.Scheduled, 1)
	}
	for i := 0; i < cfg.Tasks || len(p.scheduled) < cfg.Scheduled; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if every != 0 && i%every == 0 && len(p.scheduled) < cfg.Scheduled {
			var delay time.Duration
			if cfg.MaxDelay > 0 {
				delay = time.Duration(p.rand.Int64N(int64(cfg.MaxDelay) + 1))
			}
			r := &scheduledRecord{lane: p.lane}
			st, err := p.executor.ScheduleWithState(delay, runScheduledRecord, r)
			if err != nil {
				return err
			}
			r.task = st
			p.scheduled = append(p.scheduled, r)
		}
		if i < cfg.Tasks {
			if err := p.executor.ExecuteWithArgs(runTask, p, i); err != nil {
				return err
			}
			p.accepted++
		}
	}
	return nil
}

// runBench returns a nil report only if the group could not be started, or
// did not terminate before ctx was done.
func runBench(ctx context.Context, cfg benchConfig, logger *logiface.Logger[logiface.Event]) (*report, error) {
	g, err := eventexecutor.NewGroup(cfg.Loops,
		eventexecutor.WithName(`loopbench`),
		eventexecutor.WithLogger(logger),
		eventexecutor.WithMetrics(true),
		eventexecutor.WithBatchSize(cfg.BatchSize),
		eventexecutor.WithDefaultQuietPeriod(cfg.QuietPeriod),
		eventexecutor.WithDefaultShutdownTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}

	lanes := make(map[*eventexecutor.SingleThreadEventExecutor]*lane, g.Len())
	for _, e := range g.Executors() {
		lanes[e] = new(lane)
	}
	producers := make([]*producer, cfg.Producers)
	for i := range producers {
		e := g.Next()
		producers[i] = &producer{
			executor:  e,
			lane:      lanes[e],
			rand:      rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(i))),
			scheduled: make([]*scheduledRecord, 0, cfg.Scheduled),
		}
	}

	logger.Info().
		Int(`loops`, cfg.Loops).
		Int(`producers`, cfg.Producers).
		Int(`tasks`, cfg.Tasks).
		Int(`scheduled`, cfg.Scheduled).
		Int64(`seed`, cfg.Seed).
		Log(`starting`)

	start := time.Now()
	var eg errgroup.Group
	for _, p := range producers {
		eg.Go(func() error { return p.submit(ctx, cfg) })
	}
	submitErr := eg.Wait()

	g.GracefulShutdown()
	if _, err := g.TerminationFuture().Wait(ctx); err != nil {
		return nil, fmt.Errorf(`waiting for termination: %w`, err)
	}

	rep := newReport(cfg, producers, time.Since(start))
	for _, e := range g.Executors() {
		rep.addExecutor(e.Name(), e.Metrics())
	}
	logger.Info().
		Dur(`elapsed`, time.Duration(rep.Elapsed)).
		Int(`violations`, rep.Violations()).
		Log(`finished`)

	return rep, submitErr
}

func newReport(cfg benchConfig, producers []*producer, elapsed time.Duration) *report {
	rep := &report{
		Seed:      cfg.Seed,
		Loops:     cfg.Loops,
		Producers: cfg.Producers,
		Elapsed:   duration(elapsed),
	}

	byLane := make(map[*lane][]*scheduledRecord)
	for _, p := range producers {
		rep.Accepted += p.accepted
		rep.Ran += p.ran
		rep.FIFOViolations += p.violations
		byLane[p.lane] = append(byLane[p.lane], p.scheduled...)
	}
	rep.Lost = rep.Accepted - rep.Ran
	if s := elapsed.Seconds(); s > 0 {
		rep.Throughput = float64(rep.Ran) / s
	}

	for _, records := range byLane {
		ran := make([]*scheduledRecord, 0, len(records))
		for _, r := range records {
			rep.ScheduledAccepted++
			if r.order == 0 {
				rep.ScheduledCancelled++
				continue
			}
			ran = append(ran, r)
		}
		rep.ScheduledRan += len(ran)
		slices.SortFunc(ran, func(a, b *scheduledRecord) int {
			return cmp.Compare(a.order, b.order)
		})
		for i, r := range ran {
			if i != 0 && r.task.Deadline().Before(ran[i-1].task.Deadline()) {
				rep.DeadlineViolations++
			}
			rep.MaxLateness = max(rep.MaxLateness, duration(r.ranAt.Sub(r.task.Deadline())))
		}
	}

	return rep
}
