// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of an executor's runtime statistics,
// see [WithMetrics].
//
// Example:
//
//	e, _ := New(WithMetrics(true))
//	...
//	m := e.Metrics()
//	fmt.Printf("TPS: %.2f, P99 latency: %v\n", m.TPS, m.Latency.P99)
type Metrics struct {
	Latency LatencyMetrics
	Queue   QueueMetrics

	// TPS is the number of units run per second, averaged over the window.
	TPS float64

	Executed  uint64
	Failed    uint64
	Rejected  uint64
	Cancelled uint64
}

// LatencyMetrics describes how long units took to run. Percentiles are
// streaming estimates.
type LatencyMetrics struct {
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
}

// QueueMetrics describes queue depths, as sampled once per loop iteration.
type QueueMetrics struct {
	ImmediateCurrent int
	ImmediateMax     int
	ImmediateAvg     float64 // EMA, alpha 0.1

	ScheduledCurrent int
	ScheduledMax     int
	ScheduledAvg     float64 // EMA, alpha 0.1
}

// metricsCollector is written by the loop goroutine, and read by Metrics.
// All methods are nil-safe, a nil collector records nothing.
type metricsCollector struct {
	tps       *tpsCounter
	quantiles [4]*pSquare // P50, P90, P95, P99

	mu        sync.Mutex
	latency   LatencyMetrics
	sum       time.Duration
	queue     QueueMetrics
	sampled   bool
	executed  atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
	cancelled atomic.Uint64
}

func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		tps: newTPSCounter(10*time.Second, 100*time.Millisecond),
		quantiles: [4]*pSquare{
			newPSquare(0.50),
			newPSquare(0.90),
			newPSquare(0.95),
			newPSquare(0.99),
		},
	}
}

func (m *metricsCollector) recordTask(d time.Duration) {
	if m == nil {
		return
	}
	m.executed.Add(1)
	m.tps.Increment()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.quantiles {
		q.Add(float64(d))
	}
	m.sum += d
	m.latency.Count++
	m.latency.Max = max(m.latency.Max, d)
}

func (m *metricsCollector) recordFailure() {
	if m != nil {
		m.failed.Add(1)
	}
}

func (m *metricsCollector) recordRejected() {
	if m != nil {
		m.rejected.Add(1)
	}
}

func (m *metricsCollector) recordCancelled() {
	if m != nil {
		m.cancelled.Add(1)
	}
}

func (m *metricsCollector) sampleQueues(immediate, scheduled int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := &m.queue
	q.ImmediateCurrent, q.ScheduledCurrent = immediate, scheduled
	q.ImmediateMax = max(q.ImmediateMax, immediate)
	q.ScheduledMax = max(q.ScheduledMax, scheduled)
	if !m.sampled {
		// warm start
		q.ImmediateAvg, q.ScheduledAvg = float64(immediate), float64(scheduled)
		m.sampled = true
		return
	}
	q.ImmediateAvg = 0.9*q.ImmediateAvg + 0.1*float64(immediate)
	q.ScheduledAvg = 0.9*q.ScheduledAvg + 0.1*float64(scheduled)
}

func (m *metricsCollector) snapshot() *Metrics {
	if m == nil {
		return nil
	}
	s := &Metrics{
		TPS:       m.tps.TPS(),
		Executed:  m.executed.Load(),
		Failed:    m.failed.Load(),
		Rejected:  m.rejected.Load(),
		Cancelled: m.cancelled.Load(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.Queue = m.queue
	s.Latency = m.latency
	if n := m.latency.Count; n != 0 {
		s.Latency.P50 = time.Duration(m.quantiles[0].Quantile())
		s.Latency.P90 = time.Duration(m.quantiles[1].Quantile())
		s.Latency.P95 = time.Duration(m.quantiles[2].Quantile())
		s.Latency.P99 = time.Duration(m.quantiles[3].Quantile())
		s.Latency.Mean = m.sum / time.Duration(n)
	}
	return s
}

// tpsCounter counts events over a rolling window, made of fixed-size
// buckets. The newest bucket is last.
type tpsCounter struct {
	start   time.Time // start of the newest bucket
	buckets []int64
	bucket  time.Duration
	window  time.Duration
	mu      sync.Mutex
}

func newTPSCounter(window, bucket time.Duration) *tpsCounter {
	return &tpsCounter{
		start:   time.Now(),
		buckets: make([]int64, max(int(window/bucket), 1)),
		bucket:  bucket,
		window:  window,
	}
}

func (t *tpsCounter) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotate(time.Now())
	t.buckets[len(t.buckets)-1]++
}

// TPS returns the average rate over the whole window, so it under-reports
// until the executor has been running for a full window.
func (t *tpsCounter) TPS() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotate(time.Now())
	var sum int64
	for _, v := range t.buckets {
		sum += v
	}
	return float64(sum) / t.window.Seconds()
}

func (t *tpsCounter) rotate(now time.Time) {
	n := int(now.Sub(t.start) / t.bucket)
	if n <= 0 {
		return
	}
	if n >= len(t.buckets) {
		clear(t.buckets)
		t.start = now
		return
	}
	copy(t.buckets, t.buckets[n:])
	clear(t.buckets[len(t.buckets)-n:])
	t.start = t.start.Add(time.Duration(n) * t.bucket)
}
