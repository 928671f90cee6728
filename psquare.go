// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package eventexecutor

import (
	"slices"
)

// pSquare estimates a single quantile of a stream in constant space, using
// the P² algorithm (Jain and Chlamtac, 1985). It tracks five markers: the
// minimum, the maximum, the target quantile, and the two midpoints.
//
// Thread Safety: NOT thread-safe.
type pSquare struct {
	height  [5]float64 // marker heights
	pos     [5]float64 // actual marker positions, 1-based
	want    [5]float64 // desired marker positions
	incr    [5]float64 // desired position increments, per observation
	p       float64
	count   int
	warmup  [5]float64
	started bool
}

func newPSquare(p float64) *pSquare {
	p = min(max(p, 0), 1)
	return &pSquare{
		p:    p,
		incr: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

// Add records an observation.
func (x *pSquare) Add(v float64) {
	if !x.started {
		x.warmup[x.count] = v
		x.count++
		if x.count == len(x.warmup) {
			x.start()
		}
		return
	}
	x.count++

	var cell int
	switch {
	case v < x.height[0]:
		x.height[0] = v
	case v >= x.height[4]:
		x.height[4] = v
		cell = 3
	default:
		for cell < 3 && v >= x.height[cell+1] {
			cell++
		}
	}

	for i := cell + 1; i < 5; i++ {
		x.pos[i]++
	}
	for i := range x.want {
		x.want[i] += x.incr[i]
	}

	for i := 1; i <= 3; i++ {
		d := x.want[i] - x.pos[i]
		if (d >= 1 && x.pos[i+1]-x.pos[i] > 1) || (d <= -1 && x.pos[i-1]-x.pos[i] < -1) {
			step := 1.0
			if d < 0 {
				step = -1
			}
			h := x.parabolic(i, step)
			if h <= x.height[i-1] || h >= x.height[i+1] {
				h = x.linear(i, step)
			}
			x.height[i] = h
			x.pos[i] += step
		}
	}
}

func (x *pSquare) start() {
	slices.Sort(x.warmup[:])
	x.height = x.warmup
	x.pos = [5]float64{1, 2, 3, 4, 5}
	p := x.p
	x.want = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
	x.started = true
}

func (x *pSquare) parabolic(i int, d float64) float64 {
	q, n := &x.height, &x.pos
	return q[i] + d/(n[i+1]-n[i-1])*
		((n[i]-n[i-1]+d)*(q[i+1]-q[i])/(n[i+1]-n[i])+
			(n[i+1]-n[i]-d)*(q[i]-q[i-1])/(n[i]-n[i-1]))
}

func (x *pSquare) linear(i int, d float64) float64 {
	j := i + int(d)
	return x.height[i] + d*(x.height[j]-x.height[i])/(x.pos[j]-x.pos[i])
}

// Quantile returns the current estimate, which is exact until five
// observations have been made. It returns 0 if there are none.
func (x *pSquare) Quantile() float64 {
	if x.started {
		return x.height[2]
	}
	if x.count == 0 {
		return 0
	}
	sorted := x.warmup
	s := sorted[:x.count]
	slices.Sort(s)
	return s[min(int(x.p*float64(x.count)), x.count-1)]
}

// Count returns the number of observations.
func (x *pSquare) Count() int {
	return x.count
}
