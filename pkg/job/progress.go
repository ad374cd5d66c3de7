// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package job

import "sync/atomic"

// Progress is a shared counter of abstract work units driving a
// caller-visible progress bar.
//
// Several jobs may tick the same Progress: a cross-validation run
// spans N+1 trainings on a single counter sized (N+1) x the units of
// one training. Ownership of teardown stays with whoever created the
// counter; Close marks it finished regardless of the tick count.
type Progress struct {
	total  int64
	ticks  atomic.Int64
	closed atomic.Bool
}

// NewProgress creates a counter expecting total units of work.
// A non-positive total is treated as 1 unit.
func NewProgress(total int64) *Progress {
	if total <= 0 {
		total = 1
	}
	return &Progress{total: total}
}

// Tick records units of completed work. Over-ticking clamps at the
// total when read through Fraction.
func (p *Progress) Tick(units int64) {
	if units > 0 {
		p.ticks.Add(units)
	}
}

// Total returns the expected number of units.
func (p *Progress) Total() int64 { return p.total }

// Units returns the number of units recorded so far (unclamped).
func (p *Progress) Units() int64 { return p.ticks.Load() }

// Fraction returns completion in [0, 1]. A closed counter always
// reports 1.
func (p *Progress) Fraction() float64 {
	if p.closed.Load() {
		return 1
	}
	f := float64(p.ticks.Load()) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// Close marks the counter finished. Idempotent.
func (p *Progress) Close() { p.closed.Store(true) }

// Closed reports whether the counter has been torn down.
func (p *Progress) Closed() bool { return p.closed.Load() }
