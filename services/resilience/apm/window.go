// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package apm

import "time"

// zoneWindow is a fixed-capacity FIFO ring of Apdex zone classifications.
// The oldest entry is evicted on overflow; length never exceeds capacity.
// Not safe for concurrent use; the monitor guards it.
type zoneWindow struct {
	buf   []Zone
	head  int // index of the oldest entry
	count int
}

func newZoneWindow(capacity int) *zoneWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &zoneWindow{buf: make([]Zone, capacity)}
}

func (w *zoneWindow) push(z Zone) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = z
		w.count++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	w.buf[w.head] = z
	w.head = (w.head + 1) % len(w.buf)
}

func (w *zoneWindow) len() int { return w.count }

// counts returns the number of satisfied and tolerating entries.
func (w *zoneWindow) counts() (satisfied, tolerating int) {
	for i := 0; i < w.count; i++ {
		switch w.buf[(w.head+i)%len(w.buf)] {
		case ZoneSatisfied:
			satisfied++
		case ZoneTolerating:
			tolerating++
		}
	}
	return satisfied, tolerating
}

// timeWindow is a fixed-capacity FIFO ring of completion timestamps used for
// throughput derivation. Same eviction semantics as zoneWindow.
type timeWindow struct {
	buf   []time.Time
	head  int
	count int
}

func newTimeWindow(capacity int) *timeWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &timeWindow{buf: make([]time.Time, capacity)}
}

func (w *timeWindow) push(t time.Time) {
	if w.count < len(w.buf) {
		w.buf[(w.head+w.count)%len(w.buf)] = t
		w.count++
		return
	}
	w.buf[w.head] = t
	w.head = (w.head + 1) % len(w.buf)
}

func (w *timeWindow) len() int { return w.count }

// span returns the oldest and newest timestamps. Only meaningful for len >= 2.
func (w *timeWindow) span() (first, last time.Time) {
	first = w.buf[w.head]
	last = w.buf[(w.head+w.count-1)%len(w.buf)]
	return first, last
}

// throughput derives transactions/second from the window: (k-1) completions
// over the span between the first and last timestamps. Returns ok=false when
// the window holds fewer than two entries or the span is zero.
func (w *timeWindow) throughput() (perSecond float64, ok bool) {
	if w.count < 2 {
		return 0, false
	}
	first, last := w.span()
	elapsed := last.Sub(first).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return float64(w.count-1) / elapsed, true
}
