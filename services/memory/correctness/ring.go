// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package correctness

// scoreWindow is a fixed-size circular buffer of scores used for
// rolling averages. When full, the oldest score is overwritten.
//
// # Thread Safety
//
// NOT safe for concurrent use; caller must synchronize.
type scoreWindow struct {
	data  []float64
	head  int // Next write position
	count int
	full  bool
}

func newScoreWindow(capacity int) *scoreWindow {
	if capacity <= 0 {
		capacity = 100 // Default
	}
	return &scoreWindow{data: make([]float64, capacity)}
}

// Push adds a score, evicting the oldest when at capacity.
func (w *scoreWindow) Push(score float64) {
	w.data[w.head] = score
	w.head = (w.head + 1) % len(w.data)
	if w.full {
		return
	}
	w.count++
	if w.count == len(w.data) {
		w.full = true
	}
}

// Mean returns the average over the window, or the fallback when empty.
func (w *scoreWindow) Mean(fallback float64) float64 {
	if w.count == 0 {
		return fallback
	}
	total := 0.0
	for i := 0; i < w.count; i++ {
		total += w.data[i]
	}
	return total / float64(w.count)
}

// Len returns the current number of scores.
func (w *scoreWindow) Len() int {
	return w.count
}
