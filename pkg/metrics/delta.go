/*
 * MIT License
 *
 * Copyright (c) 2026 Nguyen Thanh Phuong
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package metrics

import "time"

// Delta is the change of one counter (or a sum of counters) between two snapshots.
type Delta struct {
	Valid   bool
	Value   uint64
	Elapsed time.Duration
	Reason  Reason
}

// PerSecond returns the delta normalized by the elapsed time, or 0 if invalid.
func (d Delta) PerSecond() float64 {
	if !d.Valid || d.Elapsed <= 0 {
		return 0
	}
	return float64(d.Value) / d.Elapsed.Seconds()
}

// ComputeDelta returns the change of field between prev and current.
// A nil prev is the first observation of a key. Zero or negative elapsed time,
// a field present in only one of the snapshots, and a counter that went
// backwards (restart, reset, wraparound) all yield an invalid delta. A field
// absent from both snapshots contributes zero.
func ComputeDelta(prev *Snapshot, current Snapshot, field string) Delta {
	return ComputeSumDelta(prev, current, field)
}

// ComputeSumDelta is ComputeDelta applied to the sum of fields. Only the
// sums are compared, so one field going down while the sum grows (iowait
// does this on Linux) is still a valid delta.
func ComputeSumDelta(prev *Snapshot, current Snapshot, fields ...string) Delta {
	if prev == nil {
		return Delta{Reason: ReasonBaseline}
	}

	elapsed := current.Timestamp.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return Delta{Reason: ReasonNoElapsed}
	}

	var before, after uint64
	for _, field := range fields {
		b, hadBefore := prev.Counter(field)
		a, hasAfter := current.Counter(field)
		if hadBefore != hasAfter {
			return Delta{Reason: ReasonMissingField}
		}
		before += b
		after += a
	}
	if after < before {
		return Delta{Reason: ReasonCounterReset}
	}

	return Delta{Valid: true, Value: after - before, Elapsed: elapsed}
}

// fieldDeltas returns the delta of every field that moved forward. It is
// informational only; validity is decided on the sums.
func fieldDeltas(prev *Snapshot, current Snapshot, fields ...string) map[string]uint64 {
	var deltas map[string]uint64
	for _, field := range fields {
		d := ComputeDelta(prev, current, field)
		if !d.Valid {
			continue
		}
		if deltas == nil {
			deltas = make(map[string]uint64, len(fields))
		}
		deltas[field] = d.Value
	}
	return deltas
}
