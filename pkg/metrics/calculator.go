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

// SectorSize is the unit of the kernel's sector counters, independent of the device's physical sector size.
const SectorSize = 512

const (
	bytesPerMiB = 1024 * 1024
	bitsPerMbit = 1_000_000
)

// CPU computes utilization for the aggregate CPU or a single core.
// Formula: 100 * (ΔTotal - Δ(Idle+IOWait)) / ΔTotal
// A reset is detected on the two sums, not on individual fields.
func (e *Engine) CPU(key Key, current Snapshot) CPURate {
	prev := e.observe(key, current)

	total := ComputeSumDelta(prev, current, CPUFields...)
	idle := ComputeSumDelta(prev, current, FieldIdle, FieldIOWait)
	d := firstInvalid(total, idle)
	rate := CPURate{Rate: newRate(key, d, fieldDeltas(prev, current, CPUFields...))}
	if !d.Valid {
		e.logInvalid(rate.Rate)
		return rate
	}

	rate.Percent = busyPercent(total.Value, idle.Value)

	if _, ok := current.Counter(FieldCtxt); ok {
		ctxt := ComputeDelta(prev, current, FieldCtxt)
		rate.addDelta(FieldCtxt, ctxt)
		rate.ContextSwitchesPerSec = ctxt.PerSecond()
	}

	return rate
}

// busyPercent returns the non-idle share of total, 0 when total is 0.
func busyPercent(total, idle uint64) float64 {
	if total == 0 || idle > total {
		return 0.0
	}
	return float64(total-idle) / float64(total) * 100.0
}

// IOWaitPercent returns the share of cumulative CPU time spent in iowait,
// read from a single snapshot.
// Formula: 100 * IOWait / Total
func IOWaitPercent(s Snapshot) float64 {
	var total uint64
	for _, field := range CPUFields {
		total += s.Counters[field]
	}
	if total == 0 {
		return 0.0
	}
	return float64(s.Counters[FieldIOWait]) / float64(total) * 100.0
}

// Process computes the CPU share of one process over the elapsed interval,
// plus its disk throughput when the source provides I/O byte counters.
// Resident memory and open descriptors are copied from current as they are.
// Formula: 100 * Δ(UTime+STime) / (ClockTicks × Δt), capped to [0, 100]
func (e *Engine) Process(pid int32, current Snapshot) ProcessRate {
	key := ProcessKey(pid)
	prev := e.observe(key, current)

	d := ComputeSumDelta(prev, current, FieldUTime, FieldSTime)
	rate := ProcessRate{
		Rate:       newRate(key, d, fieldDeltas(prev, current, FieldUTime, FieldSTime)),
		PID:        pid,
		ResidentMB: float64(current.Counters[FieldRSSBytes]) / bytesPerMiB,
		OpenFDs:    current.Counters[FieldNumFDs],
	}
	if !d.Valid {
		e.logInvalid(rate.Rate)
		return rate
	}

	rate.Percent = clampPercent(float64(d.Value) / (e.clockTicks * d.Elapsed.Seconds()) * 100.0)

	read := ComputeDelta(prev, current, FieldReadBytes)
	write := ComputeDelta(prev, current, FieldWriteBytes)
	rate.addDelta(FieldReadBytes, read)
	rate.addDelta(FieldWriteBytes, write)
	rate.ReadMBps = read.PerSecond() / bytesPerMiB
	rate.WriteMBps = write.PerSecond() / bytesPerMiB

	return rate
}

// Network computes receive and transmit throughput in megabits per second.
// Each direction is reported as 0 on its own when its counter is invalid.
// Formula: Δbytes × 8 / 10^6 / Δt
func (e *Engine) Network(iface string, current Snapshot) NetworkRate {
	key := NetworkKey(iface)
	prev := e.observe(key, current)

	rx := ComputeDelta(prev, current, FieldRxBytes)
	tx := ComputeDelta(prev, current, FieldTxBytes)

	rate := NetworkRate{Rate: newRate(key, firstInvalid(rx, tx), nil)}
	rate.addDelta(FieldRxBytes, rx)
	rate.addDelta(FieldTxBytes, tx)
	rate.RxValid, rate.TxValid = rx.Valid, tx.Valid
	rate.RxMbps = rx.PerSecond() * 8 / bitsPerMbit
	rate.TxMbps = tx.PerSecond() * 8 / bitsPerMbit
	if !rate.Valid {
		e.logInvalid(rate.Rate)
		return rate
	}

	rate.RxPacketsPerSec = counterRate(&rate.Rate, prev, current, FieldRxPackets)
	rate.TxPacketsPerSec = counterRate(&rate.Rate, prev, current, FieldTxPackets)
	rate.RxErrorsPerSec = counterRate(&rate.Rate, prev, current, FieldRxErrors)
	rate.TxErrorsPerSec = counterRate(&rate.Rate, prev, current, FieldTxErrors)

	return rate
}

// Disk computes read and write throughput in MiB per second from sector counters,
// along with IOPS, busy percentage and average wait when those counters exist.
// Formula: Δsectors × 512 / 2^20 / Δt
func (e *Engine) Disk(device string, current Snapshot) DiskRate {
	key := DiskKey(device)
	prev := e.observe(key, current)

	read := ComputeDelta(prev, current, FieldSectorsRead)
	write := ComputeDelta(prev, current, FieldSectorsWritten)

	rate := DiskRate{Rate: newRate(key, firstInvalid(read, write), nil)}
	rate.addDelta(FieldSectorsRead, read)
	rate.addDelta(FieldSectorsWritten, write)
	rate.ReadValid, rate.WriteValid = read.Valid, write.Valid
	rate.ReadMBps = read.PerSecond() * SectorSize / bytesPerMiB
	rate.WriteMBps = write.PerSecond() * SectorSize / bytesPerMiB
	if !rate.Valid {
		e.logInvalid(rate.Rate)
		return rate
	}

	ops := ComputeSumDelta(prev, current, FieldReads, FieldWrites)
	if ops.Valid {
		rate.IOPS = ops.PerSecond()
	}

	// Utilization: ΔIOTime(ms) / Δt(ms) × 100, capped at 100 (can exceed due to rounding or multiple queues)
	if busy := ComputeDelta(prev, current, FieldIOTimeMs); busy.Valid {
		rate.addDelta(FieldIOTimeMs, busy)
		rate.Utilization = clampPercent(float64(busy.Value) / (busy.Elapsed.Seconds() * 1000) * 100.0)
	}

	// Await: Δ(ReadTime + WriteTime) / Δ(ReadCount + WriteCount)
	waited := ComputeSumDelta(prev, current, FieldReadTimeMs, FieldWriteTimeMs)
	if ops.Valid && waited.Valid && ops.Value > 0 {
		rate.Await = float64(waited.Value) / float64(ops.Value)
	}

	return rate
}

// counterRate returns the per-second rate of a supplementary field and records its delta.
func counterRate(r *Rate, prev *Snapshot, current Snapshot, field string) float64 {
	d := ComputeDelta(prev, current, field)
	r.addDelta(field, d)
	return d.PerSecond()
}

// firstInvalid merges the validity of several deltas: the result is valid only
// if all are, and carries the reason of the first failure.
func firstInvalid(deltas ...Delta) Delta {
	for _, d := range deltas {
		if !d.Valid {
			return d
		}
	}
	if len(deltas) == 0 {
		return Delta{}
	}
	return Delta{Valid: true, Elapsed: deltas[0].Elapsed}
}

func clampPercent(pct float64) float64 {
	switch {
	case pct < 0:
		return 0.0
	case pct > 100:
		return 100.0
	default:
		return pct
	}
}
