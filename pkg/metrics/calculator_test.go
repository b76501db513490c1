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

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 0.00001

func TestEngine_CPUUtilization(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		prev      map[string]uint64
		current   map[string]uint64
		elapsed   time.Duration
		expected  float64
		wantValid bool
	}{
		{
			name:    "Half busy",
			prev:    map[string]uint64{FieldUser: 100, FieldIdle: 900},
			current: map[string]uint64{FieldUser: 150, FieldIdle: 950},
			elapsed: time.Second,
			// Total Delta = 50 (User) + 50 (Idle) = 100, Busy = 50
			expected:  50.0,
			wantValid: true,
		},
		{
			name: "All fields",
			prev: map[string]uint64{
				FieldUser: 100, FieldNice: 10, FieldSystem: 50, FieldIdle: 800,
				FieldIOWait: 10, FieldIrq: 5, FieldSoftIrq: 5, FieldSteal: 0,
			},
			current: map[string]uint64{
				FieldUser: 110, FieldNice: 10, FieldSystem: 60, FieldIdle: 810,
				FieldIOWait: 15, FieldIrq: 5, FieldSoftIrq: 5, FieldSteal: 0,
			},
			elapsed: time.Second,
			// Total Delta = 10 + 10 + 10 + 5 = 35, Idle+IOWait Delta = 15
			// Util = 100 * 20/35
			expected:  57.14285714285714,
			wantValid: true,
		},
		{
			name:      "No change (Zero delta total)",
			prev:      map[string]uint64{FieldUser: 100, FieldIdle: 100},
			current:   map[string]uint64{FieldUser: 100, FieldIdle: 100},
			elapsed:   time.Second,
			expected:  0.0,
			wantValid: true,
		},
		{
			name:    "IOWait decreases while sums grow",
			prev:    map[string]uint64{FieldUser: 100, FieldIdle: 800, FieldIOWait: 100},
			current: map[string]uint64{FieldUser: 150, FieldIdle: 851, FieldIOWait: 99},
			elapsed: time.Second,
			// Total Delta = 50 + 51 - 1 = 100, Idle+IOWait Delta = 50
			expected:  50.0,
			wantValid: true,
		},
		{
			name:     "Total went backwards",
			prev:     map[string]uint64{FieldUser: 100, FieldIdle: 900},
			current:  map[string]uint64{FieldUser: 200, FieldIdle: 50},
			elapsed:  time.Second,
			expected: 0.0,
		},
		{
			name:     "Idle sum went backwards",
			prev:     map[string]uint64{FieldUser: 100, FieldIdle: 900, FieldIOWait: 100},
			current:  map[string]uint64{FieldUser: 1200, FieldIdle: 850, FieldIOWait: 100},
			elapsed:  time.Second,
			expected: 0.0,
		},
		{
			name:     "Zero elapsed",
			prev:     map[string]uint64{FieldUser: 100, FieldIdle: 900},
			current:  map[string]uint64{FieldUser: 150, FieldIdle: 950},
			elapsed:  0,
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			first := e.CPU(CPUKey(), NewSnapshot(now, tt.prev))
			assert.False(t, first.Valid)
			assert.Equal(t, ReasonBaseline, first.Reason)
			assert.Zero(t, first.Percent)

			got := e.CPU(CPUKey(), NewSnapshot(now.Add(tt.elapsed), tt.current))
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.InDelta(t, tt.expected, got.Percent, tolerance)
			assert.GreaterOrEqual(t, got.Percent, 0.0)
			assert.LessOrEqual(t, got.Percent, 100.0)

			// The store always advances to the latest snapshot.
			stored, ok := e.Store().Get(CPUKey())
			require.True(t, ok)
			assert.Equal(t, tt.current, stored.Counters)
		})
	}
}

func TestEngine_ContextSwitchRate(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.CPU(CPUKey(), NewSnapshot(now, map[string]uint64{FieldUser: 10, FieldIdle: 10, FieldCtxt: 1000}))
	got := e.CPU(CPUKey(), NewSnapshot(now.Add(2*time.Second),
		map[string]uint64{FieldUser: 20, FieldIdle: 20, FieldCtxt: 3000}))

	require.True(t, got.Valid)
	assert.InDelta(t, 1000.0, got.ContextSwitchesPerSec, tolerance)
	assert.Equal(t, uint64(2000), got.Deltas[FieldCtxt])
}

func TestEngine_CoresAreIndependent(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.CPU(CoreKey("cpu0"), NewSnapshot(now, map[string]uint64{FieldUser: 0, FieldIdle: 0}))
	e.CPU(CoreKey("cpu1"), NewSnapshot(now, map[string]uint64{FieldUser: 0, FieldIdle: 0}))

	c0 := e.CPU(CoreKey("cpu0"), NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUser: 75, FieldIdle: 25}))
	c1 := e.CPU(CoreKey("cpu1"), NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUser: 10, FieldIdle: 90}))

	assert.InDelta(t, 75.0, c0.Percent, tolerance)
	assert.InDelta(t, 10.0, c1.Percent, tolerance)
}

func TestIOWaitPercent(t *testing.T) {
	tests := []struct {
		name     string
		counters map[string]uint64
		expected float64
	}{
		{
			name:     "Cumulative ratio",
			counters: map[string]uint64{FieldUser: 50, FieldIdle: 40, FieldIOWait: 10},
			expected: 10.0,
		},
		{
			name:     "Counters outside the CPU set are ignored",
			counters: map[string]uint64{FieldUser: 25, FieldIOWait: 25, FieldCtxt: 1_000_000},
			expected: 50.0,
		},
		{
			name:     "Zero total",
			counters: map[string]uint64{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IOWaitPercent(NewSnapshot(time.Now(), tt.counters))
			assert.InDelta(t, tt.expected, got, tolerance)
		})
	}
}

func TestIOWaitPercent_IsNotDeltaBased(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	// All of the interval was spent in iowait, yet the ratio is over cumulative totals.
	first := NewSnapshot(now, map[string]uint64{FieldUser: 50, FieldIdle: 40, FieldIOWait: 10})
	second := NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUser: 50, FieldIdle: 40, FieldIOWait: 110})
	e.CPU(CPUKey(), first)
	e.CPU(CPUKey(), second)

	assert.InDelta(t, 10.0, IOWaitPercent(first), tolerance)
	assert.InDelta(t, 55.0, IOWaitPercent(second), tolerance)
	assert.Equal(t, StateSteady, e.Store().State(CPUKey()))
}

func TestEngine_ProcessCPU(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		prev     map[string]uint64
		current  map[string]uint64
		elapsed  time.Duration
		expected float64
	}{
		{
			name:    "Half a core",
			prev:    map[string]uint64{FieldUTime: 100, FieldSTime: 100},
			current: map[string]uint64{FieldUTime: 130, FieldSTime: 120},
			elapsed: time.Second,
			// 50 ticks / (100 Hz × 1 s)
			expected: 50.0,
		},
		{
			name:     "Scaled by actual elapsed time",
			prev:     map[string]uint64{FieldUTime: 0, FieldSTime: 0},
			current:  map[string]uint64{FieldUTime: 50, FieldSTime: 0},
			elapsed:  2 * time.Second,
			expected: 25.0,
		},
		{
			name:     "Capped at 100",
			prev:     map[string]uint64{FieldUTime: 0, FieldSTime: 0},
			current:  map[string]uint64{FieldUTime: 300, FieldSTime: 100},
			elapsed:  time.Second,
			expected: 100.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil, WithClockTicks(100))
			e.Process(7, NewSnapshot(now, tt.prev))
			got := e.Process(7, NewSnapshot(now.Add(tt.elapsed), tt.current))

			assert.True(t, got.Valid)
			assert.Equal(t, int32(7), got.PID)
			assert.InDelta(t, tt.expected, got.Percent, tolerance)
		})
	}
}

func TestEngine_ProcessDiskIO(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Process(9, NewSnapshot(now, map[string]uint64{
		FieldUTime: 0, FieldSTime: 0, FieldReadBytes: 0, FieldWriteBytes: 1 << 20,
	}))
	got := e.Process(9, NewSnapshot(now.Add(2*time.Second), map[string]uint64{
		FieldUTime: 0, FieldSTime: 0, FieldReadBytes: 4 << 20, FieldWriteBytes: 3 << 20,
	}))

	require.True(t, got.Valid)
	assert.InDelta(t, 2.0, got.ReadMBps, tolerance)
	assert.InDelta(t, 1.0, got.WriteMBps, tolerance)
}

func TestEngine_ProcessFieldDecreaseWithinSum(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil, WithClockTicks(100))

	e.Process(7, NewSnapshot(now, map[string]uint64{FieldUTime: 500, FieldSTime: 0}))
	got := e.Process(7, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUTime: 490, FieldSTime: 60}))

	require.True(t, got.Valid)
	// Δ(utime+stime) = 50 ticks over 1s at 100 Hz
	assert.InDelta(t, 50.0, got.Percent, tolerance)
	assert.Equal(t, uint64(60), got.Deltas[FieldSTime])
	assert.NotContains(t, got.Deltas, FieldUTime)
}

func TestEngine_ProcessGauges(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil, WithClockTicks(100))

	first := e.Process(9, NewSnapshot(now, map[string]uint64{
		FieldUTime: 0, FieldSTime: 0, FieldRSSBytes: 10 * 1024 * 1024, FieldNumFDs: 12,
	}))
	assert.False(t, first.Valid)
	assert.InDelta(t, 10.0, first.ResidentMB, tolerance)
	assert.Equal(t, uint64(12), first.OpenFDs)

	// Gauges may shrink without affecting validity.
	got := e.Process(9, NewSnapshot(now.Add(time.Second), map[string]uint64{
		FieldUTime: 10, FieldSTime: 0, FieldRSSBytes: 5 * 1024 * 1024, FieldNumFDs: 3,
	}))
	require.True(t, got.Valid)
	assert.InDelta(t, 10.0, got.Percent, tolerance)
	assert.InDelta(t, 5.0, got.ResidentMB, tolerance)
	assert.Equal(t, uint64(3), got.OpenFDs)
	assert.NotContains(t, got.Deltas, FieldRSSBytes)
}

func TestEngine_ProcessRestart(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil, WithClockTicks(100))

	e.Process(42, NewSnapshot(now, map[string]uint64{FieldUTime: 400, FieldSTime: 100}))

	// A new process reusing pid 42 reports far fewer ticks.
	got := e.Process(42, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUTime: 5, FieldSTime: 5}))
	assert.False(t, got.Valid)
	assert.Equal(t, ReasonCounterReset, got.Reason)
	assert.Zero(t, got.Percent)

	stored, ok := e.Store().Get(ProcessKey(42))
	require.True(t, ok)
	assert.Equal(t, uint64(10), stored.Counters[FieldUTime]+stored.Counters[FieldSTime])

	// The next interval measures forward from the new baseline.
	got = e.Process(42, NewSnapshot(now.Add(2*time.Second), map[string]uint64{FieldUTime: 45, FieldSTime: 15}))
	assert.True(t, got.Valid)
	assert.InDelta(t, 50.0, got.Percent, tolerance)
}

func TestEngine_ProcessExited(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)
	key := ProcessKey(1234)

	e.Process(1234, NewSnapshot(now, map[string]uint64{FieldUTime: 500, FieldSTime: 0}))
	require.Equal(t, StateBaselined, e.Store().State(key))

	r := e.Unavailable(key)
	assert.False(t, r.Valid)
	assert.Equal(t, ReasonUnavailable, r.Reason)
	assert.Equal(t, StateUnseen, e.Store().State(key))

	// A later process with the same pid starts fresh instead of comparing against 500.
	got := e.Process(1234, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUTime: 20, FieldSTime: 0}))
	assert.Equal(t, ReasonBaseline, got.Reason)
	assert.Equal(t, StateBaselined, e.Store().State(key))
}

func TestEngine_NetworkThroughput(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	first := e.Network("eth0", NewSnapshot(now, map[string]uint64{FieldRxBytes: 1_000_000, FieldTxBytes: 0}))
	assert.False(t, first.Valid)
	assert.Zero(t, first.RxMbps)
	assert.Zero(t, first.TxMbps)
	assert.Equal(t, StateBaselined, e.Store().State(NetworkKey("eth0")))

	got := e.Network("eth0", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 2_000_000, FieldTxBytes: 250_000}))
	require.True(t, got.Valid)
	assert.InDelta(t, 8.0, got.RxMbps, tolerance)
	assert.InDelta(t, 2.0, got.TxMbps, tolerance)
	assert.Equal(t, uint64(1_000_000), got.Deltas[FieldRxBytes])
}

func TestEngine_NetworkDirectionsValidatedSeparately(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Network("wlan0", NewSnapshot(now, map[string]uint64{FieldRxBytes: 5_000_000, FieldTxBytes: 1_000_000}))
	got := e.Network("wlan0", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 100, FieldTxBytes: 2_000_000}))

	assert.False(t, got.Valid)
	assert.False(t, got.RxValid)
	assert.True(t, got.TxValid)
	assert.Zero(t, got.RxMbps)
	assert.InDelta(t, 8.0, got.TxMbps, tolerance)
}

func TestEngine_NetworkPacketsAndErrors(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Network("eth0", NewSnapshot(now, map[string]uint64{
		FieldRxBytes: 0, FieldTxBytes: 0, FieldRxPackets: 100, FieldTxPackets: 50, FieldRxErrors: 1, FieldTxErrors: 0,
	}))
	got := e.Network("eth0", NewSnapshot(now.Add(2*time.Second), map[string]uint64{
		FieldRxBytes: 0, FieldTxBytes: 0, FieldRxPackets: 300, FieldTxPackets: 150, FieldRxErrors: 5, FieldTxErrors: 2,
	}))

	require.True(t, got.Valid)
	assert.InDelta(t, 100.0, got.RxPacketsPerSec, tolerance)
	assert.InDelta(t, 50.0, got.TxPacketsPerSec, tolerance)
	assert.InDelta(t, 2.0, got.RxErrorsPerSec, tolerance)
	assert.InDelta(t, 1.0, got.TxErrorsPerSec, tolerance)
}

func TestEngine_DiskThroughput(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Disk("sda", NewSnapshot(now, map[string]uint64{FieldSectorsWritten: 0}))
	got := e.Disk("sda", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldSectorsWritten: 2048}))

	require.True(t, got.Valid)
	assert.InDelta(t, 1.0, got.WriteMBps, tolerance)
	assert.Zero(t, got.ReadMBps)
}

func TestEngine_DiskActivity(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Disk("nvme0n1", NewSnapshot(now, map[string]uint64{
		FieldSectorsRead: 0, FieldSectorsWritten: 0,
		FieldReads: 1000, FieldWrites: 1000,
		FieldReadTimeMs: 100, FieldWriteTimeMs: 100,
		FieldIOTimeMs: 1000,
	}))
	got := e.Disk("nvme0n1", NewSnapshot(now.Add(time.Second), map[string]uint64{
		FieldSectorsRead: 4096, FieldSectorsWritten: 0,
		FieldReads: 1050, FieldWrites: 1050, // Delta Ops: 100
		FieldReadTimeMs: 150, FieldWriteTimeMs: 150, // Delta Time: 100ms
		FieldIOTimeMs: 1500, // Busy 500ms of 1000ms
	}))

	require.True(t, got.Valid)
	assert.InDelta(t, 2.0, got.ReadMBps, tolerance)
	assert.InDelta(t, 100.0, got.IOPS, tolerance)
	assert.InDelta(t, 1.0, got.Await, tolerance)
	assert.InDelta(t, 50.0, got.Utilization, tolerance)
}

func TestEngine_DiskUtilizationCapped(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Disk("sdb", NewSnapshot(now, map[string]uint64{FieldIOTimeMs: 1000}))
	got := e.Disk("sdb", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldIOTimeMs: 2500}))

	assert.InDelta(t, 100.0, got.Utilization, tolerance)
}

func TestEngine_DiskReset(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Disk("sdc", NewSnapshot(now, map[string]uint64{FieldSectorsRead: 9000, FieldSectorsWritten: 9000}))
	got := e.Disk("sdc", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldSectorsRead: 10, FieldSectorsWritten: 9000}))

	assert.False(t, got.Valid)
	assert.Equal(t, ReasonCounterReset, got.Reason)
	assert.Zero(t, got.ReadMBps)
	assert.Zero(t, got.IOPS)
}

func TestEngine_LinearCounterIgnoresIntermediateCalls(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	// Flat samples, including a duplicate timestamp, then one jump of 5 MB over 2 s.
	e.Network("eth0", NewSnapshot(now, map[string]uint64{FieldRxBytes: 1000}))
	flat := e.Network("eth0", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 1000}))
	assert.True(t, flat.Valid)
	assert.Zero(t, flat.RxMbps)
	dup := e.Network("eth0", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 1000}))
	assert.False(t, dup.Valid)
	assert.Equal(t, ReasonNoElapsed, dup.Reason)

	got := e.Network("eth0", NewSnapshot(now.Add(3*time.Second), map[string]uint64{FieldRxBytes: 5_001_000}))
	require.True(t, got.Valid)
	assert.Equal(t, 2*time.Second, got.Elapsed)
	assert.InDelta(t, 5_000_000*8/1e6/2, got.RxMbps, tolerance)
}

func TestEngine_UnavailableKeepsBaseline(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Network("eth0", NewSnapshot(now, map[string]uint64{FieldRxBytes: 0}))
	r := e.Unavailable(NetworkKey("eth0"))
	assert.False(t, r.Valid)
	assert.Equal(t, ReasonUnavailable, r.Reason)

	stored, ok := e.Store().Get(NetworkKey("eth0"))
	require.True(t, ok)
	assert.Equal(t, now, stored.Timestamp)

	got := e.Network("eth0", NewSnapshot(now.Add(2*time.Second), map[string]uint64{FieldRxBytes: 1_000_000}))
	assert.InDelta(t, 4.0, got.RxMbps, tolerance)
}

func TestEngine_EvictIsIdempotent(t *testing.T) {
	e := NewEngine(nil)
	key := DiskKey("sdz")

	e.Evict(key)
	e.Disk("sdz", NewSnapshot(time.Now(), map[string]uint64{FieldSectorsRead: 1}))
	e.Evict(key)
	e.Evict(key)

	assert.Equal(t, StateUnseen, e.Store().State(key))
}

func TestEngine_KeyIndependence(t *testing.T) {
	now := time.Now()
	e := NewEngine(nil)

	e.Network("eth0", NewSnapshot(now, map[string]uint64{FieldRxBytes: 0}))
	e.Network("eth1", NewSnapshot(now, map[string]uint64{FieldRxBytes: 0}))

	// Resetting eth0 must not disturb eth1.
	e.Network("eth0", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 999_999_999}))
	e.Network("eth0", NewSnapshot(now.Add(2*time.Second), map[string]uint64{FieldRxBytes: 1}))

	got := e.Network("eth1", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 125_000}))
	require.True(t, got.Valid)
	assert.InDelta(t, 1.0, got.RxMbps, tolerance)
}

func TestEngine_LogsCounterReset(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := NewEngine(nil, WithLogger(logger))
	now := time.Now()

	e.Disk("sda", NewSnapshot(now, map[string]uint64{FieldSectorsRead: 100}))
	e.Disk("sda", NewSnapshot(now.Add(time.Second), map[string]uint64{FieldSectorsRead: 1}))

	assert.Contains(t, buf.String(), "Counter reset detected")
	assert.Contains(t, buf.String(), "disk/sda")
}

func TestNewEngine_Options(t *testing.T) {
	e := NewEngine(nil, WithClockTicks(0), WithLogger(nil))
	assert.Equal(t, float64(DefaultClockTicks), e.ClockTicks())
	assert.NotNil(t, e.Store())

	store := NewStore()
	e = NewEngine(store, WithClockTicks(250))
	assert.Equal(t, 250.0, e.ClockTicks())
	assert.Same(t, store, e.Store())
}
