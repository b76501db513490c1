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
	"maps"
	"strconv"
	"time"
)

// Kind identifies the family of counters a key tracks.
type Kind string

// Metric kinds.
const (
	KindCPU     Kind = "cpu-aggregate"
	KindCPUCore Kind = "cpu-core"
	KindProcess Kind = "process"
	KindNetwork Kind = "network-interface"
	KindDisk    Kind = "disk"
)

// Counter field names carried in a Snapshot.
const (
	FieldUser    = "user"
	FieldNice    = "nice"
	FieldSystem  = "system"
	FieldIdle    = "idle"
	FieldIOWait  = "iowait"
	FieldIrq     = "irq"
	FieldSoftIrq = "softirq"
	FieldSteal   = "steal"
	FieldCtxt    = "ctxt"

	FieldUTime      = "utime"
	FieldSTime      = "stime"
	FieldReadBytes  = "read_bytes"
	FieldWriteBytes = "write_bytes"

	// Point-in-time values carried on process snapshots; never differenced.
	FieldRSSBytes = "rss_bytes"
	FieldNumFDs   = "num_fds"

	FieldRxBytes   = "rx_bytes"
	FieldTxBytes   = "tx_bytes"
	FieldRxPackets = "rx_packets"
	FieldTxPackets = "tx_packets"
	FieldRxErrors  = "rx_errors"
	FieldTxErrors  = "tx_errors"

	FieldSectorsRead    = "sectors_read"
	FieldSectorsWritten = "sectors_written"
	FieldReads          = "reads"
	FieldWrites         = "writes"
	FieldReadTimeMs     = "read_time_ms"
	FieldWriteTimeMs    = "write_time_ms"
	FieldIOTimeMs       = "io_time_ms"
)

// CPUFields are the /proc/stat jiffy columns that make up total CPU time.
var CPUFields = []string{
	FieldUser, FieldNice, FieldSystem, FieldIdle,
	FieldIOWait, FieldIrq, FieldSoftIrq, FieldSteal,
}

// Key identifies one independently tracked counter series.
type Key struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// CPUKey returns the key of the aggregate CPU series.
func CPUKey() Key { return Key{Kind: KindCPU} }

// CoreKey returns the key of a single CPU core series (e.g. "cpu0").
func CoreKey(name string) Key { return Key{Kind: KindCPUCore, ID: name} }

// ProcessKey returns the key of a process series.
func ProcessKey(pid int32) Key {
	return Key{Kind: KindProcess, ID: strconv.FormatInt(int64(pid), 10)}
}

// NetworkKey returns the key of a network interface series.
func NetworkKey(iface string) Key { return Key{Kind: KindNetwork, ID: iface} }

// DiskKey returns the key of a block device series.
func DiskKey(device string) Key { return Key{Kind: KindDisk, ID: device} }

func (k Key) String() string {
	if k.ID == "" {
		return string(k.Kind)
	}
	return string(k.Kind) + "/" + k.ID
}

// Snapshot is one timestamped reading of a set of monotonically increasing counters.
type Snapshot struct {
	Timestamp time.Time
	Counters  map[string]uint64
}

// NewSnapshot builds a snapshot from counters captured at ts.
func NewSnapshot(ts time.Time, counters map[string]uint64) Snapshot {
	return Snapshot{Timestamp: ts, Counters: counters}
}

// Counter returns the value of a field and whether it was captured.
func (s Snapshot) Counter(field string) (uint64, bool) {
	v, ok := s.Counters[field]
	return v, ok
}

// Clone returns a deep copy so that stored snapshots cannot be mutated by callers.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Timestamp: s.Timestamp, Counters: maps.Clone(s.Counters)}
}

// Reason explains why a delta or rate is not valid.
type Reason int

// Invalidity reasons.
const (
	ReasonNone Reason = iota
	ReasonBaseline
	ReasonNoElapsed
	ReasonCounterReset
	ReasonMissingField
	ReasonUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonBaseline:
		return "baseline"
	case ReasonNoElapsed:
		return "no elapsed time"
	case ReasonCounterReset:
		return "counter reset"
	case ReasonMissingField:
		return "missing field"
	case ReasonUnavailable:
		return "source unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the reason as its string form in JSON output.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Rate is the kind-independent part of every computed rate.
type Rate struct {
	Key     Key               `json:"key"`
	Valid   bool              `json:"valid"`
	Elapsed time.Duration     `json:"elapsed"`
	Reason  Reason            `json:"reason,omitempty"`
	Deltas  map[string]uint64 `json:"deltas,omitempty"`
}

// CPURate is the utilization of the aggregate CPU or of a single core.
type CPURate struct {
	Rate
	Percent               float64 `json:"percent"`
	ContextSwitchesPerSec float64 `json:"context_switches_per_sec,omitempty"`
}

// ProcessRate is the CPU share and disk throughput of one process.
type ProcessRate struct {
	Rate
	PID       int32   `json:"pid"`
	Percent   float64 `json:"percent"`
	ReadMBps  float64 `json:"read_mbps"`
	WriteMBps float64 `json:"write_mbps"`

	// Gauges read with the counters; zero when not readable.
	ResidentMB float64 `json:"resident_mb"`
	OpenFDs    uint64  `json:"open_fds"`
}

// NetworkRate is the throughput of one interface. Each direction is validated on its own.
type NetworkRate struct {
	Rate
	RxMbps          float64 `json:"rx_mbps"`
	TxMbps          float64 `json:"tx_mbps"`
	RxValid         bool    `json:"rx_valid"`
	TxValid         bool    `json:"tx_valid"`
	RxPacketsPerSec float64 `json:"rx_packets_per_sec"`
	TxPacketsPerSec float64 `json:"tx_packets_per_sec"`
	RxErrorsPerSec  float64 `json:"rx_errors_per_sec"`
	TxErrorsPerSec  float64 `json:"tx_errors_per_sec"`
}

// DiskRate is the I/O activity of one block device.
type DiskRate struct {
	Rate
	ReadMBps    float64 `json:"read_mbps"`
	WriteMBps   float64 `json:"write_mbps"`
	ReadValid   bool    `json:"read_valid"`
	WriteValid  bool    `json:"write_valid"`
	IOPS        float64 `json:"iops"`
	Utilization float64 `json:"utilization"` // Percentage of time the device was busy
	Await       float64 `json:"await"`       // Average wait per I/O in milliseconds
}

// MemoryStats holds single-shot memory gauges.
type MemoryStats struct {
	Percent     float64 `json:"percent"`
	SwapPercent float64 `json:"swap_percent"`
}

// LoadStats holds the 1, 5 and 15 minute load averages.
type LoadStats struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

// ProcessCounts is the number of processes per scheduler state.
type ProcessCounts struct {
	Total    int `json:"total"`
	Running  int `json:"running"`
	Sleeping int `json:"sleeping"`
	Blocked  int `json:"blocked"` // Uninterruptible wait, usually I/O
	Stopped  int `json:"stopped"`
	Zombie   int `json:"zombie"`
}

// HostStats holds single-shot host-wide gauges.
type HostStats struct {
	UptimeSeconds   uint64        `json:"uptime_seconds"`
	CPUFrequencyMHz float64       `json:"cpu_frequency_mhz"` // Mean over all logical CPUs
	OpenFiles       uint64        `json:"open_files"`        // Allocated file handles
	MaxFiles        uint64        `json:"max_files"`
	TCPConnections  int           `json:"tcp_connections"` // IPv4 and IPv6 sockets in any state
	Processes       ProcessCounts `json:"processes"`
}

// Frame is everything computed during one sampling tick.
type Frame struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	CPU       CPURate   `json:"cpu"`
	IOWait    float64   `json:"iowait"`
	// IOWaitValid is false when the CPU was unreadable or the platform has no iowait counter.
	IOWaitValid bool                   `json:"iowait_valid"`
	Cores       map[string]CPURate     `json:"cores,omitempty"`
	Processes   map[int32]ProcessRate  `json:"processes,omitempty"`
	Disks       map[string]DiskRate    `json:"disks,omitempty"`
	Networks    map[string]NetworkRate `json:"networks,omitempty"`
	Memory      MemoryStats            `json:"memory"`
	Load        LoadStats              `json:"load"`
	Host        HostStats              `json:"host"`
}

// NewFrame returns an empty frame with its maps allocated.
func NewFrame(sessionID string, ts time.Time) *Frame {
	return &Frame{
		SessionID: sessionID,
		Timestamp: ts,
		Cores:     make(map[string]CPURate),
		Processes: make(map[int32]ProcessRate),
		Disks:     make(map[string]DiskRate),
		Networks:  make(map[string]NetworkRate),
	}
}
