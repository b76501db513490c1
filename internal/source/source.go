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

// Package source reads raw kernel counters through gopsutil and hands them
// to the rate engine as timestamped snapshots.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/phuonguno98/unorate/pkg/metrics"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrUnavailable reports that no snapshot could be produced for a key,
// typically because the process, interface or device no longer exists.
var ErrUnavailable = errors.New("counters unavailable")

// Dependency injection points for testing
var (
	cpuTimes        = cpu.TimesWithContext
	loadMisc        = load.MiscWithContext
	loadAvg         = load.AvgWithContext
	diskIOCounters  = disk.IOCountersWithContext
	netIOCounters   = net.IOCountersWithContext
	virtualMemory   = mem.VirtualMemoryWithContext
	swapMemory      = mem.SwapMemoryWithContext
	processCounters = readProcessCounters
	hostUptime      = host.UptimeWithContext
	cpuInfo         = cpu.InfoWithContext
	netConnections  = net.ConnectionsWithContext
	processStates   = readProcessStates
	fileHandles     = readFileHandles

	// gopsutil reports a zero iowait where the kernel has no such counter.
	reportsIOWait = runtime.GOOS == "linux"
)

// Source produces counter snapshots for metric keys.
type Source interface {
	Fetch(ctx context.Context, key metrics.Key) (metrics.Snapshot, error)
}

// Discoverer lists the instance ids currently present for a metric kind.
type Discoverer interface {
	Discover(ctx context.Context, kind metrics.Kind) ([]string, error)
}

// GaugeReader reads single-shot values that need no delta tracking.
type GaugeReader interface {
	Memory(ctx context.Context) (metrics.MemoryStats, error)
	Load(ctx context.Context) (metrics.LoadStats, error)
	Host(ctx context.Context) (metrics.HostStats, error)
}

// System reads counters of the local machine.
type System struct {
	clockTicks float64
	now        func() time.Time
}

// NewSystem creates a source for the local machine.
func NewSystem() *System {
	return &System{
		clockTicks: ClockTicks(),
		now:        time.Now,
	}
}

// ClockTicks returns the clock tick rate used to express CPU times as jiffies.
func (s *System) ClockTicks() float64 {
	return s.clockTicks
}

// Fetch returns the current counters for key.
func (s *System) Fetch(ctx context.Context, key metrics.Key) (metrics.Snapshot, error) {
	switch key.Kind {
	case metrics.KindCPU:
		return s.fetchCPU(ctx)
	case metrics.KindCPUCore:
		return s.fetchCore(ctx, key.ID)
	case metrics.KindProcess:
		pid, err := strconv.ParseInt(key.ID, 10, 32)
		if err != nil {
			return metrics.Snapshot{}, fmt.Errorf("invalid pid %q: %w", key.ID, err)
		}
		return s.fetchProcess(ctx, int32(pid))
	case metrics.KindNetwork:
		return s.fetchNetwork(ctx, key.ID)
	case metrics.KindDisk:
		return s.fetchDisk(ctx, key.ID)
	default:
		return metrics.Snapshot{}, fmt.Errorf("unsupported metric kind: %s", key.Kind)
	}
}

func (s *System) fetchCPU(ctx context.Context) (metrics.Snapshot, error) {
	times, err := cpuTimes(ctx, false)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("failed to get CPU times: %w", err)
	}
	if len(times) == 0 {
		return metrics.Snapshot{}, fmt.Errorf("no CPU time stats available: %w", ErrUnavailable)
	}

	counters := s.cpuCounters(&times[0])

	// Context switches are optional; not every platform reports them.
	if misc, err := loadMisc(ctx); err == nil && misc.Ctxt >= 0 {
		counters[metrics.FieldCtxt] = uint64(misc.Ctxt)
	}

	return metrics.NewSnapshot(s.now(), counters), nil
}

func (s *System) fetchCore(ctx context.Context, name string) (metrics.Snapshot, error) {
	times, err := cpuTimes(ctx, true)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("failed to get per-core CPU times: %w", err)
	}
	for i := range times {
		if times[i].CPU == name {
			return metrics.NewSnapshot(s.now(), s.cpuCounters(&times[i])), nil
		}
	}
	return metrics.Snapshot{}, fmt.Errorf("core %s: %w", name, ErrUnavailable)
}

// cpuCounters converts gopsutil's second-based CPU times back to jiffies.
func (s *System) cpuCounters(t *cpu.TimesStat) map[string]uint64 {
	counters := map[string]uint64{
		metrics.FieldUser:    s.ticks(t.User),
		metrics.FieldNice:    s.ticks(t.Nice),
		metrics.FieldSystem:  s.ticks(t.System),
		metrics.FieldIdle:    s.ticks(t.Idle),
		metrics.FieldIOWait:  s.ticks(t.Iowait),
		metrics.FieldIrq:     s.ticks(t.Irq),
		metrics.FieldSoftIrq: s.ticks(t.Softirq),
		metrics.FieldSteal:   s.ticks(t.Steal),
	}
	if !reportsIOWait {
		delete(counters, metrics.FieldIOWait)
	}
	return counters
}

func (s *System) ticks(seconds float64) uint64 {
	if seconds <= 0 {
		return 0
	}
	return uint64(math.Round(seconds * s.clockTicks))
}

func (s *System) fetchProcess(ctx context.Context, pid int32) (metrics.Snapshot, error) {
	r, err := processCounters(ctx, pid)
	if err != nil {
		return metrics.Snapshot{}, err
	}

	counters := map[string]uint64{
		metrics.FieldUTime: s.ticks(r.times.User),
		metrics.FieldSTime: s.ticks(r.times.System),
	}
	if r.io != nil {
		counters[metrics.FieldReadBytes] = r.io.ReadBytes
		counters[metrics.FieldWriteBytes] = r.io.WriteBytes
	}
	if r.memory != nil {
		counters[metrics.FieldRSSBytes] = r.memory.RSS
	}
	if r.fds >= 0 {
		counters[metrics.FieldNumFDs] = uint64(r.fds)
	}

	return metrics.NewSnapshot(s.now(), counters), nil
}

// processReading is what could be read about one process. Only times is
// required; the rest is nil (or -1 for fds) when not permitted.
type processReading struct {
	times  *cpu.TimesStat
	io     *process.IOCountersStat
	memory *process.MemoryInfoStat
	fds    int32
}

// readProcessCounters reads CPU times and, when permitted, the I/O counters,
// memory and descriptor count of pid. Other users' processes usually deny the
// optional reads; they do not fail the whole read.
func readProcessCounters(ctx context.Context, pid int32) (processReading, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return processReading{}, fmt.Errorf("process %d: %w", pid, ErrUnavailable)
		}
		return processReading{}, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	times, err := p.TimesWithContext(ctx)
	if err != nil {
		if running, runErr := p.IsRunningWithContext(ctx); runErr == nil && !running {
			return processReading{}, fmt.Errorf("process %d exited: %w", pid, ErrUnavailable)
		}
		return processReading{}, fmt.Errorf("failed to get times of process %d: %w", pid, err)
	}

	r := processReading{times: times, fds: -1}
	if io, err := p.IOCountersWithContext(ctx); err == nil {
		r.io = io
	}
	if memory, err := p.MemoryInfoWithContext(ctx); err == nil {
		r.memory = memory
	}
	if fds, err := p.NumFDsWithContext(ctx); err == nil {
		r.fds = fds
	}

	return r, nil
}

func (s *System) fetchNetwork(ctx context.Context, iface string) (metrics.Snapshot, error) {
	stats, err := netIOCounters(ctx, true)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("failed to get network I/O counters: %w", err)
	}
	for i := range stats {
		c := &stats[i]
		if c.Name != iface {
			continue
		}
		return metrics.NewSnapshot(s.now(), map[string]uint64{
			metrics.FieldRxBytes:   c.BytesRecv,
			metrics.FieldTxBytes:   c.BytesSent,
			metrics.FieldRxPackets: c.PacketsRecv,
			metrics.FieldTxPackets: c.PacketsSent,
			metrics.FieldRxErrors:  c.Errin,
			metrics.FieldTxErrors:  c.Errout,
		}), nil
	}
	return metrics.Snapshot{}, fmt.Errorf("interface %s: %w", iface, ErrUnavailable)
}

func (s *System) fetchDisk(ctx context.Context, device string) (metrics.Snapshot, error) {
	stats, err := diskIOCounters(ctx, device)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("failed to get disk I/O counters: %w", err)
	}
	c, ok := stats[device]
	if !ok {
		return metrics.Snapshot{}, fmt.Errorf("disk %s: %w", device, ErrUnavailable)
	}
	return metrics.NewSnapshot(s.now(), map[string]uint64{
		// gopsutil reports sector counts pre-multiplied by the 512-byte kernel sector.
		metrics.FieldSectorsRead:    c.ReadBytes / metrics.SectorSize,
		metrics.FieldSectorsWritten: c.WriteBytes / metrics.SectorSize,
		metrics.FieldReads:          c.ReadCount,
		metrics.FieldWrites:         c.WriteCount,
		metrics.FieldReadTimeMs:     c.ReadTime,
		metrics.FieldWriteTimeMs:    c.WriteTime,
		metrics.FieldIOTimeMs:       c.IoTime,
	}), nil
}

// Discover lists the instances present for kind, sorted by name.
func (s *System) Discover(ctx context.Context, kind metrics.Kind) ([]string, error) {
	var names []string

	switch kind {
	case metrics.KindDisk:
		stats, err := diskIOCounters(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list disks: %w", err)
		}
		for name := range stats {
			names = append(names, name)
		}
	case metrics.KindNetwork:
		stats, err := netIOCounters(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list network interfaces: %w", err)
		}
		for i := range stats {
			names = append(names, stats[i].Name)
		}
	case metrics.KindCPUCore:
		times, err := cpuTimes(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list CPU cores: %w", err)
		}
		for i := range times {
			names = append(names, times[i].CPU)
		}
	default:
		return nil, fmt.Errorf("discovery not supported for kind: %s", kind)
	}

	sort.Strings(names)
	return names, nil
}

// Memory returns memory and swap utilization.
func (s *System) Memory(ctx context.Context) (metrics.MemoryStats, error) {
	vmStat, err := virtualMemory(ctx)
	if err != nil {
		return metrics.MemoryStats{}, fmt.Errorf("failed to get memory stats: %w", err)
	}
	if vmStat.Total == 0 {
		return metrics.MemoryStats{}, errors.New("total memory is zero")
	}

	stats := metrics.MemoryStats{
		// Utilization: (Used / Total) × 100
		Percent: float64(vmStat.Used) / float64(vmStat.Total) * 100.0,
	}

	if swap, err := swapMemory(ctx); err == nil && swap.Total > 0 {
		stats.SwapPercent = float64(swap.Used) / float64(swap.Total) * 100.0
	}

	return stats, nil
}

// Load returns the system load averages.
func (s *System) Load(ctx context.Context) (metrics.LoadStats, error) {
	avg, err := loadAvg(ctx)
	if err != nil {
		return metrics.LoadStats{}, fmt.Errorf("failed to get load averages: %w", err)
	}
	return metrics.LoadStats{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}, nil
}
