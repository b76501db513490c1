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

package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phuonguno98/unorate/pkg/metrics"
	"github.com/shirou/gopsutil/v3/process"
)

// Host reads the host-wide gauges. Each value is read on its own; the
// stats hold whatever succeeded and the error joins whatever failed.
func (s *System) Host(ctx context.Context) (metrics.HostStats, error) {
	var (
		stats metrics.HostStats
		errs  []error
	)

	if uptime, err := hostUptime(ctx); err != nil {
		errs = append(errs, fmt.Errorf("uptime: %w", err))
	} else {
		stats.UptimeSeconds = uptime
	}

	if infos, err := cpuInfo(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu frequency: %w", err))
	} else {
		var sum float64
		var n int
		for _, info := range infos {
			if info.Mhz > 0 {
				sum += info.Mhz
				n++
			}
		}
		if n > 0 {
			stats.CPUFrequencyMHz = sum / float64(n)
		}
	}

	if conns, err := netConnections(ctx, "tcp"); err != nil {
		errs = append(errs, fmt.Errorf("tcp connections: %w", err))
	} else {
		stats.TCPConnections = len(conns)
	}

	if open, limit, err := fileHandles(); err != nil {
		errs = append(errs, fmt.Errorf("file handles: %w", err))
	} else {
		stats.OpenFiles, stats.MaxFiles = open, limit
	}

	if counts, err := processStates(ctx); err != nil {
		errs = append(errs, fmt.Errorf("process states: %w", err))
	} else {
		stats.Processes = counts
	}

	return stats, errors.Join(errs...)
}

// readProcessStates counts every process by its scheduler state.
func readProcessStates(ctx context.Context) (metrics.ProcessCounts, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return metrics.ProcessCounts{}, err
	}

	var counts metrics.ProcessCounts
	for _, p := range procs {
		status, err := p.StatusWithContext(ctx)
		if err != nil || len(status) == 0 {
			// Exited between listing and reading
			continue
		}
		counts.Total++
		countState(&counts, status[0])
	}
	return counts, nil
}

func countState(counts *metrics.ProcessCounts, state string) {
	switch state {
	case process.Running:
		counts.Running++
	case process.Sleep, process.Idle:
		counts.Sleeping++
	case process.Blocked:
		counts.Blocked++
	case process.Stop:
		counts.Stopped++
	case process.Zombie:
		counts.Zombie++
	}
}

// parseFileNr parses /proc/sys/fs/file-nr: allocated, unused, maximum.
func parseFileNr(data []byte) (open, limit uint64, err error) {
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("unexpected file-nr content: %q", data)
	}
	if open, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid allocated handles: %w", err)
	}
	if limit, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid maximum handles: %w", err)
	}
	return open, limit, nil
}
