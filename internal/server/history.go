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

package server

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phuonguno98/unorate/pkg/metrics"
)

// DefaultHistorySize is the number of frames kept in memory.
const DefaultHistorySize = 3600

// maxPoints caps the points returned for one series; longer ranges are averaged.
const maxPoints = 2000

// DataPoint represents a single data point in a time series.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistoryInfo summarizes the recorded range.
type HistoryInfo struct {
	Series  []string  `json:"series"`
	Frames  int       `json:"frames"`
	MinTime time.Time `json:"minTime"`
	MaxTime time.Time `json:"maxTime"`
}

// History keeps recent frames in columnar form. Invalid rates are stored as
// NaN and left out of query results.
type History struct {
	mu         sync.RWMutex
	capacity   int
	timestamps []int64              // Unix milliseconds, ascending
	values     map[string][]float64 // Series name to values aligned with timestamps
}

// NewHistory creates a history holding at most capacity frames.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		values:   make(map[string][]float64),
	}
}

// Record appends a frame. Frames older than the newest recorded one are ignored.
func (h *History) Record(frame *metrics.Frame) {
	row := flatten(frame)
	ts := frame.Timestamp.UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.timestamps); n > 0 && ts < h.timestamps[n-1] {
		return
	}

	n := len(h.timestamps)
	h.timestamps = append(h.timestamps, ts)
	for name, v := range row {
		col, ok := h.values[name]
		if !ok {
			// New series: backfill earlier frames as missing
			col = make([]float64, n, n+1)
			for i := range col {
				col[i] = math.NaN()
			}
		}
		h.values[name] = append(col, v)
	}
	for name, col := range h.values {
		if len(col) == n {
			h.values[name] = append(col, math.NaN())
		}
	}

	// Trim in batches to avoid shifting on every frame
	if len(h.timestamps) > h.capacity+h.capacity/4 {
		h.trim(len(h.timestamps) - h.capacity)
	}
}

// trim drops the oldest k frames and series left without any value.
func (h *History) trim(k int) {
	h.timestamps = slices.Clone(h.timestamps[k:])
	for name, col := range h.values {
		col = slices.Clone(col[k:])
		if slices.IndexFunc(col, func(v float64) bool { return !math.IsNaN(v) }) < 0 {
			delete(h.values, name)
			continue
		}
		h.values[name] = col
	}
}

// Info returns the recorded series names and time range.
func (h *History) Info() HistoryInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := HistoryInfo{Series: make([]string, 0, len(h.values)), Frames: len(h.timestamps)}
	for name := range h.values {
		info.Series = append(info.Series, name)
	}
	sort.Strings(info.Series)

	if n := len(h.timestamps); n > 0 {
		info.MinTime = time.UnixMilli(h.timestamps[0])
		info.MaxTime = time.UnixMilli(h.timestamps[n-1])
	}
	return info
}

// Series returns the points of one series with optional time filtering.
// Ranges longer than maxPoints are downsampled by average pooling.
func (h *History) Series(name string, timeFrom, timeTo *time.Time) ([]DataPoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	values, ok := h.values[name]
	if !ok {
		return nil, fmt.Errorf("series not found: %s", name)
	}

	startIdx := 0
	if timeFrom != nil {
		target := timeFrom.UnixMilli()
		startIdx = sort.Search(len(h.timestamps), func(i int) bool {
			return h.timestamps[i] >= target
		})
	}

	endIdx := len(h.timestamps)
	if timeTo != nil {
		target := timeTo.UnixMilli()
		endIdx = sort.Search(len(h.timestamps), func(i int) bool {
			return h.timestamps[i] > target
		})
	}

	if startIdx >= endIdx {
		return []DataPoint{}, nil
	}

	totalPoints := endIdx - startIdx
	if totalPoints <= maxPoints {
		points := make([]DataPoint, 0, totalPoints)
		for i := startIdx; i < endIdx; i++ {
			if math.IsNaN(values[i]) {
				continue
			}
			points = append(points, DataPoint{Timestamp: time.UnixMilli(h.timestamps[i]), Value: values[i]})
		}
		return points, nil
	}

	points := make([]DataPoint, 0, maxPoints)
	bucketSize := float64(totalPoints) / float64(maxPoints)
	for i := range maxPoints {
		pStart := startIdx + int(float64(i)*bucketSize)
		pEnd := min(startIdx+int(float64(i+1)*bucketSize), endIdx)
		if pStart >= pEnd {
			continue
		}

		var sum float64
		var count int
		for j := pStart; j < pEnd; j++ {
			if !math.IsNaN(values[j]) {
				sum += values[j]
				count++
			}
		}
		if count > 0 {
			points = append(points, DataPoint{
				Timestamp: time.UnixMilli(h.timestamps[pStart]),
				Value:     sum / float64(count),
			})
		}
	}

	return points, nil
}

// flatten maps every value of a frame to its series name.
func flatten(f *metrics.Frame) map[string]float64 {
	row := map[string]float64{
		"cpu":    rateValue(f.CPU.Valid, f.CPU.Percent),
		"ctxt":   rateValue(f.CPU.Valid, f.CPU.ContextSwitchesPerSec),
		"iowait": rateValue(f.IOWaitValid, f.IOWait),
		"memory": f.Memory.Percent,
		"swap":   f.Memory.SwapPercent,
		"load1":  f.Load.Load1,
		"load5":  f.Load.Load5,
		"load15": f.Load.Load15,

		"host/uptime":          float64(f.Host.UptimeSeconds),
		"host/cpu_mhz":         f.Host.CPUFrequencyMHz,
		"host/open_files":      float64(f.Host.OpenFiles),
		"host/tcp_connections": float64(f.Host.TCPConnections),
		"procs/total":          float64(f.Host.Processes.Total),
		"procs/running":        float64(f.Host.Processes.Running),
		"procs/sleeping":       float64(f.Host.Processes.Sleeping),
		"procs/blocked":        float64(f.Host.Processes.Blocked),
		"procs/stopped":        float64(f.Host.Processes.Stopped),
		"procs/zombie":         float64(f.Host.Processes.Zombie),
	}

	for core, r := range f.Cores {
		row["core/"+core] = rateValue(r.Valid, r.Percent)
	}

	for device, r := range f.Disks {
		prefix := "disk/" + device + "/"
		row[prefix+"read_mbps"] = rateValue(r.ReadValid, r.ReadMBps)
		row[prefix+"write_mbps"] = rateValue(r.WriteValid, r.WriteMBps)
		row[prefix+"iops"] = rateValue(r.Valid, r.IOPS)
		row[prefix+"utilization"] = rateValue(r.Valid, r.Utilization)
		row[prefix+"await"] = rateValue(r.Valid, r.Await)
	}

	for iface, r := range f.Networks {
		prefix := "network/" + iface + "/"
		row[prefix+"rx_mbps"] = rateValue(r.RxValid, r.RxMbps)
		row[prefix+"tx_mbps"] = rateValue(r.TxValid, r.TxMbps)
		row[prefix+"rx_packets"] = rateValue(r.Valid, r.RxPacketsPerSec)
		row[prefix+"tx_packets"] = rateValue(r.Valid, r.TxPacketsPerSec)
		row[prefix+"rx_errors"] = rateValue(r.Valid, r.RxErrorsPerSec)
		row[prefix+"tx_errors"] = rateValue(r.Valid, r.TxErrorsPerSec)
	}

	for pid, r := range f.Processes {
		prefix := "process/" + strconv.Itoa(int(pid)) + "/"
		row[prefix+"cpu"] = rateValue(r.Valid, r.Percent)
		row[prefix+"read_mbps"] = rateValue(r.Valid, r.ReadMBps)
		row[prefix+"write_mbps"] = rateValue(r.Valid, r.WriteMBps)
		present := r.Reason != metrics.ReasonUnavailable
		row[prefix+"memory_mb"] = rateValue(present, r.ResidentMB)
		row[prefix+"open_fds"] = rateValue(present, float64(r.OpenFDs))
	}

	return row
}

func rateValue(valid bool, v float64) float64 {
	if !valid {
		return math.NaN()
	}
	return v
}

// parseTimestamp accepts RFC 3339 and the CSV export format.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}
