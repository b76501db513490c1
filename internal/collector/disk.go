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

package collector

import (
	"context"
	"slices"

	"github.com/phuonguno98/unorate/internal/devices"
	"github.com/phuonguno98/unorate/pkg/metrics"
)

// deviceFilter selects devices by include and exclude lists.
// Exclusion wins over inclusion; an explicit include overrides the built-in skip rule.
type deviceFilter struct {
	include []string
	exclude []string
	skip    func(name string) bool
}

func (f *deviceFilter) shouldMonitor(name string) bool {
	if slices.Contains(f.exclude, name) {
		return false
	}
	if len(f.include) > 0 {
		return slices.Contains(f.include, name)
	}
	return f.skip == nil || !f.skip(name)
}

func normalizeDeviceList(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	normalized := make([]string, len(names))
	for i, device := range names {
		normalized[i] = devices.NormalizeDeviceName(device)
	}
	return normalized
}

// newDiskFilter creates a disk filter. Device names may be given with or
// without the /dev/ prefix.
func newDiskFilter(include, exclude []string) *deviceFilter {
	return &deviceFilter{
		include: normalizeDeviceList(include),
		exclude: normalizeDeviceList(exclude),
		skip:    devices.IsVirtualDisk,
	}
}

// diskJobs discovers the monitored disks and evicts the ones that vanished.
func (m *Manager) diskJobs(ctx context.Context) []job {
	names, ok := m.discover(ctx, metrics.KindDisk, m.disks)
	if !ok {
		return nil
	}

	jobs := make([]job, 0, len(names))
	for _, device := range names {
		key := metrics.DiskKey(device)
		jobs = append(jobs, job{key: key, apply: func(b *frameBuilder, snap *metrics.Snapshot, err error) {
			var rate metrics.DiskRate
			if snap == nil {
				rate = metrics.DiskRate{Rate: m.unavailable(key, err)}
			} else {
				rate = m.engine.Disk(device, *snap)
			}
			b.update(func(f *metrics.Frame) { f.Disks[device] = rate })
		}})
	}
	return jobs
}
