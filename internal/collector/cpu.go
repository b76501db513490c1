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

	"github.com/phuonguno98/unorate/pkg/metrics"
)

// cpuJobs returns the aggregate CPU job and, when enabled, one job per core.
func (m *Manager) cpuJobs(ctx context.Context) []job {
	aggregate := metrics.CPUKey()
	jobs := []job{{key: aggregate, apply: func(b *frameBuilder, snap *metrics.Snapshot, err error) {
		var (
			rate        metrics.CPURate
			iowait      float64
			iowaitValid bool
		)
		if snap == nil {
			rate = metrics.CPURate{Rate: m.unavailable(aggregate, err)}
		} else {
			rate = m.engine.CPU(aggregate, *snap)
			// Platforms without an iowait counter leave the field out.
			if _, iowaitValid = snap.Counter(metrics.FieldIOWait); iowaitValid {
				iowait = metrics.IOWaitPercent(*snap)
			}
		}
		b.update(func(f *metrics.Frame) {
			f.CPU = rate
			f.IOWait = iowait
			f.IOWaitValid = iowaitValid
		})
	}}}

	if !m.config.PerCore {
		return jobs
	}

	cores, ok := m.discover(ctx, metrics.KindCPUCore, nil)
	if !ok {
		return jobs
	}
	for _, core := range cores {
		key := metrics.CoreKey(core)
		jobs = append(jobs, job{key: key, apply: func(b *frameBuilder, snap *metrics.Snapshot, err error) {
			var rate metrics.CPURate
			if snap == nil {
				rate = metrics.CPURate{Rate: m.unavailable(key, err)}
			} else {
				rate = m.engine.CPU(key, *snap)
			}
			b.update(func(f *metrics.Frame) { f.Cores[core] = rate })
		}})
	}
	return jobs
}
