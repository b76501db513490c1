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
	"github.com/phuonguno98/unorate/pkg/metrics"
)

// processJobs returns one job per configured pid. An exited process is evicted
// by the engine; it re-baselines if the pid shows up again. Other read errors
// keep the baseline.
func (m *Manager) processJobs() []job {
	jobs := make([]job, 0, len(m.config.Pids))
	for _, pid := range m.config.Pids {
		key := metrics.ProcessKey(pid)
		jobs = append(jobs, job{key: key, apply: func(b *frameBuilder, snap *metrics.Snapshot, err error) {
			var rate metrics.ProcessRate
			if snap == nil {
				rate = metrics.ProcessRate{Rate: m.unavailable(key, err), PID: pid}
			} else {
				rate = m.engine.Process(pid, *snap)
			}
			b.update(func(f *metrics.Frame) { f.Processes[pid] = rate })
		}})
	}
	return jobs
}
