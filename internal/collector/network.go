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

	"github.com/phuonguno98/unorate/internal/devices"
	"github.com/phuonguno98/unorate/pkg/metrics"
)

func newNetworkFilter(include, exclude []string) *deviceFilter {
	return &deviceFilter{include: include, exclude: exclude, skip: devices.IsLoopback}
}

// networkJobs discovers the monitored interfaces and evicts the ones that vanished.
func (m *Manager) networkJobs(ctx context.Context) []job {
	ifaces, ok := m.discover(ctx, metrics.KindNetwork, m.networks)
	if !ok {
		return nil
	}

	jobs := make([]job, 0, len(ifaces))
	for _, iface := range ifaces {
		key := metrics.NetworkKey(iface)
		jobs = append(jobs, job{key: key, apply: func(b *frameBuilder, snap *metrics.Snapshot, err error) {
			var rate metrics.NetworkRate
			if snap == nil {
				rate = metrics.NetworkRate{Rate: m.unavailable(key, err)}
			} else {
				rate = m.engine.Network(iface, *snap)
			}
			b.update(func(f *metrics.Frame) { f.Networks[iface] = rate })
		}})
	}
	return jobs
}
