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

// collectGauges reads memory, load and host gauges, which need no baseline.
func (m *Manager) collectGauges(ctx context.Context, b *frameBuilder) {
	memStats, err := m.backend.Memory(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect memory metrics", "error", err)
	}
	load, err := m.backend.Load(ctx)
	if err != nil {
		m.logger.Warn("Failed to collect load averages", "error", err)
	}
	// Host gauges are best-effort; a partial error still carries what was read.
	host, err := m.backend.Host(ctx)
	if err != nil {
		m.logger.Debug("Some host gauges are unavailable", "error", err)
	}

	b.update(func(f *metrics.Frame) {
		f.Memory = memStats
		f.Load = load
		f.Host = host
	})
}
