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

// Package collector samples kernel counters on a fixed interval and turns them
// into rate frames.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/phuonguno98/unorate/internal/config"
	"github.com/phuonguno98/unorate/internal/source"
	"github.com/phuonguno98/unorate/pkg/metrics"
)

var startUpDelay = 1 * time.Second

// Backend is everything the sampler reads from the machine.
type Backend interface {
	source.Source
	source.Discoverer
	source.GaugeReader
}

// Recorder receives every published frame. Record must not block or modify the frame.
type Recorder interface {
	Record(frame *metrics.Frame)
}

// job fetches one series; apply turns the snapshot into a rate and records it.
// snap is nil when the source could not produce one, and err says why.
type job struct {
	key   metrics.Key
	apply func(b *frameBuilder, snap *metrics.Snapshot, err error)
}

// frameBuilder serializes writes of concurrent jobs into one frame.
type frameBuilder struct {
	mu    sync.Mutex
	frame *metrics.Frame
}

func (b *frameBuilder) update(fn func(f *metrics.Frame)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.frame)
}

// Manager drives the sampling loop.
type Manager struct {
	config    *config.Config
	backend   Backend
	engine    *metrics.Engine
	disks     *deviceFilter
	networks  *deviceFilter
	sessionID string
	frameChan chan<- *metrics.Frame
	recorders []Recorder
	latest    atomic.Pointer[metrics.Frame]
	logger    *slog.Logger
}

// NewManager creates a new sampler. Frames are sent on frameChan without
// blocking; a full channel drops the frame.
func NewManager(cfg *config.Config, backend Backend, engine *metrics.Engine, frameChan chan<- *metrics.Frame, logger *slog.Logger) *Manager {
	sessionID := uuid.NewString()
	return &Manager{
		config:    cfg,
		backend:   backend,
		engine:    engine,
		disks:     newDiskFilter(cfg.IncludeDisks, cfg.ExcludeDisks),
		networks:  newNetworkFilter(cfg.IncludeNetworks, cfg.ExcludeNetworks),
		sessionID: sessionID,
		frameChan: frameChan,
		logger:    logger.With("session", sessionID),
	}
}

// AddRecorder registers r to receive published frames. It must be called before Start.
func (m *Manager) AddRecorder(r Recorder) {
	m.recorders = append(m.recorders, r)
}

// SessionID identifies this sampler run in frames and logs.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Latest returns the most recently published frame, or nil before the first one.
func (m *Manager) Latest() *metrics.Frame {
	return m.latest.Load()
}

// Entries lists the series currently tracked by the engine.
func (m *Manager) Entries() []metrics.Entry {
	return m.engine.Store().Entries()
}

// Start begins the sampling loop and blocks until ctx is done.
// The first pass only establishes baselines; it is never published.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting collector manager",
		"interval", m.config.SamplingInterval,
		"workers", m.config.Workers,
		"pids", len(m.config.Pids),
		"per_core", m.config.PerCore,
	)

	m.logger.Info("Performing baseline collection...")
	if err := m.collectOnce(ctx, false); err != nil {
		m.logger.Warn("Baseline collection had errors", "error", err)
	}

	select {
	case <-time.After(startUpDelay):
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(m.config.SamplingInterval)
	defer ticker.Stop()

	m.logger.Info("Collector manager started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Collector manager stopped")
			return nil

		case <-ticker.C:
			if err := m.collectOnce(ctx, true); err != nil {
				m.logger.Error("Collection failed", "error", err)
			}
		}
	}
}

// collectOnce performs a single sampling pass. Fetches run on a bounded
// worker pool; the engine serializes updates per key.
func (m *Manager) collectOnce(ctx context.Context, publish bool) error {
	b := &frameBuilder{frame: metrics.NewFrame(m.sessionID, time.Now())}

	var jobs []job
	jobs = append(jobs, m.cpuJobs(ctx)...)
	jobs = append(jobs, m.diskJobs(ctx)...)
	jobs = append(jobs, m.networkJobs(ctx)...)
	jobs = append(jobs, m.processJobs()...)

	var g errgroup.Group
	g.SetLimit(max(m.config.Workers, 1))

	g.Go(func() error {
		m.collectGauges(ctx, b)
		return nil
	})

	var failed atomic.Int32
	for _, j := range jobs {
		g.Go(func() error {
			snap, err := m.backend.Fetch(ctx, j.key)
			if err != nil {
				failed.Add(1)
				if errors.Is(err, source.ErrUnavailable) {
					m.logger.Debug("Counters unavailable", "key", j.key.String(), "error", err)
				} else {
					m.logger.Warn("Failed to fetch counters", "key", j.key.String(), "error", err)
				}
				j.apply(b, nil, err)
				return nil
			}
			j.apply(b, &snap, nil)
			return nil
		})
	}

	// Jobs never return errors; a failed fetch is recorded as an unavailable rate.
	_ = g.Wait()

	if !publish {
		m.logger.Debug("Baseline collection completed", "series", len(jobs))
		return nil
	}

	frame := b.frame
	m.latest.Store(frame)
	for _, r := range m.recorders {
		r.Record(frame)
	}

	select {
	case m.frameChan <- frame:
		m.logger.Debug("Frame sent",
			"cpu", frame.CPU.Percent,
			"iowait", frame.IOWait,
			"memory", frame.Memory.Percent,
			"disks", len(frame.Disks),
			"networks", len(frame.Networks),
			"processes", len(frame.Processes),
			"unavailable", failed.Load(),
		)
	default:
		m.logger.Warn("Frame channel full, dropping frame")
		return errors.New("frame channel full")
	}

	return nil
}

// unavailable reports key as unavailable for this tick. Only ErrUnavailable
// means the entity is gone and lets the engine evict it; any other error
// leaves the stored baseline untouched.
func (m *Manager) unavailable(key metrics.Key, err error) metrics.Rate {
	if errors.Is(err, source.ErrUnavailable) {
		return m.engine.Unavailable(key)
	}
	return metrics.Rate{Key: key, Reason: metrics.ReasonUnavailable}
}

// discover lists the instances of kind that pass filter and evicts the
// tracked series of that kind which are no longer present. On a discovery
// failure nothing is evicted and ok is false.
func (m *Manager) discover(ctx context.Context, kind metrics.Kind, filter *deviceFilter) (names []string, ok bool) {
	all, err := m.backend.Discover(ctx, kind)
	if err != nil {
		m.logger.Warn("Discovery failed", "kind", string(kind), "error", err)
		return nil, false
	}

	present := make(map[string]struct{}, len(all))
	for _, name := range all {
		if filter != nil && !filter.shouldMonitor(name) {
			continue
		}
		present[name] = struct{}{}
		names = append(names, name)
	}

	for _, key := range m.engine.Store().Keys() {
		if key.Kind != kind {
			continue
		}
		if _, found := present[key.ID]; !found {
			m.engine.Evict(key)
		}
	}

	return names, true
}
