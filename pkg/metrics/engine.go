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
	"io"
	"log/slog"
)

// DefaultClockTicks is the USER_HZ value assumed when the system rate is unknown.
const DefaultClockTicks = 100

// Engine turns successive counter snapshots into rates. It owns no I/O and
// never sleeps; all state lives in its Store.
type Engine struct {
	store      *Store
	clockTicks float64
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClockTicks sets the kernel clock tick rate used to convert process jiffies to seconds.
func WithClockTicks(hz float64) Option {
	return func(e *Engine) {
		if hz > 0 {
			e.clockTicks = hz
		}
	}
}

// WithLogger sets the logger used for reset and eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine backed by store. A nil store gets a fresh one.
func NewEngine(store *Store, opts ...Option) *Engine {
	if store == nil {
		store = NewStore()
	}
	e := &Engine{
		store:      store,
		clockTicks: DefaultClockTicks,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the state store the engine reads and advances.
func (e *Engine) Store() *Store {
	return e.store
}

// ClockTicks returns the clock tick rate in use.
func (e *Engine) ClockTicks() float64 {
	return e.clockTicks
}

// observe stores current for key and returns the snapshot it replaces, or nil
// on the first observation. The store is advanced regardless of what the
// caller later decides about validity.
func (e *Engine) observe(key Key, current Snapshot) *Snapshot {
	prev, ok := e.store.Swap(key, current)
	if !ok {
		return nil
	}
	return &prev
}

// Unavailable records that the source could not produce a snapshot for key.
// The stored baseline is left untouched, except for processes: an exited pid
// is evicted so that a later process reusing it starts from scratch.
func (e *Engine) Unavailable(key Key) Rate {
	if key.Kind == KindProcess {
		e.Evict(key)
	}
	return Rate{Key: key, Reason: ReasonUnavailable}
}

// Evict forgets key. Used when the tracked entity is known to be gone.
func (e *Engine) Evict(key Key) {
	if e.store.State(key) == StateUnseen {
		return
	}
	e.store.Remove(key)
	e.logger.Debug("Evicted counter series", "key", key.String())
}

func (e *Engine) logInvalid(r Rate) {
	if r.Reason == ReasonCounterReset {
		e.logger.Debug("Counter reset detected, re-baselining", "key", r.Key.String())
	}
}

func newRate(key Key, d Delta, deltas map[string]uint64) Rate {
	return Rate{
		Key:     key,
		Valid:   d.Valid,
		Elapsed: d.Elapsed,
		Reason:  d.Reason,
		Deltas:  deltas,
	}
}

// addDelta records a valid supplementary delta on r.
func (r *Rate) addDelta(field string, d Delta) {
	if !d.Valid {
		return
	}
	if r.Deltas == nil {
		r.Deltas = make(map[string]uint64)
	}
	r.Deltas[field] = d.Value
}
