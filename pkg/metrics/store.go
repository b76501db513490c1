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
	"sort"
	"sync"
	"time"
)

// KeyState is the lifecycle position of a key in a Store.
type KeyState int

// Key lifecycle states.
const (
	StateUnseen    KeyState = iota // No entry stored
	StateBaselined                 // One snapshot stored, no rate computable yet
	StateSteady                    // Two or more snapshots observed
)

func (s KeyState) String() string {
	switch s {
	case StateBaselined:
		return "baselined"
	case StateSteady:
		return "steady"
	default:
		return "unseen"
	}
}

// MarshalText renders the state as its string form in JSON output.
func (s KeyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// slot holds the last snapshot of one key. Its mutex serializes observations
// of that key only.
type slot struct {
	mu           sync.Mutex
	snap         Snapshot
	observations uint64
	removed      bool
}

// Store maps each Key to the most recent Snapshot observed for it.
// The zero value is not usable; use NewStore.
type Store struct {
	slots sync.Map // Key -> *slot
}

// NewStore creates an empty state store.
func NewStore() *Store {
	return &Store{}
}

// Get returns a copy of the last snapshot stored for key.
func (s *Store) Get(key Key) (Snapshot, bool) {
	v, ok := s.slots.Load(key)
	if !ok {
		return Snapshot{}, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed || sl.observations == 0 {
		return Snapshot{}, false
	}
	return sl.snap.Clone(), true
}

// Put unconditionally overwrites the snapshot stored for key.
func (s *Store) Put(key Key, snap Snapshot) {
	s.Swap(key, snap)
}

// Swap stores snap for key and returns the snapshot it replaced.
// The read and the write happen as one step with respect to other
// observations of the same key.
func (s *Store) Swap(key Key, snap Snapshot) (Snapshot, bool) {
	stored := snap.Clone()
	for {
		v, _ := s.slots.LoadOrStore(key, &slot{})
		sl := v.(*slot)

		sl.mu.Lock()
		if sl.removed {
			// Lost a race with Remove; retry against the fresh slot.
			sl.mu.Unlock()
			continue
		}
		prev, ok := sl.snap, sl.observations > 0
		sl.snap = stored
		sl.observations++
		sl.mu.Unlock()
		return prev, ok
	}
}

// Remove evicts key. Removing an absent key is a no-op.
func (s *Store) Remove(key Key) {
	v, ok := s.slots.LoadAndDelete(key)
	if !ok {
		return
	}
	sl := v.(*slot)
	sl.mu.Lock()
	sl.removed = true
	sl.mu.Unlock()
}

// State reports where key is in its lifecycle.
func (s *Store) State(key Key) KeyState {
	v, ok := s.slots.Load(key)
	if !ok {
		return StateUnseen
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	switch {
	case sl.removed || sl.observations == 0:
		return StateUnseen
	case sl.observations == 1:
		return StateBaselined
	default:
		return StateSteady
	}
}

// Keys returns the tracked keys, sorted by kind then id.
func (s *Store) Keys() []Key {
	var keys []Key
	s.slots.Range(func(k, _ any) bool {
		if s.State(k.(Key)) != StateUnseen {
			keys = append(keys, k.(Key))
		}
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})
	return keys
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	return len(s.Keys())
}

// Entry describes one tracked series.
type Entry struct {
	Key      Key       `json:"key"`
	State    KeyState  `json:"state"`
	LastSeen time.Time `json:"last_seen"`
}

// Entries returns a point-in-time view of every tracked series, ordered like Keys.
// A key removed between listing and inspection is skipped.
func (s *Store) Entries() []Entry {
	keys := s.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		state := s.State(k)
		snap, ok := s.Get(k)
		if state == StateUnseen || !ok {
			continue
		}
		entries = append(entries, Entry{Key: k, State: state, LastSeen: snap.Timestamp})
	}
	return entries
}
