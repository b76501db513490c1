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
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetPutRemove(t *testing.T) {
	s := NewStore()
	key := NetworkKey("eth0")
	now := time.Now()

	_, ok := s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, StateUnseen, s.State(key))

	s.Put(key, NewSnapshot(now, map[string]uint64{FieldRxBytes: 1}))
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Counters[FieldRxBytes])
	assert.Equal(t, StateBaselined, s.State(key))

	s.Put(key, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldRxBytes: 2}))
	got, ok = s.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Counters[FieldRxBytes])
	assert.Equal(t, StateSteady, s.State(key))

	s.Remove(key)
	_, ok = s.Get(key)
	assert.False(t, ok)
	assert.Equal(t, StateUnseen, s.State(key))
	assert.Zero(t, s.Len())
}

func TestStore_RemoveAbsentIsNoop(t *testing.T) {
	s := NewStore()
	other := DiskKey("sda")
	s.Put(other, NewSnapshot(time.Now(), map[string]uint64{FieldSectorsRead: 7}))

	assert.NotPanics(t, func() {
		s.Remove(ProcessKey(42))
		s.Remove(ProcessKey(42))
	})
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, StateBaselined, s.State(other))
}

func TestStore_SwapReturnsPrevious(t *testing.T) {
	s := NewStore()
	key := CPUKey()
	now := time.Now()

	_, ok := s.Swap(key, NewSnapshot(now, map[string]uint64{FieldUser: 1}))
	assert.False(t, ok)

	prev, ok := s.Swap(key, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUser: 2}))
	require.True(t, ok)
	assert.Equal(t, uint64(1), prev.Counters[FieldUser])
	assert.Equal(t, now, prev.Timestamp)
}

func TestStore_CallersCannotMutateStoredSnapshot(t *testing.T) {
	s := NewStore()
	key := DiskKey("sda")
	counters := map[string]uint64{FieldSectorsRead: 10}

	s.Put(key, NewSnapshot(time.Now(), counters))
	counters[FieldSectorsRead] = 999

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, uint64(10), got.Counters[FieldSectorsRead])

	got.Counters[FieldSectorsRead] = 12345
	again, _ := s.Get(key)
	assert.Equal(t, uint64(10), again.Counters[FieldSectorsRead])
}

func TestStore_KeyIndependence(t *testing.T) {
	s := NewStore()
	a, b := ProcessKey(1), ProcessKey(2)
	now := time.Now()

	s.Put(a, NewSnapshot(now, map[string]uint64{FieldUTime: 5}))
	s.Put(b, NewSnapshot(now, map[string]uint64{FieldUTime: 100}))
	s.Put(a, NewSnapshot(now.Add(time.Second), map[string]uint64{FieldUTime: 6}))
	s.Remove(a)

	got, ok := s.Get(b)
	require.True(t, ok)
	assert.Equal(t, uint64(100), got.Counters[FieldUTime])
	assert.Equal(t, StateBaselined, s.State(b))
}

func TestStore_KeysSorted(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Put(NetworkKey("eth1"), NewSnapshot(now, nil))
	s.Put(DiskKey("sdb"), NewSnapshot(now, nil))
	s.Put(NetworkKey("eth0"), NewSnapshot(now, nil))
	s.Put(CPUKey(), NewSnapshot(now, nil))

	assert.Equal(t, []Key{
		CPUKey(),
		DiskKey("sdb"),
		NetworkKey("eth0"),
		NetworkKey("eth1"),
	}, s.Keys())
}

func TestStore_ConcurrentSameKeyNeverSharesBaseline(t *testing.T) {
	s := NewStore()
	key := ProcessKey(42)
	base := time.Now()

	const workers = 64
	prevs := make(chan uint64, workers)

	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prev, ok := s.Swap(key, NewSnapshot(base.Add(time.Duration(i)*time.Millisecond),
				map[string]uint64{FieldUTime: uint64(i)}))
			if ok {
				prevs <- prev.Counters[FieldUTime]
			}
		}(i)
	}
	wg.Wait()
	close(prevs)

	// Every stored snapshot is handed out as a baseline at most once.
	seen := make(map[uint64]bool)
	for v := range prevs {
		assert.False(t, seen[v], "snapshot %d returned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers-1)
	assert.Equal(t, StateSteady, s.State(key))
}

func TestStore_ConcurrentIndependentKeys(t *testing.T) {
	s := NewStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := NetworkKey("if" + strconv.Itoa(i))
			for j := 0; j < 20; j++ {
				s.Put(key, NewSnapshot(now.Add(time.Duration(j)*time.Second),
					map[string]uint64{FieldRxBytes: uint64(i*1000 + j)}))
			}
			if i%2 == 0 {
				s.Remove(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, s.Len())
	for i := 1; i < 50; i += 2 {
		got, ok := s.Get(NetworkKey("if" + strconv.Itoa(i)))
		require.True(t, ok)
		assert.Equal(t, uint64(i*1000+19), got.Counters[FieldRxBytes])
	}
}

func TestKeyState_String(t *testing.T) {
	assert.Equal(t, "unseen", StateUnseen.String())
	assert.Equal(t, "baselined", StateBaselined.String())
	assert.Equal(t, "steady", StateSteady.String())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "cpu-aggregate", CPUKey().String())
	assert.Equal(t, "process/42", ProcessKey(42).String())
	assert.Equal(t, "network-interface/eth0", NetworkKey("eth0").String())
	assert.Equal(t, "disk/sda", DiskKey("sda").String())
	assert.Equal(t, "cpu-core/cpu3", CoreKey("cpu3").String())
}

func TestStore_Entries(t *testing.T) {
	s := NewStore()
	t0 := time.Unix(1000, 0)

	s.Put(DiskKey("sda"), NewSnapshot(t0, nil))
	s.Put(DiskKey("sda"), NewSnapshot(t0.Add(time.Second), nil))
	s.Put(CPUKey(), NewSnapshot(t0, nil))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Key: CPUKey(), State: StateBaselined, LastSeen: t0}, entries[0])
	assert.Equal(t, Entry{Key: DiskKey("sda"), State: StateSteady, LastSeen: t0.Add(time.Second)}, entries[1])
}
