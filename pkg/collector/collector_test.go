// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package collector

import (
	"encoding/binary"
	"os"
	"runtime"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"
)

type testKey struct {
	id   uint64
	hash uint64
}

func (k *testKey) Hash() uint64 { return k.hash }
func (k *testKey) Equal(o *testKey) bool { return k.id == o.id }

func key(id uint64) *testKey {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return &testKey{id: id, hash: xxhash.Sum64(b[:])}
}

// collidingKey puts every key in the same bucket.
func collidingKey(id uint64) *testKey {
	return &testKey{id: id}
}

func newCollector(t *testing.T) *Collector[testKey, *testKey] {
	t.Helper()
	c, err := New[testKey]()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func sums(t *testing.T, c *Collector[testKey, *testKey]) map[uint64]int64 {
	t.Helper()
	res := map[uint64]int64{}
	for e, err := range c.All() {
		require.NoError(t, err)
		res[e.Key.id] += e.Count
	}
	return res
}

func TestBucketNoEvictionBelowWidth(t *testing.T) {
	var (
		b       Bucket[testKey, *testKey]
		evicted Entry[testKey]
	)
	for i := 0; i < 10; i++ {
		for id := uint64(0); id < BucketWidth; id++ {
			require.False(t, b.Add(collidingKey(id), 1, &evicted))
		}
	}
	require.Equal(t, BucketWidth, b.Len())
	for i := 0; i < b.Len(); i++ {
		require.Equal(t, int64(10), b.entries[i].Count)
	}
}

func TestBucketEvictsMinimum(t *testing.T) {
	var (
		b       Bucket[testKey, *testKey]
		evicted Entry[testKey]
	)
	b.Add(collidingKey(0), 5, &evicted)
	b.Add(collidingKey(1), 2, &evicted)
	b.Add(collidingKey(2), 7, &evicted)
	b.Add(collidingKey(3), 3, &evicted)

	require.True(t, b.Add(collidingKey(4), 1, &evicted))
	require.Equal(t, uint64(1), evicted.Key.id)
	require.Equal(t, int64(2), evicted.Count)

	// The newcomer has the smallest count now and goes next.
	require.True(t, b.Add(collidingKey(5), 1, &evicted))
	require.Equal(t, uint64(4), evicted.Key.id)
}

func TestCollectorFewKeysExact(t *testing.T) {
	c := newCollector(t)
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Add(key(1), 1))
		require.NoError(t, c.Add(key(2), 2))
		require.NoError(t, c.Add(key(3), -1))
	}

	require.Equal(t, map[uint64]int64{1: 100, 2: 200, 3: -100}, sums(t, c))
	resident, overflowed := c.Stats()
	require.Equal(t, 3, resident)
	require.Zero(t, overflowed)
}

func TestCollectorMultiplicity(t *testing.T) {
	c := newCollector(t)

	const n = BucketsPerTable * BucketWidth
	for id := uint64(0); id < n; id++ {
		for j := uint64(0); j < id%4; j++ {
			require.NoError(t, c.Add(key(id), 1))
		}
	}

	got := sums(t, c)
	for id := uint64(0); id < n; id++ {
		require.Equal(t, int64(id%4), got[id], "key %d", id)
	}

	_, overflowed := c.Stats()
	require.Positive(t, overflowed)
}

func TestCollectorNoLossThroughOverflowFile(t *testing.T) {
	c := newCollector(t)

	const n = 3*overflowBufferLen + 17
	for round := 0; round < 3; round++ {
		for id := uint64(0); id < n; id++ {
			require.NoError(t, c.Add(collidingKey(id), int64(id%7)+1))
		}
	}

	resident, overflowed := c.Stats()
	require.Equal(t, BucketWidth, resident)
	require.Greater(t, overflowed, 2*overflowBufferLen)

	got := sums(t, c)
	require.Len(t, got, n)
	for id := uint64(0); id < n; id++ {
		require.Equal(t, 3*(int64(id%7)+1), got[id], "key %d", id)
	}
}

func TestCollectorIterationIsRestartable(t *testing.T) {
	c := newCollector(t)
	for id := uint64(0); id < 3*overflowBufferLen; id++ {
		require.NoError(t, c.Add(collidingKey(id%2000), 1))
	}

	first := sums(t, c)
	second := sums(t, c)
	require.Equal(t, first, second)

	entries, err := c.Entries()
	require.NoError(t, err)
	var total int64
	for _, e := range entries {
		total += e.Count
	}
	require.Equal(t, int64(3*overflowBufferLen), total)
}

func TestCollectorEarlyBreak(t *testing.T) {
	c := newCollector(t)
	for id := uint64(0); id < 2*overflowBufferLen; id++ {
		require.NoError(t, c.Add(collidingKey(id), 1))
	}

	n := 0
	for range c.All() {
		n++
		if n == 10 {
			break
		}
	}
	require.Equal(t, 10, n)
}

func TestCollectorRejectsPointerKeys(t *testing.T) {
	_, err := New[pointerKey]()
	require.ErrorIs(t, err, ErrPointerKey)
	require.ErrorIs(t, err, ErrCreation)
}

type pointerKey struct {
	name *string
}

func (k *pointerKey) Hash() uint64 { return 0 }
func (k *pointerKey) Equal(o *pointerKey) bool { return k.name == o.name }

func TestOverflowFileIsUnlinked(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("open files can not be removed on windows")
	}
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	c := newCollector(t)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	// The unlinked file is still usable.
	const n = 2*overflowBufferLen + 5
	for id := uint64(0); id < n; id++ {
		require.NoError(t, c.Add(collidingKey(id), 1))
	}
	require.Len(t, sums(t, c), n)

	require.NoError(t, c.Close())
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCollectorFailedFlushDoesNotGrowBuffer(t *testing.T) {
	c, err := New[testKey]()
	require.NoError(t, err)
	// Every flush fails from here on.
	require.NoError(t, c.overflow.file.Close())
	t.Cleanup(func() { _ = c.Close() })

	id := uint64(0)
	for ; id < BucketWidth+overflowBufferLen-1; id++ {
		require.NoError(t, c.Add(collidingKey(id), 1))
	}

	// Fills the buffer; the flush fails but the evicted entry is kept.
	err = c.Add(collidingKey(id), 1)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEntryLost)
	id++

	err = c.Add(collidingKey(id), 1)
	require.ErrorIs(t, err, ErrEntryLost)
	require.Len(t, c.overflow.buf, overflowBufferLen)
	require.Equal(t, overflowBufferLen, cap(c.overflow.buf))

	// The key that caused the loss is counted.
	got := sums(t, c)
	require.Equal(t, int64(1), got[id])
	require.Len(t, got, BucketWidth+overflowBufferLen)
}
