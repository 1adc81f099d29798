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

// Package collector is a bounded, allocation-free counting table. Keys are
// spread over a fixed number of small associative buckets. When a bucket is
// full the entry with the smallest count is evicted to an overflow store, so
// counts are never lost, only split: readers merge duplicate keys.
package collector

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
)

const (
	// BucketsPerTable is the number of buckets in a HashCounter.
	BucketsPerTable = 4096
	// BucketWidth is the number of distinct keys a bucket holds.
	BucketWidth = 4
)

var (
	// ErrPointerKey is returned for key types that contain Go pointers. Keys
	// are spilled to the overflow file as raw bytes.
	ErrPointerKey = errors.New("key type contains pointers")
	// ErrCreation wraps every failure to set up a Collector.
	ErrCreation = errors.New("create collector")
	// ErrEntryLost is returned by Add when an evicted entry could not be kept
	// because the overflow buffer is full and can not be flushed.
	ErrEntryLost = errors.New("evicted entry lost")
)

// Key is implemented by *K. K itself must not contain pointers.
type Key[K any] interface {
	*K
	Hash() uint64
	Equal(*K) bool
}

// Entry is a key and its signed count.
type Entry[K any] struct {
	Key   K
	Count int64
}

// Bucket holds up to BucketWidth entries.
type Bucket[K any, P Key[K]] struct {
	entries [BucketWidth]Entry[K]
	length  int
}

// Add adds count to key. If key is new and the bucket is full, the entry with
// the smallest count is replaced, copied into evicted, and Add returns true.
func (b *Bucket[K, P]) Add(key *K, count int64, evicted *Entry[K]) bool {
	for i := 0; i < b.length; i++ {
		if P(&b.entries[i].Key).Equal(key) {
			b.entries[i].Count += count
			return false
		}
	}

	if b.length < BucketWidth {
		b.entries[b.length].Key = *key
		b.entries[b.length].Count = count
		b.length++
		return false
	}

	victim := 0
	for i := 1; i < BucketWidth; i++ {
		if b.entries[i].Count < b.entries[victim].Count {
			victim = i
		}
	}
	*evicted = b.entries[victim]
	b.entries[victim].Key = *key
	b.entries[victim].Count = count
	return true
}

func (b *Bucket[K, P]) Len() int {
	return b.length
}

// HashCounter routes keys to buckets by hash.
type HashCounter[K any, P Key[K]] struct {
	buckets []Bucket[K, P]
}

func NewHashCounter[K any, P Key[K]]() *HashCounter[K, P] {
	return &HashCounter[K, P]{buckets: make([]Bucket[K, P], BucketsPerTable)}
}

func (h *HashCounter[K, P]) Add(key *K, count int64, evicted *Entry[K]) bool {
	return h.buckets[P(key).Hash()%BucketsPerTable].Add(key, count, evicted)
}

func (h *HashCounter[K, P]) each(yield func(*Entry[K]) bool) bool {
	for i := range h.buckets {
		b := &h.buckets[i]
		for j := 0; j < b.length; j++ {
			if !yield(&b.entries[j]) {
				return false
			}
		}
	}
	return true
}

// Len returns the number of resident entries.
func (h *HashCounter[K, P]) Len() int {
	n := 0
	for i := range h.buckets {
		n += h.buckets[i].length
	}
	return n
}

// Collector is a HashCounter whose evictions go to an overflow store. It is
// not safe for concurrent use.
type Collector[K any, P Key[K]] struct {
	counter  *HashCounter[K, P]
	overflow *overflow[K]
	evicted  Entry[K]
}

// New allocates all buckets and opens the overflow store.
func New[K any, P Key[K]]() (*Collector[K, P], error) {
	var zero K
	if hasPointers(reflect.TypeOf(zero)) {
		return nil, errors.Join(ErrCreation, fmt.Errorf("%T: %w", zero, ErrPointerKey))
	}

	o, err := newOverflow[K]()
	if err != nil {
		return nil, errors.Join(ErrCreation, err)
	}

	return &Collector[K, P]{
		counter:  NewHashCounter[K, P](),
		overflow: o,
	}, nil
}

// Add adds count to key. The key is always counted. Add only fails when an
// evicted entry can not be written to the overflow store: the entry stays in
// the overflow buffer until it is full, after which further evicted entries
// are dropped and the error wraps ErrEntryLost.
func (c *Collector[K, P]) Add(key *K, count int64) error {
	if c.counter.Add(key, count, &c.evicted) {
		return c.overflow.push(&c.evicted)
	}
	return nil
}

// All yields resident entries followed by overflowed entries. The same key
// can appear more than once and callers must sum the counts. Yielded entries
// are only valid until the next iteration step. A read error from the
// overflow store is yielded last with a nil entry.
func (c *Collector[K, P]) All() iter.Seq2[*Entry[K], error] {
	return func(yield func(*Entry[K], error) bool) {
		ok := c.counter.each(func(e *Entry[K]) bool {
			return yield(e, nil)
		})
		if !ok {
			return
		}
		if err := c.overflow.each(func(e *Entry[K]) bool {
			return yield(e, nil)
		}); err != nil {
			yield(nil, err)
		}
	}
}

// Entries copies all entries out of the collector.
func (c *Collector[K, P]) Entries() ([]Entry[K], error) {
	res := make([]Entry[K], 0, c.counter.Len()+c.overflow.len())
	for e, err := range c.All() {
		if err != nil {
			return nil, err
		}
		res = append(res, *e)
	}
	return res, nil
}

// Stats returns the number of resident and overflowed entries.
func (c *Collector[K, P]) Stats() (resident, overflowed int) {
	return c.counter.Len(), c.overflow.len()
}

// Close releases the overflow store.
func (c *Collector[K, P]) Close() error {
	return c.overflow.close()
}

func hasPointers(t reflect.Type) bool {
	if t == nil {
		return true
	}
	switch t.Kind() {
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	default:
		return true
	}
}
