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

// Package report merges collector entries into reports. Unresolved reports
// keep raw instruction pointers, resolved reports carry symbol names.
package report

import (
	"cmp"
	"iter"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/parca-dev/parca-sampler/pkg/collector"
	"github.com/parca-dev/parca-sampler/pkg/profile"
)

// Timing describes the sampling period a report covers.
type Timing struct {
	// Frequency is the number of samples per second.
	Frequency int
	Start     time.Time
	Duration  time.Duration
}

// Period returns the time one sample stands for.
func (t Timing) Period() time.Duration {
	if t.Frequency <= 0 {
		return 0
	}
	return time.Second / time.Duration(t.Frequency)
}

type UnresolvedSample struct {
	Stack profile.CapturedStack
	Count int64
}

type Unresolved struct {
	Samples []UnresolvedSample
	Timing  Timing
}

// Merge drains entries and sums the counts of equal stacks. Stacks whose
// total is not positive are left out.
func Merge(entries iter.Seq2[*collector.Entry[profile.CapturedStack], error], timing Timing) (*Unresolved, error) {
	res := &Unresolved{Timing: timing}
	index := map[uint64][]int{}

	for e, err := range entries {
		if err != nil {
			return nil, err
		}
		if e.Count == 0 {
			continue
		}

		h := e.Key.Hash()
		merged := false
		for _, i := range index[h] {
			if res.Samples[i].Stack.Equal(&e.Key) {
				res.Samples[i].Count += e.Count
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		index[h] = append(index[h], len(res.Samples))
		res.Samples = append(res.Samples, UnresolvedSample{Stack: e.Key, Count: e.Count})
	}

	res.Samples = slices.DeleteFunc(res.Samples, func(s UnresolvedSample) bool {
		return s.Count <= 0
	})
	return res, nil
}

// Total returns the number of samples in the report.
func (u *Unresolved) Total() int64 {
	var n int64
	for i := range u.Samples {
		n += u.Samples[i].Count
	}
	return n
}

type Symbolizer interface {
	Symbolize(*profile.CapturedStack) profile.Frames
}

type Sample struct {
	Frames profile.Frames
	Count  int64
}

type Report struct {
	Samples []Sample
	Timing  Timing
}

// Resolve symbolizes an unresolved report. Stacks that resolve to the same
// function names on the same thread are merged. Samples are ordered by
// descending count.
func Resolve(u *Unresolved, s Symbolizer) *Report {
	var (
		samples []Sample
		keys    []string
		index   = map[string]int{}
	)
	for i := range u.Samples {
		frames := s.Symbolize(&u.Samples[i].Stack)
		k := key(&frames)
		if j, ok := index[k]; ok {
			samples[j].Count += u.Samples[i].Count
			continue
		}
		index[k] = len(samples)
		samples = append(samples, Sample{Frames: frames, Count: u.Samples[i].Count})
		keys = append(keys, k)
	}

	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := cmp.Compare(samples[b].Count, samples[a].Count); c != 0 {
			return c
		}
		return strings.Compare(keys[a], keys[b])
	})

	res := &Report{Timing: u.Timing, Samples: make([]Sample, len(samples))}
	for i, j := range order {
		res.Samples[i] = samples[j]
	}
	return res
}

func key(f *profile.Frames) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(f.ThreadID, 10))
	for _, syms := range f.Stack {
		b.WriteByte('|')
		for i, s := range syms {
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(s.Name)
		}
	}
	return b.String()
}

// Total returns the number of samples in the report.
func (r *Report) Total() int64 {
	var n int64
	for i := range r.Samples {
		n += r.Samples[i].Count
	}
	return n
}
