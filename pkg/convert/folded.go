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

// Package convert turns collapsed stack text back into pprof profiles.
package convert

import (
	"io"

	"github.com/google/pprof/profile"

	"github.com/parca-dev/parca-sampler/pkg/report"
)

const threadNameLabel = "thread_name"

// FoldedToPprof converts collapsed stacks to a pprof profile with the same
// sample types as a profile converted from a report. The first element of
// every stack is taken as the thread name.
func FoldedToPprof(r io.Reader, timing report.Timing) (*profile.Profile, error) {
	samples, err := report.ParseFolded(r)
	if err != nil {
		return nil, err
	}

	distinct := map[string]struct{}{}
	for _, s := range samples {
		for _, fn := range s.Stack[1:] {
			distinct[fn] = struct{}{}
		}
	}

	period := int64(timing.Period())
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		TimeNanos:     timing.Start.UnixNano(),
		DurationNanos: int64(timing.Duration),
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:        period,
		Sample:        make([]*profile.Sample, 0, len(samples)),
		Location:      make([]*profile.Location, 0, len(distinct)),
		Function:      make([]*profile.Function, 0, len(distinct)),
	}

	var (
		next          uint64
		allLocations  = make([]profile.Location, len(distinct))
		allFunctions  = make([]profile.Function, len(distinct))
		allLines      = make([]profile.Line, len(distinct))
		locationCache = make(map[string]*profile.Location, len(distinct))
	)
	// Locations, functions and lines are allocated in batches.
	location := func(name string) *profile.Location {
		if l, ok := locationCache[name]; ok {
			return l
		}
		id := next + 1

		f := &allFunctions[next]
		f.ID = id
		f.Name = name
		f.SystemName = name

		allLines[next].Function = f

		l := &allLocations[next]
		l.ID = id
		l.Line = allLines[next : next+1]
		locationCache[name] = l
		next++

		p.Location = append(p.Location, l)
		p.Function = append(p.Function, f)
		return l
	}

	for _, s := range samples {
		if s.Count <= 0 {
			continue
		}
		stack := s.Stack[1:]
		// pprof lists the leaf first.
		locations := make([]*profile.Location, 0, len(stack))
		for i := len(stack) - 1; i >= 0; i-- {
			locations = append(locations, location(stack[i]))
		}

		sample := &profile.Sample{
			Location: locations,
			Value:    []int64{s.Count, s.Count * period},
		}
		if s.Stack[0] != "" {
			sample.Label = map[string][]string{threadNameLabel: {s.Stack[0]}}
		}
		p.Sample = append(p.Sample, sample)
	}

	return p, p.CheckValid()
}
