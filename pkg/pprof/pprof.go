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

package pprof

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pprofprofile "github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

const (
	threadIDLabel   = "thread_id"
	threadNameLabel = "thread_name"
)

type Manager struct {
	logger  log.Logger
	metrics *converterMetrics
}

func NewManager(logger log.Logger, reg prometheus.Registerer) *Manager {
	return &Manager{
		logger:  logger,
		metrics: newConverterMetrics(reg),
	}
}

type Converter struct {
	m      *Manager
	logger log.Logger

	functionIndex map[functionKey]*pprofprofile.Function
	locationIndex map[string]*pprofprofile.Location

	mapping *pprofprofile.Mapping
	result  *pprofprofile.Profile
}

// NewConverter returns a converter for one report. Converters are not
// reusable.
func (m *Manager) NewConverter(timing report.Timing) *Converter {
	period := int64(timing.Period())

	mapping := &pprofprofile.Mapping{
		ID:             1, // pprof IDs start at 1 to tell them apart from unset.
		HasFunctions:   true,
		HasFilenames:   true,
		HasLineNumbers: true,
	}
	if exe, err := os.Executable(); err == nil {
		mapping.File = exe
	} else {
		level.Debug(m.logger).Log("msg", "failed to find executable path", "err", err)
	}

	return &Converter{
		m:      m,
		logger: m.logger,

		functionIndex: map[functionKey]*pprofprofile.Function{},
		locationIndex: map[string]*pprofprofile.Location{},

		mapping: mapping,
		result: &pprofprofile.Profile{
			SampleType: []*pprofprofile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "cpu", Unit: "nanoseconds"},
			},
			TimeNanos:     timing.Start.UnixNano(),
			DurationNanos: int64(timing.Duration),

			// Sampling at 100Hz would be every 10 Million nanoseconds.
			PeriodType: &pprofprofile.ValueType{Type: "cpu", Unit: "nanoseconds"},
			Period:     period,
			Mapping:    []*pprofprofile.Mapping{mapping},
		},
	}
}

// Convert builds a pprof profile out of a resolved report.
func (m *Manager) Convert(r *report.Report) (*pprofprofile.Profile, error) {
	return m.NewConverter(r.Timing).Convert(r)
}

func (c *Converter) Convert(r *report.Report) (*pprofprofile.Profile, error) {
	for i := range r.Samples {
		s := &r.Samples[i]
		if len(s.Frames.Stack) == 0 {
			c.m.metrics.stackDrop.WithLabelValues(labelStackDropReasonEmpty).Inc()
			continue
		}

		pprofSample := &pprofprofile.Sample{
			Value:    []int64{s.Count, s.Count * c.result.Period},
			Location: make([]*pprofprofile.Location, 0, len(s.Frames.Stack)),
			Label:    map[string][]string{},
			NumLabel: map[string][]int64{},
		}
		for _, syms := range s.Frames.Stack {
			if len(syms) == 0 {
				c.m.metrics.frameDrop.WithLabelValues(labelFrameDropReasonUnsymbolized).Inc()
				continue
			}
			pprofSample.Location = append(pprofSample.Location, c.addLocation(syms))
		}

		pprofSample.NumLabel[threadIDLabel] = []int64{int64(s.Frames.ThreadID)}
		if s.Frames.ThreadName != "" {
			pprofSample.Label[threadNameLabel] = []string{s.Frames.ThreadName}
		}
		c.result.Sample = append(c.result.Sample, pprofSample)
	}

	if err := c.result.CheckValid(); err != nil {
		return nil, err
	}
	return c.result, nil
}

// addLocation returns the location for one frame, with one line per inlined
// call, innermost first.
func (c *Converter) addLocation(syms []profile.Symbol) *pprofprofile.Location {
	var b strings.Builder
	for _, s := range syms {
		b.WriteString(s.Name)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(s.Line))
		b.WriteByte(';')
	}
	key := b.String()
	if l, ok := c.locationIndex[key]; ok {
		return l
	}

	l := &pprofprofile.Location{
		ID:      uint64(len(c.result.Location) + 1),
		Mapping: c.mapping,
		Line:    make([]pprofprofile.Line, 0, len(syms)),
	}
	for _, s := range syms {
		l.Line = append(l.Line, pprofprofile.Line{
			Function: c.addFunction(s.Name, s.File),
			Line:     int64(s.Line),
		})
	}

	c.locationIndex[key] = l
	c.result.Location = append(c.result.Location, l)
	return l
}

type functionKey struct {
	name     string
	filename string
}

func (c *Converter) addFunction(
	name string,
	filename string,
) *pprofprofile.Function {
	key := functionKey{name: name, filename: filename}
	if f, ok := c.functionIndex[key]; ok {
		return f
	}

	f := &pprofprofile.Function{
		ID:         uint64(len(c.result.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   filename,
	}

	c.functionIndex[key] = f
	c.result.Function = append(c.result.Function, f)

	return f
}
