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
	"bytes"
	"testing"
	"time"

	"github.com/go-kit/log"
	pprofprofile "github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

func sym(name string, line int) profile.Symbol {
	return profile.Symbol{Name: name, File: name + ".go", Line: line}
}

func testReport() *report.Report {
	start := time.Unix(1700000000, 0)
	return &report.Report{
		Timing: report.Timing{Frequency: 100, Start: start, Duration: 2 * time.Second},
		Samples: []report.Sample{
			{
				Frames: profile.Frames{
					ThreadName: "main",
					ThreadID:   1,
					Stack: [][]profile.Symbol{
						{sym("leaf", 10), sym("inlinedInto", 20)},
						{sym("root", 30)},
					},
				},
				Count: 7,
			},
			{
				Frames: profile.Frames{
					ThreadID: 2,
					Stack: [][]profile.Symbol{
						{sym("other", 5)},
						{sym("root", 30)},
					},
				},
				Count: 3,
			},
			{Frames: profile.Frames{ThreadID: 3}, Count: 1},
		},
	}
}

func TestConvert(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(log.NewNopLogger(), reg)

	p, err := m.Convert(testReport())
	require.NoError(t, err)

	require.Equal(t, int64(10*time.Millisecond), p.Period)
	require.Equal(t, int64(2*time.Second), p.DurationNanos)
	require.Len(t, p.Sample, 2)
	require.Equal(t, []int64{7, 7 * int64(10*time.Millisecond)}, p.Sample[0].Value)
	require.Equal(t, []string{"main"}, p.Sample[0].Label[threadNameLabel])
	require.Equal(t, []int64{2}, p.Sample[1].NumLabel[threadIDLabel])

	// root:30 is shared by both samples.
	require.Len(t, p.Location, 3)
	require.Len(t, p.Function, 4)
	require.Same(t, p.Sample[0].Location[1], p.Sample[1].Location[1])

	leaf := p.Sample[0].Location[0]
	require.Len(t, leaf.Line, 2)
	require.Equal(t, "leaf", leaf.Line[0].Function.Name)
	require.Equal(t, int64(20), leaf.Line[1].Line)

	require.InDelta(t, 1, testutil.ToFloat64(m.metrics.stackDrop.WithLabelValues(labelStackDropReasonEmpty)), 0)
}

func TestConvertRoundTrip(t *testing.T) {
	p, err := NewManager(log.NewNopLogger(), prometheus.NewRegistry()).Convert(testReport())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Write(&buf))

	parsed, err := pprofprofile.Parse(&buf)
	require.NoError(t, err)

	var total int64
	for _, s := range parsed.Sample {
		total += s.Value[0]
	}
	require.Equal(t, int64(10), total)
}
