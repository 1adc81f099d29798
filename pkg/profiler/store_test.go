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

package profiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kit/log"
	pprofprofile "github.com/google/pprof/profile"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	fs := NewFileStore(log.NewNopLogger(), dir)
	labels := model.LabelSet{model.MetricNameLabel: "workload"}

	fn := &pprofprofile.Function{ID: 1, Name: "main.work"}
	loc := &pprofprofile.Location{ID: 1, Line: []pprofprofile.Line{{Function: fn, Line: 12}}}
	prof := &pprofprofile.Profile{
		SampleType: []*pprofprofile.ValueType{{Type: "samples", Unit: "count"}},
		Sample:     []*pprofprofile.Sample{{Location: []*pprofprofile.Location{loc}, Value: []int64{3}}},
		Location:   []*pprofprofile.Location{loc},
		Function:   []*pprofprofile.Function{fn},
	}

	path, err := fs.Store(context.Background(), labels, prof)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "workload_"))
	require.True(t, strings.HasSuffix(path, ".pb.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	parsed, err := pprofprofile.Parse(f)
	require.NoError(t, err)
	require.Len(t, parsed.Sample, 1)
	require.Equal(t, []int64{3}, parsed.Sample[0].Value)
	require.Equal(t, "main.work", parsed.Function[0].Name)

	r := &report.Report{Samples: []report.Sample{{
		Frames: profile.Frames{
			ThreadName: "worker",
			Stack:      [][]profile.Symbol{{{Name: "main.leaf"}}, {{Name: "main.main"}}},
		},
		Count: 4,
	}}}
	path, err = fs.StoreFolded(context.Background(), model.LabelSet{}, r)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "profile_"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "worker;main.main;main.leaf 4\n", string(b))
}
