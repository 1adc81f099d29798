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

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log/level"
	"github.com/prometheus/common/model"

	"github.com/parca-dev/parca-sampler/pkg/convert"
	"github.com/parca-dev/parca-sampler/pkg/logger"
	"github.com/parca-dev/parca-sampler/pkg/profiler"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

type flags struct {
	Input     string        `kong:"arg,help='Folded stacks file to convert.'"`
	OutputDir string        `kong:"help='Directory to write the pprof profile to.',default='.'"`
	Name      string        `kong:"help='Profile name, used as file name prefix.',default='cpu'"`
	Frequency int           `kong:"help='Sampling frequency the stacks were taken at.',default='99'"`
	Duration  time.Duration `kong:"help='Duration the stacks cover.',default='10s'"`
}

// This tool converts collapsed stacks written by parca-sampler, or by any
// other folded stack producer, into a gzip compressed pprof profile.
func main() {
	logger := logger.NewLogger("info", logger.LogFormatLogfmt, "fold2pprof")

	flags := flags{}
	kong.Parse(&flags)

	f, err := os.Open(flags.Input)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open input:", err)
		os.Exit(1)
	}
	defer f.Close()

	fileInfo, err := f.Stat()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to stat input:", err)
		os.Exit(1)
	}

	prof, err := convert.FoldedToPprof(f, report.Timing{
		Frequency: flags.Frequency,
		Start:     fileInfo.ModTime().Add(-flags.Duration),
		Duration:  flags.Duration,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to convert:", err)
		os.Exit(1)
	}

	path, err := profiler.NewFileStore(logger, flags.OutputDir).Store(
		context.Background(),
		model.LabelSet{model.MetricNameLabel: model.LabelValue(flags.Name)},
		prof,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to write profile:", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "wrote profile", "path", path, "samples", len(prof.Sample))
}
