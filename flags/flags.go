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

package flags

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/common/model"

	"github.com/parca-dev/parca-sampler/pkg/profiler"
)

const (
	FormatPprof  = "pprof"
	FormatFolded = "folded"
	FormatBoth   = "both"
)

// Parse reads the command line of the example binary.
func Parse() (Flags, error) {
	flags := Flags{}
	kong.Parse(&flags, vars())
	return flags, flags.Validate()
}

func vars() kong.Vars {
	return kong.Vars{
		"default_sampling_frequency": strconv.Itoa(profiler.DefaultFrequency),
	}
}

type Flags struct {
	Log         FlagsLogs `embed:""               prefix:"log-"`
	HTTPAddress string    `default:"127.0.0.1:7072" help:"Address to serve metrics on. Empty disables the server."`
	Version     bool      `help:"Show application version."`

	Profiling  FlagsProfiling  `embed:"" prefix:"profiling-"`
	Workload   FlagsWorkload   `embed:"" prefix:"workload-"`
	LocalStore FlagsLocalStore `embed:"" prefix:"local-store-"`
	Pyroscope  FlagsPyroscope  `embed:"" prefix:"pyroscope-"`
}

// Validate checks the flags that kong can not check on its own.
func (f Flags) Validate() error {
	if f.Profiling.Frequency <= 0 {
		return fmt.Errorf("invalid sampling frequency %d", f.Profiling.Frequency)
	}
	if f.Workload.Workers <= 0 {
		return errors.New("at least one workload worker is required")
	}
	if f.Pyroscope.URL != "" {
		if _, err := url.Parse(f.Pyroscope.URL); err != nil {
			return fmt.Errorf("invalid pyroscope url: %w", err)
		}
		if err := f.Pyroscope.LabelSet().Validate(); err != nil {
			return fmt.Errorf("invalid pyroscope labels: %w", err)
		}
	}
	return nil
}

type FlagsLogs struct {
	Level  string `default:"info"   enum:"error,warn,info,debug" help:"Log level."`
	Format string `default:"logfmt" enum:"logfmt,json"           help:"Configure if structured logging as JSON or as logfmt"`
}

// FlagsProfiling provides profiler configuration flags.
type FlagsProfiling struct {
	Frequency int           `default:"${default_sampling_frequency}" help:"Number of samples per second."`
	Duration  time.Duration `default:"10s"                           help:"How long to profile the workload."`
	Blocklist []string      `help:"Skip code of loaded objects whose path contains one of these substrings, e.g. libc,vdso."`
}

// FlagsWorkload configures the CPU bound example workload.
type FlagsWorkload struct {
	Workers int `default:"2"      help:"Number of goroutines computing primes."`
	Limit   int `default:"200000" help:"Upper bound of each prime sieve."`
}

// FlagsLocalStore provides local store configuration flags.
type FlagsLocalStore struct {
	Directory string `default:"profiles" help:"The local directory to store the profiling data."`
	Format    string `default:"both"     enum:"pprof,folded,both" help:"Output format of stored profiles."`
}

// FlagsPyroscope configures periodic uploads. Uploads are off without a URL.
type FlagsPyroscope struct {
	URL       string            `help:"Base URL of a Pyroscope server."`
	AppName   string            `default:"parca-sampler.cpu" help:"Application name to push profiles under."`
	Labels    map[string]string `help:"Label(s) to attach to pushed profiles."`
	Interval  time.Duration     `default:"10s"               help:"Interval between uploads."`
	AuthToken string            `help:"Bearer token to authenticate with the server."`
}

func (f FlagsPyroscope) LabelSet() model.LabelSet {
	ls := make(model.LabelSet, len(f.Labels))
	for k, v := range f.Labels {
		ls[model.LabelName(k)] = model.LabelValue(v)
	}
	return ls
}
