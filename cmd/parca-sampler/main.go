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
	"errors"
	"fmt"
	"net/http"
	"os"
	runtimepprof "runtime/pprof"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	okrun "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/model"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/parca-dev/parca-sampler/flags"
	"github.com/parca-dev/parca-sampler/pkg/buildinfo"
	"github.com/parca-dev/parca-sampler/pkg/logger"
	"github.com/parca-dev/parca-sampler/pkg/pprof"
	"github.com/parca-dev/parca-sampler/pkg/profiler"
	"github.com/parca-dev/parca-sampler/pkg/pyroscope"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

func main() {
	f, err := flags.Parse()
	logger := logger.NewLogger(f.Log.Level, f.Log.Format, "parca-sampler")
	if err != nil {
		level.Error(logger).Log("msg", "invalid flags", "err", err)
		os.Exit(2)
	}

	if f.Version {
		info, err := buildinfo.Fetch()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("parca-sampler %s (%s)\n", info.Version, info.Revision())
		os.Exit(0)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	intro := figure.NewColorFigure("Parca Sampler ", "roman", "yellow", true)
	intro.Print()

	if info, err := buildinfo.Fetch(); err == nil {
		level.Info(logger).Log(append([]interface{}{"msg", "build info"}, info.KeyVals()...)...)
	}

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		level.Info(logger).Log("msg", fmt.Sprintf(format, a...))
	})); err != nil {
		level.Warn(logger).Log("msg", "failed to set GOMAXPROCS automatically", "err", err)
	}

	if err := run(logger, reg, f); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, reg *prometheus.Registry, f flags.Flags) error {
	guard, err := profiler.NewBuilder(
		profiler.WithFrequency(f.Profiling.Frequency),
		profiler.WithBlocklist(f.Profiling.Blocklist...),
		profiler.WithLogger(logger),
		profiler.WithRegisterer(reg),
	).Build()
	if err != nil {
		return fmt.Errorf("failed to start profiler: %w", err)
	}
	defer func() {
		if err := guard.Stop(); err != nil {
			level.Warn(logger).Log("msg", "failed to stop profiler", "err", err)
		}
	}()

	ctx := context.Background()
	var g okrun.Group

	// Workload, bounded by the profiling duration.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			level.Info(logger).Log("msg", "starting workload", "workers", f.Workload.Workers, "duration", f.Profiling.Duration)
			defer level.Debug(logger).Log("msg", "stopped: workload")

			var err error
			runtimepprof.Do(ctx, runtimepprof.Labels("component", "workload"), func(ctx context.Context) {
				ctx, cancel := context.WithTimeout(ctx, f.Profiling.Duration)
				defer cancel()

				var primes int
				primes, err = runWorkload(ctx, f.Workload.Workers, f.Workload.Limit)
				level.Info(logger).Log("msg", "workload finished", "primes", primes)
			})
			return err
		}, func(error) {
			cancel()
		})
	}

	if f.Pyroscope.URL != "" {
		pusher, err := pyroscope.NewPusher(logger, reg, guard, pyroscope.Config{
			URL:       f.Pyroscope.URL,
			AppName:   f.Pyroscope.AppName,
			Labels:    f.Pyroscope.LabelSet(),
			Interval:  f.Pyroscope.Interval,
			AuthToken: f.Pyroscope.AuthToken,
		})
		if err != nil {
			return fmt.Errorf("failed to create pyroscope pusher: %w", err)
		}

		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			level.Debug(logger).Log("msg", "starting: pyroscope pusher", "url", f.Pyroscope.URL)
			defer level.Debug(logger).Log("msg", "stopped: pyroscope pusher")

			var err error
			runtimepprof.Do(ctx, runtimepprof.Labels("component", "pyroscope_pusher"), func(ctx context.Context) {
				err = pusher.Run(ctx)
			})
			return err
		}, func(error) {
			cancel()
		})
	}

	if f.HTTPAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:         f.HTTPAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: time.Minute,
		}

		g.Add(func() error {
			level.Debug(logger).Log("msg", "starting: http server", "address", f.HTTPAddress)
			defer level.Debug(logger).Log("msg", "stopped: http server")

			var err error
			runtimepprof.Do(ctx, runtimepprof.Labels("component", "http_server"), func(_ context.Context) {
				err = srv.ListenAndServe()
			})
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}, func(error) {
			srv.Close()
		})
	}

	g.Add(okrun.SignalHandler(ctx, os.Interrupt))
	if err := g.Run(); err != nil {
		var sigErr okrun.SignalError
		if !errors.As(err, &sigErr) {
			return err
		}
		level.Info(logger).Log("msg", "interrupted", "signal", sigErr.Signal)
	}

	r, err := guard.Report().Build()
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	return store(ctx, logger, reg, f.LocalStore, r)
}

func store(ctx context.Context, logger log.Logger, reg prometheus.Registerer, f flags.FlagsLocalStore, r *report.Report) error {
	fs := profiler.NewFileStore(logger, f.Directory)
	labels := model.LabelSet{model.MetricNameLabel: "cpu"}

	if f.Format == flags.FormatPprof || f.Format == flags.FormatBoth {
		prof, err := pprof.NewManager(logger, reg).Convert(r)
		if err != nil {
			return fmt.Errorf("failed to convert report: %w", err)
		}
		path, err := fs.Store(ctx, labels, prof)
		if err != nil {
			return fmt.Errorf("failed to store profile: %w", err)
		}
		level.Info(logger).Log("msg", "stored profile", "path", path, "samples", r.Total())
	}

	if f.Format == flags.FormatFolded || f.Format == flags.FormatBoth {
		path, err := fs.StoreFolded(ctx, labels, r)
		if err != nil {
			return fmt.Errorf("failed to store folded stacks: %w", err)
		}
		level.Info(logger).Log("msg", "stored folded stacks", "path", path, "stacks", len(r.Samples))
	}
	return nil
}
