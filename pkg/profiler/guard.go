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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"

	"github.com/parca-dev/parca-sampler/pkg/process"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

// DefaultFrequency is the default number of samples per second. It is prime
// so that sampling does not run in lockstep with periodic work.
const DefaultFrequency = 99

type config struct {
	frequency   int
	blocklist   []string
	logger      log.Logger
	reg         prometheus.Registerer
	procfsMount string
}

type Option func(*config)

// WithFrequency sets the number of samples per second.
func WithFrequency(hz int) Option {
	return func(c *config) {
		c.frequency = hz
	}
}

// WithBlocklist excludes code of every loaded object whose path contains one
// of the substrings. Objects are matched once, when the profiler is built.
func WithBlocklist(substrings ...string) Option {
	return func(c *config) {
		c.blocklist = append(c.blocklist, substrings...)
	}
}

func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithRegisterer registers the profiler metrics. Metrics are registered once
// per process, by the first build.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.reg = reg
	}
}

// WithProcFS sets the procfs mount point used to resolve the blocklist.
func WithProcFS(mountPoint string) Option {
	return func(c *config) {
		c.procfsMount = mountPoint
	}
}

type Builder struct {
	cfg config
}

func NewBuilder(opts ...Option) *Builder {
	cfg := config{
		frequency:   DefaultFrequency,
		logger:      log.NewNopLogger(),
		procfsMount: procfs.DefaultMountPoint,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Builder{cfg: cfg}
}

// Build starts the profiler. It fails with ErrRunning while another Guard is
// active. On failure the profiler is left idle.
func (b *Builder) Build() (*Guard, error) {
	cfg := b.cfg
	if cfg.frequency <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %d", cfg.frequency)
	}

	blocklist, err := resolveBlocklist(cfg)
	if err != nil {
		return nil, err
	}

	p, err := get()
	if err != nil {
		return nil, err
	}
	if err := p.init(cfg.logger, cfg.reg); err != nil {
		return nil, err
	}
	if err := p.start(cfg.logger, cfg.frequency, blocklist); err != nil {
		return nil, err
	}

	timer, err := newTimer(cfg.frequency, newSampler(p).sample)
	if err != nil {
		if stopErr := p.stop(); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return nil, err
	}

	level.Debug(cfg.logger).Log(
		"msg", "profiler started",
		"frequency", cfg.frequency,
		"blocklisted_ranges", len(blocklist),
	)
	return &Guard{
		logger:    cfg.logger,
		p:         p,
		timer:     timer,
		frequency: cfg.frequency,
		startedAt: time.Now(),
	}, nil
}

func resolveBlocklist(cfg config) (process.Ranges, error) {
	if len(cfg.blocklist) == 0 {
		return nil, nil
	}

	fs, err := procfs.NewFS(cfg.procfsMount)
	if err != nil {
		return nil, errors.Join(ErrIO, fmt.Errorf("failed to open procfs: %w", err))
	}
	mappings, err := process.NewMapManager(prometheus.NewRegistry(), fs).SelfMappings()
	if err != nil {
		return nil, errors.Join(ErrIO, fmt.Errorf("failed to list loaded objects: %w", err))
	}

	ranges := mappings.Blocklist(cfg.blocklist...)
	for _, r := range ranges {
		level.Debug(cfg.logger).Log("msg", "blocklisted address range", "path", r.Path, "start", fmt.Sprintf("%#x", r.Start), "end", fmt.Sprintf("%#x", r.End))
	}

	pc, _, _, _ := runtime.Caller(0)
	if ranges.Contains(pc) {
		path := "unknown"
		if m := mappings.MappingForAddr(uint64(pc)); m != nil {
			path = m.Pathname
		}
		level.Warn(cfg.logger).Log("msg", "blocklist covers the profiler's own object, every sampled stack will be dropped", "path", path)
	}
	return ranges, nil
}

// Guard owns a running profiler. Stop must be called to release it.
type Guard struct {
	logger log.Logger
	p      *Profiler
	timer  *Timer

	mtx       sync.Mutex
	stopped   bool
	stoppedAt time.Time
	frequency int
	startedAt time.Time
}

// Report returns a builder over the samples collected so far. The samples of
// a stopped guard are gone, so its reports are empty.
func (g *Guard) Report() *ReportBuilder {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	b := newReportBuilder(g.p, report.Timing{
		Frequency: g.frequency,
		Start:     g.startedAt,
	})
	if g.stopped {
		b.timing.Duration = g.stoppedAt.Sub(g.startedAt)
		b.empty = true
	}
	return b
}

// Drain returns the samples collected so far and clears the collector, while
// sampling continues. The next report starts at the time of the drain.
func (g *Guard) Drain() (*report.Report, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.stopped {
		return nil, ErrNotRunning
	}
	now := time.Now()
	u, err := g.p.drain(report.Timing{
		Frequency: g.frequency,
		Start:     g.startedAt,
		Duration:  now.Sub(g.startedAt),
	})
	if err != nil {
		return nil, err
	}
	g.startedAt = now
	return report.Resolve(u, g.p.symbolizer), nil
}

// Stop disarms the timer and returns the profiler to idle. Calling Stop again
// is a no-op.
func (g *Guard) Stop() error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.stopped {
		return nil
	}
	g.stopped = true
	g.stoppedAt = time.Now()

	if err := g.timer.Stop(); err != nil {
		level.Warn(g.logger).Log("msg", "failed to disarm timer", "err", err)
	}
	return g.p.stop()
}
