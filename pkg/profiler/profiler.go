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

// Package profiler samples the stacks of the running program.
//
// There is one sampling engine per process. A Guard returned by
// Builder.Build owns it until Stop is called. While running, a timer wakes a
// dedicated goroutine at the configured frequency. Each tick captures the
// stacks of all goroutines that are not parked or blocked in a system call
// and adds them to a bounded collector, without blocking and without growing
// any buffer. A tick that stands for several coalesced timer periods weighs
// its samples accordingly.
package profiler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/parca-dev/parca-sampler/pkg/collector"
	"github.com/parca-dev/parca-sampler/pkg/process"
	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/symbol"
)

type stackCollector = collector.Collector[profile.CapturedStack, *profile.CapturedStack]

type state int

const (
	stateIdle state = iota
	stateRunning
)

func (s state) String() string {
	if s == stateRunning {
		return "running"
	}
	return "idle"
}

// Profiler is the process-wide sampling state. Everything below mtx is only
// touched with mtx held. The sampling path never blocks on mtx.
type Profiler struct {
	logger log.Logger

	mtx       sync.RWMutex
	state     state
	data      *stackCollector
	blocklist process.Ranges
	frequency int
	startedAt time.Time

	// recordStack is scratch space for Record.
	recordStack profile.CapturedStack

	sampleCount atomic.Int64

	initOnce   sync.Once
	metrics    *metrics
	symbolizer *symbol.Symbolizer
	reg        prometheus.Registerer
}

var (
	instanceOnce sync.Once
	instance     *Profiler
	instanceErr  error
)

// get returns the process-wide profiler, creating it on first use.
func get() (*Profiler, error) {
	instanceOnce.Do(func() {
		data, err := collector.New[profile.CapturedStack]()
		if err != nil {
			instanceErr = errors.Join(ErrCreation, err)
			return
		}
		instance = &Profiler{
			logger:  log.NewNopLogger(),
			data:    data,
			metrics: newMetrics(nil),
		}
	})
	return instance, instanceErr
}

// init registers metrics and creates the symbolizer once per process, with
// the registerer of the first build.
func (p *Profiler) init(logger log.Logger, reg prometheus.Registerer) error {
	var err error
	p.initOnce.Do(func() {
		p.reg = reg
		p.metrics = newMetrics(reg)
		p.symbolizer, err = symbol.NewSymbolizer(logger, reg, symbol.DefaultCacheSize)
	})
	if err != nil {
		return err
	}
	if reg != nil && reg != p.reg {
		level.Warn(logger).Log("msg", "profiler metrics are already registered with another registerer")
	}
	return nil
}

func (p *Profiler) start(logger log.Logger, frequency int, blocklist process.Ranges) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state == stateRunning {
		return ErrRunning
	}
	p.logger = logger
	p.frequency = frequency
	p.blocklist = blocklist
	p.startedAt = time.Now()
	p.sampleCount.Store(0)
	p.state = stateRunning
	return nil
}

// stop returns to idle and replaces the collector. Samples still held by the
// old collector are gone.
func (p *Profiler) stop() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state != stateRunning {
		return ErrNotRunning
	}
	p.state = stateIdle
	p.blocklist = nil

	if err := p.resetLocked(); err != nil {
		return err
	}
	// Cached symbols are only reused within one run.
	if p.symbolizer != nil {
		p.symbolizer.Purge()
	}
	level.Debug(p.logger).Log("msg", "profiler stopped", "samples", p.sampleCount.Load())
	return nil
}

func (p *Profiler) resetLocked() error {
	fresh, err := collector.New[profile.CapturedStack]()
	if err != nil {
		return errors.Join(ErrCreation, err)
	}
	if err := p.data.Close(); err != nil {
		level.Warn(p.logger).Log("msg", "failed to remove overflow store", "err", err)
	}
	p.data = fresh
	p.metrics.overflowed.Set(0)
	return nil
}

// add inserts one stack. Callers hold mtx. The stack itself is always
// counted; an overflow failure can only cost an older, evicted entry.
func (p *Profiler) add(stack *profile.CapturedStack, count int64) {
	if err := p.data.Add(stack, count); err != nil {
		p.metrics.overflowWriteErrors.Inc()
		if errors.Is(err, collector.ErrEntryLost) {
			p.metrics.dropped.WithLabelValues(labelDropReasonOverflow).Inc()
		}
	}
	p.sampleCount.Inc()
	p.metrics.samples.Inc()
}

// SampleCount returns the number of samples taken since the last start.
func (p *Profiler) SampleCount() int64 {
	return p.sampleCount.Load()
}

func (p *Profiler) String() string {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return fmt.Sprintf("profiler(%s, %d Hz)", p.state, p.frequency)
}
