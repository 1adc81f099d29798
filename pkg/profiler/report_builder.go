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
	"time"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

// ReportBuilder reads the collector of a running profiler.
type ReportBuilder struct {
	p          *Profiler
	timing     report.Timing
	symbolizer report.Symbolizer

	// empty is set for builders of a stopped guard.
	empty bool
}

func newReportBuilder(p *Profiler, timing report.Timing) *ReportBuilder {
	return &ReportBuilder{
		p:          p,
		timing:     timing,
		symbolizer: p.symbolizer,
	}
}

// FramesPostProcessor adjusts every resolved stack before stacks are merged,
// for example to rename threads.
func (b *ReportBuilder) FramesPostProcessor(fn func(*profile.Frames)) *ReportBuilder {
	b.symbolizer = postProcessor{inner: b.symbolizer, fn: fn}
	return b
}

// BuildUnresolved merges the collected stacks without resolving symbols.
func (b *ReportBuilder) BuildUnresolved() (*report.Unresolved, error) {
	if b.empty {
		return &report.Unresolved{Timing: b.timing}, nil
	}

	b.p.mtx.RLock()
	defer b.p.mtx.RUnlock()

	timing := b.timing
	timing.Duration = time.Since(timing.Start)

	u, err := report.Merge(b.p.data.All(), timing)
	if err != nil {
		return nil, errors.Join(ErrIO, err)
	}
	return u, nil
}

// Build merges the collected stacks and resolves their symbols.
func (b *ReportBuilder) Build() (*report.Report, error) {
	u, err := b.BuildUnresolved()
	if err != nil {
		return nil, err
	}
	return report.Resolve(u, b.symbolizer), nil
}

type postProcessor struct {
	inner report.Symbolizer
	fn    func(*profile.Frames)
}

func (p postProcessor) Symbolize(s *profile.CapturedStack) profile.Frames {
	f := p.inner.Symbolize(s)
	p.fn(&f)
	return f
}

// drain merges and clears the collector in one step.
func (p *Profiler) drain(timing report.Timing) (*report.Unresolved, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state != stateRunning {
		return nil, ErrNotRunning
	}
	u, err := report.Merge(p.data.All(), timing)
	if err != nil {
		return nil, errors.Join(ErrIO, err)
	}
	if err := p.resetLocked(); err != nil {
		return nil, err
	}
	return u, nil
}
