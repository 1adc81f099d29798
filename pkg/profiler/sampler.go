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
	"runtime"
	"strings"
	"time"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/stack/unwind"
)

// recordsSlack is the headroom kept in the goroutine record buffer so that
// goroutines started between two ticks do not force a retry.
const recordsSlack = 64

// sampler runs one tick at a time on the timer goroutine. All of its buffers
// are allocated up front or grown between ticks.
type sampler struct {
	p *Profiler

	records []runtime.StackRecord
	stack   profile.CapturedStack
	tracer  unwind.Portable
}

func newSampler(p *Profiler) *sampler {
	return &sampler{
		p:       p,
		records: make([]runtime.StackRecord, runtime.NumGoroutine()+recordsSlack),
	}
}

// sample is the tick handler. weight is the number of timer periods the tick
// stands for, more than one when ticks were coalesced while the timer
// goroutine was not scheduled. It never returns an error and never panics:
// every failure drops the sample.
func (s *sampler) sample(weight int64) {
	defer func() {
		if r := recover(); r != nil {
			s.p.metrics.dropped.WithLabelValues(labelDropReasonPanic).Inc()
		}
	}()
	s.p.metrics.ticks.Inc()
	if weight > 1 {
		s.p.metrics.ticksMissed.Add(float64(weight - 1))
	}

	if n := runtime.NumGoroutine() + recordsSlack; n > len(s.records) {
		s.records = make([]runtime.StackRecord, 2*n)
	}

	begin := time.Now()
	n, ok := runtime.GoroutineProfile(s.records)
	s.p.metrics.snapshotDuration.Observe(time.Since(begin).Seconds())
	if !ok {
		// Grown on the next tick.
		s.p.metrics.dropped.WithLabelValues(labelDropReasonSnapshot).Inc()
		return
	}

	if !s.p.mtx.TryLock() {
		s.p.metrics.dropped.WithLabelValues(labelDropReasonContention).Inc()
		return
	}
	defer s.p.mtx.Unlock()

	if s.p.state != stateRunning {
		return
	}

	self := selfEntry()
	timestamp := time.Now().UnixNano()
	for i := range s.records[:n] {
		r := &s.records[i]
		pcs := r.Stack()
		s.capture(pcs, len(pcs) == len(r.Stack0), self, timestamp, weight)
	}
	_, overflowed := s.p.data.Stats()
	s.p.metrics.overflowed.Set(float64(overflowed))
}

// capture adds one goroutine record. truncated is set when the record is
// full and its outermost frames were cut off.
func (s *sampler) capture(pcs []uintptr, truncated bool, self uintptr, timestamp, weight int64) {
	pcs = trimPreempt(pcs)
	if len(pcs) == 0 || offCPU(pcs[0]) || isSelf(pcs, self) {
		return
	}

	blocklist := s.p.blocklist
	if blocklist.Contains(pcs[0]) {
		s.p.metrics.dropped.WithLabelValues(labelDropReasonBlocklist).Inc()
		return
	}

	st := &s.stack
	st.Reset()
	ctx := unwind.Context{PCs: pcs}
	s.tracer.Trace(&ctx, func(f unwind.Frame) bool {
		if blocklist.Contains(f.IP) {
			return false
		}
		return st.Push(f.IP)
	})

	id, name := goroutineRoot(pcs, truncated)
	if name != "" {
		st.SetThreadString(id, name)
	} else {
		var buf [profile.MaxThreadName]byte
		st.SetThread(id, formatThreadID(&buf, id))
	}
	st.Seal(timestamp)

	s.p.add(st, weight)
}

// selfEntry returns the entry address of sample, which is on the stack of
// the goroutine that takes the snapshot.
//
//go:noinline
func selfEntry() uintptr {
	var pcs [2]uintptr
	// 0: selfEntry, 1: sample.
	if runtime.Callers(1, pcs[:]) < 2 {
		return 0
	}
	return profile.SymbolAddress(pcs[1])
}

func isSelf(pcs []uintptr, self uintptr) bool {
	if self == 0 {
		return false
	}
	for i, pc := range pcs {
		if i == 8 {
			break
		}
		if profile.SymbolAddress(pc) == self {
			return true
		}
	}
	return false
}

func funcName(pc uintptr) string {
	if fn := runtime.FuncForPC(pc - 1); fn != nil {
		return fn.Name()
	}
	return ""
}

// offCPU reports whether a goroutine whose innermost frame is pc can not be
// executing Go code: it is parked in the scheduler or blocked in a system
// call.
func offCPU(pc uintptr) bool {
	name := funcName(pc)
	switch name {
	case "runtime.gopark", "runtime.goparkunlock", "runtime.notetsleepg":
		return true
	}
	return inSyscall(name)
}

// inSyscall matches the system call entry points a goroutine stops in while
// the kernel runs or blocks on its behalf. Packages are matched by their last
// path element, so internal/runtime/syscall.Syscall6 is syscall.Syscall6.
func inSyscall(name string) bool {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	pkg, fn, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	switch pkg {
	case "syscall", "unix":
		return strings.HasPrefix(fn, "Syscall") ||
			strings.HasPrefix(fn, "RawSyscall") ||
			strings.HasPrefix(fn, "syscall") ||
			strings.HasPrefix(fn, "rawSyscall") ||
			strings.HasPrefix(fn, "rawVforkSyscall")
	case "runtime":
		return strings.HasPrefix(fn, "entersyscall") || strings.HasPrefix(fn, "exitsyscall")
	}
	return false
}

// trimPreempt drops the frames of the asynchronous preemption handler that
// sit on top of goroutines stopped for the snapshot.
func trimPreempt(pcs []uintptr) []uintptr {
	for len(pcs) > 0 && strings.HasPrefix(funcName(pcs[0]), "runtime.asyncPreempt") {
		pcs = pcs[1:]
	}
	return pcs
}

// goroutineRoot identifies a goroutine by the function it was started with:
// the outermost frame below runtime.goexit. A truncated record has lost that
// frame and gets id 0 with no name.
func goroutineRoot(pcs []uintptr, truncated bool) (uint64, string) {
	root := pcs[len(pcs)-1]
	if truncated && funcName(root) != "runtime.goexit" {
		return 0, ""
	}
	if len(pcs) > 1 && funcName(root) == "runtime.goexit" {
		root = pcs[len(pcs)-2]
	}
	return uint64(profile.SymbolAddress(root)), funcName(root)
}

// formatThreadID writes id in decimal without allocating, keeping the least
// significant digits if it does not fit.
func formatThreadID(buf *[profile.MaxThreadName]byte, id uint64) []byte {
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + id%10)
		id /= 10
		if id == 0 || i == 0 {
			break
		}
	}
	return buf[i:]
}
