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
	"time"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/stack/unwind"
)

// Record adds weight to the current stack of the calling goroutine in the
// running profile. It is meant for event hooks such as allocation tracking,
// where a negative weight undoes an earlier positive one. It never blocks
// and reports whether the event was recorded.
func Record(weight int64) bool {
	p, err := get()
	if err != nil {
		return false
	}
	if !p.mtx.TryLock() {
		p.metrics.dropped.WithLabelValues(labelDropReasonContention).Inc()
		return false
	}
	defer p.mtx.Unlock()

	if p.state != stateRunning {
		return false
	}

	var pcs [profile.MaxDepth + 1]uintptr
	ctx := unwind.Here(pcs[:])

	st := &p.recordStack
	st.Reset()
	blocklist := p.blocklist
	first := true
	unwind.Default.Trace(&ctx, func(f unwind.Frame) bool {
		// The innermost frame is Record itself.
		if first {
			first = false
			return true
		}
		if blocklist.Contains(f.IP) {
			return false
		}
		return st.Push(f.IP)
	})
	if st.Depth == 0 {
		p.metrics.dropped.WithLabelValues(labelDropReasonBlocklist).Inc()
		return false
	}

	tid, name := currentThread()
	st.SetThread(tid, name)
	st.Seal(time.Now().UnixNano())

	p.add(st, weight)
	return true
}
