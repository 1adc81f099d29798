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

import "time"

// tickWeigher turns tick arrival times into the number of timer periods each
// tick covers. Periods are counted from the start of the timer, so late but
// uncoalesced ticks weigh one and a tick delivered after k merged periods
// weighs k.
type tickWeigher struct {
	period  time.Duration
	start   time.Time
	counted int64
}

func newTickWeigher(period time.Duration, start time.Time) tickWeigher {
	return tickWeigher{period: period, start: start}
}

// next returns the weight of a tick that arrived at now. It is at least one.
func (w *tickWeigher) next(now time.Time) int64 {
	n := int64(now.Sub(w.start)/w.period) - w.counted
	if n < 1 {
		n = 1
	}
	w.counted += n
	return n
}
