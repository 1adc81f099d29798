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

//go:build !linux

package profiler

import (
	"fmt"
	"sync"
	"time"
)

// Timer delivers ticks from a runtime ticker on platforms where the interval
// timer signal is not wired up.
type Timer struct {
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

func newTimer(frequency int, tick func(weight int64)) (*Timer, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %d", frequency)
	}

	period := time.Second / time.Duration(frequency)
	w := newTickWeigher(period, time.Now())
	t := &Timer{
		ticker: time.NewTicker(period),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		// The ticker drops ticks for a slow receiver.
		for {
			select {
			case <-t.done:
				return
			case now := <-t.ticker.C:
				tick(w.next(now))
			}
		}
	}()
	return t, nil
}

func (t *Timer) Stop() error {
	t.ticker.Stop()
	close(t.done)
	t.wg.Wait()
	return nil
}
