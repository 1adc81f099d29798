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
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Timer delivers ticks from an ITIMER_REAL interval timer. The runtime owns
// SIGPROF, so the timer raises SIGALRM, which is routed to a channel by
// os/signal. The runtime installs its handlers with SA_RESTART.
type Timer struct {
	sigs chan os.Signal
	done chan struct{}
	wg   sync.WaitGroup
}

func newTimer(frequency int, tick func(weight int64)) (*Timer, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %d", frequency)
	}

	t := &Timer{
		sigs: make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(t.sigs, unix.SIGALRM)

	period := time.Second / time.Duration(frequency)
	interval := unix.NsecToTimeval(int64(period))
	// Taken before arming so that no tick arrives earlier than its period.
	start := time.Now()
	if _, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{Interval: interval, Value: interval}); err != nil {
		signal.Stop(t.sigs)
		return nil, errors.Join(ErrOS, fmt.Errorf("setitimer: %w", err))
	}

	t.wg.Add(1)
	go t.loop(newTickWeigher(period, start), tick)
	return t, nil
}

// loop runs tick for every delivered signal. Signals raised while one is
// pending are merged by the runtime, so the time elapsed since arming decides
// how many periods a tick covers.
func (t *Timer) loop(w tickWeigher, tick func(int64)) {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case <-t.sigs:
			tick(w.next(time.Now()))
		}
	}
}

// Stop disarms the timer, then stops signal delivery and waits for a tick in
// flight to finish.
func (t *Timer) Stop() error {
	_, err := unix.Setitimer(unix.ItimerReal, unix.Itimerval{})
	signal.Stop(t.sigs)
	close(t.done)
	t.wg.Wait()
	if err != nil {
		return errors.Join(ErrOS, fmt.Errorf("setitimer: %w", err))
	}
	return nil
}
