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

// Package symbol turns captured instruction pointers into function names,
// files and lines. It runs while reports are built, never while sampling.
package symbol

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parca-dev/parca-sampler/pkg/profile"
)

// DefaultCacheSize is the number of instruction pointers whose symbols are
// kept between reports.
const DefaultCacheSize = 8192

type metrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "parca_sampler_symbol_cache_requests_total",
		Help: "Total number of symbol cache requests.",
	}, []string{"result"})
	return &metrics{
		hits:   requests.WithLabelValues("hit"),
		misses: requests.WithLabelValues("miss"),
	}
}

// Symbolizer resolves addresses of the running binary.
type Symbolizer struct {
	logger  log.Logger
	metrics *metrics

	cache *freelru.SyncedLRU[uintptr, []profile.Symbol]
}

func hashAddr(addr uintptr) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	return uint32(xxhash.Sum64(b[:]))
}

func NewSymbolizer(logger log.Logger, reg prometheus.Registerer, size uint32) (*Symbolizer, error) {
	if size == 0 {
		size = DefaultCacheSize
	}
	cache, err := freelru.NewSynced[uintptr, []profile.Symbol](size, hashAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol cache: %w", err)
	}
	return &Symbolizer{
		logger:  logger,
		metrics: newMetrics(reg),
		cache:   cache,
	}, nil
}

// Resolve returns the symbols of one return address, innermost inlined call
// first. Unknown addresses resolve to a single symbol named after the address.
func (s *Symbolizer) Resolve(ip uintptr) []profile.Symbol {
	if syms, ok := s.cache.Get(ip); ok {
		s.metrics.hits.Inc()
		return syms
	}
	s.metrics.misses.Inc()

	syms := resolve(ip)
	s.cache.Add(ip, syms)
	return syms
}

func resolve(ip uintptr) []profile.Symbol {
	var syms []profile.Symbol
	frames := runtime.CallersFrames([]uintptr{ip})
	for {
		f, more := frames.Next()
		if f.Function != "" {
			syms = append(syms, profile.Symbol{
				Name: f.Function,
				File: f.File,
				Line: f.Line,
				Addr: f.Entry,
			})
		}
		if !more {
			break
		}
	}
	if len(syms) == 0 {
		syms = append(syms, profile.Symbol{
			Name: fmt.Sprintf("%#x", ip),
			Addr: ip,
		})
	}
	return syms
}

// Symbolize resolves every frame of a captured stack.
func (s *Symbolizer) Symbolize(stack *profile.CapturedStack) profile.Frames {
	ips := stack.Frames()
	res := profile.Frames{
		Stack:      make([][]profile.Symbol, 0, len(ips)),
		ThreadName: stack.Thread(),
		ThreadID:   stack.ThreadID,
		Timestamp:  time.Unix(0, stack.Timestamp),
	}
	for _, ip := range ips {
		res.Stack = append(res.Stack, s.Resolve(ip))
	}
	return res
}

// Purge drops all cached symbols.
func (s *Symbolizer) Purge() {
	s.cache.Purge()
}
