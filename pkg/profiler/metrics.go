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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelDropReasonContention = "contention"
	labelDropReasonBlocklist  = "blocklist"
	labelDropReasonSnapshot   = "snapshot"
	labelDropReasonOverflow   = "overflow"
	labelDropReasonPanic      = "panic"
)

type metrics struct {
	ticks               prometheus.Counter
	ticksMissed         prometheus.Counter
	samples             prometheus.Counter
	dropped             *prometheus.CounterVec
	overflowed          prometheus.Gauge
	overflowWriteErrors prometheus.Counter
	snapshotDuration    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ticks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parca_sampler_ticks_total",
			Help: "Total number of timer ticks handled by the sampler.",
		}),
		ticksMissed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parca_sampler_ticks_missed_total",
			Help: "Total number of timer periods merged into a later tick because the sampler was not scheduled in time.",
		}),
		samples: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parca_sampler_samples_total",
			Help: "Total number of stacks added to the collector.",
		}),
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "parca_sampler_samples_dropped_total",
			Help: "Total number of samples dropped by reason.",
		}, []string{"reason"}),
		overflowed: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "parca_sampler_overflow_entries",
			Help: "Number of entries evicted to the overflow store of the current collector.",
		}),
		overflowWriteErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parca_sampler_overflow_write_errors_total",
			Help: "Total number of failed writes to the overflow store.",
		}),
		snapshotDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "parca_sampler_snapshot_duration_seconds",
			Help:    "Time spent capturing goroutine stacks per tick.",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}

	for _, reason := range []string{
		labelDropReasonContention,
		labelDropReasonBlocklist,
		labelDropReasonSnapshot,
		labelDropReasonOverflow,
		labelDropReasonPanic,
	} {
		m.dropped.WithLabelValues(reason)
	}
	return m
}
