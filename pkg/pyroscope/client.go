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

package pyroscope

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type clientMetrics struct {
	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dial     *prometheus.HistogramVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	return &clientMetrics{
		inFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "parca_sampler_push_http_in_flight_requests",
			Help: "Number of uploads waiting for a response.",
		}),
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "parca_sampler_push_http_requests_total",
			Help: "Total number of upload requests by status code and method.",
		}, []string{"code", "method"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:                        "parca_sampler_push_http_request_duration_seconds",
			Help:                        "Latency of upload requests.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"code", "method"}),
		dial: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:                        "parca_sampler_push_http_dial_duration_seconds",
			Help:                        "Time from the start of an upload until a connection step finished.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"event"}),
	}
}

// newHTTPClient returns a client whose requests are counted and timed.
func newHTTPClient(reg prometheus.Registerer, timeout time.Duration) *http.Client {
	m := newClientMetrics(reg)

	trace := &promhttp.InstrumentTrace{
		ConnectDone: func(t float64) {
			m.dial.WithLabelValues("connect_done").Observe(t)
		},
		TLSHandshakeDone: func(t float64) {
			m.dial.WithLabelValues("tls_handshake_done").Observe(t)
		},
		GotConn: func(t float64) {
			m.dial.WithLabelValues("got_conn").Observe(t)
		},
	}

	var rt http.RoundTripper = http.DefaultTransport
	rt = promhttp.InstrumentRoundTripperDuration(m.duration, rt)
	rt = promhttp.InstrumentRoundTripperTrace(trace, rt)
	rt = promhttp.InstrumentRoundTripperCounter(m.requests, rt)
	rt = promhttp.InstrumentRoundTripperInFlight(m.inFlight, rt)

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}
