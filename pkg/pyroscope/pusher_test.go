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
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

type request struct {
	query url.Values
	body  string
	auth  string
}

type server struct {
	mtx      sync.Mutex
	requests []request
	statuses []int
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.requests = append(s.requests, request{query: r.URL.Query(), body: string(body), auth: r.Header.Get("Authorization")})
	if r.URL.Path != "/ingest" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(s.statuses) > 0 {
		status := s.statuses[0]
		s.statuses = s.statuses[1:]
		w.WriteHeader(status)
	}
}

func (s *server) received() []request {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]request(nil), s.requests...)
}

type source struct {
	reports []*report.Report
	err     error
}

func (s *source) Drain() (*report.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.reports) == 0 {
		return &report.Report{}, nil
	}
	r := s.reports[0]
	s.reports = s.reports[1:]
	return r, nil
}

func testReport() *report.Report {
	return &report.Report{
		Timing: report.Timing{
			Frequency: 99,
			Start:     time.Unix(1700000000, 0),
			Duration:  10 * time.Second,
		},
		Samples: []report.Sample{{
			Frames: profile.Frames{
				ThreadName: "main",
				Stack:      [][]profile.Symbol{{{Name: "main.work"}}, {{Name: "main.main"}}},
			},
			Count: 12,
		}},
	}
}

func newPusher(t *testing.T, url string, src Source, reg prometheus.Registerer) *Pusher {
	t.Helper()
	p, err := NewPusher(log.NewNopLogger(), reg, src, Config{
		URL:       url,
		AppName:   "workload.cpu",
		Labels:    model.LabelSet{"env": "test", "az": "eu-1"},
		Interval:  5 * time.Second,
		AuthToken: "secret",
	})
	require.NoError(t, err)
	return p
}

func TestAppName(t *testing.T) {
	require.Equal(t, "app", AppName("app", nil))
	require.Equal(t, "app{a=1,b=2}", AppName("app", model.LabelSet{"b": "2", "a": "1"}))
}

func TestNewPusherValidates(t *testing.T) {
	_, err := NewPusher(log.NewNopLogger(), prometheus.NewRegistry(), &source{}, Config{URL: "http://localhost"})
	require.Error(t, err)

	_, err = NewPusher(log.NewNopLogger(), prometheus.NewRegistry(), &source{}, Config{
		URL:     "http://localhost",
		AppName: "app",
		Labels:  model.LabelSet{"env": "\xff"},
	})
	require.Error(t, err)
}

func TestPush(t *testing.T) {
	srv := &server{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	reg := prometheus.NewRegistry()
	p := newPusher(t, ts.URL+"/", &source{}, reg)
	require.NoError(t, p.Push(context.Background(), testReport()))

	reqs := srv.received()
	require.Len(t, reqs, 1)
	q := reqs[0].query
	require.Equal(t, "workload.cpu{az=eu-1,env=test}", q.Get("name"))
	require.Equal(t, "1700000000", q.Get("from"))
	require.Equal(t, "1700000010", q.Get("until"))
	require.Equal(t, "folded", q.Get("format"))
	require.Equal(t, "99", q.Get("sampleRate"))
	require.Equal(t, "parca-sampler", q.Get("spyName"))
	require.Equal(t, "main;main.main;main.work 12\n", reqs[0].body)
	require.Equal(t, "Bearer secret", reqs[0].auth)

	require.Equal(t, 1.0, testutil.ToFloat64(p.metrics.pushes.WithLabelValues(resultSuccess)))
	require.Equal(t, 1, testutil.CollectAndCount(reg, "parca_sampler_push_http_requests_total"))
}

func TestPushSkipsEmptyReport(t *testing.T) {
	srv := &server{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p := newPusher(t, ts.URL, &source{}, prometheus.NewRegistry())
	require.NoError(t, p.Push(context.Background(), &report.Report{}))
	require.Empty(t, srv.received())
	require.Equal(t, 1.0, testutil.ToFloat64(p.metrics.pushes.WithLabelValues(resultEmpty)))
}

func TestPushRetriesServerErrors(t *testing.T) {
	srv := &server{statuses: []int{http.StatusServiceUnavailable, http.StatusOK}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p := newPusher(t, ts.URL, &source{}, prometheus.NewRegistry())
	require.NoError(t, p.Push(context.Background(), testReport()))
	require.Len(t, srv.received(), 2)
	require.Equal(t, 1.0, testutil.ToFloat64(p.metrics.retries))
}

func TestPushDoesNotRetryClientErrors(t *testing.T) {
	srv := &server{statuses: []int{http.StatusBadRequest, http.StatusOK}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p := newPusher(t, ts.URL, &source{}, prometheus.NewRegistry())
	err := p.Push(context.Background(), testReport())
	require.ErrorContains(t, err, "400")
	require.Len(t, srv.received(), 1)
	require.Equal(t, 1.0, testutil.ToFloat64(p.metrics.pushes.WithLabelValues(resultFailure)))
}

func TestRunFlushesOnCancel(t *testing.T) {
	srv := &server{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	p := newPusher(t, ts.URL, &source{reports: []*report.Report{testReport()}}, prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))
	require.Len(t, srv.received(), 1)
}

func TestRunReportsSourceError(t *testing.T) {
	p := newPusher(t, "http://127.0.0.1:1", &source{err: errors.New("not running")}, prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorContains(t, p.Run(ctx), "not running")
}
