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

// Package pyroscope uploads collapsed stacks to a Pyroscope ingest endpoint.
package pyroscope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/model"

	"github.com/parca-dev/parca-sampler/pkg/report"
)

const (
	spyName = "parca-sampler"

	resultSuccess = "success"
	resultFailure = "failure"
	resultEmpty   = "empty"
)

// Source hands out the samples collected since the previous call.
type Source interface {
	Drain() (*report.Report, error)
}

type Config struct {
	// URL is the base address of the server, without the /ingest path.
	URL       string
	AppName   string
	Labels    model.LabelSet
	Interval  time.Duration
	Timeout   time.Duration
	AuthToken string
}

type metrics struct {
	pushes  *prometheus.CounterVec
	retries prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		pushes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "parca_sampler_push_total",
			Help: "Total number of profile uploads by result.",
		}, []string{"result"}),
		retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "parca_sampler_push_retries_total",
			Help: "Total number of retried profile uploads.",
		}),
	}
	m.pushes.WithLabelValues(resultSuccess)
	m.pushes.WithLabelValues(resultFailure)
	m.pushes.WithLabelValues(resultEmpty)
	return m
}

type Pusher struct {
	logger  log.Logger
	metrics *metrics
	client  *http.Client
	source  Source

	endpoint *url.URL
	name     string
	cfg      Config
}

func NewPusher(logger log.Logger, reg prometheus.Registerer, source Source, cfg Config) (*Pusher, error) {
	if cfg.AppName == "" {
		return nil, errors.New("application name is required")
	}
	if err := cfg.Labels.Validate(); err != nil {
		return nil, fmt.Errorf("invalid labels: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}

	endpoint, err := url.Parse(strings.TrimSuffix(cfg.URL, "/") + "/ingest")
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.URL, err)
	}

	return &Pusher{
		logger:   logger,
		metrics:  newMetrics(reg),
		client:   newHTTPClient(reg, cfg.Timeout),
		source:   source,
		endpoint: endpoint,
		name:     AppName(cfg.AppName, cfg.Labels),
		cfg:      cfg,
	}, nil
}

// AppName renders an application name with labels the way the ingest
// endpoint expects it: app{k1=v1,k2=v2}, labels sorted by name.
func AppName(app string, labels model.LabelSet) string {
	if len(labels) == 0 {
		return app
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, string(k))
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(app)
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(string(labels[model.LabelName(k)]))
	}
	b.WriteByte('}')
	return b.String()
}

// Run uploads a report every interval until ctx is done. The samples taken
// since the last tick are uploaded once more before returning.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
			err := p.pushOnce(flushCtx)
			cancel()
			return err
		case <-ticker.C:
			if err := p.pushOnce(ctx); err != nil {
				level.Warn(p.logger).Log("msg", "failed to push profile", "err", err)
			}
		}
	}
}

func (p *Pusher) pushOnce(ctx context.Context) error {
	r, err := p.source.Drain()
	if err != nil {
		return fmt.Errorf("failed to collect report: %w", err)
	}
	return p.Push(ctx, r)
}

// Push uploads one report in collapsed format, retrying server errors with
// exponential backoff. Empty reports are skipped.
func (p *Pusher) Push(ctx context.Context, r *report.Report) error {
	if len(r.Samples) == 0 {
		p.metrics.pushes.WithLabelValues(resultEmpty).Inc()
		return nil
	}

	var body bytes.Buffer
	if err := r.WriteFolded(&body); err != nil {
		return err
	}
	u := p.ingestURL(r.Timing)

	expBackOff := backoff.NewExponentialBackOff()
	expBackOff.MaxElapsedTime = p.cfg.Interval
	expBackOff.InitialInterval = 500 * time.Millisecond

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			p.metrics.retries.Inc()
		}
		attempt++
		return p.post(ctx, u, body.Bytes())
	}, backoff.WithContext(expBackOff, ctx))
	if err != nil {
		p.metrics.pushes.WithLabelValues(resultFailure).Inc()
		return err
	}

	p.metrics.pushes.WithLabelValues(resultSuccess).Inc()
	level.Debug(p.logger).Log(
		"msg", "pushed profile",
		"name", p.name,
		"samples", r.Total(),
		"size", humanize.Bytes(uint64(body.Len())),
		"attempts", attempt,
	)
	return nil
}

func (p *Pusher) ingestURL(t report.Timing) string {
	from := t.Start
	until := from.Add(t.Duration)
	if !until.After(from) {
		until = from.Add(time.Second)
	}

	q := url.Values{}
	q.Set("name", p.name)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("until", strconv.FormatInt(until.Unix(), 10))
	q.Set("format", "folded")
	q.Set("sampleRate", strconv.Itoa(t.Frequency))
	q.Set("spyName", spyName)

	u := *p.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Pusher) post(ctx context.Context, u string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "binary/octet-stream+text")
	if p.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("server responded with %s: %s", resp.Status, bytes.TrimSpace(msg))
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("server rejected profile with %s: %s", resp.Status, bytes.TrimSpace(msg)))
	}
	return nil
}
