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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/common/model"

	"github.com/parca-dev/parca-sampler/pkg/profile"
	"github.com/parca-dev/parca-sampler/pkg/report"
)

// FileStore writes profiles to a local directory.
type FileStore struct {
	logger log.Logger
	dir    string
	// pool of gzip encoders helps to reduce GC pressure.
	pool sync.Pool
}

// NewFileStore creates a new FileStore.
func NewFileStore(logger log.Logger, dirPath string) *FileStore {
	return &FileStore{
		logger: logger,
		dir:    dirPath,
		pool: sync.Pool{New: func() interface{} {
			z, err := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			if err != nil {
				level.Error(logger).Log("msg", "failed to create gzip writer", "err", err)
				return nil
			}
			return z
		}},
	}
}

func (fs *FileStore) create(labels model.LabelSet, ext string) (*os.File, error) {
	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not use dir, %s: %w", fs.dir, err)
	}

	name := string(labels[model.MetricNameLabel])
	if name == "" {
		name = "profile"
	}
	path := filepath.Join(fs.dir, fmt.Sprintf("%s_%d%s", name, time.Now().UnixNano(), ext))
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
}

// Store writes prof as a gzip compressed pprof file and returns its path.
func (fs *FileStore) Store(_ context.Context, labels model.LabelSet, prof profile.Writer) (string, error) {
	f, err := fs.create(labels, ".pb.gz")
	if err != nil {
		return "", err
	}
	defer f.Close()

	zw, _ := fs.pool.Get().(*gzip.Writer)
	if zw == nil {
		return "", fmt.Errorf("no gzip writer available")
	}
	defer fs.pool.Put(zw)

	zw.Reset(f)
	if err := prof.WriteUncompressed(zw); err != nil {
		zw.Close()
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return f.Name(), f.Sync()
}

// StoreFolded writes r in collapsed stack format and returns the file path.
func (fs *FileStore) StoreFolded(_ context.Context, labels model.LabelSet, r *report.Report) (string, error) {
	f, err := fs.create(labels, ".folded")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := r.WriteFolded(f); err != nil {
		return "", err
	}
	return f.Name(), f.Sync()
}
