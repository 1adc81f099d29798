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

//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/procfs"
)

type mapsMetrics struct {
	readSuccess prometheus.Counter
	readError   prometheus.Counter
}

func newMapsMetrics(reg prometheus.Registerer) *mapsMetrics {
	reads := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "parca_sampler_process_maps_reads_total",
			Help: "Total number of attempts to read process memory mappings.",
		},
		[]string{"result"},
	)
	return &mapsMetrics{
		readSuccess: reads.WithLabelValues("success"),
		readError:   reads.WithLabelValues("error"),
	}
}

var ErrProcNotFound = errors.New("process not found")

// MapManager reads memory mappings from a procfs mount.
type MapManager struct {
	procfs.FS

	metrics *mapsMetrics
}

func NewMapManager(reg prometheus.Registerer, fs procfs.FS) *MapManager {
	return &MapManager{
		FS:      fs,
		metrics: newMapsMetrics(reg),
	}
}

// Mapping is one executable, file backed mapping.
type Mapping struct {
	*procfs.ProcMap
}

type Mappings []*Mapping

// MappingsForPID returns the executable mappings of the given process that
// refer to a file.
func (mm *MapManager) MappingsForPID(pid int) (Mappings, error) {
	proc, err := mm.Proc(pid)
	if err != nil {
		mm.metrics.readError.Inc()
		return nil, errors.Join(ErrProcNotFound, fmt.Errorf("failed to open proc %d: %w", pid, err))
	}

	maps, err := proc.ProcMaps()
	if err != nil {
		mm.metrics.readError.Inc()
		return nil, errors.Join(ErrProcNotFound, fmt.Errorf("failed to read proc maps for proc %d: %w", pid, err))
	}
	mm.metrics.readSuccess.Inc()

	res := make(Mappings, 0, len(maps))
	for _, m := range maps {
		if m.Perms != nil && m.Perms.Execute && doesReferToFile(m.Pathname) {
			res = append(res, &Mapping{ProcMap: m})
		}
	}
	return res, nil
}

// SelfMappings returns the mappings of the calling process.
func (mm *MapManager) SelfMappings() (Mappings, error) {
	return mm.MappingsForPID(os.Getpid())
}

// MappingForAddr returns the mapping that contains the given address.
func (ms Mappings) MappingForAddr(addr uint64) *Mapping {
	for _, m := range ms {
		if uint64(m.StartAddr) <= addr && addr < uint64(m.EndAddr) {
			return m
		}
	}
	return nil
}

// Blocklist returns the address ranges of every mapping whose path contains
// one of the given substrings.
func (ms Mappings) Blocklist(substrings ...string) Ranges {
	var res Ranges
	for _, m := range ms {
		for _, s := range substrings {
			if s != "" && strings.Contains(m.Pathname, s) {
				res = append(res, Range{
					Start: uintptr(m.StartAddr),
					End:   uintptr(m.EndAddr),
					Path:  m.Pathname,
				})
				break
			}
		}
	}
	return res
}

func doesReferToFile(path string) bool {
	path = strings.TrimSpace(path)
	return path != "" &&
		!strings.HasPrefix(path, "[") &&
		!strings.HasPrefix(path, "anon_inode:[") &&
		!strings.Contains(path, "(deleted)") &&
		!strings.Contains(path, "memfd:")
}
