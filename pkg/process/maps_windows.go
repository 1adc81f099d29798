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

package process

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

var ErrProcNotFound = errors.New("process not found")

// MapManager can not read mappings on this platform.
type MapManager struct{}

func NewMapManager(prometheus.Registerer, procfs.FS) *MapManager {
	return &MapManager{}
}

type Mapping struct {
	Pathname string
}

type Mappings []*Mapping

func (mm *MapManager) SelfMappings() (Mappings, error) {
	return nil, ErrProcNotFound
}

func (ms Mappings) MappingForAddr(uint64) *Mapping {
	return nil
}

func (ms Mappings) Blocklist(...string) Ranges {
	return nil
}
