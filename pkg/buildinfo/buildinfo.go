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

// Package buildinfo reads the module version and VCS stamp embedded by the
// Go toolchain.
package buildinfo

import (
	"errors"
	"runtime"
	"runtime/debug"
)

var ErrNoBuildInfo = errors.New("binary was built without module support")

type Info struct {
	Module      string
	Version     string
	GoVersion   string
	GoArch      string
	GoOS        string
	VCSRevision string
	VCSTime     string
	VCSModified bool
}

// Fetch returns the build metadata of the running binary.
func Fetch() (*Info, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, ErrNoBuildInfo
	}
	return fromBuildInfo(bi), nil
}

func fromBuildInfo(bi *debug.BuildInfo) *Info {
	info := &Info{
		Module:    bi.Main.Path,
		Version:   bi.Main.Version,
		GoVersion: bi.GoVersion,
		GoArch:    runtime.GOARCH,
		GoOS:      runtime.GOOS,
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "GOARCH":
			info.GoArch = s.Value
		case "GOOS":
			info.GoOS = s.Value
		case "vcs.revision":
			info.VCSRevision = s.Value
		case "vcs.time":
			info.VCSTime = s.Value
		case "vcs.modified":
			info.VCSModified = s.Value == "true"
		}
	}
	return info
}

// Revision returns the short VCS revision, marked when the tree was dirty.
func (i *Info) Revision() string {
	rev := i.VCSRevision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev == "" {
		rev = "unknown"
	}
	if i.VCSModified {
		rev += "-dirty"
	}
	return rev
}

// KeyVals returns the metadata as alternating keys and values for a log line.
func (i *Info) KeyVals() []interface{} {
	return []interface{}{
		"module", i.Module,
		"version", i.Version,
		"revision", i.Revision(),
		"go", i.GoVersion,
		"arch", i.GoArch,
		"os", i.GoOS,
	}
}
