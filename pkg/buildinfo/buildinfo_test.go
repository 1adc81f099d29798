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

package buildinfo

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromBuildInfo(t *testing.T) {
	info := fromBuildInfo(&debug.BuildInfo{
		GoVersion: "go1.23.0",
		Main:      debug.Module{Path: "github.com/parca-dev/parca-sampler", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "GOARCH", Value: "arm64"},
			{Key: "GOOS", Value: "linux"},
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	require.Equal(t, "arm64", info.GoArch)
	require.Equal(t, "linux", info.GoOS)
	require.Equal(t, "0123456789ab-dirty", info.Revision())
	require.Contains(t, info.KeyVals(), "github.com/parca-dev/parca-sampler")
}

func TestRevisionUnknown(t *testing.T) {
	require.Equal(t, "unknown", (&Info{}).Revision())
}

func TestFetch(t *testing.T) {
	info, err := Fetch()
	require.NoError(t, err)
	require.NotEmpty(t, info.GoVersion)
}
