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

package logger

import (
	"bytes"
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestLevelOption(t *testing.T) {
	cases := []struct {
		level   string
		debug   bool
		info    bool
		warning bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
		{"bogus", false, true, true},
	}

	for _, c := range cases {
		var buf bytes.Buffer
		logger := level.NewFilter(log.NewLogfmtLogger(&buf), levelOption(c.level))

		level.Debug(logger).Log("msg", "d")
		require.Equal(t, c.debug, bytes.Contains(buf.Bytes(), []byte("msg=d")), c.level)
		level.Info(logger).Log("msg", "i")
		require.Equal(t, c.info, bytes.Contains(buf.Bytes(), []byte("msg=i")), c.level)
		level.Warn(logger).Log("msg", "w")
		require.Equal(t, c.warning, bytes.Contains(buf.Bytes(), []byte("msg=w")), c.level)
	}
}

func TestNewLogger(t *testing.T) {
	require.NotNil(t, NewLogger("info", LogFormatJSON, "test"))
	require.NotNil(t, NewLogger("debug", LogFormatLogfmt, ""))
}
