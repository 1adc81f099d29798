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

package symbol

import (
	"runtime"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/parca-sampler/pkg/profile"
)

//go:noinline
func callerPC() uintptr {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	return pcs[0]
}

func newSymbolizer(t *testing.T) *Symbolizer {
	t.Helper()
	s, err := NewSymbolizer(log.NewNopLogger(), prometheus.NewRegistry(), 0)
	require.NoError(t, err)
	return s
}

func TestResolve(t *testing.T) {
	s := newSymbolizer(t)

	pc := callerPC()
	syms := s.Resolve(pc)
	require.NotEmpty(t, syms)
	require.True(t, strings.HasSuffix(syms[0].Name, "symbol.TestResolve"), syms[0].Name)
	require.True(t, strings.HasSuffix(syms[0].File, "symbol_test.go"), syms[0].File)
	require.Positive(t, syms[0].Line)

	require.Equal(t, syms, s.Resolve(pc))
	require.InDelta(t, 1, testutil.ToFloat64(s.metrics.hits), 0)
	require.InDelta(t, 1, testutil.ToFloat64(s.metrics.misses), 0)
}

func TestResolveUnknown(t *testing.T) {
	syms := newSymbolizer(t).Resolve(0x10)
	require.Equal(t, []profile.Symbol{{Name: "0x10", Addr: 0x10}}, syms)
}

func TestSymbolize(t *testing.T) {
	s := newSymbolizer(t)

	var stack profile.CapturedStack
	stack.Push(callerPC())
	stack.SetThreadString(3, "main")
	stack.Seal(1_000_000_000)

	frames := s.Symbolize(&stack)
	require.Len(t, frames.Stack, 1)
	require.Equal(t, "main", frames.ThreadName)
	require.Equal(t, uint64(3), frames.ThreadID)
	require.Equal(t, int64(1), frames.Timestamp.Unix())
	require.True(t, strings.HasSuffix(frames.Stack[0][0].Name, "symbol.TestSymbolize"))
}

func TestPurge(t *testing.T) {
	s := newSymbolizer(t)

	pc := callerPC()
	s.Resolve(pc)
	s.Purge()
	s.Resolve(pc)
	require.InDelta(t, 0, testutil.ToFloat64(s.metrics.hits), 0)
	require.InDelta(t, 2, testutil.ToFloat64(s.metrics.misses), 0)
}
