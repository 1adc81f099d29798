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

package unwind

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMemory maps frame pointers to their {next frame pointer, return address}.
type fakeMemory map[uintptr][2]uintptr

func (m fakeMemory) ReadWords(addr uintptr, dst *[2]uintptr) bool {
	w, ok := m[addr]
	if !ok {
		return false
	}
	*dst = w
	return true
}

// growingMemory is an endless, strictly increasing chain.
type growingMemory struct{}

func (growingMemory) ReadWords(addr uintptr, dst *[2]uintptr) bool {
	*dst = [2]uintptr{addr + 16, 0x400000}
	return true
}

func collect(t Tracer, ctx *Context) []uintptr {
	var ips []uintptr
	t.Trace(ctx, func(f Frame) bool {
		ips = append(ips, f.IP)
		return true
	})
	return ips
}

func TestFramePointerChain(t *testing.T) {
	mem := fakeMemory{
		0x1000: {0x1100, 0xa1},
		0x1100: {0x1200, 0xa2},
		0x1200: {0, 0xa3},
	}
	ips := collect(FramePointer{Memory: mem}, &Context{PC: 0xa0, FP: 0x1000})
	require.Equal(t, []uintptr{0xa0, 0xa1, 0xa2, 0xa3}, ips)
}

func TestFramePointerCyclicChainTerminates(t *testing.T) {
	mem := fakeMemory{
		0x1000: {0x1000, 0xa1},
	}
	ips := collect(FramePointer{Memory: mem}, &Context{FP: 0x1000})
	require.Equal(t, []uintptr{0xa1}, ips)
}

func TestFramePointerRejectsDescendingChain(t *testing.T) {
	mem := fakeMemory{
		0x2000: {0x1000, 0xa1},
		0x1000: {0x3000, 0xa2},
	}
	ips := collect(FramePointer{Memory: mem}, &Context{FP: 0x2000})
	require.Equal(t, []uintptr{0xa1}, ips)
}

func TestFramePointerStopsOnUnreadableFrame(t *testing.T) {
	mem := fakeMemory{
		0x1000: {0x5000, 0xa1},
	}
	ips := collect(FramePointer{Memory: mem}, &Context{FP: 0x1000})
	require.Equal(t, []uintptr{0xa1}, ips)

	require.Empty(t, collect(FramePointer{Memory: mem}, &Context{FP: 0x9000}))
}

func TestFramePointerBounded(t *testing.T) {
	ips := collect(FramePointer{Memory: growingMemory{}}, &Context{FP: 0x1000})
	require.Len(t, ips, MaxSteps)
}

func TestFramePointerCallbackStops(t *testing.T) {
	var n int
	FramePointer{Memory: growingMemory{}}.Trace(&Context{PC: 1, FP: 0x1000}, func(Frame) bool {
		n++
		return n < 3
	})
	require.Equal(t, 3, n)
}

func TestNilContext(t *testing.T) {
	for _, tr := range []Tracer{FramePointer{}, Portable{}, Default} {
		require.Empty(t, collect(tr, nil))
	}
	require.Empty(t, collect(FramePointer{}, &Context{}))
}

func TestPortable(t *testing.T) {
	ips := collect(Portable{}, &Context{PCs: []uintptr{1, 2, 3, 0, 5}})
	require.Equal(t, []uintptr{1, 2, 3}, ips)
}

func funcName(ip uintptr) string {
	fn := runtime.FuncForPC(ip - 1)
	if fn == nil {
		return ""
	}
	return fn.Name()
}

//go:noinline
func hereNames() []string {
	var pcs [64]uintptr
	ctx := Here(pcs[:])

	var names []string
	Default.Trace(&ctx, func(f Frame) bool {
		names = append(names, funcName(f.IP))
		return true
	})
	return names
}

func TestHereWithDefault(t *testing.T) {
	names := hereNames()
	require.GreaterOrEqual(t, len(names), 3)
	require.True(t, strings.HasSuffix(names[0], ".hereNames"), names[0])
	require.True(t, strings.HasSuffix(names[1], ".TestHereWithDefault"), names[1])
	require.Equal(t, "testing.tRunner", names[2])
}
