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

import "github.com/parca-dev/parca-sampler/pkg/addrvalidate"

// Memory reads the two machine words stored at a frame pointer.
type Memory interface {
	ReadWords(addr uintptr, dst *[2]uintptr) bool
}

type validatedMemory struct{}

func (validatedMemory) ReadWords(addr uintptr, dst *[2]uintptr) bool {
	return addrvalidate.ReadWords(addr, dst)
}

// FramePointer walks the frame pointer chain. Every frame pointer is
// validated before it is read, and the chain must strictly grow towards the
// stack base, so a corrupt or cyclic chain ends the walk instead of crashing
// or spinning.
type FramePointer struct {
	// Memory defaults to reads checked by addrvalidate.
	Memory Memory
}

func (t FramePointer) Trace(ctx *Context, fn func(Frame) bool) {
	if ctx == nil {
		return
	}
	if ctx.PC != 0 && !fn(Frame{IP: ctx.PC}) {
		return
	}

	mem := t.Memory
	if mem == nil {
		mem = validatedMemory{}
	}

	var (
		words [2]uintptr
		prev  uintptr
		fp    = ctx.FP
	)
	for i := 0; i < MaxSteps && fp != 0; i++ {
		if fp <= prev {
			return
		}
		if !mem.ReadWords(fp, &words) {
			return
		}
		// words[0] is the caller's frame pointer, words[1] the return address.
		ret := words[1]
		if ret == 0 {
			return
		}
		if !fn(Frame{IP: ret}) {
			return
		}
		prev, fp = fp, words[0]
	}
}
