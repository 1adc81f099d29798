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

// Package unwind walks a call stack into a bounded list of instruction
// pointers. Two tracers share one contract: FramePointer follows the saved
// frame pointer chain in memory, Portable replays a stack that the Go runtime
// already recorded.
package unwind

// MaxSteps bounds every walk regardless of what the callback returns.
const MaxSteps = 1024

// Frame is one return address on the stack. The leaf frame carries the
// program counter of the captured context instead.
type Frame struct {
	IP uintptr
}

// Context is the captured register state a walk starts from.
type Context struct {
	PC uintptr
	FP uintptr
	// PCs is a stack already recorded by the runtime, leaf first.
	PCs []uintptr
}

// Tracer walks the stack described by ctx, calling fn once per frame from the
// leaf outwards until fn returns false or the stack ends. Implementations do
// not allocate and a nil ctx yields no frames.
type Tracer interface {
	Trace(ctx *Context, fn func(Frame) bool)
}
