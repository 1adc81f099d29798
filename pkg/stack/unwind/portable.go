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

// Portable replays ctx.PCs. It works wherever the runtime can record a
// stack, with or without frame pointers.
type Portable struct{}

func (Portable) Trace(ctx *Context, fn func(Frame) bool) {
	if ctx == nil {
		return
	}
	for i, pc := range ctx.PCs {
		if i >= MaxSteps || pc == 0 {
			return
		}
		if !fn(Frame{IP: pc}) {
			return
		}
	}
}
