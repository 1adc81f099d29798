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

//go:build unix && (amd64 || arm64)

package unwind

import "github.com/parca-dev/parca-sampler/pkg/addrvalidate"

// Default is the frame pointer walker. Go keeps frame pointers on amd64 and
// arm64.
var Default Tracer = FramePointer{}

// getfp returns the frame pointer of its caller.
func getfp() uintptr

// Here captures the context of its caller: the return address into the
// caller and the caller's frame pointer. pcs is not used on this platform.
//
//go:noinline
func Here(_ []uintptr) Context {
	var words [2]uintptr
	if !addrvalidate.ReadWords(getfp(), &words) {
		return Context{}
	}
	return Context{PC: words[1], FP: words[0]}
}
