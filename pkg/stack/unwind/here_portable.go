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

//go:build !unix || !(amd64 || arm64)

package unwind

import "runtime"

// Default replays runtime recorded stacks where frame pointers can not be
// relied on.
var Default Tracer = Portable{}

// Here records the stack of its caller into pcs.
//
//go:noinline
func Here(pcs []uintptr) Context {
	n := runtime.Callers(2, pcs)
	return Context{PCs: pcs[:n]}
}
