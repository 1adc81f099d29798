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

// Package addrvalidate tells whether an arbitrary address is readable
// without faulting. The kernel does the read on our behalf: the bytes at the
// address are written into a pipe, and an unreadable address turns into an
// EFAULT instead of a crash.
package addrvalidate

import "unsafe"

const wordSize = unsafe.Sizeof(uintptr(0))
