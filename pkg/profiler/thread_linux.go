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

package profiler

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/parca-dev/parca-sampler/pkg/profile"
)

// threadNameBuf receives the kernel's thread name. It is a package variable so
// its address is stable during the system call. Guarded by Profiler.mtx.
var threadNameBuf [profile.MaxThreadName]byte

// currentThread returns the id and name of the OS thread the calling goroutine
// runs on. The name falls back to the decimal id.
func currentThread() (uint64, []byte) {
	tid := uint64(unix.Gettid())

	threadNameBuf = [profile.MaxThreadName]byte{}
	if err := unix.Prctl(unix.PR_GET_NAME, uintptr(unsafe.Pointer(&threadNameBuf[0])), 0, 0, 0); err == nil {
		if n := bytes.IndexByte(threadNameBuf[:], 0); n != 0 {
			if n < 0 {
				n = len(threadNameBuf)
			}
			return tid, threadNameBuf[:n]
		}
	}
	return tid, formatThreadID(&threadNameBuf, tid)
}
