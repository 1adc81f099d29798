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

//go:build unix

package addrvalidate

import (
	"errors"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pipePair is shared by the whole process. Broken descriptors are replaced
// on the next call.
type pipePair struct {
	mu   sync.Mutex
	r, w int
	open bool
}

var pipes pipePair

// Validate reports whether the two machine words starting at addr can be
// read.
func Validate(addr uintptr) bool {
	if addr == 0 {
		return false
	}

	pipes.mu.Lock()
	defer pipes.mu.Unlock()

	if !pipes.drain() {
		return false
	}
	return pipes.write(addr) > 0
}

// ReadWords copies the two machine words at addr into dst. It returns false,
// leaving dst in an unspecified state, if they are not readable.
func ReadWords(addr uintptr, dst *[2]uintptr) bool {
	if addr == 0 {
		return false
	}

	pipes.mu.Lock()
	defer pipes.mu.Unlock()

	if !pipes.drain() {
		return false
	}
	if pipes.write(addr) != int(2*wordSize) {
		return false
	}

	buf := (*[2 * wordSize]byte)(unsafe.Pointer(dst))
	for {
		n, err := unix.Read(pipes.r, buf[:])
		switch {
		case err == nil:
			return n == len(buf)
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return false
		}
	}
}

// drain empties the read end so a following write never blocks. It opens or
// reopens the pair when needed and reports whether the pair is usable.
func (p *pipePair) drain() bool {
	if !p.open {
		return p.reopen()
	}

	var buf [2 * wordSize]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		switch {
		case err == nil && n > 0:
			continue
		case err == nil:
			// EOF, the write end is gone.
			return p.reopen()
		case errors.Is(err, unix.EAGAIN):
			return true
		case errors.Is(err, unix.EINTR):
			continue
		default:
			return p.reopen()
		}
	}
}

// write asks the kernel to copy 2 words from addr into the pipe. The address
// is passed as a plain integer so Go never dereferences it.
func (p *pipePair) write(addr uintptr) int {
	for {
		n, _, errno := unix.Syscall(unix.SYS_WRITE, uintptr(p.w), addr, 2*wordSize)
		switch errno {
		case 0:
			return int(n)
		case unix.EINTR:
			continue
		default:
			return -1
		}
	}
}

func (p *pipePair) reopen() bool {
	if p.open {
		_ = unix.Close(p.r)
		_ = unix.Close(p.w)
		p.open = false
	}

	r, w, err := openPipe()
	if err != nil {
		return false
	}
	p.r, p.w, p.open = r, w, true
	return true
}
