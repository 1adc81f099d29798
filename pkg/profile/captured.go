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

package profile

import (
	"encoding/binary"
	"runtime"

	"github.com/cespare/xxhash/v2"
)

const (
	// MaxDepth is the number of frames kept per sample.
	MaxDepth = 128
	// MaxThreadName matches the kernel's TASK_COMM_LEN.
	MaxThreadName = 16
)

// CapturedStack is one unresolved sample. It holds no Go pointers, so it can
// live in preallocated arrays and be spilled to disk as raw bytes.
//
// Two stacks are equal when their frames belong to the same functions and
// they come from the same thread. Names are never compared.
type CapturedStack struct {
	IPs        [MaxDepth]uintptr
	Depth      int
	ThreadID   uint64
	ThreadName [MaxThreadName]byte
	NameLen    int
	// Timestamp is in nanoseconds since the Unix epoch.
	Timestamp int64

	hash uint64
}

// Reset clears the stack for reuse without touching the frame array.
func (s *CapturedStack) Reset() {
	s.Depth = 0
	s.ThreadID = 0
	s.NameLen = 0
	s.Timestamp = 0
	s.hash = 0
}

// Push appends a frame and reports whether there was room for it.
func (s *CapturedStack) Push(ip uintptr) bool {
	if s.Depth >= MaxDepth {
		return false
	}
	s.IPs[s.Depth] = ip
	s.Depth++
	return true
}

// Frames returns the captured instruction pointers, leaf first.
func (s *CapturedStack) Frames() []uintptr {
	return s.IPs[:s.Depth]
}

// SetThread records the thread identity. Names longer than the buffer keep
// their tail, which is the distinguishing part of qualified names.
func (s *CapturedStack) SetThread(id uint64, name []byte) {
	s.ThreadID = id
	if len(name) > MaxThreadName {
		name = name[len(name)-MaxThreadName:]
	}
	s.NameLen = copy(s.ThreadName[:], name)
}

// SetThreadString is SetThread for a string name.
func (s *CapturedStack) SetThreadString(id uint64, name string) {
	s.ThreadID = id
	if len(name) > MaxThreadName {
		name = name[len(name)-MaxThreadName:]
	}
	s.NameLen = copy(s.ThreadName[:], name)
}

// Thread returns the thread name.
func (s *CapturedStack) Thread() string {
	return string(s.ThreadName[:s.NameLen])
}

// Seal stamps the capture time and computes the hash. It must be called once
// the frames and thread are final.
func (s *CapturedStack) Seal(timestamp int64) {
	s.Timestamp = timestamp

	var (
		d   xxhash.Digest
		buf [8]byte
	)
	d.Reset()
	for _, ip := range s.IPs[:s.Depth] {
		binary.LittleEndian.PutUint64(buf[:], uint64(SymbolAddress(ip)))
		_, _ = d.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], s.ThreadID)
	_, _ = d.Write(buf[:])
	s.hash = d.Sum64()
}

func (s *CapturedStack) Hash() uint64 {
	return s.hash
}

func (s *CapturedStack) Equal(o *CapturedStack) bool {
	if s.hash != o.hash || s.ThreadID != o.ThreadID || s.Depth != o.Depth {
		return false
	}
	for i := 0; i < s.Depth; i++ {
		if s.IPs[i] == o.IPs[i] {
			continue
		}
		if SymbolAddress(s.IPs[i]) != SymbolAddress(o.IPs[i]) {
			return false
		}
	}
	return true
}

// SymbolAddress returns the entry address of the function containing the
// return address ip, or ip itself when the runtime does not know it.
func SymbolAddress(ip uintptr) uintptr {
	if ip == 0 {
		return 0
	}
	if fn := runtime.FuncForPC(ip - 1); fn != nil {
		return fn.Entry()
	}
	return ip
}
