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

package collector

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"unsafe"
)

// overflowBufferLen is the number of evicted entries buffered in memory
// before they are flushed to the file.
const overflowBufferLen = 1024

// overflow appends evicted entries to a temporary file through a fixed
// buffer. Entries are written as their in-memory bytes, which is only valid
// for pointer-free K. On unix the file is unlinked as soon as it is created,
// so it is gone once its descriptor is closed or the process exits.
type overflow[K any] struct {
	buf     []Entry[K]
	file    *os.File
	flushed int

	// path is set while the file still has a name to remove on close.
	path string
}

func newOverflow[K any]() (*overflow[K], error) {
	f, err := os.CreateTemp("", "parca-sampler-overflow-*")
	if err != nil {
		return nil, fmt.Errorf("create overflow file: %w", err)
	}
	o := &overflow[K]{
		buf:  make([]Entry[K], 0, overflowBufferLen),
		file: f,
		path: f.Name(),
	}
	// Windows can not remove open files.
	if runtime.GOOS != "windows" {
		if err := os.Remove(o.path); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("unlink overflow file: %w", err)
		}
		o.path = ""
	}
	return o, nil
}

func entrySize[K any]() int64 {
	var e Entry[K]
	return int64(unsafe.Sizeof(e))
}

func asBytes[K any](es []Entry[K]) []byte {
	if len(es) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&es[0])), len(es)*int(unsafe.Sizeof(es[0])))
}

// push buffers e and flushes the buffer once it is full. A full buffer is
// left as is when the flush fails; e is then dropped.
func (o *overflow[K]) push(e *Entry[K]) error {
	if len(o.buf) == cap(o.buf) {
		if err := o.flush(); err != nil {
			return errors.Join(ErrEntryLost, err)
		}
	}
	o.buf = append(o.buf, *e)
	if len(o.buf) < cap(o.buf) {
		return nil
	}
	return o.flush()
}

func (o *overflow[K]) flush() error {
	if len(o.buf) == 0 {
		return nil
	}
	if _, err := o.file.WriteAt(asBytes(o.buf), int64(o.flushed)*entrySize[K]()); err != nil {
		return fmt.Errorf("write overflow entries: %w", err)
	}
	o.flushed += len(o.buf)
	o.buf = o.buf[:0]
	return nil
}

func (o *overflow[K]) len() int {
	return o.flushed + len(o.buf)
}

// each yields flushed entries in chunks, then the buffered ones.
func (o *overflow[K]) each(yield func(*Entry[K]) bool) error {
	if o.flushed > 0 {
		chunk := make([]Entry[K], min(o.flushed, overflowBufferLen))
		size := entrySize[K]()
		for off := 0; off < o.flushed; {
			n := min(len(chunk), o.flushed-off)
			b := asBytes(chunk[:n])
			if read, err := o.file.ReadAt(b, int64(off)*size); read != len(b) {
				return fmt.Errorf("read overflow entries at %d: %w", off, errors.Join(io.ErrUnexpectedEOF, err))
			}
			for i := 0; i < n; i++ {
				if !yield(&chunk[i]) {
					return nil
				}
			}
			off += n
		}
	}

	for i := range o.buf {
		if !yield(&o.buf[i]) {
			return nil
		}
	}
	return nil
}

func (o *overflow[K]) close() error {
	err := o.file.Close()
	if o.path != "" {
		err = errors.Join(err, os.Remove(o.path))
		o.path = ""
	}
	return err
}
