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
	"io"
	"strings"
	"time"
)

// Symbol is one resolved function in a frame. Inlined calls expand one
// instruction pointer into several symbols.
type Symbol struct {
	Name string
	File string
	Line int
	Addr uintptr
}

// ShortName strips the package path, keeping the package name.
func (s Symbol) ShortName() string {
	if i := strings.LastIndexByte(s.Name, '/'); i >= 0 {
		return s.Name[i+1:]
	}
	return s.Name
}

// Frames is a resolved stack. Stack is leaf first and every element lists
// the symbols of one instruction pointer, innermost inlined call first.
type Frames struct {
	Stack      [][]Symbol
	ThreadName string
	ThreadID   uint64
	Timestamp  time.Time
}

type Writer interface {
	Write(io.Writer) error
	WriteUncompressed(io.Writer) error
}
