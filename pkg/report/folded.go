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

package report

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/parca-dev/parca-sampler/pkg/profile"
)

// Folded returns the stack in collapsed form: the thread name, then every
// symbol from the root to the leaf, separated by semicolons.
func Folded(f *profile.Frames) string {
	var b strings.Builder
	if f.ThreadName != "" {
		b.WriteString(f.ThreadName)
	} else {
		b.WriteString(strconv.FormatUint(f.ThreadID, 10))
	}
	for i := len(f.Stack) - 1; i >= 0; i-- {
		syms := f.Stack[i]
		for j := len(syms) - 1; j >= 0; j-- {
			b.WriteByte(';')
			b.WriteString(syms[j].Name)
		}
	}
	return b.String()
}

// WriteFolded writes one "stack count" line per distinct collapsed stack,
// sorted by stack. This is the input format of flamegraph tools.
func (r *Report) WriteFolded(w io.Writer) error {
	counts := map[string]int64{}
	for i := range r.Samples {
		counts[Folded(&r.Samples[i].Frames)] += r.Samples[i].Count
	}

	stacks := make([]string, 0, len(counts))
	for s := range counts {
		stacks = append(stacks, s)
	}
	slices.Sort(stacks)

	bw := bufio.NewWriter(w)
	for _, s := range stacks {
		bw.WriteString(s)
		bw.WriteByte(' ')
		bw.WriteString(strconv.FormatInt(counts[s], 10))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

var ErrCorruptedFolded = errors.New("corrupted folded stack")

// FoldedSample is one line of collapsed stack text. Stack is root first and
// starts with the thread.
type FoldedSample struct {
	Stack []string
	Count int64
}

// ParseFolded reads collapsed stacks as written by WriteFolded. Blank lines
// are skipped.
func ParseFolded(r io.Reader) ([]FoldedSample, error) {
	var res []FoldedSample
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for s.Scan() {
		line++
		b := bytes.TrimSpace(s.Bytes())
		if len(b) == 0 {
			continue
		}
		i := bytes.LastIndexByte(b, ' ')
		if i <= 0 {
			return nil, fmt.Errorf("line %d: %w", line, ErrCorruptedFolded)
		}
		count, err := strconv.ParseInt(string(b[i+1:]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: %w", line, ErrCorruptedFolded, err)
		}
		res = append(res, FoldedSample{
			Stack: strings.Split(string(bytes.TrimSpace(b[:i])), ";"),
			Count: count,
		})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
