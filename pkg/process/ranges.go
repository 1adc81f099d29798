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

package process

// Range is a half open address range [Start, End).
type Range struct {
	Start, End uintptr
	Path       string
}

// Ranges is a short list of address ranges, checked linearly.
type Ranges []Range

// Contains reports whether addr falls in any range. It does not allocate.
func (rs Ranges) Contains(addr uintptr) bool {
	for i := range rs {
		if rs[i].Start <= addr && addr < rs[i].End {
			return true
		}
	}
	return false
}
