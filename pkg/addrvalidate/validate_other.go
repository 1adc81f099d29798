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

//go:build !unix

package addrvalidate

// Validate always fails closed on platforms without pipes.
func Validate(uintptr) bool { return false }

// ReadWords always fails closed on platforms without pipes.
func ReadWords(uintptr, *[2]uintptr) bool { return false }
