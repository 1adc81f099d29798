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

import "errors"

var (
	// ErrOS is returned when the timer or the signal delivery can not be set up.
	ErrOS = errors.New("os registration failed")
	// ErrIO is returned when the overflow store can not be written or read.
	ErrIO = errors.New("overflow store i/o failed")
	// ErrCreation is returned when the sample collector can not be created.
	ErrCreation = errors.New("failed to create collector")
	// ErrRunning is returned when starting a profiler that is already running.
	ErrRunning = errors.New("profiler is already running")
	// ErrNotRunning is returned when stopping a profiler that is not running.
	ErrNotRunning = errors.New("profiler is not running")
)
