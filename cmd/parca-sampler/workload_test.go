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

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSieve(t *testing.T) {
	require.Equal(t, 0, sieve(1))
	require.Equal(t, 4, sieve(10))
	require.Equal(t, 25, sieve(100))
	require.Equal(t, 168, sieve(1000))
}

func TestRunWorkloadStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, err := runWorkload(ctx, 3, 1000)
	require.NoError(t, err)
	require.Equal(t, 3*168, n)
}
