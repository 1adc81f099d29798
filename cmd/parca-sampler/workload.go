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

	"golang.org/x/sync/errgroup"
)

// runWorkload keeps workers busy sieving primes until ctx is done and returns
// the number of primes found by the last round of every worker.
func runWorkload(ctx context.Context, workers, limit int) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	found := make([]int, workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				found[i] = sieve(limit)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int
	for _, n := range found {
		total += n
	}
	return total, nil
}

// sieve counts the primes up to limit.
func sieve(limit int) int {
	if limit < 2 {
		return 0
	}
	composite := make([]bool, limit+1)
	count := 0
	for i := 2; i <= limit; i++ {
		if composite[i] {
			continue
		}
		count++
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	return count
}
