/*
 * Copyright 2025 Switchboard Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package driver runs a participant's per-cycle loop against a cycle
// barrier. Each iteration produces the participant's outputs for the
// current cycle, then waits at the barrier; the release guarantees every
// participant's outputs for that cycle are visible before anyone consumes
// inputs for the next.
package driver

import (
	"context"
	"errors"

	"github.com/CheeksTheGeek/switchboard/cyclebarrier"
)

// ErrStop is returned by a CycleFunc to end the run cleanly after the
// current cycle completes.
var ErrStop = errors.New("driver: stop requested")

// CycleFunc performs one participant's work for the given cycle. It runs
// before the barrier wait for that cycle: everything it writes is
// guaranteed visible to every other participant once their Wait for the
// same cycle returns.
type CycleFunc func(cycle uint64) error

// Driver owns no barrier resources; the caller opens the handle, passes it
// in, and closes it. One driver per handle, matching the barrier's
// one-arrival-per-participant contract.
type Driver struct {
	barrier *cyclebarrier.Barrier
}

// New returns a driver for the given barrier handle.
func New(b *cyclebarrier.Barrier) *Driver {
	return &Driver{barrier: b}
}

// Run invokes fn once per cycle, waiting at the barrier after each
// invocation, until fn returns ErrStop (clean stop, nil error), fn returns
// any other error, or ctx is cancelled. Cancellation is checked only
// between episodes: a Wait already in flight cannot be interrupted, since
// releasing early would desynchronize the session.
//
// Run returns the last synchronized cycle count.
func (d *Driver) Run(ctx context.Context, fn CycleFunc) (uint64, error) {
	var last uint64
	for {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if err := fn(d.barrier.Cycle()); err != nil {
			if errors.Is(err, ErrStop) {
				return last, nil
			}
			return last, err
		}
		last = d.barrier.Wait()
	}
}

// RunCycles is Run bounded to n cycles.
func (d *Driver) RunCycles(ctx context.Context, n uint64, fn CycleFunc) (uint64, error) {
	var done uint64
	return d.Run(ctx, func(cycle uint64) error {
		if done == n {
			return ErrStop
		}
		done++
		return fn(cycle)
	})
}
