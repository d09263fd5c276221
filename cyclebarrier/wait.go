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

package cyclebarrier

import (
	"github.com/CheeksTheGeek/switchboard/internal/spin"
)

// Wait arrives at the barrier and blocks until every expected participant
// has arrived, then returns the cycle count of the episode just completed.
// Every participant's Wait for the same episode returns the same value.
//
// The last arriver is the releaser: it resets the arrival counter, advances
// the cycle counter, and publishes the new sense value, in that order, so
// the next episode's first arriver can never observe a stale nonzero
// counter. Everyone else busy-waits on the sense flag; there is no timeout
// and no system call on this path. If a participant never arrives, Wait
// spins until it does; releasing early would silently desynchronize the
// session.
func (b *Barrier) Wait() uint64 {
	shm := b.mustState()
	numProcs := shm.NumProcesses()
	mySense := b.localSense

	arrived := shm.arrive()
	if arrived == numProcs {
		// Last to arrive. Reset the arrival counter before publishing the
		// release signal; the sequentially consistent stores guarantee
		// every released waiter observes the reset and the new cycle count.
		shm.resetArrivals()
		shm.advanceCycle()
		shm.setSense(mySense)
	} else {
		for shm.Sense() != mySense {
			spin.Hint()
		}
	}

	// Sense reverses each episode: wait for the opposite value next time.
	b.localSense = 1 - mySense

	return shm.CycleCount()
}

// Cycle returns the current cycle count without waiting. It never blocks,
// and its result never exceeds the value the same handle's next Wait call
// returns.
func (b *Barrier) Cycle() uint64 {
	return b.mustState().CycleCount()
}

// Ready reports whether the leader has finished initializing the session.
func (b *Barrier) Ready() bool {
	return b.mustState().Initialized()
}

// NumProcesses returns the expected arrival count for the current episode.
func (b *Barrier) NumProcesses() uint32 {
	return b.mustState().NumProcesses()
}

// SetNumProcesses changes the expected arrival count for subsequent
// episodes. Leader only. The caller must guarantee the session is quiesced:
// every participant parked between episodes, no Wait in flight. The barrier
// does not detect a resize racing an episode.
func (b *Barrier) SetNumProcesses(n uint32) {
	shm := b.mustState()
	if !b.leader {
		panic("cyclebarrier: SetNumProcesses called on a follower handle")
	}
	if n == 0 {
		panic("cyclebarrier: SetNumProcesses requires at least 1 participant")
	}
	shm.setNumProcesses(n)
}
