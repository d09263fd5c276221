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

import "sync/atomic"

// Memory layout constants
const (
	// CacheLineSize is the alignment unit for every shared field. The wire
	// contract fixes it at 64 bytes on every platform, independent of the
	// host CPU's actual line size.
	CacheLineSize = 64

	// StateSize is the exact footprint of SharedState and the exact size
	// the leader truncates the backing file to.
	StateSize = 5 * CacheLineSize
)

// SharedState is the barrier state shared by every participating process
// through a memory-mapped file. Each field sits on its own cache line so
// that processes pounding on different fields never contend for the same
// line. The field order and widths are a cross-language wire contract;
// offsets are verified by tests.
//
// All access goes through the atomic methods below. Go's sync/atomic
// operations are sequentially consistent, which matches the uniform
// strongest-ordering discipline the protocol requires: any process that
// observes the sense flip also observes the preceding arrival-counter
// reset and cycle increment.
type SharedState struct {
	cycleCount   uint64 // 0x000: completed episodes, monotonically non-decreasing
	pad0         [CacheLineSize - 8]byte
	barrierCount uint32 // 0x040: arrivals in the current episode, in [0, numProcesses]
	pad1         [CacheLineSize - 4]byte
	numProcesses uint32 // 0x080: expected arrivals for the current episode
	pad2         [CacheLineSize - 4]byte
	sense        uint32 // 0x0C0: release signal, alternates 0/1 each episode
	pad3         [CacheLineSize - 4]byte
	initialized  uint32 // 0x100: 0 until the leader finishes populating the state
	pad4         [CacheLineSize - 4]byte
}

// CycleCount returns the number of completed episodes.
func (s *SharedState) CycleCount() uint64 {
	return atomic.LoadUint64(&s.cycleCount)
}

// advanceCycle increments the cycle counter by one and returns the new value.
func (s *SharedState) advanceCycle() uint64 {
	return atomic.AddUint64(&s.cycleCount, 1)
}

// Arrivals returns the number of processes that have arrived at the
// current episode's barrier.
func (s *SharedState) Arrivals() uint32 {
	return atomic.LoadUint32(&s.barrierCount)
}

// arrive counts this process into the current episode and returns the
// arrival total including it.
func (s *SharedState) arrive() uint32 {
	return atomic.AddUint32(&s.barrierCount, 1)
}

// resetArrivals clears the arrival counter for the next episode.
func (s *SharedState) resetArrivals() {
	atomic.StoreUint32(&s.barrierCount, 0)
}

// NumProcesses returns the expected arrival count for the current episode.
func (s *SharedState) NumProcesses() uint32 {
	return atomic.LoadUint32(&s.numProcesses)
}

// setNumProcesses stores the expected arrival count.
func (s *SharedState) setNumProcesses(n uint32) {
	atomic.StoreUint32(&s.numProcesses, n)
}

// Sense returns the shared sense flag, the release signal waiters poll.
func (s *SharedState) Sense() uint32 {
	return atomic.LoadUint32(&s.sense)
}

// setSense publishes a new sense value, releasing every waiter expecting it.
func (s *SharedState) setSense(v uint32) {
	atomic.StoreUint32(&s.sense, v)
}

// Initialized reports whether the leader has finished populating the state.
func (s *SharedState) Initialized() bool {
	return atomic.LoadUint32(&s.initialized) != 0
}

// setInitialized publishes the initialized flag. The leader stores it last,
// after every other field, so no observer can see partial state once the
// flag reads as set.
func (s *SharedState) setInitialized() {
	atomic.StoreUint32(&s.initialized, 1)
}

// init populates the shared state for a new session. Leader only. The
// initialized flag is published last; because every store here is
// sequentially consistent, a follower that observes initialized == 1 also
// observes all preceding stores.
func (s *SharedState) init(numProcesses uint32) {
	atomic.StoreUint64(&s.cycleCount, 0)
	atomic.StoreUint32(&s.barrierCount, 0)
	atomic.StoreUint32(&s.numProcesses, numProcesses)
	atomic.StoreUint32(&s.sense, 0)
	s.setInitialized()
}
