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
	"fmt"
	"os"
	"time"
	"unsafe"
)

// Handshake polling defaults. 1000 retries at 10ms gives a follower roughly
// a 10 second budget per phase before Open fails. The intervals are tuning
// knobs, not semantics: any bounded budget preserves the protocol.
const (
	defaultRetryBudget  = 1000
	defaultPollInterval = 10 * time.Millisecond
	defaultInitInterval = time.Millisecond
)

// openConfig carries the follower handshake tunables. Tests shrink the
// budget to fail fast; production callers go through Open and get the
// defaults.
type openConfig struct {
	createInterval time.Duration // between checks for the file to exist
	sizeInterval   time.Duration // between checks for the file to be sized
	initInterval   time.Duration // between checks of the initialized flag
	retryBudget    int           // per phase
}

func defaultOpenConfig() openConfig {
	return openConfig{
		createInterval: defaultPollInterval,
		sizeInterval:   defaultPollInterval,
		initInterval:   defaultInitInterval,
		retryBudget:    defaultRetryBudget,
	}
}

// Barrier is a per-process handle onto one shared barrier session. The
// mapping it holds is exclusively owned by this process even though the
// underlying memory is shared; distinct processes may map the same session
// at different virtual addresses.
//
// A Barrier is not safe for concurrent use by multiple goroutines: each
// participant in a session owns exactly one handle and calls Wait from a
// single goroutine, matching the one-arrival-per-participant contract.
type Barrier struct {
	state        *SharedState
	mem          []byte
	file         *os.File
	path         string
	leader       bool
	localSense   uint32 // sense value the next Wait call expects to observe
	unmapOnClose bool
}

// Create creates and initializes a new barrier session at path. Exactly one
// process per session calls Create; it becomes the leader, responsible for
// removing the backing file at Close. numProcesses is the number of
// participants that must arrive before any episode completes.
//
// The backing file is truncated if it already exists, so a stale file from
// a crashed previous session never leaks state into the new one.
func Create(path string, numProcesses uint32) (*Barrier, error) {
	if numProcesses == 0 {
		return nil, fmt.Errorf("barrier %s: numProcesses must be at least 1", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create barrier file %s: %w", path, err)
	}

	if err := file.Truncate(StateSize); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to size barrier file %s: %w", path, err)
	}

	mem, err := mapShared(file, StateSize)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to map barrier file %s: %w", path, err)
	}

	b := &Barrier{
		state:        (*SharedState)(unsafe.Pointer(&mem[0])),
		mem:          mem,
		file:         file,
		path:         path,
		leader:       true,
		localSense:   1, // first episode releases by flipping sense 0 -> 1
		unmapOnClose: true,
	}
	b.state.init(numProcesses)

	return b, nil
}

// Open attaches to an existing barrier session at path as a follower. A
// follower may start before the leader: Open polls with bounded retries for
// the backing file to exist, reach its expected size, and be marked
// initialized. Exceeding any of the three budgets returns an error wrapping
// ErrHandshakeTimeout rather than hanging.
func Open(path string) (*Barrier, error) {
	return openFollower(path, defaultOpenConfig())
}

func openFollower(path string, cfg openConfig) (*Barrier, error) {
	// Phase 1: wait for the leader to create the file. ENOENT here is the
	// create race, not a failure; anything else is.
	var file *os.File
	for retries := 0; retries < cfg.retryBudget; retries++ {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err == nil {
			file = f
			break
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to open barrier file %s: %w", path, err)
		}
		time.Sleep(cfg.createInterval)
	}
	if file == nil {
		return nil, fmt.Errorf("waiting for barrier file %s to be created: %w", path, ErrHandshakeTimeout)
	}

	// Phase 2: the leader sizes the file after creating it, so a freshly
	// created file can still be empty.
	sized := false
	for retries := 0; retries < cfg.retryBudget; retries++ {
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat barrier file %s: %w", path, err)
		}
		if info.Size() >= StateSize {
			sized = true
			break
		}
		time.Sleep(cfg.sizeInterval)
	}
	if !sized {
		file.Close()
		return nil, fmt.Errorf("waiting for barrier file %s to be sized: %w", path, ErrHandshakeTimeout)
	}

	mem, err := mapShared(file, StateSize)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to map barrier file %s: %w", path, err)
	}

	b := &Barrier{
		state:        (*SharedState)(unsafe.Pointer(&mem[0])),
		mem:          mem,
		file:         file,
		path:         path,
		leader:       false,
		unmapOnClose: true,
	}

	// Phase 3: wait for the leader to finish populating the state.
	for retries := 0; retries < cfg.retryBudget; retries++ {
		if b.state.Initialized() {
			// The next release publishes the opposite of the current
			// shared sense. Deriving the expected value here rather than
			// assuming a fresh session lets a participant attach after any
			// number of completed episodes (the session must be quiesced
			// while it joins, the same precondition as a resize). On a
			// fresh session sense is 0 and this yields 1.
			b.localSense = 1 - b.state.Sense()
			return b, nil
		}
		time.Sleep(cfg.initInterval)
	}
	b.Close()
	return nil, fmt.Errorf("waiting for barrier %s to be initialized: %w", path, ErrHandshakeTimeout)
}

// Close releases the handle's resources: it unmaps the shared region if
// this handle owns the mapping, closes the backing file, and, on the
// leader, removes the backing file so no new follower can attach. Close on
// a nil handle is a no-op. After Close the handle must not be passed to any
// other operation.
func (b *Barrier) Close() error {
	if b == nil {
		return nil
	}

	var firstErr error

	if b.unmapOnClose && b.mem != nil {
		if err := unmapShared(b.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.mem = nil
	b.state = nil

	if b.file != nil {
		if err := b.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.file = nil
	}

	if b.leader && b.path != "" {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		b.path = ""
	}

	return firstErr
}

// IsLeader reports whether this handle created the session.
func (b *Barrier) IsLeader() bool {
	return b != nil && b.leader
}

// Path returns the backing file's path, or "" after Close on the leader.
func (b *Barrier) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

// mustState returns the shared state or aborts. Steady-state operations
// assume a validated handle; passing a nil or closed one is a programming
// error, not a recoverable condition.
func (b *Barrier) mustState() *SharedState {
	if b == nil || b.state == nil {
		panic("cyclebarrier: operation on nil or closed barrier")
	}
	return b.state
}
