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

// Package cyclebarrier implements a cross-process, sense-reversing cycle
// barrier backed by a memory-mapped file.
//
// The barrier coordinates independent operating-system processes that must
// advance through discrete cycles in lockstep, such as cooperating
// simulation processes that each model part of a larger system. One leader
// process creates and initializes the shared state; any number of follower
// processes attach to it. Every participant calls Wait once per cycle; the
// last arriver releases the rest and the shared cycle counter advances by
// exactly one.
//
// All cross-process synchronization is built from atomic loads, stores and
// fetch-adds on a fixed-layout shared structure. The steady-state wait path
// issues no system calls: waiters busy-wait on the shared sense flag with a
// CPU relaxation hint between reads. Bounded polling with short sleeps is
// used only during the attach handshake, where a follower may start before
// the leader has created or initialized the backing file.
//
// The shared layout is a hard wire contract: five fields, each on its own
// 64-byte cache line, in the order cycle count, arrival count, participant
// count, sense, initialized. Any implementation in any language mapping the
// same file must agree on this layout byte for byte.
package cyclebarrier
