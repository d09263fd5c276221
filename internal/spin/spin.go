// Package spin provides a best-effort CPU relaxation hint for busy-wait
// loops. The hint reduces power draw and cross-hyperthread contention while
// spinning; it is never required for a spun-on condition to become visible,
// so a no-op implementation would also be correct.
package spin

import (
	"runtime"
	_ "unsafe" // for go:linkname
)

// Hint tells the CPU this core is busy-waiting. When spinning is
// worthwhile it executes a short run of architecture-appropriate
// pause/yield instructions (PAUSE on amd64, YIELD on arm64) without
// entering the scheduler. When the runtime reports spinning is futile, on
// a single-P runtime in particular, it yields the goroutine instead so the
// condition being spun on can make progress; Gosched is not a system call,
// so busy-wait paths built on Hint stay syscall-free.
func Hint() {
	if runtime_canSpin(0) {
		runtime_doSpin()
		return
	}
	runtime.Gosched()
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()
