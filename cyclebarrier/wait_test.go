//go:build unix

package cyclebarrier

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// TestMain doubles as the follower body for the cross-process test: when
// re-exec'd with the env var set, the binary opens the barrier, waits once,
// prints the returned cycle and exits.
func TestMain(m *testing.M) {
	if path := os.Getenv("SB_BARRIER_HELPER_PATH"); path != "" {
		b, err := Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "helper: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(b.Wait())
		b.Close()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func TestWaitSingleParticipant(t *testing.T) {
	b, err := Create(barrierPath(t), 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer b.Close()

	for want := uint64(1); want <= 3; want++ {
		if got := b.Wait(); got != want {
			t.Fatalf("Wait = %d, want %d", got, want)
		}
	}
	if got := b.Cycle(); got != 3 {
		t.Errorf("Cycle = %d, want 3", got)
	}
}

func TestWaitReleasesAllParticipants(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	handles := []*Barrier{leader}
	for i := 0; i < 2; i++ {
		f, err := Open(path)
		if err != nil {
			t.Fatalf("Open follower %d failed: %v", i, err)
		}
		defer f.Close()
		handles = append(handles, f)
	}

	results := make([]uint64, len(handles))
	var g errgroup.Group
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			results[i] = h.Wait()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	for i, got := range results {
		if got != 1 {
			t.Errorf("participant %d: Wait = %d, want 1", i, got)
		}
	}
	if got := leader.state.Arrivals(); got != 0 {
		t.Errorf("Arrivals after release = %d, want 0", got)
	}
	if got := leader.state.Sense(); got != 1 {
		t.Errorf("Sense after first episode = %d, want 1", got)
	}
	if got := leader.Cycle(); got != 1 {
		t.Errorf("Cycle after first episode = %d, want 1", got)
	}
}

func TestSenseAlternatesAcrossEpisodes(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	follower, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer follower.Close()

	for episode := uint64(1); episode <= 5; episode++ {
		var g errgroup.Group
		var leaderCycle, followerCycle uint64
		g.Go(func() error { leaderCycle = leader.Wait(); return nil })
		g.Go(func() error { followerCycle = follower.Wait(); return nil })
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}

		if leaderCycle != episode || followerCycle != episode {
			t.Fatalf("episode %d: Wait returned %d and %d, want both %d",
				episode, leaderCycle, followerCycle, episode)
		}
		// The shared sense flips each episode: 1, 0, 1, 0, ...
		want := uint32(episode % 2)
		if got := leader.state.Sense(); got != want {
			t.Fatalf("episode %d: Sense = %d, want %d", episode, got, want)
		}
		if got := leader.state.Arrivals(); got != 0 {
			t.Fatalf("episode %d: Arrivals = %d, want 0", episode, got)
		}
	}
}

func TestCycleNeverExceedsNextWait(t *testing.T) {
	b, err := Create(barrierPath(t), 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer b.Close()

	for i := 0; i < 10; i++ {
		before := b.Cycle()
		returned := b.Wait()
		if before > returned {
			t.Fatalf("Cycle = %d exceeds next Wait = %d", before, returned)
		}
		if returned != before+1 {
			t.Fatalf("Wait = %d, want %d", returned, before+1)
		}
	}
}

func TestStalledParticipantKeepsOthersWaiting(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	f1, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f1.Close()

	var released atomic.Int32
	var g errgroup.Group
	for _, h := range []*Barrier{leader, f1} {
		h := h
		g.Go(func() error {
			h.Wait()
			released.Add(1)
			return nil
		})
	}

	// With only 2 of 3 arrivals nothing may release.
	time.Sleep(100 * time.Millisecond)
	if got := released.Load(); got != 0 {
		t.Fatalf("%d participants released with an arrival missing", got)
	}
	if got := leader.state.Arrivals(); got != 2 {
		t.Errorf("Arrivals = %d, want 2 while stalled", got)
	}

	f2, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f2.Close()

	if got := f2.Wait(); got != 1 {
		t.Errorf("third arrival: Wait = %d, want 1", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := released.Load(); got != 2 {
		t.Errorf("released = %d, want 2 after the third arrival", got)
	}
}

func TestResizeRequiresAdditionalArrival(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 3)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	handles := []*Barrier{leader}
	for i := 0; i < 2; i++ {
		f, err := Open(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer f.Close()
		handles = append(handles, f)
	}

	// Episode 1 with 3 participants.
	var g errgroup.Group
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if got := h.Wait(); got != 1 {
				return fmt.Errorf("episode 1: Wait = %d, want 1", got)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// All parked; leader grows the session, a fourth participant attaches.
	leader.SetNumProcesses(4)
	f3, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f3.Close()

	var released atomic.Int32
	var g2 errgroup.Group
	for _, h := range handles {
		h := h
		g2.Go(func() error {
			if got := h.Wait(); got != 2 {
				return fmt.Errorf("episode 2: Wait = %d, want 2", got)
			}
			released.Add(1)
			return nil
		})
	}

	// Three arrivals are no longer enough.
	time.Sleep(100 * time.Millisecond)
	if got := released.Load(); got != 0 {
		t.Fatalf("%d participants released before the fourth arrival", got)
	}

	if got := f3.Wait(); got != 2 {
		t.Errorf("fourth arrival: Wait = %d, want 2", got)
	}
	if err := g2.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestLateJoinerBlocksUntilEpisodeCompletes(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	// Complete an odd number of episodes so the shared sense is 1 when the
	// new participant attaches.
	if got := leader.Wait(); got != 1 {
		t.Fatalf("episode 1: Wait = %d, want 1", got)
	}
	leader.SetNumProcesses(2)

	joiner, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer joiner.Close()

	var released atomic.Int32
	var g errgroup.Group
	g.Go(func() error {
		if got := joiner.Wait(); got != 2 {
			return fmt.Errorf("joiner Wait = %d, want 2", got)
		}
		released.Add(1)
		return nil
	})

	// The joiner is 1 of 2 arrivals; it must park, not fall through on the
	// already-published sense from episode 1.
	time.Sleep(100 * time.Millisecond)
	if got := released.Load(); got != 0 {
		t.Fatalf("joiner released with only 1 of 2 arrivals")
	}
	if got := leader.state.Arrivals(); got != 1 {
		t.Errorf("Arrivals = %d, want 1 while the joiner is parked", got)
	}

	if got := leader.Wait(); got != 2 {
		t.Errorf("leader Wait = %d, want 2", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestWaitCompletesOnSingleProc(t *testing.T) {
	// With one scheduler P a spinning waiter must still let the releaser
	// goroutine run; otherwise an in-process episode livelocks.
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	path := barrierPath(t)

	leader, err := Create(path, 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	follower, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer follower.Close()

	var g errgroup.Group
	g.Go(func() error {
		if got := follower.Wait(); got != 1 {
			return fmt.Errorf("follower Wait = %d, want 1", got)
		}
		return nil
	})
	if got := leader.Wait(); got != 1 {
		t.Errorf("leader Wait = %d, want 1", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSetNumProcessesPanicsOnFollower(t *testing.T) {
	path := barrierPath(t)

	leader, err := Create(path, 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	follower, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer follower.Close()

	defer func() {
		if recover() == nil {
			t.Error("SetNumProcesses on a follower did not panic")
		}
	}()
	follower.SetNumProcesses(3)
}

func TestWaitAcrossProcesses(t *testing.T) {
	path := barrierPath(t)

	const followers = 2
	leader, err := Create(path, followers+1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer leader.Close()

	outputs := make([]string, followers)
	var g errgroup.Group
	for i := 0; i < followers; i++ {
		cmd := exec.Command(os.Args[0])
		cmd.Env = append(os.Environ(), "SB_BARRIER_HELPER_PATH="+path)
		i, cmd := i, cmd
		g.Go(func() error {
			out, err := cmd.Output()
			if err != nil {
				return fmt.Errorf("helper process: %w", err)
			}
			outputs[i] = strings.TrimSpace(string(out))
			return nil
		})
	}

	if got := leader.Wait(); got != 1 {
		t.Errorf("leader Wait = %d, want 1", got)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	for i, out := range outputs {
		if out != "1" {
			t.Errorf("helper %d reported cycle %q, want \"1\"", i, out)
		}
	}
	if got := leader.state.Arrivals(); got != 0 {
		t.Errorf("Arrivals after cross-process episode = %d, want 0", got)
	}
}
