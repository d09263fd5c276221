// Command sbbarrier runs one participant of a cross-process cycle barrier
// session. It exists for smoke-testing barrier behavior across real OS
// processes:
//
//	sbbarrier -path /dev/shm/sb-barrier -leader -spawn 2 -cycles 100
//
// creates a 3-participant session, forks two follower copies of itself and
// runs all three in lockstep for 100 cycles. A follower can also be started
// by hand with just -path; it polls until the leader has created and
// initialized the session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"

	"golang.org/x/sync/errgroup"

	"github.com/CheeksTheGeek/switchboard/cyclebarrier"
	"github.com/CheeksTheGeek/switchboard/driver"
)

func main() {
	var (
		path   = flag.String("path", "", "backing file for the barrier session (required)")
		leader = flag.Bool("leader", false, "create and lead the session")
		procs  = flag.Uint("procs", 1, "participant count (leader only, ignored with -spawn)")
		cycles = flag.Uint64("cycles", 10, "cycles to run before exiting")
		spawn  = flag.Int("spawn", 0, "leader only: fork this many follower copies of this binary")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("sbbarrier: -path is required")
	}
	if *spawn > 0 && !*leader {
		log.Fatal("sbbarrier: -spawn requires -leader")
	}

	numProcs := uint32(*procs)
	if *spawn > 0 {
		numProcs = uint32(*spawn) + 1
	}

	var (
		b   *cyclebarrier.Barrier
		err error
	)
	if *leader {
		b, err = cyclebarrier.Create(*path, numProcs)
	} else {
		b, err = cyclebarrier.Open(*path)
	}
	if err != nil {
		log.Fatalf("sbbarrier: %v", err)
	}
	defer b.Close()

	role := "follower"
	if b.IsLeader() {
		role = "leader"
	}
	log.Printf("sbbarrier: %s attached to %s (%d participants)", role, *path, b.NumProcesses())

	ctx := context.Background()
	g, ctx := errgroup.WithContext(ctx)

	if *spawn > 0 {
		for i := 0; i < *spawn; i++ {
			cmd := exec.CommandContext(ctx, os.Args[0],
				"-path", *path,
				"-cycles", fmt.Sprint(*cycles))
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			g.Go(cmd.Run)
		}
	}

	g.Go(func() error {
		last, err := driver.New(b).RunCycles(ctx, *cycles, func(cycle uint64) error {
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("sbbarrier: %s finished at cycle %d", role, last)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("sbbarrier: %v", err)
	}
}
