// Package exec is the Executor: it drives every batch's lowered command
// list concurrently, one "time step" at a time. At each step every batch
// still holding commands issues Start, all of them are Waited together,
// then every batch's iterator advances — so independent batches overlap
// their back-end calls while a single batch's own commands stay strictly
// ordered. No ordering is promised across batches, which is why the
// planner never lets two batches share a written buffer.
package exec

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lsds/hccp/srcs/go/lower"
	"github.com/lsds/hccp/srcs/go/utils"
)

// Run drives batches, one command list per batch, to completion. A nil
// entry in batches is treated as already-finished (compileEpoch leaves one
// for a batch that received no work).
func Run(ctx context.Context, batches [][]*lower.Command) error {
	ptr := make([]int, len(batches))
	for {
		active := activeBatches(batches, ptr)
		if len(active) == 0 {
			return nil
		}
		if err := step(ctx, batches, ptr, active); err != nil {
			return err
		}
		for _, i := range active {
			ptr[i]++
		}
	}
}

func activeBatches(batches [][]*lower.Command, ptr []int) []int {
	var active []int
	for i, cmds := range batches {
		if ptr[i] < len(cmds) {
			active = append(active, i)
		}
	}
	return active
}

// step issues Start then Wait on every active batch's current command
// concurrently. A compute command (lowerReduce's output) is just another
// entry in a batch's command list, so a fold naturally lands in its own
// step between the comm step that fed it and the comm step that consumes
// its result, without the executor needing to special-case it.
//
// Every active batch's error is collected, not just the first: a caller
// diagnosing a failed run wants to know every batch that failed this
// step, not only whichever errgroup happened to observe first.
func step(ctx context.Context, batches [][]*lower.Command, ptr []int, active []int) error {
	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(active))
	var mu sync.Mutex
	for k, i := range active {
		k, cmd := k, batches[i][ptr[i]]
		g.Go(func() error {
			err := cmd.Start(gctx)
			if err == nil {
				err = cmd.Wait(gctx)
			}
			if err != nil {
				mu.Lock()
				errs[k] = err
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait() // every goroutine's error is already captured in errs
	return utils.MergeErrors(errs, "time step")
}
