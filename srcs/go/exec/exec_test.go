package exec_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/exec"
	"github.com/lsds/hccp/srcs/go/lower"
)

// recordingComm is a minimal backend.Comm that records when Start and Wait
// ran relative to a shared, process-wide counter, letting a test detect a
// step k+1 starting before step k's Wait landed.
type recordingComm struct {
	label string
	delay time.Duration
	log   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (c *recordingComm) Add(sbuf *buffer.Buffer, soff int, rbuf *buffer.Buffer, roff int, count, src, dst int) error {
	return nil
}
func (c *recordingComm) Start(ctx context.Context) error {
	c.log.record(c.label + ":start")
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return nil
}
func (c *recordingComm) Wait(ctx context.Context) error {
	c.log.record(c.label + ":wait")
	return nil
}
func (c *recordingComm) Test() (bool, error) { return true, nil }
func (c *recordingComm) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait(ctx)
}
func (c *recordingComm) Measure(ctx context.Context, warmup, iter int) (float64, error) { return 0, nil }

func cmdFor(label string, delay time.Duration, log *eventLog) *lower.Command {
	return &lower.Command{Name: label, Action: lower.CommRun, Comm: &recordingComm{label: label, delay: delay, log: log}}
}

// TestRunKeepsWithinBatchCommandsStrictlyOrdered covers that within one
// batch, a step's Start never happens until the previous step's Wait has
// been recorded — step k cannot be observed to begin before step k-1
// completed.
func TestRunKeepsWithinBatchCommandsStrictlyOrdered(t *testing.T) {
	log := &eventLog{}
	batch := []*lower.Command{
		cmdFor("b0.s0", 5*time.Millisecond, log),
		cmdFor("b0.s1", 0, log),
		cmdFor("b0.s2", 0, log),
	}
	require.NoError(t, exec.Run(context.Background(), [][]*lower.Command{batch}))

	idx := map[string]int{}
	for i, e := range log.events {
		idx[e] = i
	}
	assert.Less(t, idx["b0.s0:start"], idx["b0.s0:wait"])
	assert.Less(t, idx["b0.s0:wait"], idx["b0.s1:start"])
	assert.Less(t, idx["b0.s1:wait"], idx["b0.s2:start"])
}

// TestRunOverlapsIndependentBatches covers that two independent batches'
// steps are issued concurrently rather than one batch draining fully
// before the next starts: batch 0's slow first step must not block
// batch 1's first step from starting.
func TestRunOverlapsIndependentBatches(t *testing.T) {
	log := &eventLog{}
	batch0 := []*lower.Command{cmdFor("b0.s0", 20*time.Millisecond, log), cmdFor("b0.s1", 0, log)}
	batch1 := []*lower.Command{cmdFor("b1.s0", 0, log), cmdFor("b1.s1", 0, log)}
	require.NoError(t, exec.Run(context.Background(), [][]*lower.Command{batch0, batch1}))

	idx := map[string]int{}
	for i, e := range log.events {
		idx[e] = i
	}
	// Both batches' first steps start in the same executor time step,
	// before either batch's slow step has waited.
	assert.Less(t, idx["b1.s0:start"], idx["b0.s0:wait"])
}

func TestRunTreatsNilBatchAsAlreadyFinished(t *testing.T) {
	log := &eventLog{}
	batch := []*lower.Command{cmdFor("b0.s0", 0, log)}
	require.NoError(t, exec.Run(context.Background(), [][]*lower.Command{batch, nil}))
	assert.Len(t, log.events, 2)
}
