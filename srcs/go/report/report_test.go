package report_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/lower"
	"github.com/lsds/hccp/srcs/go/report"
)

func TestDescribeCountsSendRecvCompPerCommand(t *testing.T) {
	cmds := []*lower.Command{
		{Name: "a", Action: lower.CommRun, NumSend: 2, NumRecv: 2},
		{Name: "b", Action: lower.CompRun, NumComp: 1},
	}
	dump := report.Describe(3, [][]*lower.Command{cmds})

	require.Equal(t, 3, dump.Rank)
	require.Len(t, dump.Batches, 1)
	require.Len(t, dump.Batches[0], 2)
	assert.Equal(t, report.CommandInfo{Name: "a", Action: lower.CommRun.String(), NumSend: 2, NumRecv: 2}, dump.Batches[0][0])
	assert.Equal(t, report.CommandInfo{Name: "b", Action: lower.CompRun.String(), NumComp: 1}, dump.Batches[0][1])
}

func TestTimedPropagatesErrorWithoutSwallowingIt(t *testing.T) {
	want := errors.New("boom")
	err := report.Timed("test-command", func() error { return want })
	assert.Equal(t, want, err)
}

func TestTimedReturnsNilOnSuccess(t *testing.T) {
	called := false
	err := report.Timed("test-command", func() error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMeasureRunsComAndReportsPositiveBandwidth(t *testing.T) {
	env := backend.NewMockEnv(buffer.I32)
	send := buffer.New(64, buffer.I32)
	recv := buffer.New(64, buffer.I32)
	env.SetSend(0, send)
	env.SetRecv(0, recv)
	factory := &backend.MockFactory{Env: env}
	world := backend.NewMockCluster(1).World(0)
	comm, err := factory.NewComm(world, 0)
	require.NoError(t, err)
	require.NoError(t, comm.Add(send, 0, recv, 0, 64, 0, 0))

	bw, err := report.Measure(context.Background(), "test-measure", comm, 1, 2)
	require.NoError(t, err)
	assert.Greater(t, bw, 0.0)
}

func TestRecordStagingDoesNotPanicOnRepeatedSamples(t *testing.T) {
	report.RecordStaging("0", 3)
	report.RecordStaging("0", 0)
}
