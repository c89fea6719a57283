// Command hccp-bench is the reference benchmark/validation harness:
// positional pattern/numbatch/count select a collective pattern and its
// pipelining, named flags configure the hierarchy and back-end. It runs
// every simulated rank of an in-process mock cluster, times the compiled
// plan, and validates the result against a serial reference model before
// reporting bandwidth, generalized from a single hard-coded allreduce
// benchmark to any pattern the top-level comm package exposes.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/comm"
	"github.com/lsds/hccp/srcs/go/config"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/log"
	"github.com/lsds/hccp/srcs/go/report"
	"github.com/lsds/hccp/srcs/go/verify"
	"github.com/lsds/hccp/tests/go/testutils"
)

var (
	groupsizeFlag = pflag.String("groupsize", "8,4,1", "decreasing groupsize sequence, outermost first")
	libFlag       = pflag.String("lib", "", "comma-separated library tag per hop, default all intra-node")
	strategyFlag  = pflag.String("strategy", "TREE", "TREE or RING")
	numstripe     = pflag.Int("numstripe", 1, "values above 1 enable inter-group striping (chunk count is the group size)")
	dtypeFlag     = pflag.String("dtype", "i32", "element type: i32 | i64 | f32 | f64")
	opFlag        = pflag.String("op", "SUM", "reduce op: SUM | MIN | MAX | PROD, ignored for broadcast patterns")
	warmup        = pflag.Int("warmup", 2, "warmup runs before timing")
	iter          = pflag.Int("iter", 10, "timed runs")
)

func main() {
	pflag.Parse()
	args := pflag.Args()
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: hccp-bench [flags] pattern numbatch count")
		os.Exit(2)
	}
	pattern := args[0]
	numbatch, err := strconv.Atoi(args[1])
	if err != nil {
		log.Exitf("invalid numbatch %q: %v", args[1], err)
	}
	count, err := strconv.Atoi(args[2])
	if err != nil {
		log.Exitf("invalid count %q: %v", args[2], err)
	}

	groupsize, err := parseIntCSV(*groupsizeFlag)
	if err != nil {
		log.Exitf("invalid -groupsize: %v", err)
	}
	dtype, err := parseDType(*dtypeFlag)
	if err != nil {
		log.Exitf("invalid -dtype: %v", err)
	}
	op, err := parseOp(*opFlag)
	if err != nil {
		log.Exitf("invalid -op: %v", err)
	}

	libs := make([]hierarchy.Library, len(groupsize)-1)
	if *libFlag != "" {
		raw, err := parseIntCSV(*libFlag)
		if err != nil || len(raw) != len(libs) {
			log.Exitf("invalid -lib: expected %d comma-separated tags", len(libs))
		}
		for i, v := range raw {
			libs[i] = hierarchy.Library(v)
		}
	}

	h, err := hierarchy.New(groupsize, libs)
	if err != nil {
		log.Exitf("invalid hierarchy: %v", err)
	}
	p := runner{
		h: h, pattern: pattern, numbatch: numbatch, count: count,
		dtype: dtype, op: op, strategy: *strategyFlag, numstripe: *numstripe,
	}
	if err := p.run(); err != nil {
		log.Exitf("%v", err)
	}
}

type runner struct {
	h         *hierarchy.Hierarchy
	pattern   string
	numbatch  int
	count     int
	dtype     buffer.DataType
	op        buffer.Op
	strategy  string
	numstripe int
}

// run builds one Comm per simulated rank against a shared in-process
// cluster, declares pattern's primitives on every rank, initializes,
// times iter timed runs after warmup warmups, and validates against a
// serial reference model before printing the achieved rate.
func (p *runner) run() error {
	np := p.h.GroupSize(0)
	cluster := backend.NewMockCluster(np)
	env := backend.NewMockEnv(p.dtype)
	factory := &backend.MockFactory{Env: env}

	sendCount, recvCount := bufSizes(p.pattern, np, p.count)
	sendbufs := make([]*buffer.Buffer, np)
	recvbufs := make([]*buffer.Buffer, np)
	for r := 0; r < np; r++ {
		sendbufs[r] = buffer.New(sendCount, p.dtype)
		recvbufs[r] = buffer.New(recvCount, p.dtype)
		fillPattern(sendbufs[r], r)
		env.SetSend(r, sendbufs[r])
		env.SetRecv(r, recvbufs[r])
	}

	cfg := config.Default()
	cfg.GroupSize = p.groupSizes()
	cfg.Library = p.libraryTags()
	cfg.NumBatch = p.numbatch
	cfg.NumStripe = p.numstripe
	cfg.Strategy = p.strategy

	comms := make([]*comm.Comm, np)
	for r := 0; r < np; r++ {
		c := comm.New(log.New())
		if err := addPattern(c, p.pattern, r, np, p.count, sendbufs, recvbufs, p.op); err != nil {
			return err
		}
		comms[r] = c
	}

	ctx := context.Background()
	g, gctx := errgroup.WithContext(ctx)
	for r := 0; r < np; r++ {
		r := r
		g.Go(func() error {
			return comms[r].Init(cfg, p.h, factory, env, cluster.World(r))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	dump := report.Describe(0, comms[0].Stages()[0].Batches)
	log.Infof("rank 0 plan: %d batches, %d commands in batch 0", len(dump.Batches), len(dump.Batches[0]))

	run := func() error {
		g, _ := errgroup.WithContext(gctx)
		for r := 0; r < np; r++ {
			r := r
			g.Go(func() error { return comms[r].Run(gctx) })
		}
		return g.Wait()
	}

	for i := 0; i < *warmup; i++ {
		if err := run(); err != nil {
			return fmt.Errorf("warmup run %d: %w", i, err)
		}
	}
	var totalBytes int64
	var elapsed time.Duration
	sw := testutils.NewStopWatch()
	for i := 0; i < *iter; i++ {
		if err := report.Timed(p.pattern, run); err != nil {
			return fmt.Errorf("timed run %d: %w", i, err)
		}
		totalBytes += int64(np) * int64(p.count) * int64(p.dtype.Size())
	}
	sw.Stop(func(d time.Duration) { elapsed = d })
	log.Infof("pattern=%s np=%d count=%d numbatch=%d: %s", p.pattern, np, p.count, p.numbatch, testutils.ShowRate(totalBytes, elapsed))

	if err := validate(p.pattern, sendbufs, recvbufs, p.count, p.op); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	log.Infof("validation OK, rank 0 recvbuf checksum %x", verify.Checksum(recvbufs[0].Data))
	return nil
}

func (p *runner) groupSizes() []int {
	gs := make([]int, p.h.NumLevels())
	for i := range gs {
		gs[i] = p.h.GroupSize(i)
	}
	return gs
}

func (p *runner) libraryTags() []int {
	libs := make([]int, p.h.NumLevels()-1)
	for i := range libs {
		libs[i] = int(p.h.Library(i + 1))
	}
	return libs
}

func parseIntCSV(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, x := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseDType(s string) (buffer.DataType, error) {
	switch strings.ToLower(s) {
	case "i32":
		return buffer.I32, nil
	case "i64":
		return buffer.I64, nil
	case "f32":
		return buffer.F32, nil
	case "f64":
		return buffer.F64, nil
	case "u8":
		return buffer.U8, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

func parseOp(s string) (buffer.Op, error) {
	switch strings.ToUpper(s) {
	case "SUM":
		return buffer.SUM, nil
	case "MIN":
		return buffer.MIN, nil
	case "MAX":
		return buffer.MAX, nil
	case "PROD":
		return buffer.PROD, nil
	}
	return 0, fmt.Errorf("unknown op %q", s)
}
