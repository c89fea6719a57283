// Package comm is the public API surface: a caller builds a Comm, calls
// AddBcast/AddReduce any number of times (optionally separated by
// AddFence), then Init once with the back-end and hierarchy it will run
// against, then Run to execute the compiled plan. It wires the
// Partitioner, Striper, Tree builder, Ring builder and Implementer into
// one per-Epoch compilation pipeline and hands the result to the
// Executor.
package comm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/coll"
	"github.com/lsds/hccp/srcs/go/config"
	"github.com/lsds/hccp/srcs/go/diag"
	"github.com/lsds/hccp/srcs/go/exec"
	"github.com/lsds/hccp/srcs/go/hierarchy"
	"github.com/lsds/hccp/srcs/go/log"
	"github.com/lsds/hccp/srcs/go/lower"
	"github.com/lsds/hccp/srcs/go/partition"
	"github.com/lsds/hccp/srcs/go/primitive"
	"github.com/lsds/hccp/srcs/go/report"
	"github.com/lsds/hccp/srcs/go/ring"
	"github.com/lsds/hccp/srcs/go/stripe"
	"github.com/lsds/hccp/srcs/go/tree"
)

// Stage is one fence-delimited Epoch's compiled, lowered form: a
// command_batch table, one row per pipeline batch, run sequentially
// relative to every other Stage.
type Stage struct {
	PlanID  uuid.UUID
	Batches [][]*lower.Command
}

// Comm is one rank's handle onto a collective-communication plan: the
// append-only epoch list before Init, the compiled Stage list after.
type Comm struct {
	cfg           config.Config
	epoch         primitive.Epoch
	pendingEpochs []primitive.Epoch
	stages        []Stage
	done          bool
	liveStaging   int

	logger *log.Logger
	h      *hierarchy.Hierarchy
	diag   *diag.Context

	world   backend.World
	env     backend.Env
	factory backend.Factory
}

// New constructs an empty Comm for one rank, not yet bound to a hierarchy
// or back-end — those are supplied to Init.
func New(logger *log.Logger) *Comm {
	return &Comm{logger: logger}
}

// AddBcast appends a BROADCAST primitive to the current epoch.
func (c *Comm) AddBcast(sendbuf *buffer.Buffer, sendoffset int, recvbuf *buffer.Buffer, recvoffset, count, sendid int, recvids []int, name string) error {
	if c.done {
		return fmt.Errorf("comm: cannot add %q after init", name)
	}
	p := primitive.NewBroadcast(sendbuf, sendoffset, recvbuf, recvoffset, count, sendid, recvids, name)
	if err := p.Validate(); err != nil {
		return err
	}
	c.epoch.Add(p)
	return nil
}

// AddReduce appends a REDUCE primitive to the current epoch.
func (c *Comm) AddReduce(sendbuf *buffer.Buffer, sendoffset int, recvbuf *buffer.Buffer, recvoffset, count int, sendids []int, recvid int, op buffer.Op, name string) error {
	if c.done {
		return fmt.Errorf("comm: cannot add %q after init", name)
	}
	p := primitive.NewReduce(sendbuf, sendoffset, recvbuf, recvoffset, count, sendids, recvid, op, name)
	if err := p.Validate(); err != nil {
		return err
	}
	c.epoch.Add(p)
	return nil
}

// AddFence closes the current epoch, starting a fresh empty one; epochs
// serialize against each other at run time, with no overlap.
func (c *Comm) AddFence() error {
	if c.done {
		return fmt.Errorf("comm: cannot fence after init")
	}
	if !c.epoch.Empty() {
		c.pendingEpochs = append(c.pendingEpochs, c.epoch)
	}
	c.epoch = primitive.Epoch{}
	return nil
}

// Init validates and compiles every epoch added so far against h, then
// lowers each batch against factory/env/world. A barrier before and after
// is the caller's responsibility (world.Barrier), matching the design's
// two-barrier init: one so every rank agrees it is about to compile, one
// so no rank calls Run before every rank has finished compiling.
func (c *Comm) Init(cfg config.Config, h *hierarchy.Hierarchy, factory backend.Factory, env backend.Env, world backend.World) error {
	if c.done {
		return fmt.Errorf("comm: already initialized")
	}
	if !c.epoch.Empty() {
		c.pendingEpochs = append(c.pendingEpochs, c.epoch)
		c.epoch = primitive.Epoch{}
	}
	c.cfg, c.h, c.factory, c.env, c.world = cfg, h, factory, env, world
	c.diag = diag.NewContext(world.Rank(), cfg.PrintRank, c.logger)

	if h.GroupSize(0) != world.Size() {
		err := &diag.MisconfigError{Primitive: "init", Param: "groupsize[0]", Detail: fmt.Sprintf("%d != world size %d", h.GroupSize(0), world.Size())}
		c.diag.Report(err)
		return err
	}

	strategy, err := config.ParseStrategy(cfg.Strategy)
	if err != nil {
		c.diag.Report(err)
		return &diag.MisconfigError{Primitive: "init", Param: "strategy", Detail: err.Error()}
	}
	reduceOrder, err := config.ParseReduceOrder(cfg.ReduceOrder)
	if err != nil {
		c.diag.Report(err)
		return &diag.MisconfigError{Primitive: "init", Param: "reduce_order", Detail: err.Error()}
	}

	for _, epoch := range c.pendingEpochs {
		for _, p := range epoch.Primitives {
			if err := h.Validate(p.Endpoints()...); err != nil {
				merr := &diag.MisconfigError{Primitive: p.Name, Param: "rank", Detail: err.Error()}
				c.diag.Report(merr)
				return merr
			}
		}
	}

	im := lower.New(factory, env, world)

	for _, epoch := range c.pendingEpochs {
		stage, err := c.compileEpoch(epoch, strategy, reduceOrder, im)
		if err != nil {
			c.diag.Report(err)
			return err
		}
		c.stages = append(c.stages, stage)
	}
	c.done = true
	report.RecordStaging(strconv.Itoa(world.Rank()), c.liveStaging)
	return nil
}

// Stages exposes the compiled command_batch tables, one per fenced epoch,
// for a caller that wants to inspect the plan package report builds a Dump
// from, or drive it through the Executor itself.
func (c *Comm) Stages() []Stage {
	return c.stages
}

// compileEpoch splits epoch's primitives into numbatch contiguous count
// stripes with package partition, then runs each stripe independently
// through the Striper/Tree/Ring builders and the Implementer. Splitting
// before the builders run, rather than duplicating the built Colls
// afterwards, is what keeps batches independent: each stripe gets its own
// arenas, so two batches never alias the same staging tag the way sharing
// one arena set across batches would, which would let one batch's executor
// write into staging another batch is still reading.
func (c *Comm) compileEpoch(epoch primitive.Epoch, strategy config.Strategy, reduceOrder config.ReduceOrder, im *lower.Implementer) (Stage, error) {
	numbatch := c.cfg.NumBatch
	if numbatch <= 0 {
		numbatch = 1
	}

	batches := make([][]*lower.Command, 0, numbatch)
	for _, prims := range partition.Split(epoch.Primitives, numbatch) {
		arenas := map[buffer.DataType]*tree.ArenaSet{}
		var colls []*coll.Coll
		for _, p := range prims {
			set, ok := arenas[p.SendBuf.Type]
			if !ok {
				set = tree.NewArenaSet(p.SendBuf.Type)
				arenas[p.SendBuf.Type] = set
			}
			built, err := c.buildPrimitive(p, strategy, reduceOrder, set)
			if err != nil {
				return Stage{}, err
			}
			colls = append(colls, built...)
		}
		cmds, err := im.Lower(colls)
		if err != nil {
			return Stage{}, &diag.BackendError{Command: "lower", Cause: err}
		}
		batches = append(batches, cmds)
		for _, set := range arenas {
			c.liveStaging += set.TotalLive()
		}
	}
	return Stage{PlanID: uuid.New(), Batches: batches}, nil
}

// buildPrimitive dispatches p to the striper, ring builder, or tree
// builder depending on whether it is inter-group and which strategy is
// configured, the outermost hop always starting at level 1 (level 0 is
// the trivial whole-world group every rank already shares). A reduce
// that both stripes (numstripe>1) and rings (strategy=RING, >=3 leaders)
// has two applicable builders at once; reduceOrder breaks the tie —
// StripeFirst keeps the striper's priority (the only path that existed
// before the knob did), RingFirst gives the ring builder priority
// instead. Broadcast never consults reduceOrder: only REDUCE's open
// question named it.
func (c *Comm) buildPrimitive(p primitive.Primitive, strategy config.Strategy, reduceOrder config.ReduceOrder, arenas *tree.ArenaSet) ([]*coll.Coll, error) {
	const outerLevel = 1
	if c.h.NumLevels() <= outerLevel {
		// A single-level hierarchy has no level 1 to ask isInterGroup
		// about; there is only one group, so nothing is ever inter-group.
		return buildTreed(c.h, arenas, outerLevel, p)
	}
	interGroup := isInterGroup(c.h, p)
	striped := interGroup && c.cfg.NumStripe > 1

	var leaders []int
	ringed := false
	if interGroup && strategy == config.Ring {
		leaders = groupLeaders(c.h, outerLevel, p)
		ringed = len(leaders) >= 3
	}

	if p.Kind == primitive.Reduce && striped && ringed {
		if reduceOrder == config.RingFirst {
			return buildRinged(c.h, arenas, outerLevel, leaders, p)
		}
		return buildStriped(c.h, arenas, outerLevel, p)
	}
	if striped {
		return buildStriped(c.h, arenas, outerLevel, p)
	}
	if ringed {
		return buildRinged(c.h, arenas, outerLevel, leaders, p)
	}
	return buildTreed(c.h, arenas, outerLevel, p)
}

func isInterGroup(h *hierarchy.Hierarchy, p primitive.Primitive) bool {
	if p.Kind == primitive.Broadcast {
		return stripe.Applies(h, 1, p.SendID, p.RecvIDs)
	}
	return stripe.Applies(h, 1, p.RecvID, p.SendIDs)
}

func groupLeaders(h *hierarchy.Hierarchy, level int, p primitive.Primitive) []int {
	seen := map[int]bool{}
	var leaders []int
	add := func(r int) {
		g := h.Group(r, level)
		if !seen[g] {
			seen[g] = true
			leaders = append(leaders, g*h.GroupSize(level))
		}
	}
	for _, r := range p.Endpoints() {
		add(r)
	}
	return leaders
}

func buildStriped(h *hierarchy.Hierarchy, arenas *tree.ArenaSet, level int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind == primitive.Broadcast {
		return stripe.BuildBroadcast(h, arenas, level, p)
	}
	return stripe.BuildReduce(h, arenas, level, p)
}

func buildRinged(h *hierarchy.Hierarchy, arenas *tree.ArenaSet, level int, leaders []int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind == primitive.Broadcast {
		return ring.BuildBroadcast(h, arenas, level, leaders, p)
	}
	return ring.BuildReduce(h, arenas, level, leaders, p)
}

func buildTreed(h *hierarchy.Hierarchy, arenas *tree.ArenaSet, level int, p primitive.Primitive) ([]*coll.Coll, error) {
	if p.Kind == primitive.Broadcast {
		return tree.BuildBroadcast(h, arenas, level, p)
	}
	return tree.BuildReduce(h, arenas, level, p)
}

// Run executes every compiled Stage in order; within a Stage, batches
// pipeline concurrently via package exec.
func (c *Comm) Run(ctx context.Context) error {
	if !c.done {
		return fmt.Errorf("comm: run called before init")
	}
	for _, stage := range c.stages {
		if err := exec.Run(ctx, stage.Batches); err != nil {
			return &diag.BackendError{Command: stage.PlanID.String(), Cause: err}
		}
	}
	return nil
}
