package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lsds/hccp/srcs/go/buffer"
	"github.com/lsds/hccp/srcs/go/hierarchy"
)

// MockEnv holds every simulated rank's buffers in one process so tests
// can assert on the whole cluster's final state without a real transport.
type MockEnv struct {
	mu      sync.Mutex
	send    map[int]*buffer.Buffer
	recv    map[int]*buffer.Buffer
	staging map[int]map[int]*buffer.Buffer
	dtype   buffer.DataType
}

func NewMockEnv(dtype buffer.DataType) *MockEnv {
	return &MockEnv{
		send:    map[int]*buffer.Buffer{},
		recv:    map[int]*buffer.Buffer{},
		staging: map[int]map[int]*buffer.Buffer{},
		dtype:   dtype,
	}
}

func (e *MockEnv) SetSend(rank int, b *buffer.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send[rank] = b
}

func (e *MockEnv) SetRecv(rank int, b *buffer.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recv[rank] = b
}

func (e *MockEnv) UserSend(rank int) *buffer.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send[rank]
}

func (e *MockEnv) UserRecv(rank int) *buffer.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recv[rank]
}

func (e *MockEnv) Staging(rank, tag int) *buffer.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	byTag, ok := e.staging[rank]
	if !ok {
		byTag = map[int]*buffer.Buffer{}
		e.staging[rank] = byTag
	}
	b, ok := byTag[tag]
	if !ok {
		b = buffer.New(0, e.dtype)
		byTag[tag] = b
	}
	return b
}

// EnsureStaging grows (or creates) the staging buffer at (rank, tag) to
// hold count elements, called by the Implementer once it knows the size
// a Location's staging tag needs.
func (e *MockEnv) EnsureStaging(rank, tag, count int) *buffer.Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	byTag, ok := e.staging[rank]
	if !ok {
		byTag = map[int]*buffer.Buffer{}
		e.staging[rank] = byTag
	}
	b, ok := byTag[tag]
	if !ok || b.Count < count {
		b = buffer.New(count, e.dtype)
		byTag[tag] = b
	}
	return b
}

// Latency models a back-end's per-edge transfer delay, used to give the
// executor's pipelining something real to overlap. A zero-value Latency
// is instant, suitable for correctness-only tests.
type Latency func(bytes int) time.Duration

func NoLatency(int) time.Duration { return 0 }

type mockEdge struct {
	sbuf, rbuf   *buffer.Buffer
	soff, roff   int
	count        int
	src, dst     int
}

// MockFactory builds MockComm/MockComp instances sharing one Env and
// Latency model, standing in for a real transport in tests and the
// benchmark harness.
type MockFactory struct {
	Env     *MockEnv
	Latency Latency
}

func (f *MockFactory) NewComm(world World, lib hierarchy.Library) (Comm, error) {
	lat := f.Latency
	if lat == nil {
		lat = NoLatency
	}
	return &MockComm{env: f.Env, lib: lib, latency: lat, rank: world.Rank()}, nil
}

func (f *MockFactory) NewComp(world World) (Comp, error) {
	return &MockComp{}, nil
}

// MockComm is an in-process stand-in for a real Comm: Start launches one
// goroutine per registered edge that sleeps for the configured latency
// then performs the copy; Wait blocks until every launched edge has
// landed. Registered edges stay registered, so every Start replays them.
// The exported counters record starts, waits and bytes moved.
type MockComm struct {
	env     *MockEnv
	lib     hierarchy.Library
	latency Latency
	rank    int

	mu      sync.Mutex
	edges   []mockEdge
	wg      sync.WaitGroup
	started bool

	StartCount int
	WaitCount  int
	BytesMoved int
}

func (c *MockComm) Add(sbuf *buffer.Buffer, soff int, rbuf *buffer.Buffer, roff int, count, src, dst int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sbuf == nil || rbuf == nil {
		return fmt.Errorf("backend: mock comm add: nil buffer for edge %d->%d", src, dst)
	}
	c.edges = append(c.edges, mockEdge{sbuf: sbuf, rbuf: rbuf, soff: soff, roff: roff, count: count, src: src, dst: dst})
	return nil
}

func (c *MockComm) Start(ctx context.Context) error {
	c.mu.Lock()
	edges := c.edges
	c.started = true
	c.StartCount++
	c.mu.Unlock()

	for _, e := range edges {
		e := e
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			sz := e.count * e.sbuf.Type.Size()
			if d := c.latency(sz); d > 0 {
				time.Sleep(d)
			}
			// Both the src and dst rank register this edge on their own
			// MockComm (as a real backend's send and recv postings would),
			// but only the rank actually holding the destination Location
			// performs the write — otherwise two goroutines from two
			// different ranks' Comm instances would race on the same
			// bytes of a shared MockEnv buffer.
			if e.dst == c.rank {
				dst := e.rbuf.Slice(e.roff, e.roff+e.count)
				src := e.sbuf.Slice(e.soff, e.soff+e.count)
				dst.CopyFrom(src)
			}
			c.mu.Lock()
			c.BytesMoved += sz
			c.mu.Unlock()
		}()
	}
	return nil
}

func (c *MockComm) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	c.WaitCount++
	c.mu.Unlock()
	return nil
}

func (c *MockComm) Test() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.started || c.StartCount == c.WaitCount, nil
}

func (c *MockComm) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.Wait(ctx)
}

func (c *MockComm) Measure(ctx context.Context, warmup, iter int) (float64, error) {
	total := 0
	start := time.Now()
	for i := 0; i < warmup+iter; i++ {
		if i == warmup {
			c.mu.Lock()
			total = -c.BytesMoved
			c.mu.Unlock()
			start = time.Now()
		}
		if err := c.Run(ctx); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	total += c.BytesMoved
	c.mu.Unlock()
	elapsed := time.Since(start).Seconds()
	if elapsed == 0 {
		return 0, nil
	}
	return float64(total) / elapsed, nil
}

// MockComp folds inputs into output on the host using buffer.Transform,
// synchronously — there is no device to offload to in the mock.
type MockComp struct {
	mu     sync.Mutex
	op     buffer.Op
	custom buffer.CustomFunc
	inputs []*buffer.Buffer
	output *buffer.Buffer
	seed   bool
}

func (c *MockComp) Add(op buffer.Op, custom buffer.CustomFunc, inputs []*buffer.Buffer, output *buffer.Buffer, seed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op, c.custom, c.inputs, c.output, c.seed = op, custom, inputs, output, seed
	return nil
}

func (c *MockComp) Start(ctx context.Context) error { return nil }

// Wait folds every input into output. When seed is set, the first input
// is a plain copy rather than a Transform, so a fresh (zero-valued)
// staging accumulator never needs an operator-specific identity element;
// otherwise every input, including the first, is Transformed onto
// whatever output already holds from an earlier Add.
func (c *MockComp) Wait(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, in := range c.inputs {
		if i == 0 && c.seed {
			c.output.CopyFrom(in)
			continue
		}
		buffer.Transform(c.output, in, c.op, c.custom)
	}
	return nil
}

// MockWorld is one simulated rank's view of a fixed-size in-process
// cluster: rank/size are static, Barrier/AllreduceInt rendezvous through a
// shared MockCluster instead of a real bootstrap channel. Tests and the
// benchmark harness construct one MockWorld per simulated rank from the
// same MockCluster so every rank's Comm agrees on plan structure without
// an actual network.
type MockWorld struct {
	cluster *MockCluster
	rank    int
}

func (w *MockWorld) Rank() int { return w.rank }
func (w *MockWorld) Size() int { return w.cluster.size }

func (w *MockWorld) Barrier(ctx context.Context) error {
	return w.cluster.barrier(ctx)
}

func (w *MockWorld) AllreduceInt(ctx context.Context, v int) (int, error) {
	return w.cluster.allreduceInt(ctx, w.rank, v)
}

// MockCluster coordinates size simulated ranks' MockWorlds. NewMockCluster
// panics on size <= 0, mirroring the planner's own refusal to build a
// hierarchy with a non-positive groupsize.
type MockCluster struct {
	size int

	mu      sync.Mutex
	barCh   chan struct{}
	arrived int

	sumMu   sync.Mutex
	sumCh   chan struct{}
	sumVals []int
	sumSeen int
}

func NewMockCluster(size int) *MockCluster {
	if size <= 0 {
		panic("backend: mock cluster size must be positive")
	}
	return &MockCluster{size: size, barCh: make(chan struct{}), sumCh: make(chan struct{}), sumVals: make([]int, size)}
}

// World returns the MockWorld for rank, one call per simulated rank.
func (c *MockCluster) World(rank int) *MockWorld {
	return &MockWorld{cluster: c, rank: rank}
}

func (c *MockCluster) barrier(ctx context.Context) error {
	c.mu.Lock()
	ch := c.barCh
	c.arrived++
	if c.arrived == c.size {
		c.arrived = 0
		c.barCh = make(chan struct{})
		close(ch)
	}
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allreduceInt sums v across every rank's call, mirroring the plan-
// agreement AllreduceInt use at init (e.g. verifying every rank compiled
// the same numlevel).
func (c *MockCluster) allreduceInt(ctx context.Context, rank, v int) (int, error) {
	c.sumMu.Lock()
	ch := c.sumCh
	c.sumVals[rank] = v
	c.sumSeen++
	if c.sumSeen == c.size {
		total := 0
		for _, x := range c.sumVals {
			total += x
		}
		for i := range c.sumVals {
			c.sumVals[i] = total
		}
		c.sumSeen = 0
		c.sumCh = make(chan struct{})
		close(ch)
	}
	c.sumMu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	c.sumMu.Lock()
	defer c.sumMu.Unlock()
	return c.sumVals[rank], nil
}
