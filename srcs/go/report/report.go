// Package report is the Reporter/Measurer: per-stage timing, bandwidth
// measurement delegated to backend.Comm.Measure, and a non-semantic
// structural dump of the compiled plan for operator inspection. Where the
// teacher dumps this over its own bespoke monitor/HTTP server, this
// package exposes the same numbers as Prometheus gauges/histograms via
// promauto, in the idiom the NVSentinel pack repo uses for its workqueue
// metrics.
package report

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lsds/hccp/srcs/go/backend"
	"github.com/lsds/hccp/srcs/go/lower"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hccp_stage_duration_seconds",
		Help:    "Wall time of one call timed with Timed, labelled by the caller's name.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	}, []string{"command"})

	bandwidthBytesPerSecond = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hccp_measured_bandwidth_bytes_per_second",
		Help: "Achieved bandwidth from a Comm.Measure calibration run.",
	}, []string{"command"})

	stagingBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hccp_staging_buffer_count",
		Help: "Live planner-owned staging buffers per rank after init.",
	}, []string{"rank"})
)

// Dump is the non-semantic structural description of a compiled plan:
// enough to inspect a schedule without exposing the data it moves.
type Dump struct {
	Rank      int
	Batches   [][]CommandInfo
}

type CommandInfo struct {
	Name    string
	Action  string
	NumSend int
	NumRecv int
	NumComp int
}

// Describe turns a lowered command_batch table into a Dump, one row per
// batch.
func Describe(rank int, batches [][]*lower.Command) Dump {
	d := Dump{Rank: rank, Batches: make([][]CommandInfo, len(batches))}
	for i, cmds := range batches {
		for _, c := range cmds {
			d.Batches[i] = append(d.Batches[i], CommandInfo{
				Name: c.Name, Action: c.Action.String(),
				NumSend: c.NumSend, NumRecv: c.NumRecv, NumComp: c.NumComp,
			})
		}
	}
	return d
}

// Timed runs fn, recording its wall time under name in stageDuration.
// cmd/hccp-bench uses it to time each whole timed run; the Executor does
// not call it.
func Timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// Measure runs comm's calibration loop and records the achieved bandwidth
// under name.
func Measure(ctx context.Context, name string, comm backend.Comm, warmup, iter int) (float64, error) {
	bw, err := comm.Measure(ctx, warmup, iter)
	if err != nil {
		return 0, err
	}
	bandwidthBytesPerSecond.WithLabelValues(name).Set(bw)
	return bw, nil
}

// RecordStaging publishes how many staging buffers a rank's arenas still
// hold live, sampled right after init.
func RecordStaging(rank string, count int) {
	stagingBuffers.WithLabelValues(rank).Set(float64(count))
}
