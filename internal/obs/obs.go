// Package obs bundles the two ambient concerns the Idr façade never wants to
// hand-roll per call site: a logging facade (zap, defaulting to a no-op
// logger so the hot path pays nothing) and a metrics sink (Prometheus,
// defaulting to a no-op sink). Both are modeled directly on the teacher's
// pkg/config.go (WithLogger/zap.NewNop()) and pkg/metrics.go
// (metricsSink/noopMetrics/promMetrics).
//
// © 2025 idr authors. MIT License.
package obs

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// NopLogger returns a logger that discards everything, the default used
// when the caller does not supply one via idr.WithLogger.
func NopLogger() *zap.Logger { return zap.NewNop() }

// MetricsSink abstracts the concrete metrics backend (Prometheus vs noop) so
// that Idr and its shards only depend on this narrow interface, mirroring
// the teacher's metricsSink.
type MetricsSink interface {
	IncHit(shard uint32)
	IncMiss(shard uint32)
	IncRemove(shard uint32)
	IncInsertFailure(shard uint32)
	IncGenerationWrap(shard uint32)
	SetOccupied(shard uint32, value int64)
}

// Noop implements MetricsSink with no-ops; used when the caller does not
// pass WithMetrics.
type Noop struct{}

func (Noop) IncHit(uint32)             {}
func (Noop) IncMiss(uint32)            {}
func (Noop) IncRemove(uint32)          {}
func (Noop) IncInsertFailure(uint32)   {}
func (Noop) IncGenerationWrap(uint32)  {}
func (Noop) SetOccupied(uint32, int64) {}

// Prom implements MetricsSink atop a *prometheus.Registry.
type Prom struct {
	hits            *prometheus.CounterVec
	misses          *prometheus.CounterVec
	removes         *prometheus.CounterVec
	insertFailures  *prometheus.CounterVec
	generationWraps *prometheus.CounterVec
	occupied        *prometheus.GaugeVec

	occupiedMirror []atomic.Int64
}

// NewProm registers IDR metrics on reg. Caller guarantees reg is non-nil and
// shardCount > 0.
func NewProm(shardCount int, reg *prometheus.Registry) *Prom {
	label := []string{"shard"}
	p := &Prom{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idr", Name: "hits_total", Help: "Number of Get calls that found a live entry.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idr", Name: "misses_total", Help: "Number of Get calls that found no live entry.",
		}, label),
		removes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idr", Name: "removes_total", Help: "Number of successful Remove calls.",
		}, label),
		insertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idr", Name: "insert_failures_total", Help: "Number of Insert calls that found every page full.",
		}, label),
		generationWraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idr", Name: "generation_wraps_total", Help: "Number of times a slot's generation counter wrapped back to 1.",
		}, label),
		occupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "idr", Name: "occupied_slots", Help: "Live occupied slot count.",
		}, label),
		occupiedMirror: make([]atomic.Int64, shardCount),
	}
	reg.MustRegister(p.hits, p.misses, p.removes, p.insertFailures, p.generationWraps, p.occupied)
	return p
}

func (p *Prom) IncHit(shard uint32)  { p.hits.WithLabelValues(shardLabel(shard)).Inc() }
func (p *Prom) IncMiss(shard uint32) { p.misses.WithLabelValues(shardLabel(shard)).Inc() }
func (p *Prom) IncRemove(shard uint32) {
	p.removes.WithLabelValues(shardLabel(shard)).Inc()
}
func (p *Prom) IncInsertFailure(shard uint32) {
	p.insertFailures.WithLabelValues(shardLabel(shard)).Inc()
}
func (p *Prom) IncGenerationWrap(shard uint32) {
	p.generationWraps.WithLabelValues(shardLabel(shard)).Inc()
}
func (p *Prom) SetOccupied(shard uint32, value int64) {
	p.occupiedMirror[shard].Store(value)
	p.occupied.WithLabelValues(shardLabel(shard)).Set(float64(value))
}

func shardLabel(shard uint32) string { return strconv.Itoa(int(shard)) }

// NewSink chooses Prom when reg is non-nil, Noop otherwise.
func NewSink(shardCount int, reg *prometheus.Registry) MetricsSink {
	if reg == nil {
		return Noop{}
	}
	return NewProm(shardCount, reg)
}
