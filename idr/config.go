// Package idr implements a concurrent slab allocator keyed by a packed,
// generation-stamped handle: Insert hands back a Key immediately usable from
// any goroutine, Get resolves it back to the stored value under an epoch
// guard, and Remove invalidates every outstanding Key for that slot without
// requiring readers to take a lock.
//
// © 2025 idr authors. MIT License.
package idr

import (
	"errors"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/idr/internal/obs"
	"github.com/Voskan/idr/internal/slab"
)

// Config is the runtime form of the spec's compile-time parameter set:
// InitialPageSize (a power of two), MaxPages, and ReservedBits. Go has no
// const-generics, so what the original treats as a type parameter becomes a
// value validated once at New.
type Config struct {
	InitialPageSize uint32
	MaxPages        uint32
	ReservedBits    uint32
}

// DefaultConfig mirrors internal/slab's reference choice: pages starting at
// 32 slots, doubling up to 27 pages, no reserved bits.
var DefaultConfig = Config{
	InitialPageSize: slab.DefaultConfig.InitialPageSize,
	MaxPages:        slab.DefaultConfig.MaxPages,
	ReservedBits:    slab.DefaultConfig.ReservedBits,
}

var (
	errInvalidShardCount = errors.New("idr: ShardCount must be a power of two >= 1")
)

// Option configures an Idr at construction time, following the same
// functional-options shape as the teacher's cache.Option[K,V].
type Option[T any] func(*config[T])

type config[T any] struct {
	layout     slab.Config
	shardCount uint32
	registry   *prometheus.Registry
	logger     *zap.Logger
}

func defaultConfig[T any]() *config[T] {
	return &config[T]{
		layout:     slab.DefaultConfig,
		shardCount: nextPowerOfTwo(uint32(runtime.GOMAXPROCS(0))),
		logger:     obs.NopLogger(),
	}
}

// WithConfig overrides the page-geometry/bit-width parameters.
func WithConfig[T any](cfg Config) Option[T] {
	return func(c *config[T]) {
		c.layout = slab.Config{
			InitialPageSize: cfg.InitialPageSize,
			MaxPages:        cfg.MaxPages,
			ReservedBits:    cfg.ReservedBits,
		}
	}
}

// WithShardCount overrides the number of shards (must be a power of two);
// the default is the next power of two at or above GOMAXPROCS.
func WithShardCount[T any](n uint32) Option[T] {
	return func(c *config[T]) { c.shardCount = n }
}

// WithMetrics registers Prometheus collectors on reg. Passing nil (the
// default) keeps the Idr on the no-op metrics sink.
func WithMetrics[T any](reg *prometheus.Registry) Option[T] {
	return func(c *config[T]) { c.registry = reg }
}

// WithLogger overrides the structured logger used for rare events (an
// Insert that finds its shard exhausted, a slot generation wrap). A nil logger
// is ignored, matching the teacher's WithLogger guard.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(c *config[T]) {
		if l != nil {
			c.logger = l
		}
	}
}

// applyOptions runs every option against defaultConfig, then validates the
// result exactly once, mirroring pkg/config.go's applyOptions shape:
// options first, validation (and any derived fields) second.
func applyOptions[T any](opts []Option[T]) (*config[T], error) {
	c := defaultConfig[T]()
	for _, opt := range opts {
		opt(c)
	}
	if c.shardCount == 0 || (c.shardCount&(c.shardCount-1)) != 0 {
		return nil, errInvalidShardCount
	}
	if _, err := slab.NewLayout(c.layout, c.shardCount); err != nil {
		return nil, err
	}
	return c, nil
}

func nextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}
