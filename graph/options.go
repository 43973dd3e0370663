package graph

import (
	"errors"
	"time"

	"github.com/dshills/langgraph-hitl/graph/emit"
)

// DefaultMaxSteps bounds a single Run or Resume call.
const DefaultMaxSteps = 25

// Option configures an Engine.
//
// Example:
//
//	engine, err := graph.New(g, manager,
//	    graph.WithMaxSteps(50),
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	maxSteps    int
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	nodeTimeout time.Duration
	now         func() time.Time
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxSteps: DefaultMaxSteps,
		emitter:  emit.NewNullEmitter(),
		now:      time.Now,
	}
}

// WithMaxSteps limits how many nodes one Run or Resume call may execute.
// Loops such as the agent's model/tool cycle stop with ErrMaxStepsExceeded
// once the limit is hit. Zero disables the limit.
func WithMaxSteps(n int) Option {
	return func(c *engineConfig) error {
		if n < 0 {
			return errors.New("max steps cannot be negative")
		}
		c.maxSteps = n
		return nil
	}
}

// WithEmitter sets the event sink. Use emit.Multi to combine several.
func WithEmitter(e emit.Emitter) Option {
	return func(c *engineConfig) error {
		if e == nil {
			return errors.New("emitter cannot be nil")
		}
		c.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(c *engineConfig) error {
		c.metrics = m
		return nil
	}
}

// WithNodeTimeout sets the default per-attempt timeout for nodes without a
// policy timeout.
func WithNodeTimeout(d time.Duration) Option {
	return func(c *engineConfig) error {
		if d < 0 {
			return errors.New("node timeout cannot be negative")
		}
		c.nodeTimeout = d
		return nil
	}
}

// WithEngineClock injects the time source used for checkpoint timestamps.
func WithEngineClock(now func() time.Time) Option {
	return func(c *engineConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		c.now = now
		return nil
	}
}
