package graph

import (
	"errors"
	"time"

	"github.com/dshills/coursegraph/graph/emit"
	"github.com/dshills/coursegraph/graph/store"
)

// Options configures a Runner. The zero value is usable: no delegate wait
// bound, a null emitter, no metrics and no run archive.
type Options struct {
	// DelegateTimeout bounds every worker's delegate call unless the step sets
	// its own timeout. Zero means no bound.
	DelegateTimeout time.Duration

	// Emitter receives observability events.
	Emitter emit.Emitter

	// Metrics records Prometheus metrics when non-nil.
	Metrics *PrometheusMetrics

	// Store archives every finished run when non-nil.
	Store store.Store

	// NewRunID generates run identifiers. Defaults to random UUIDs.
	NewRunID func() string
}

// Option is a functional option for configuring a Runner.
//
//	runner, err := graph.NewRunner(root,
//	    graph.WithDelegateTimeout(2*time.Minute),
//	    graph.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*runnerConfig) error

type runnerConfig struct {
	opts Options
}

// WithOptions replaces the whole option set. Options given after it still
// apply on top.
func WithOptions(opts Options) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithDelegateTimeout sets the default bounded wait for delegate calls.
func WithDelegateTimeout(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d < 0 {
			return errors.New("delegate timeout must be >= 0")
		}
		cfg.opts.DelegateTimeout = d
		return nil
	}
}

// WithEmitter sets the observability sink.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}

// WithRunStore archives finished runs in s. The archive is written after a
// run ends and is never read back to resume one.
func WithRunStore(s store.Store) Option {
	return func(cfg *runnerConfig) error {
		cfg.opts.Store = s
		return nil
	}
}

// WithRunIDGenerator overrides run ID generation.
func WithRunIDGenerator(fn func() string) Option {
	return func(cfg *runnerConfig) error {
		if fn == nil {
			return errors.New("run ID generator must not be nil")
		}
		cfg.opts.NewRunID = fn
		return nil
	}
}
