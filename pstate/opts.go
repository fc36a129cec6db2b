package pstate

import "time"

// config holds every tunable of a StateManager. It is never exported
// directly; callers build it through New(topicPartition, opts...), the
// usual functional-options shape for client configuration.
type config struct {
	logger Logger

	maxProducerIDExpiration time.Duration
	cacheQueueSize          int
	maxRecoveryErrors       int
}

func defaultConfig() config {
	return config{
		logger:                  NewLogger(nil),
		maxProducerIDExpiration: 7 * 24 * time.Hour,
		cacheQueueSize:          100,
		maxRecoveryErrors:       10,
	}
}

// Opt configures a StateManager at construction time.
type Opt interface {
	apply(*config)
}

type optFunc func(*config)

func (f optFunc) apply(c *config) { f(c) }

// WithLogger overrides the logger every component of the manager writes
// through.
func WithLogger(l Logger) Opt {
	return optFunc(func(c *config) { c.logger = l })
}

// WithMaxProducerIDExpiration sets how long a producer may sit idle, with
// no transaction in flight, before removeExpiredProducers drops its entry.
func WithMaxProducerIDExpiration(d time.Duration) Opt {
	return optFunc(func(c *config) { c.maxProducerIDExpiration = d })
}

// WithCacheQueueSize records a replay queue size (default 100) in the
// manager's config. Nothing reads it back: recovery.LogRecovery takes its
// queue size from recovery.New instead.
func WithCacheQueueSize(n int) Opt {
	return optFunc(func(c *config) {
		if n > 0 {
			c.cacheQueueSize = n
		}
	})
}

// WithMaxRecoveryErrors records a recovery error budget (default 10) in the
// manager's config. Nothing reads it back: recovery.LogRecovery takes its
// budget from recovery.New instead.
func WithMaxRecoveryErrors(n int) Opt {
	return optFunc(func(c *config) {
		if n >= 0 {
			c.maxRecoveryErrors = n
		}
	})
}
