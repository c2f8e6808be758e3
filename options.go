package disruptor

import (
	"fmt"
	"log/slog"
)

// ProducerMode selects how sequences are claimed.
type ProducerMode int

const (
	// SingleProducer claims without atomics. Only one goroutine may publish.
	SingleProducer ProducerMode = iota
	// MultiProducer claims by CAS; any number of goroutines may publish.
	MultiProducer
)

func (m ProducerMode) String() string {
	switch m {
	case SingleProducer:
		return "single"
	case MultiProducer:
		return "multi"
	}
	return fmt.Sprintf("ProducerMode(%d)", int(m))
}

// ParseProducerMode accepts "single" or "multi".
func ParseProducerMode(s string) (ProducerMode, error) {
	switch s {
	case "single":
		return SingleProducer, nil
	case "multi":
		return MultiProducer, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProducerMode, s)
}

type options struct {
	waitStrategy WaitStrategy
	producerMode ProducerMode
	logger       *slog.Logger
	lockOSThread bool
}

func defaultOptions() options {
	return options{
		producerMode: SingleProducer,
		logger:       slog.Default(),
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.waitStrategy == nil {
		o.waitStrategy = NewBlockingWaitStrategy()
	}
	return o
}

// Option configures a RingBuffer, Executor or Disruptor. Options that do not
// apply to a component are ignored by it.
type Option func(*options)

// WithWaitStrategy sets the strategy consumers use to wait for entries.
// Default: a BlockingWaitStrategy.
func WithWaitStrategy(w WaitStrategy) Option {
	return func(o *options) {
		o.waitStrategy = w
	}
}

// WithProducerMode selects single or multi-producer claiming. Default: SingleProducer.
func WithProducerMode(m ProducerMode) Option {
	return func(o *options) {
		o.producerMode = m
	}
}

// WithLogger sets the logger used for lifecycle events. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLockOSThread pins every consumer goroutine to its own OS thread for the
// lifetime of its loop.
func WithLockOSThread(lock bool) Option {
	return func(o *options) {
		o.lockOSThread = lock
	}
}
