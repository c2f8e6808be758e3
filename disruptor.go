package disruptor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const drainPollInterval = time.Millisecond

// Disruptor wires a RingBuffer, its consumer stages and an Executor into one
// unit. Stages are declared before Start; each stage waits behind the producer
// and the stages it was chained after.
//
//	d, _ := disruptor.New[Order](1024)
//	journal := d.HandleEventsWith(journaler, replicator)
//	journal.Then(matcher)
//	_ = d.Start()
//	d.PublishEvent(func(o *Order, _ int64) { *o = next })
type Disruptor[E any] struct {
	ring     *RingBuffer[E]
	executor *Executor
	logger   *slog.Logger

	mu         sync.Mutex
	started    bool
	processors []Processor
	consumers  int
	// endOfChain holds the sequences no other stage depends on; they gate
	// the producer once the disruptor starts.
	endOfChain []*Sequence
}

// New creates a Disruptor over a ring buffer of the given capacity. All
// options are passed to both the ring buffer and the executor.
func New[E any](capacity int, opts ...Option) (*Disruptor[E], error) {
	ring, err := NewRingBuffer[E](capacity, opts...)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	return &Disruptor[E]{
		ring:     ring,
		executor: NewExecutor(opts...),
		logger:   o.logger,
	}, nil
}

// RingBuffer gives producers direct access to claim and publish.
func (d *Disruptor[E]) RingBuffer() *RingBuffer[E] {
	return d.ring
}

// Executor returns the executor running the consumer loops.
func (d *Disruptor[E]) Executor() *Executor {
	return d.executor
}

// PublishEvent claims a slot, fills it and publishes it.
func (d *Disruptor[E]) PublishEvent(fill func(entry *E, seq int64)) {
	d.ring.PublishEvent(fill)
}

// HandleEventsWith adds one consumer per handler, each gated only on the
// producer. The consumers run in parallel with each other.
func (d *Disruptor[E]) HandleEventsWith(handlers ...Handler[E]) *EventHandlerGroup[E] {
	return d.createConsumers(nil, handlers)
}

// HandleEventsWithWorkerPool adds a worker pool gated only on the producer.
func (d *Disruptor[E]) HandleEventsWithWorkerPool(handlers ...WorkHandler[E]) *EventHandlerGroup[E] {
	return d.createWorkerPool(nil, handlers)
}

// After returns a group whose next stage waits for all of groups.
func (d *Disruptor[E]) After(groups ...*EventHandlerGroup[E]) *EventHandlerGroup[E] {
	var seqs []*Sequence
	for _, g := range groups {
		seqs = append(seqs, g.sequences...)
	}
	return &EventHandlerGroup[E]{d: d, sequences: seqs}
}

func (d *Disruptor[E]) createConsumers(deps []*Sequence, handlers []Handler[E]) *EventHandlerGroup[E] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mustNotBeStarted()

	seqs := make([]*Sequence, 0, len(handlers))
	for _, h := range handlers {
		d.consumers++
		seqs = append(seqs, d.addConsumerLocked(fmt.Sprintf("consumer-%d", d.consumers), deps, h))
	}
	return &EventHandlerGroup[E]{d: d, sequences: seqs}
}

func (d *Disruptor[E]) addConsumerLocked(name string, deps []*Sequence, h Handler[E]) *Sequence {
	c := NewConsumer(name, d.ring, d.ring.NewBarrier(deps...), h)
	d.processors = append(d.processors, c)
	d.chainLocked(deps, c.Sequence())
	return c.Sequence()
}

func (d *Disruptor[E]) createWorkerPool(deps []*Sequence, handlers []WorkHandler[E]) *EventHandlerGroup[E] {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mustNotBeStarted()

	d.consumers++
	seqs := d.addWorkerPoolLocked(fmt.Sprintf("pool-%d", d.consumers), deps, handlers)
	return &EventHandlerGroup[E]{d: d, sequences: seqs}
}

func (d *Disruptor[E]) addWorkerPoolLocked(name string, deps []*Sequence, handlers []WorkHandler[E]) []*Sequence {
	pool := NewWorkerPool(name, d.ring, d.ring.NewBarrier(deps...), handlers...)
	d.processors = append(d.processors, pool.Processors()...)
	seqs := pool.WorkerSequences()
	d.chainLocked(deps, seqs...)
	return seqs
}

// chainLocked drops deps from the end of chain and appends added.
func (d *Disruptor[E]) chainLocked(deps []*Sequence, added ...*Sequence) {
	kept := d.endOfChain[:0]
	for _, s := range d.endOfChain {
		dependedOn := false
		for _, dep := range deps {
			if s == dep {
				dependedOn = true
				break
			}
		}
		if !dependedOn {
			kept = append(kept, s)
		}
	}
	d.endOfChain = append(kept, added...)
}

func (d *Disruptor[E]) mustNotBeStarted() {
	if d.started {
		panic("disruptor: handlers must be added before Start")
	}
}

// Start registers the end-of-chain sequences as the producer's gating
// sequences and launches every consumer loop.
func (d *Disruptor[E]) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	d.ring.AddGatingSequences(d.endOfChain...)
	d.logger.Info("disruptor starting",
		"capacity", d.ring.Capacity(),
		"producer_mode", d.ring.ProducerMode().String(),
		"processors", len(d.processors),
		"gating", len(d.endOfChain),
	)
	return d.executor.Start(d.processors...)
}

// Halt stops every consumer immediately, dropping any backlog, and waits for
// their loops to exit.
func (d *Disruptor[E]) Halt() {
	d.executor.Shutdown()
}

// Shutdown waits until every published entry went through the last stage,
// then halts the consumers and joins them. If ctx ends before the backlog is
// drained the consumers are halted anyway and ctx.Err() is returned. Producers
// must have stopped publishing.
func (d *Disruptor[E]) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	err := d.drain(ctx)
	if err != nil {
		d.logger.Warn("disruptor drain interrupted", "error", err, "cursor", d.ring.Cursor())
	}
	d.executor.Shutdown()
	return err
}

func (d *Disruptor[E]) drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for d.hasBacklog() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (d *Disruptor[E]) hasBacklog() bool {
	cursor := d.ring.Cursor()
	for _, s := range d.endOfChain {
		if s.Get() < cursor {
			return true
		}
	}
	return false
}

// EventHandlerGroup is a set of stages that later stages can wait behind.
type EventHandlerGroup[E any] struct {
	d         *Disruptor[E]
	sequences []*Sequence
}

// Then adds one consumer per handler, each waiting for the whole group.
func (g *EventHandlerGroup[E]) Then(handlers ...Handler[E]) *EventHandlerGroup[E] {
	return g.d.createConsumers(g.sequences, handlers)
}

// ThenWorkerPool adds a worker pool waiting for the whole group.
func (g *EventHandlerGroup[E]) ThenWorkerPool(handlers ...WorkHandler[E]) *EventHandlerGroup[E] {
	return g.d.createWorkerPool(g.sequences, handlers)
}

// And merges two groups.
func (g *EventHandlerGroup[E]) And(other *EventHandlerGroup[E]) *EventHandlerGroup[E] {
	seqs := make([]*Sequence, 0, len(g.sequences)+len(other.sequences))
	seqs = append(seqs, g.sequences...)
	seqs = append(seqs, other.sequences...)
	return &EventHandlerGroup[E]{d: g.d, sequences: seqs}
}

// Sequences returns the progress sequences of the group's consumers.
func (g *EventHandlerGroup[E]) Sequences() []*Sequence {
	return g.sequences
}
