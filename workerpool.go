package disruptor

import (
	"fmt"
	"math"
	"sync/atomic"
)

// WorkHandler receives the entries one worker of a pool claimed.
type WorkHandler[E any] interface {
	OnWork(entry *E, seq int64)
}

// WorkHandlerFunc adapts a function to WorkHandler.
type WorkHandlerFunc[E any] func(entry *E, seq int64)

func (f WorkHandlerFunc[E]) OnWork(entry *E, seq int64) {
	f(entry, seq)
}

// WorkerPool shares one stream of entries among several workers: each
// published sequence goes to exactly one of them. Workers compete for
// sequences by CAS on a shared work sequence, the same claim a bounded MPMC
// queue uses for its dequeue position.
type WorkerPool[E any] struct {
	workSequence *Sequence
	barrier      *SequenceBarrier
	workers      []*WorkProcessor[E]
}

// NewWorkerPool creates one worker per handler, all waiting on barrier.
func NewWorkerPool[E any](name string, ring *RingBuffer[E], barrier *SequenceBarrier, handlers ...WorkHandler[E]) *WorkerPool[E] {
	p := &WorkerPool[E]{
		workSequence: NewSequence(),
		barrier:      barrier,
		workers:      make([]*WorkProcessor[E], len(handlers)),
	}
	for i, h := range handlers {
		p.workers[i] = &WorkProcessor[E]{
			name:         fmt.Sprintf("%s-%d", name, i),
			ring:         ring,
			barrier:      barrier,
			handler:      h,
			workSequence: p.workSequence,
			sequence:     NewSequence(),
		}
	}
	return p
}

// Processors returns the workers, for an Executor to run.
func (p *WorkerPool[E]) Processors() []Processor {
	ps := make([]Processor, len(p.workers))
	for i, w := range p.workers {
		ps[i] = w
	}
	return ps
}

// WorkerSequences returns each worker's progress, for gating.
func (p *WorkerPool[E]) WorkerSequences() []*Sequence {
	seqs := make([]*Sequence, len(p.workers))
	for i, w := range p.workers {
		seqs[i] = w.sequence
	}
	return seqs
}

// Halt stops every worker.
func (p *WorkerPool[E]) Halt() {
	for _, w := range p.workers {
		w.Halt()
	}
}

// WorkProcessor is one worker of a WorkerPool.
type WorkProcessor[E any] struct {
	name         string
	ring         *RingBuffer[E]
	barrier      *SequenceBarrier
	handler      WorkHandler[E]
	workSequence *Sequence
	sequence     *Sequence
	state        atomic.Int32
}

func (w *WorkProcessor[E]) Name() string        { return w.name }
func (w *WorkProcessor[E]) Sequence() *Sequence { return w.sequence }
func (w *WorkProcessor[E]) State() State        { return State(w.state.Load()) }

// Run claims and handles one sequence at a time until halted. While a worker
// holds an unprocessed claim its own sequence stays one behind it, so gating
// on the worker never frees that slot early.
func (w *WorkProcessor[E]) Run() error {
	if !w.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("worker %q: %w", w.name, ErrAlreadyStarted)
	}
	defer w.state.Store(int32(Halted))

	if la, ok := w.handler.(LifecycleAware); ok {
		la.OnStart()
		defer la.OnShutdown()
	}

	processed := true
	cachedAvailable := int64(math.MinInt64)
	next := w.sequence.Get()
	for !w.barrier.IsAlerted() {
		if processed {
			processed = false
			for {
				next = w.workSequence.Get() + 1
				w.sequence.Set(next - 1)
				if w.workSequence.CompareAndSet(next-1, next) {
					break
				}
			}
		}

		if cachedAvailable >= next {
			w.handler.OnWork(w.ring.Get(next), next)
			processed = true
			continue
		}

		available, ok := w.barrier.WaitFor(next)
		if !ok {
			break
		}
		cachedAvailable = available
	}
	return nil
}

// Halt alerts the pool's shared barrier, which stops every worker of the pool.
func (w *WorkProcessor[E]) Halt() {
	w.barrier.Alert()
	w.state.CompareAndSwap(int32(Running), int32(Halting))
}
