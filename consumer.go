package disruptor

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle of a consumer loop: Idle → Running → Halting → Halted.
// A Halted consumer is never restarted.
type State int32

const (
	Idle State = iota
	Running
	Halting
	Halted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Halting:
		return "halting"
	case Halted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Handler receives every entry a consumer processes, in sequence order.
// endOfBatch is true for the last entry of the batch that became available in
// one wake-up, which is the natural point to flush buffered work.
//
// The entry belongs to the ring buffer; a handler must not modify it and must
// not keep the pointer after returning.
type Handler[E any] interface {
	OnEvent(entry *E, seq int64, endOfBatch bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[E any] func(entry *E, seq int64, endOfBatch bool)

func (f HandlerFunc[E]) OnEvent(entry *E, seq int64, endOfBatch bool) {
	f(entry, seq, endOfBatch)
}

// LifecycleAware handlers are told when their consumer loop starts and exits.
// Both calls run on the consumer goroutine.
type LifecycleAware interface {
	OnStart()
	OnShutdown()
}

// Processor is a consumer loop the Executor can run.
type Processor interface {
	// Run executes the loop on the calling goroutine until halted.
	Run() error
	// Halt asks the loop to stop. It does not wait for it.
	Halt()
	// Sequence is the last sequence the loop finished with.
	Sequence() *Sequence
	State() State
	Name() string
}

// Consumer processes every published entry, in order, once its barrier lets
// it through, and then advances its own Sequence for downstream stages and
// the producer to gate on.
type Consumer[E any] struct {
	name     string
	ring     *RingBuffer[E]
	barrier  *SequenceBarrier
	handler  Handler[E]
	sequence *Sequence
	state    atomic.Int32
}

// NewConsumer binds handler to ring through barrier. The barrier should be
// dedicated to this consumer since halting the consumer alerts it.
func NewConsumer[E any](name string, ring *RingBuffer[E], barrier *SequenceBarrier, handler Handler[E]) *Consumer[E] {
	return &Consumer[E]{
		name:     name,
		ring:     ring,
		barrier:  barrier,
		handler:  handler,
		sequence: NewSequence(),
	}
}

func (c *Consumer[E]) Name() string {
	return c.name
}

func (c *Consumer[E]) Sequence() *Sequence {
	return c.sequence
}

func (c *Consumer[E]) Barrier() *SequenceBarrier {
	return c.barrier
}

func (c *Consumer[E]) State() State {
	return State(c.state.Load())
}

// Run processes entries until Halt is called. It returns ErrAlreadyStarted if
// the consumer is running or has already run.
func (c *Consumer[E]) Run() error {
	if !c.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("consumer %q: %w", c.name, ErrAlreadyStarted)
	}
	defer c.state.Store(int32(Halted))

	if la, ok := c.handler.(LifecycleAware); ok {
		la.OnStart()
		defer la.OnShutdown()
	}

	next := c.sequence.Get() + 1
	for !c.barrier.IsAlerted() {
		available, ok := c.barrier.WaitFor(next)
		if !ok {
			break
		}
		for seq := next; seq <= available; seq++ {
			c.handler.OnEvent(c.ring.Get(seq), seq, seq == available)
		}
		c.sequence.Set(available)
		next = available + 1
	}
	return nil
}

// Halt raises the halt flag. The loop finishes the batch it is in, if any,
// and exits; use the Executor to wait for that.
func (c *Consumer[E]) Halt() {
	c.barrier.Alert()
	c.state.CompareAndSwap(int32(Running), int32(Halting))
}
