// Package disruptor is a bounded, in-process hand-off between producer and
// consumer goroutines in the style of the LMAX Disruptor.
//
// Producers claim sequences, write the slot in place and publish by advancing
// a cursor. Consumers follow the cursor through sequence barriers and report
// their own progress in Sequences, which gate both downstream consumers and
// the producers.
package disruptor

import (
	"fmt"
	"sync/atomic"
)

var (
	ErrInvalidCapacity      = fmt.Errorf("capacity must be power of 2 and > 0")
	ErrInsufficientCapacity = fmt.Errorf("insufficient capacity")
	ErrInvalidClaim         = fmt.Errorf("claim size must be between 1 and capacity")
	ErrUnknownWaitStrategy  = fmt.Errorf("unknown wait strategy")
	ErrUnknownProducerMode  = fmt.Errorf("unknown producer mode")
	ErrAlreadyStarted       = fmt.Errorf("already started")
	ErrNotStarted           = fmt.Errorf("not started")
	ErrUnknownStage         = fmt.Errorf("unknown stage")
	ErrDuplicateStage       = fmt.Errorf("duplicate stage")
	ErrDependencyCycle      = fmt.Errorf("dependency cycle")
	ErrMissingHandler       = fmt.Errorf("missing handler")
)

// RingBuffer is a fixed array of pre-allocated entries indexed by sequence.
// Slots are reused in place every lap; there is no per-entry allocation.
//
// A slot may be written only between claiming its sequence and publishing it,
// and read only after it was published and before it is claimed again, which
// the gating sequences prevent until every gating consumer is done with it.
type RingBuffer[E any] struct {
	// Optional padding to avoid false sharing between frequently accessed fields
	_         [64]byte
	mask      int64
	capacity  int64
	entries   []E
	_         [64]byte
	cursor    *Sequence
	sequencer sequencer
	gate      *gating
	wait      WaitStrategy
	mode      ProducerMode
	stats     ringStats
}

// NewRingBuffer creates a ring buffer of zero-valued entries.
// Capacity must be a power of two (1<<k); otherwise ErrInvalidCapacity is
// returned and nothing is allocated.
func NewRingBuffer[E any](capacity int, opts ...Option) (*RingBuffer[E], error) {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	o := applyOptions(opts)

	r := &RingBuffer[E]{
		mask:     int64(capacity - 1),
		capacity: int64(capacity),
		entries:  make([]E, capacity),
		cursor:   NewSequence(),
		wait:     o.waitStrategy,
		mode:     o.producerMode,
	}
	switch o.producerMode {
	case SingleProducer:
		s := newSingleProducerSequencer(r.capacity, r.cursor, r.wait, &r.stats)
		r.sequencer, r.gate = s, &s.gating
	case MultiProducer:
		s := newMultiProducerSequencer(r.capacity, r.cursor, r.wait, &r.stats)
		r.sequencer, r.gate = s, &s.gating
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownProducerMode, o.producerMode)
	}
	return r, nil
}

// Capacity returns the fixed number of slots.
func (r *RingBuffer[E]) Capacity() int64 {
	return r.capacity
}

// ProducerMode reports how this buffer claims sequences.
func (r *RingBuffer[E]) ProducerMode() ProducerMode {
	return r.mode
}

// WaitStrategy returns the strategy shared by every barrier of this buffer.
func (r *RingBuffer[E]) WaitStrategy() WaitStrategy {
	return r.wait
}

// Cursor returns the highest published sequence.
func (r *RingBuffer[E]) Cursor() int64 {
	return r.cursor.Get()
}

// IsPublished reports whether seq has been made visible to consumers.
func (r *RingBuffer[E]) IsPublished(seq int64) bool {
	return seq <= r.cursor.Get()
}

// Get returns the entry for seq. The caller must hold seq as a claimed,
// unpublished sequence (to write) or as a published sequence its barrier let
// it reach (to read).
func (r *RingBuffer[E]) Get(seq int64) *E {
	return &r.entries[seq&r.mask]
}

// Next claims the next sequence, waiting while the slot is still in use by a
// gating consumer.
func (r *RingBuffer[E]) Next() int64 {
	return r.sequencer.next(1)
}

// NextN claims n consecutive sequences and returns the highest; the first is
// hi-n+1. Panics if n is not in [1, Capacity()].
func (r *RingBuffer[E]) NextN(n int) int64 {
	if n < 1 || int64(n) > r.capacity {
		panic(fmt.Sprintf("disruptor: %v: %d", ErrInvalidClaim, n))
	}
	return r.sequencer.next(int64(n))
}

// TryNext claims the next sequence without waiting. It returns
// ErrInsufficientCapacity if the slot is still in use.
func (r *RingBuffer[E]) TryNext() (int64, error) {
	return r.sequencer.tryNext(1)
}

// TryNextN is the non-waiting form of NextN.
func (r *RingBuffer[E]) TryNextN(n int) (int64, error) {
	if n < 1 || int64(n) > r.capacity {
		return InitialSequenceValue, fmt.Errorf("%w: %d", ErrInvalidClaim, n)
	}
	return r.sequencer.tryNext(int64(n))
}

// Publish makes seq visible to consumers and wakes blocked waiters.
func (r *RingBuffer[E]) Publish(seq int64) {
	r.sequencer.publish(seq, seq)
}

// PublishRange publishes the claimed sequences lo..hi inclusive.
func (r *RingBuffer[E]) PublishRange(lo, hi int64) {
	r.sequencer.publish(lo, hi)
}

// PublishEvent claims a slot, lets fill write into it and publishes it.
func (r *RingBuffer[E]) PublishEvent(fill func(entry *E, seq int64)) {
	seq := r.sequencer.next(1)
	fill(r.Get(seq), seq)
	r.sequencer.publish(seq, seq)
}

// PublishEvents claims n slots as one batch, fills each in order and
// publishes them together.
func (r *RingBuffer[E]) PublishEvents(n int, fill func(entry *E, seq int64)) {
	hi := r.NextN(n)
	lo := hi - int64(n) + 1
	for seq := lo; seq <= hi; seq++ {
		fill(r.Get(seq), seq)
	}
	r.sequencer.publish(lo, hi)
}

// TryPublishEvent is PublishEvent without waiting for capacity.
func (r *RingBuffer[E]) TryPublishEvent(fill func(entry *E, seq int64)) error {
	seq, err := r.sequencer.tryNext(1)
	if err != nil {
		return err
	}
	fill(r.Get(seq), seq)
	r.sequencer.publish(seq, seq)
	return nil
}

// AddGatingSequences registers consumer sequences the producers must not lap.
// Safe to call while producers are running; a newly added sequence should not
// be behind the cursor by more than the capacity.
func (r *RingBuffer[E]) AddGatingSequences(seqs ...*Sequence) {
	r.gate.add(seqs...)
}

// RemoveGatingSequence unregisters seq. It reports whether seq was registered.
func (r *RingBuffer[E]) RemoveGatingSequence(seq *Sequence) bool {
	return r.gate.remove(seq)
}

// MinimumGatingSequence returns the slowest registered consumer, or the
// cursor when none is registered.
func (r *RingBuffer[E]) MinimumGatingSequence() int64 {
	return r.gate.minGating(r.cursor.Get())
}

// RemainingCapacity returns how many slots can be claimed without waiting.
func (r *RingBuffer[E]) RemainingCapacity() int64 {
	produced := r.sequencer.claimed()
	consumed := r.gate.minGating(r.cursor.Get())
	return r.capacity - (produced - consumed)
}

// NewBarrier returns a barrier that gates on the cursor and on dependents,
// the sequences of the consumers that must see an entry first.
func (r *RingBuffer[E]) NewBarrier(dependents ...*Sequence) *SequenceBarrier {
	return newSequenceBarrier(r.cursor, r.wait, dependents)
}

type ringStats struct {
	claims         atomic.Uint64
	claimRetries   atomic.Uint64
	capacityWaits  atomic.Uint64
	fullRejections atomic.Uint64
	published      atomic.Uint64
}

// Stats is a snapshot of producer-side counters.
type Stats struct {
	Claims         uint64 // successful claim calls
	ClaimRetries   uint64 // multi-producer CAS conflicts
	CapacityWaits  uint64 // claims that had to wait for a consumer
	FullRejections uint64 // TryNext calls rejected with ErrInsufficientCapacity
	Published      uint64 // sequences published
}

// Stats retrieves the current statistics of the RingBuffer.
func (r *RingBuffer[E]) Stats() Stats {
	return Stats{
		Claims:         r.stats.claims.Load(),
		ClaimRetries:   r.stats.claimRetries.Load(),
		CapacityWaits:  r.stats.capacityWaits.Load(),
		FullRejections: r.stats.fullRejections.Load(),
		Published:      r.stats.published.Load(),
	}
}
