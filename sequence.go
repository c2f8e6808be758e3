package disruptor

import "sync/atomic"

// InitialSequenceValue is the value of every Sequence before the first slot
// is claimed or published.
const InitialSequenceValue int64 = -1

// Sequence is a cache-line padded monotonic counter used for all position
// tracking: producer cursors, consumer progress and the work-pool claim counter.
//
// Loads have acquire semantics and stores have release semantics (Go atomics
// are sequentially consistent, which is stronger than both).
type Sequence struct {
	// Padding keeps neighbouring sequences off the same cache line.
	_     [64]byte
	value atomic.Int64
	_     [56]byte
}

// NewSequence returns a Sequence holding InitialSequenceValue.
func NewSequence() *Sequence {
	return NewSequenceAt(InitialSequenceValue)
}

// NewSequenceAt returns a Sequence holding v.
func NewSequenceAt(v int64) *Sequence {
	s := &Sequence{}
	s.value.Store(v)
	return s
}

// Get atomically loads the current value.
func (s *Sequence) Get() int64 {
	return s.value.Load()
}

// Set atomically stores v, publishing every write made before it.
func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

// CompareAndSet sets the value to next if it currently equals expected.
func (s *Sequence) CompareAndSet(expected, next int64) bool {
	return s.value.CompareAndSwap(expected, next)
}

// IncrementAndGet adds one and returns the new value.
func (s *Sequence) IncrementAndGet() int64 {
	return s.value.Add(1)
}

// AddAndGet adds delta and returns the new value.
func (s *Sequence) AddAndGet(delta int64) int64 {
	return s.value.Add(delta)
}

// MinSequence returns the smallest current value among sequences.
//
// An empty set yields 0, not a "no constraint" maximum. A barrier or producer
// gated on an empty set through this function would therefore stop at 0;
// internal gating goes through minSequence with an explicit fallback instead.
func MinSequence(sequences []*Sequence) int64 {
	if len(sequences) == 0 {
		return 0
	}
	return minSequence(sequences, sequences[0].Get())
}

// minSequence returns min(fallback, sequences...).
func minSequence(sequences []*Sequence, fallback int64) int64 {
	m := fallback
	for _, s := range sequences {
		if v := s.Get(); v < m {
			m = v
		}
	}
	return m
}
