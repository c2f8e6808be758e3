package disruptor

import "sync/atomic"

// SequenceBarrier gates one consumer stage: it reports the highest sequence
// that both the producer cursor and every upstream consumer have passed.
//
// The barrier does not own the sequences it watches. Its alert flag is the
// halt signal of the consumer(s) waiting on it and is shared with them by
// reference.
type SequenceBarrier struct {
	cursor     *Sequence
	dependents []*Sequence
	wait       WaitStrategy
	alert      atomic.Bool
}

func newSequenceBarrier(cursor *Sequence, wait WaitStrategy, dependents []*Sequence) *SequenceBarrier {
	deps := make([]*Sequence, len(dependents))
	copy(deps, dependents)
	return &SequenceBarrier{
		cursor:     cursor,
		dependents: deps,
		wait:       wait,
	}
}

// GetAvailable returns min(cursor, dependents...) as of now. Since every input
// only grows, successive calls never return a smaller value.
func (b *SequenceBarrier) GetAvailable() int64 {
	return minSequence(b.dependents, b.cursor.Get())
}

// WaitFor blocks, as the wait strategy dictates, until GetAvailable() >= seq
// and returns that available sequence. It returns false when the barrier is
// alerted, before or during the wait.
func (b *SequenceBarrier) WaitFor(seq int64) (int64, bool) {
	if b.alert.Load() {
		return InitialSequenceValue, false
	}
	return b.wait.WaitFor(seq, b.cursor, b.dependents, &b.alert)
}

// Cursor returns the producer's highest published sequence.
func (b *SequenceBarrier) Cursor() int64 {
	return b.cursor.Get()
}

// Dependents returns the upstream consumer sequences, without the cursor.
func (b *SequenceBarrier) Dependents() []*Sequence {
	return b.dependents
}

// Alert raises the halt flag and wakes any consumer parked in a blocking wait.
func (b *SequenceBarrier) Alert() {
	b.alert.Store(true)
	b.wait.SignalAllWhenBlocking()
}

// ClearAlert lowers the halt flag.
func (b *SequenceBarrier) ClearAlert() {
	b.alert.Store(false)
}

func (b *SequenceBarrier) IsAlerted() bool {
	return b.alert.Load()
}
