package disruptor

import (
	"runtime"
	"sync/atomic"
)

const goschedEvery = 64 // reduce runtime.Gosched() frequency in capacity waits

// sequencer hands out sequences to producers and moves the cursor on publish.
// The ring buffer holds exactly one, chosen by ProducerMode.
type sequencer interface {
	// next claims n sequences and returns the highest, waiting for consumers
	// to free the slots.
	next(n int64) int64
	// tryNext claims n sequences or fails with ErrInsufficientCapacity.
	tryNext(n int64) (int64, error)
	publish(lo, hi int64)
	// claimed is the highest sequence handed out so far.
	claimed() int64
}

// gating is the state both sequencers share: the cursor they advance, the
// consumer sequences they must not lap, and counters.
type gating struct {
	capacity  int64
	cursor    *Sequence
	sequences atomic.Pointer[[]*Sequence]
	wait      WaitStrategy
	stats     *ringStats
}

func (g *gating) gatingSequences() []*Sequence {
	if p := g.sequences.Load(); p != nil {
		return *p
	}
	return nil
}

// minGating returns min(fallback, gating sequences...). The single producer
// passes its own last claim, so without consumers it never waits; the multi
// producer passes the cursor, so no producer can lap a slot another producer
// claimed but has not published yet.
func (g *gating) minGating(fallback int64) int64 {
	return minSequence(g.gatingSequences(), fallback)
}

func (g *gating) add(seqs ...*Sequence) {
	for {
		old := g.sequences.Load()
		var cur []*Sequence
		if old != nil {
			cur = *old
		}
		next := make([]*Sequence, 0, len(cur)+len(seqs))
		next = append(next, cur...)
		next = append(next, seqs...)
		if g.sequences.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (g *gating) remove(seq *Sequence) bool {
	for {
		old := g.sequences.Load()
		if old == nil {
			return false
		}
		next := make([]*Sequence, 0, len(*old))
		for _, s := range *old {
			if s != seq {
				next = append(next, s)
			}
		}
		if len(next) == len(*old) {
			return false
		}
		if g.sequences.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// backoff is the producer-side capacity wait: spin, yielding every goschedEvery misses.
func backoff(spins *uint32) {
	*spins++
	if *spins%goschedEvery == 0 {
		runtime.Gosched()
	}
}

// singleProducerSequencer must only be used from one goroutine. Claims are
// plain arithmetic; only the published cursor is shared.
type singleProducerSequencer struct {
	gating
	_         [64]byte
	nextValue int64 // last claimed, producer goroutine only
	cached    int64 // last observed min gating sequence
	_         [48]byte
	// mirror of nextValue for readers on other goroutines
	claimedValue atomic.Int64
}

func newSingleProducerSequencer(capacity int64, cursor *Sequence, wait WaitStrategy, stats *ringStats) *singleProducerSequencer {
	s := &singleProducerSequencer{
		gating:    gating{capacity: capacity, cursor: cursor, wait: wait, stats: stats},
		nextValue: InitialSequenceValue,
		cached:    InitialSequenceValue,
	}
	s.claimedValue.Store(InitialSequenceValue)
	return s
}

func (s *singleProducerSequencer) next(n int64) int64 {
	s.stats.claims.Add(1)
	nextSeq := s.nextValue + n
	wrapPoint := nextSeq - s.capacity

	if wrapPoint > s.cached {
		var spins uint32
		minSeq := s.minGating(s.nextValue)
		if wrapPoint > minSeq {
			s.stats.capacityWaits.Add(1)
			for wrapPoint > minSeq {
				backoff(&spins)
				minSeq = s.minGating(s.nextValue)
			}
		}
		s.cached = minSeq
	}

	s.nextValue = nextSeq
	s.claimedValue.Store(nextSeq)
	return nextSeq
}

func (s *singleProducerSequencer) tryNext(n int64) (int64, error) {
	nextSeq := s.nextValue + n
	wrapPoint := nextSeq - s.capacity
	if wrapPoint > s.cached {
		minSeq := s.minGating(s.nextValue)
		if wrapPoint > minSeq {
			s.stats.fullRejections.Add(1)
			return InitialSequenceValue, ErrInsufficientCapacity
		}
		s.cached = minSeq
	}
	s.stats.claims.Add(1)
	s.nextValue = nextSeq
	s.claimedValue.Store(nextSeq)
	return nextSeq, nil
}

func (s *singleProducerSequencer) publish(lo, hi int64) {
	s.cursor.Set(hi)
	s.stats.published.Add(uint64(hi - lo + 1))
	s.wait.SignalAllWhenBlocking()
}

func (s *singleProducerSequencer) claimed() int64 {
	return s.claimedValue.Load()
}

// multiProducerSequencer lets any number of goroutines claim concurrently by
// CAS on a shared counter. Publication can complete out of order, so each
// slot records the lap of the last sequence published into it and the cursor
// only moves across a contiguous run of published sequences.
type multiProducerSequencer struct {
	gating
	claimSeq   *Sequence // highest claimed sequence
	cached     *Sequence // last observed min gating sequence
	available  []atomic.Int64
	indexMask  int64
	indexShift uint
}

func newMultiProducerSequencer(capacity int64, cursor *Sequence, wait WaitStrategy, stats *ringStats) *multiProducerSequencer {
	s := &multiProducerSequencer{
		gating:     gating{capacity: capacity, cursor: cursor, wait: wait, stats: stats},
		claimSeq:   NewSequence(),
		cached:     NewSequence(),
		available:  make([]atomic.Int64, capacity),
		indexMask:  capacity - 1,
		indexShift: log2(capacity),
	}
	for i := range s.available {
		s.available[i].Store(-1)
	}
	return s
}

func (s *multiProducerSequencer) next(n int64) int64 {
	s.stats.claims.Add(1)
	var spins uint32
	waiting := false
	for {
		current := s.claimSeq.Get()
		nextSeq := current + n
		wrapPoint := nextSeq - s.capacity

		if cached := s.cached.Get(); wrapPoint > cached {
			minSeq := s.minGating(s.cursor.Get())
			if wrapPoint > minSeq {
				if !waiting {
					waiting = true
					s.stats.capacityWaits.Add(1)
				}
				backoff(&spins)
				continue
			}
			s.cached.Set(minSeq)
			continue
		}

		if s.claimSeq.CompareAndSet(current, nextSeq) {
			return nextSeq
		}
		// another producer won this sequence, retry
		s.stats.claimRetries.Add(1)
		backoff(&spins)
	}
}

func (s *multiProducerSequencer) tryNext(n int64) (int64, error) {
	for {
		current := s.claimSeq.Get()
		nextSeq := current + n
		wrapPoint := nextSeq - s.capacity

		if cached := s.cached.Get(); wrapPoint > cached {
			minSeq := s.minGating(s.cursor.Get())
			if wrapPoint > minSeq {
				s.stats.fullRejections.Add(1)
				return InitialSequenceValue, ErrInsufficientCapacity
			}
			s.cached.Set(minSeq)
		}

		if s.claimSeq.CompareAndSet(current, nextSeq) {
			s.stats.claims.Add(1)
			return nextSeq, nil
		}
		s.stats.claimRetries.Add(1)
	}
}

func (s *multiProducerSequencer) publish(lo, hi int64) {
	for seq := lo; seq <= hi; seq++ {
		s.available[seq&s.indexMask].Store(seq >> s.indexShift)
	}
	s.advanceCursor()
	s.stats.published.Add(uint64(hi - lo + 1))
	s.wait.SignalAllWhenBlocking()
}

// advanceCursor moves the cursor to the end of the contiguous published run
// following it. Any publisher may do the work; the one whose flags close a
// gap carries the cursor across everything published behind it.
func (s *multiProducerSequencer) advanceCursor() {
	for {
		cur := s.cursor.Get()
		high := cur
		for s.isPublished(high + 1) {
			high++
		}
		if high == cur {
			return
		}
		s.cursor.CompareAndSet(cur, high)
	}
}

func (s *multiProducerSequencer) isPublished(seq int64) bool {
	return s.available[seq&s.indexMask].Load() == seq>>s.indexShift
}

func (s *multiProducerSequencer) claimed() int64 {
	return s.claimSeq.Get()
}

func log2(n int64) uint {
	var r uint
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
