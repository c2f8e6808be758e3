package disruptor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fastrand"
)

// WaitStrategy decides how a consumer waits for a sequence to become available.
//
// WaitFor returns the highest available sequence, min(cursor, dependents...),
// once it is >= sequence. It returns false as soon as halt is observed; no
// strategy keeps waiting past a halt. The returned sequence may exceed the one
// asked for, which is what lets consumers process batches.
//
// SignalAllWhenBlocking wakes waiters parked by a blocking strategy. Producers
// call it after every publish and barriers call it when alerted.
type WaitStrategy interface {
	WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, halt *atomic.Bool) (int64, bool)
	SignalAllWhenBlocking()
}

// Wait strategy names recognized by ParseWaitStrategy and the YAML config.
const (
	BusySpin = "busy-spin"
	Yielding = "yielding"
	Sleeping = "sleeping"
	Blocking = "blocking"
)

// ParseWaitStrategy returns a fresh strategy for one of the names above.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch name {
	case BusySpin:
		return NewBusySpinWaitStrategy(), nil
	case Yielding:
		return NewYieldingWaitStrategy(), nil
	case Sleeping:
		return NewSleepingWaitStrategy(), nil
	case Blocking:
		return NewBlockingWaitStrategy(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownWaitStrategy, name)
}

func available(cursor *Sequence, dependents []*Sequence) int64 {
	return minSequence(dependents, cursor.Get())
}

// BusySpinWaitStrategy re-checks in a tight loop. Lowest latency, burns a full core
// per waiting consumer.
type BusySpinWaitStrategy struct{}

func NewBusySpinWaitStrategy() *BusySpinWaitStrategy {
	return &BusySpinWaitStrategy{}
}

func (w *BusySpinWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, halt *atomic.Bool) (int64, bool) {
	for {
		if halt.Load() {
			return InitialSequenceValue, false
		}
		if a := available(cursor, dependents); a >= sequence {
			return a, true
		}
	}
}

func (w *BusySpinWaitStrategy) SignalAllWhenBlocking() {}

const defaultSpinTries = 100

// YieldingWaitStrategy spins for a while, then yields the processor on every
// further miss.
type YieldingWaitStrategy struct {
	spinTries int
}

func NewYieldingWaitStrategy() *YieldingWaitStrategy {
	return &YieldingWaitStrategy{spinTries: defaultSpinTries}
}

func (w *YieldingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, halt *atomic.Bool) (int64, bool) {
	counter := w.spinTries
	for {
		if halt.Load() {
			return InitialSequenceValue, false
		}
		if a := available(cursor, dependents); a >= sequence {
			return a, true
		}
		if counter == 0 {
			runtime.Gosched()
		} else {
			counter--
		}
	}
}

func (w *YieldingWaitStrategy) SignalAllWhenBlocking() {}

// SleepingWaitStrategy spins, then yields, then sleeps with an exponentially
// growing, jittered backoff capped at maxSleep. The cap bounds how long a halt
// can go unnoticed.
type SleepingWaitStrategy struct {
	retries  int
	minSleep time.Duration
	maxSleep time.Duration
}

func NewSleepingWaitStrategy() *SleepingWaitStrategy {
	return NewSleepingWaitStrategyWith(2*defaultSpinTries, 10*time.Microsecond, time.Millisecond)
}

// NewSleepingWaitStrategyWith sets the spin/yield retry budget and the sleep
// bounds. retries are split evenly between spinning and yielding.
func NewSleepingWaitStrategyWith(retries int, minSleep, maxSleep time.Duration) *SleepingWaitStrategy {
	if minSleep <= 0 {
		minSleep = time.Microsecond
	}
	if maxSleep < minSleep {
		maxSleep = minSleep
	}
	return &SleepingWaitStrategy{retries: retries, minSleep: minSleep, maxSleep: maxSleep}
}

func (w *SleepingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, halt *atomic.Bool) (int64, bool) {
	counter := w.retries
	sleep := w.minSleep
	for {
		if halt.Load() {
			return InitialSequenceValue, false
		}
		if a := available(cursor, dependents); a >= sequence {
			return a, true
		}
		switch {
		case counter > w.retries/2:
			counter--
		case counter > 0:
			counter--
			runtime.Gosched()
		default:
			time.Sleep(sleep + jitter(sleep))
			if sleep < w.maxSleep {
				sleep = min(sleep*2, w.maxSleep)
			}
		}
	}
}

func (w *SleepingWaitStrategy) SignalAllWhenBlocking() {}

// jitter returns a random duration in [0, d/4) so sleeping consumers of the
// same producer do not wake in lockstep.
func jitter(d time.Duration) time.Duration {
	q := uint32(d / 4)
	if q == 0 {
		return 0
	}
	return time.Duration(fastrand.Uint32n(q))
}

// BlockingWaitStrategy parks consumers on a condition variable until the
// producer cursor reaches the requested sequence. Once the cursor is there it
// yields while upstream consumers catch up, since those do not signal.
type BlockingWaitStrategy struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiters atomic.Int32
}

func NewBlockingWaitStrategy() *BlockingWaitStrategy {
	w := &BlockingWaitStrategy{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *BlockingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, halt *atomic.Bool) (int64, bool) {
	if cursor.Get() < sequence {
		w.mu.Lock()
		w.waiters.Add(1)
		for cursor.Get() < sequence {
			if halt.Load() {
				w.waiters.Add(-1)
				w.mu.Unlock()
				return InitialSequenceValue, false
			}
			w.cond.Wait()
		}
		w.waiters.Add(-1)
		w.mu.Unlock()
	}

	for {
		if halt.Load() {
			return InitialSequenceValue, false
		}
		if a := available(cursor, dependents); a >= sequence {
			return a, true
		}
		runtime.Gosched()
	}
}

// SignalAllWhenBlocking must be called after the cursor or halt flag changed.
// The waiter count is bumped before a waiter re-reads the cursor, so a signal
// skipped because no one was waiting can never strand a waiter.
func (w *BlockingWaitStrategy) SignalAllWhenBlocking() {
	if w.waiters.Load() == 0 {
		return
	}
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}
