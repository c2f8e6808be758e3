package disruptor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
)

func TestBarrierGetAvailable(t *testing.T) {
	cursor := NewSequenceAt(10)

	b := newSequenceBarrier(cursor, NewBusySpinWaitStrategy(), nil)
	assert.Equal(t, int64(10), b.GetAvailable(), "no dependents: the cursor alone gates")

	b = newSequenceBarrier(cursor, NewBusySpinWaitStrategy(), []*Sequence{NewSequenceAt(7), NewSequenceAt(3)})
	assert.Equal(t, int64(3), b.GetAvailable())
	assert.Equal(t, int64(10), b.Cursor())
	assert.Len(t, b.Dependents(), 2)
}

func TestBarrierCopiesDependents(t *testing.T) {
	deps := []*Sequence{NewSequenceAt(1)}
	b := newSequenceBarrier(NewSequenceAt(5), NewBusySpinWaitStrategy(), deps)
	deps[0] = NewSequenceAt(4)
	assert.Equal(t, int64(1), b.GetAvailable())
}

func TestBarrierAlert(t *testing.T) {
	b := newSequenceBarrier(NewSequence(), NewBlockingWaitStrategy(), nil)
	b.Alert()
	assert.True(t, b.IsAlerted())

	_, ok := b.WaitFor(0)
	assert.False(t, ok, "an alerted barrier does not wait")

	b.ClearAlert()
	assert.False(t, b.IsAlerted())
}

func TestBarrierAlertWakesBlockedWaiter(t *testing.T) {
	b := newSequenceBarrier(NewSequence(), NewBlockingWaitStrategy(), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := b.WaitFor(0)
		assert.False(t, ok)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Alert()
	awaitClosed(t, done, 100*time.Millisecond, "alert did not wake the waiter")
}

// Sequences advance by random steps on their own goroutines while the barrier
// is polled: the reported value must never exceed any dependency read after
// it, and must never go backwards.
func TestBarrierGatingUnderRandomInterleavings(t *testing.T) {
	cursor := NewSequence()
	deps := []*Sequence{NewSequence(), NewSequence(), NewSequence()}
	all := append([]*Sequence{cursor}, deps...)
	b := newSequenceBarrier(cursor, NewYieldingWaitStrategy(), deps)

	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(len(all))
	for _, s := range all {
		go func(s *Sequence) {
			defer wg.Done()
			for !stop.Load() {
				s.Set(s.Get() + int64(fastrand.Uint32n(3)))
			}
		}(s)
	}

	prev := InitialSequenceValue
	for i := 0; i < 50_000; i++ {
		avail := b.GetAvailable()
		for _, s := range all {
			if v := s.Get(); avail > v {
				stop.Store(true)
				wg.Wait()
				require.Failf(t, "gate exceeded dependency", "available %d > dependency %d", avail, v)
			}
		}
		if avail < prev {
			stop.Store(true)
			wg.Wait()
			require.Failf(t, "gate regressed", "available %d after %d", avail, prev)
		}
		prev = avail
	}

	stop.Store(true)
	wg.Wait()
}
