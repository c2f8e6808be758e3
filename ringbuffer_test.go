package disruptor

import (
	"errors"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingBufferCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, 3, 6, 1000} {
		r, err := NewRingBuffer[testEvent](capacity)
		require.Error(t, err, "capacity %d", capacity)
		assert.True(t, errors.Is(err, ErrInvalidCapacity))
		assert.Nil(t, r)
	}

	for _, capacity := range []int{1, 2, 1024} {
		r, err := NewRingBuffer[testEvent](capacity)
		require.NoError(t, err, "capacity %d", capacity)
		assert.Equal(t, int64(capacity), r.Capacity())
		assert.Equal(t, InitialSequenceValue, r.Cursor())
		assert.Equal(t, SingleProducer, r.ProducerMode())
		assert.IsType(t, &BlockingWaitStrategy{}, r.WaitStrategy())
	}

	_, err := NewRingBuffer[testEvent](8, WithProducerMode(ProducerMode(7)))
	assert.True(t, errors.Is(err, ErrUnknownProducerMode))
}

func TestRingBufferSlotIndexing(t *testing.T) {
	r, err := NewRingBuffer[testEvent](4)
	require.NoError(t, err)

	assert.Same(t, r.Get(0), r.Get(4), "the same slot is reused every lap")
	assert.Same(t, r.Get(3), r.Get(7))
	assert.NotSame(t, r.Get(0), r.Get(1))
}

func TestRingBufferPublishWithoutConsumers(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			r, err := NewRingBuffer[testEvent](4, WithProducerMode(mode))
			require.NoError(t, err)

			for i := int64(0); i < 100; i++ {
				r.PublishEvent(func(e *testEvent, seq int64) {
					assert.Equal(t, i, seq)
					e.Value = seq
				})
			}
			assert.Equal(t, int64(99), r.Cursor())
			assert.True(t, r.IsPublished(99))
			assert.False(t, r.IsPublished(100))
			assert.Equal(t, uint64(100), r.Stats().Published)
		})
	}
}

func TestRingBufferBatchClaim(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			r, err := NewRingBuffer[testEvent](8, WithProducerMode(mode))
			require.NoError(t, err)

			hi := r.NextN(3)
			assert.Equal(t, int64(2), hi)
			assert.Equal(t, InitialSequenceValue, r.Cursor(), "claiming does not publish")
			r.PublishRange(0, hi)
			assert.Equal(t, int64(2), r.Cursor())

			r.PublishEvents(4, func(e *testEvent, seq int64) { e.Value = seq * 10 })
			assert.Equal(t, int64(6), r.Cursor())
			for seq := int64(3); seq <= 6; seq++ {
				assert.Equal(t, seq*10, r.Get(seq).Value)
			}

			assert.Panics(t, func() { r.NextN(0) })
			assert.Panics(t, func() { r.NextN(9) })
			_, err = r.TryNextN(9)
			assert.True(t, errors.Is(err, ErrInvalidClaim))
		})
	}
}

func TestRingBufferTryNextWhenFull(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			r, err := NewRingBuffer[testEvent](4, WithProducerMode(mode))
			require.NoError(t, err)
			consumer := NewSequence()
			r.AddGatingSequences(consumer)

			for i := 0; i < 4; i++ {
				require.NoError(t, r.TryPublishEvent(func(e *testEvent, seq int64) { e.Value = seq }))
			}
			assert.Equal(t, int64(0), r.RemainingCapacity())

			err = r.TryPublishEvent(func(e *testEvent, seq int64) { e.Value = -1 })
			require.True(t, errors.Is(err, ErrInsufficientCapacity))
			assert.Equal(t, int64(0), r.Get(0).Value, "a rejected claim never touches the slot")

			consumer.Set(1)
			assert.Equal(t, int64(2), r.RemainingCapacity())
			seq, err := r.TryNext()
			require.NoError(t, err)
			assert.Equal(t, int64(4), seq)
			r.Publish(seq)

			stats := r.Stats()
			assert.Equal(t, uint64(1), stats.FullRejections)
			assert.Equal(t, uint64(5), stats.Claims)
			assert.Equal(t, uint64(5), stats.Published)
		})
	}
}

// With capacity 4 and no consumer progress, the fifth claim must wait rather
// than overwrite slot 0.
func TestRingBufferWrapAroundBlocks(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			r, err := NewRingBuffer[testEvent](4, WithProducerMode(mode))
			require.NoError(t, err)
			consumer := NewSequence()
			r.AddGatingSequences(consumer)

			for i := 0; i < 4; i++ {
				r.PublishEvent(func(e *testEvent, seq int64) { e.Value = seq + 100 })
			}

			claimed := make(chan int64, 1)
			go func() {
				claimed <- r.Next()
			}()

			select {
			case seq := <-claimed:
				require.Failf(t, "claim did not wait", "got sequence %d", seq)
			case <-time.After(50 * time.Millisecond):
			}
			assert.Equal(t, int64(100), r.Get(0).Value, "slot 0 must not be overwritten")
			assert.Equal(t, int64(3), r.Cursor())

			consumer.Set(0)
			select {
			case seq := <-claimed:
				assert.Equal(t, int64(4), seq)
			case <-time.After(time.Second):
				require.FailNow(t, "claim did not resume after the consumer advanced")
			}
			assert.GreaterOrEqual(t, r.Stats().CapacityWaits, uint64(1))
		})
	}
}

func TestRingBufferGatingSequences(t *testing.T) {
	r, err := NewRingBuffer[testEvent](8)
	require.NoError(t, err)
	a, b := NewSequenceAt(3), NewSequenceAt(1)

	r.PublishEvents(5, func(*testEvent, int64) {})
	assert.Equal(t, int64(4), r.MinimumGatingSequence(), "no gating sequences: the cursor")

	r.AddGatingSequences(a, b)
	assert.Equal(t, int64(1), r.MinimumGatingSequence())

	assert.True(t, r.RemoveGatingSequence(b))
	assert.False(t, r.RemoveGatingSequence(b))
	assert.Equal(t, int64(3), r.MinimumGatingSequence())
}

// N producers each claim M sequences concurrently: the union of the claims is
// exactly 0..N*M-1 with no duplicates.
func TestRingBufferMultiProducerClaimsAreUnique(t *testing.T) {
	const (
		producers   = 8
		perProducer = 10_000
	)
	r, err := NewRingBuffer[testEvent](1<<10, WithProducerMode(MultiProducer))
	require.NoError(t, err)

	claims := make([][]int64, producers)
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			mine := make([]int64, 0, perProducer)
			for i := 0; i < perProducer; i++ {
				seq := r.Next()
				r.Get(seq).Producer = p
				r.Publish(seq)
				mine = append(mine, seq)
			}
			claims[p] = mine
		}(p)
	}
	wg.Wait()

	var all []int64
	for _, c := range claims {
		all = append(all, c...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	require.Len(t, all, producers*perProducer)
	for i, seq := range all {
		require.Equal(t, int64(i), seq, "gap or duplicate at %d", i)
	}
	assert.Equal(t, int64(producers*perProducer-1), r.Cursor())
	assert.Equal(t, uint64(producers*perProducer), r.Stats().Published)
}

// Publications completing out of order only move the cursor over a
// contiguous prefix.
func TestMultiProducerCursorWaitsForGaps(t *testing.T) {
	r, err := NewRingBuffer[testEvent](8, WithProducerMode(MultiProducer))
	require.NoError(t, err)

	s0, s1, s2 := r.Next(), r.Next(), r.Next()
	r.Publish(s2)
	r.Publish(s1)
	assert.Equal(t, InitialSequenceValue, r.Cursor())

	r.Publish(s0)
	assert.Equal(t, int64(2), r.Cursor())
}

func TestRingBufferSingleProducerFIFO(t *testing.T) {
	const (
		capacity = 8
		N        = 10_000
	)
	r, err := NewRingBuffer[testEvent](capacity, WithWaitStrategy(NewYieldingWaitStrategy()))
	require.NoError(t, err)

	got := make([]int64, 0, N)
	c := NewConsumer("fifo", r, r.NewBarrier(), HandlerFunc[testEvent](func(e *testEvent, seq int64, _ bool) {
		if e.Value != seq*7 {
			t.Errorf("slot %d holds %d", seq, e.Value)
		}
		got = append(got, seq)
	}))
	r.AddGatingSequences(c.Sequence())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run()
	}()

	for i := 0; i < N; i++ {
		r.PublishEvent(func(e *testEvent, seq int64) { e.Value = seq * 7 })
	}
	require.Eventually(t, func() bool { return c.Sequence().Get() == N-1 }, 5*time.Second, time.Millisecond)
	c.Halt()
	awaitClosed(t, done, time.Second, "consumer did not exit")

	require.Len(t, got, N)
	for i, seq := range got {
		require.Equal(t, int64(i), seq)
	}
}

// Benchmark: single producer, single consumer.
func BenchmarkRingBuffer_1P1C(b *testing.B) {
	const capacity = 1 << 16
	r, _ := NewRingBuffer[testEvent](capacity, WithWaitStrategy(NewYieldingWaitStrategy()))
	c := NewConsumer("bench", r, r.NewBarrier(), HandlerFunc[testEvent](func(*testEvent, int64, bool) {}))
	r.AddGatingSequences(c.Sequence())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run()
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		seq := r.Next()
		r.Get(seq).Value = int64(i)
		r.Publish(seq)
	}
	for c.Sequence().Get() < int64(b.N-1) {
		runtime.Gosched()
	}
	b.StopTimer()
	c.Halt()
	<-done
}

// Benchmark: many producers, one consumer.
func BenchmarkRingBuffer_MP(b *testing.B) {
	const capacity = 1 << 16
	r, _ := NewRingBuffer[testEvent](capacity,
		WithWaitStrategy(NewYieldingWaitStrategy()),
		WithProducerMode(MultiProducer),
	)
	c := NewConsumer("bench", r, r.NewBarrier(), HandlerFunc[testEvent](func(*testEvent, int64, bool) {}))
	r.AddGatingSequences(c.Sequence())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run()
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			seq := r.Next()
			r.Get(seq).Value = seq
			r.Publish(seq)
		}
	})
	for c.Sequence().Get() < r.Cursor() {
		runtime.Gosched()
	}
	b.StopTimer()
	c.Halt()
	<-done
}
