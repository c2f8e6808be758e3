package disruptor

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Value    int64
	Producer int
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var strategies = []struct {
	name string
	new  func() WaitStrategy
}{
	{BusySpin, func() WaitStrategy { return NewBusySpinWaitStrategy() }},
	{Yielding, func() WaitStrategy { return NewYieldingWaitStrategy() }},
	{Sleeping, func() WaitStrategy { return NewSleepingWaitStrategy() }},
	{Blocking, func() WaitStrategy { return NewBlockingWaitStrategy() }},
}

var modes = []ProducerMode{SingleProducer, MultiProducer}

// awaitClosed fails the test if ch is not closed within d.
func awaitClosed(t *testing.T, ch <-chan struct{}, d time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		require.FailNow(t, msg)
	}
}
