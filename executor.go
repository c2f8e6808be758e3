package disruptor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Executor runs each Processor on its own goroutine and joins them on
// shutdown. An Executor is single-use: once shut down it cannot be restarted.
type Executor struct {
	mu         sync.Mutex
	processors []Processor
	wg         sync.WaitGroup
	started    bool
	runID      string
	logger     *slog.Logger
	lockThread bool
}

// NewExecutor honors WithLogger and WithLockOSThread.
func NewExecutor(opts ...Option) *Executor {
	o := applyOptions(opts)
	return &Executor{
		runID:      uuid.Must(uuid.NewV7()).String(),
		logger:     o.logger,
		lockThread: o.lockOSThread,
	}
}

// RunID is the time-sortable id attached to every log line of this executor.
func (e *Executor) RunID() string {
	return e.runID
}

// Start launches one goroutine per processor. It may be called once.
func (e *Executor) Start(processors ...Processor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.processors = append(e.processors, processors...)

	e.logger.Info("executor starting", "run_id", e.runID, "processors", len(processors))
	e.wg.Add(len(processors))
	for _, p := range processors {
		go e.run(p)
	}
	return nil
}

func (e *Executor) run(p Processor) {
	defer e.wg.Done()
	if e.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	started := time.Now()
	e.logger.Debug("processor started", "run_id", e.runID, "processor", p.Name())
	if err := p.Run(); err != nil {
		e.logger.Error("processor failed to start", "run_id", e.runID, "processor", p.Name(), "error", err)
		return
	}
	e.logger.Debug("processor exited",
		"run_id", e.runID,
		"processor", p.Name(),
		"sequence", p.Sequence().Get(),
		"uptime", time.Since(started),
	)
}

// Halt signals every processor to stop without waiting for them.
func (e *Executor) Halt() {
	e.mu.Lock()
	processors := e.processors
	e.mu.Unlock()

	e.logger.Info("executor halting", "run_id", e.runID, "processors", len(processors))
	for _, p := range processors {
		p.Halt()
	}
}

// AwaitShutdown blocks until every started processor loop has returned.
func (e *Executor) AwaitShutdown() {
	e.wg.Wait()
}

// AwaitShutdownContext is AwaitShutdown bounded by ctx. When ctx ends first
// the loops keep running; the error is ctx.Err().
func (e *Executor) AwaitShutdownContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown halts every processor and returns only after all of them exited.
func (e *Executor) Shutdown() {
	e.Halt()
	e.AwaitShutdown()
	e.logger.Info("executor stopped", "run_id", e.runID)
}
