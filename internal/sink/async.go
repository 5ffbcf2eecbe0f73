package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"flockwatch/internal/model"
)

// Async moves writes off the caller's goroutine. Detections are queued on a
// bounded channel and dropped with a warning when it is full; each write to
// the wrapped sink runs under its own timeout.
type Async struct {
	next    Sink
	name    string
	logger  *slog.Logger
	timeout time.Duration
	queue   chan model.Detection
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

func NewAsync(name string, next Sink, buffer int, timeout time.Duration, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:    next,
		name:    name,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan model.Detection, buffer),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Write enqueues det. It never blocks and never fails; drops are logged.
func (a *Async) Write(_ context.Context, det model.Detection) error {
	select {
	case a.queue <- det:
	default:
		a.dropped.Add(1)
		if a.logger != nil {
			a.logger.Warn("sink queue full, dropping detection", "sink", a.name, "id", det.ID)
		}
	}
	return nil
}

func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer a.wg.Done()
	for det := range a.queue {
		ctx := context.Background()
		var cancel context.CancelFunc
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Write(ctx, det); err != nil && a.logger != nil {
			a.logger.Error("sink write failed", "sink", a.name, "id", det.ID, "err", err)
		}
		if cancel != nil {
			cancel()
		}
	}
}

// Close flushes queued detections, then closes the wrapped sink. Write must
// not be called after Close.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
	return a.next.Close()
}
