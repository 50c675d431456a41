package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradeflow/logger"
)

// PassFunc performs one synchronization pass.
type PassFunc func(ctx context.Context) error

// ErrSink receives pass-level errors. Errors never reach the worker's own
// control flow; a failed pass must not kill the loop.
type ErrSink func(worker string, err error)

// Worker runs a named pass on a fixed interval until stopped. The first pass
// runs immediately on start. Passes are not interruptible; cancellation is
// honored at loop top and during the inter-pass wait, so the worker exits
// within one interval of being stopped.
type Worker struct {
	name     string
	interval time.Duration
	pass     PassFunc
	errSink  ErrSink
	log      *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker builds a Worker. A nil errSink leaves errors log-only.
func NewWorker(name string, interval time.Duration, pass PassFunc, errSink ErrSink, log *logger.Log) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		pass:     pass,
		errSink:  errSink,
		log:      log,
	}
}

// Start launches the loop. Starting a running worker is an error.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker %s is already running", w.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.run(runCtx)

	w.log.WithComponent(w.name).WithFields(logger.Fields{
		"interval": w.interval.String(),
	}).Info("snapshot worker started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.log.WithComponent(w.name).Info("snapshot worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := w.pass(ctx); err != nil {
			w.log.WithComponent(w.name).WithError(err).Error("snapshot pass failed")
			if w.errSink != nil {
				w.errSink(w.name, err)
			}
		} else {
			logger.IncrementSnapshotPass()
			w.log.WithComponent(w.name).WithFields(logger.Fields{
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("snapshot pass completed")
		}

		timer.Reset(w.interval)
	}
}
