package util

import (
	"sync"
	"time"

	"github.com/mohitkumar/stepflow/logger"
	"go.uber.org/zap"
)

// Worker calls fn in a loop until stopped. fn reports whether it found work;
// when it did not, the worker backs off for idle before polling again.
type Worker struct {
	name    string
	stop    chan struct{}
	wg      *sync.WaitGroup
	fn      func() bool
	idle    time.Duration
	mu      sync.Mutex
	running bool
}

func NewWorker(name string, idle time.Duration, stop chan struct{}, fn func() bool, wg *sync.WaitGroup) *Worker {
	return &Worker{
		name: name,
		stop: stop,
		wg:   wg,
		fn:   fn,
		idle: idle,
	}
}

func (w *Worker) Start() {
	w.setRunning(true)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.setRunning(false)
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			case <-timer.C:
				if w.fn() {
					timer.Reset(0)
				} else {
					timer.Reset(w.idle)
				}
			}
		}
	}()
	logger.Info("worker started", zap.String("worker", w.name))
}

func (w *Worker) Stop() {
	w.stop <- struct{}{}
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) setRunning(running bool) {
	w.mu.Lock()
	w.running = running
	w.mu.Unlock()
}
