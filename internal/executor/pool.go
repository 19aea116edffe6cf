// Package executor runs blocking probe calls on a bounded worker pool and
// hands each result back through a per-submission outcome channel.
package executor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Outcome is the tagged completion of one probe execution. Exactly one of
// Payload or Err is set.
type Outcome struct {
	Payload map[string]any
	Err     error
}

// Handle tracks one submitted probe. Its channel delivers exactly one
// outcome and is then closed, so duplicate delivery is structurally
// impossible. The channel is buffered: an outcome produced before the
// consumer attaches waits there instead of firing synchronously in the
// submitter.
type Handle struct {
	outcome chan Outcome
}

// Done returns the channel carrying the single outcome.
func (h *Handle) Done() <-chan Outcome {
	return h.outcome
}

// Task is a blocking probe invocation.
type Task func(ctx context.Context) (map[string]any, error)

type submission struct {
	task   Task
	handle *Handle
}

// Pool is a bounded worker pool. It is process-wide state: sized once at
// startup, injected where needed, and never torn down mid-process except in
// tests.
type Pool struct {
	queue  chan submission
	logger *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewPool starts a pool with the given number of workers.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		queue:  make(chan submission),
		logger: logger,
		done:   make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task and returns its handle immediately; it never blocks
// the submitter even when every worker is busy. The task's error or panic is
// captured into the outcome, never propagated to the caller.
func (p *Pool) Submit(ctx context.Context, task Task) *Handle {
	h := &Handle{outcome: make(chan Outcome, 1)}
	go func() {
		select {
		case p.queue <- submission{task: task, handle: h}:
		case <-p.done:
			h.outcome <- Outcome{Err: context.Canceled}
			close(h.outcome)
		case <-ctx.Done():
			h.outcome <- Outcome{Err: ctx.Err()}
			close(h.outcome)
		}
	}()
	return h
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case sub := <-p.queue:
			p.run(idx, sub)
		}
	}
}

func (p *Pool) run(idx int, sub submission) {
	defer close(sub.handle.outcome)

	var (
		payload map[string]any
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("probe panic: %v", r)
				p.logger.Error("probe panicked",
					zap.Int("worker", idx),
					zap.Any("panic", r),
				)
			}
		}()
		payload, err = sub.task(context.Background())
	}()

	if err != nil {
		sub.handle.outcome <- Outcome{Err: err}
		return
	}
	sub.handle.outcome <- Outcome{Payload: payload}
}
