package simulation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/monitor"
)

// Pool runs engine invocations on a fixed set of worker goroutines so that
// slow engines never tie up more than Workers slots.
type Pool struct {
	workers int
	tasks   chan poolTask
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	active  atomic.Int64
	waiting atomic.Int64
	metrics *monitor.Metrics
}

type poolTask struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// NewPool starts workers goroutines. metrics may be nil.
func NewPool(workers int, metrics *monitor.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		workers: workers,
		tasks:   make(chan poolTask),
		done:    make(chan struct{}),
		metrics: metrics,
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}

	log.Info().Int("workers", workers).Msg("worker pool started")
	return p
}

// Submit runs fn on a worker and blocks until it returns. If ctx ends before
// a worker picks the task up, Submit returns ctx.Err() and fn never runs.
// Once a worker has the task, Submit always waits for fn to finish; fn is
// expected to honour its context.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}

	t := poolTask{ctx: ctx, fn: fn, result: make(chan error, 1)}

	p.setWaiting(1)
	select {
	case p.tasks <- t:
		p.setWaiting(-1)
	case <-ctx.Done():
		p.setWaiting(-1)
		return ctx.Err()
	case <-p.done:
		p.setWaiting(-1)
		return ErrPoolClosed
	}

	return <-t.result
}

// Stop refuses new work and waits for running tasks, or for ctx to end.
func (p *Pool) Stop(ctx context.Context) error {
	p.once.Do(func() { close(p.done) })

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info().Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping worker pool: %w", ctx.Err())
	}
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// ActiveCount returns the number of tasks currently executing.
func (p *Pool) ActiveCount() int64 { return p.active.Load() }

// WaitingCount returns the number of callers blocked waiting for a worker.
func (p *Pool) WaitingCount() int64 { return p.waiting.Load() }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case t := <-p.tasks:
			t.result <- p.run(t)
		}
	}
}

func (p *Pool) run(t poolTask) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("panic in pool task")
			err = fmt.Errorf("pool task panicked: %v", r)
		}
	}()

	return t.fn(t.ctx)
}

func (p *Pool) setWaiting(delta int64) {
	n := p.waiting.Add(delta)
	if p.metrics != nil {
		p.metrics.PoolWaiting.Set(float64(n))
	}
}
