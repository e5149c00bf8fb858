// Package concurrent provides a small bounded worker pool for fanning out
// independent network calls (the coordinator's position forwards) without
// spawning one goroutine per peer on every round.
package concurrent

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/replsetd/replsetd/pkg/rlog"
)

// Job is a unit of work submitted to a Pool. It receives no context of its
// own — callers that need cancellation should close over a context.Context.
type Job func()

// Pool runs submitted Jobs across a fixed number of worker goroutines, the
// same stopCh-driven run-loop shape the node's other background loops use.
type Pool struct {
	jobs   chan Job
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New starts a Pool with n workers. n < 1 is treated as 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		jobs:   make(chan Job, n*4),
		stopCh: make(chan struct{}),
		logger: rlog.WithComponent("pool"),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.safeRun(job)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) safeRun(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("worker pool job panicked")
		}
	}()
	job()
}

// Submit enqueues job, blocking if the pool's backlog is full. It is a
// no-op once the pool has been stopped.
func (p *Pool) Submit(job Job) {
	select {
	case p.jobs <- job:
	case <-p.stopCh:
	}
}

// TrySubmit enqueues job without blocking, reporting whether it was
// accepted — used by callers that would rather skip a round than queue up
// behind a slow peer.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop signals every worker to exit and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}
