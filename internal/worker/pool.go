package worker

import (
	"context"
	"sort"
	"sync"
)

// Job is one unit of batch work
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a Job produces
type Result interface {
	Err() error
}

type queued struct {
	index int
	job   Job
}

type finished struct {
	index  int
	result Result
}

// Pool runs jobs on a fixed number of goroutines and returns results in
// submission order. Submit must be called from a single goroutine.
type Pool struct {
	workers   int
	queue     chan queued
	results   chan finished
	submitted int
	collected []finished
	drained   chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPool creates a pool bound to ctx. Cancelling ctx stops the workers.
func NewPool(ctx context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:   workers,
		queue:     make(chan queued, workers*2),
		results:   make(chan finished, workers*2),
		drained:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go p.collect()
	return p
}

// collect drains results while jobs are still being submitted
func (p *Pool) collect() {
	defer close(p.drained)
	for f := range p.results {
		p.collected = append(p.collected, f)
	}
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case q, ok := <-p.queue:
			if !ok {
				return
			}
			out := finished{index: q.index, result: q.job.Execute(p.ctx)}
			select {
			case p.results <- out:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job. It returns false once the pool is stopped.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- queued{index: p.submitted, job: job}:
		p.submitted++
		return true
	}
}

// Wait closes the queue and returns the results of all jobs that ran,
// ordered by submission
func (p *Pool) Wait() []Result {
	close(p.queue)
	p.wg.Wait()
	p.closeResults()
	<-p.drained

	sort.Slice(p.collected, func(i, j int) bool {
		return p.collected[i].index < p.collected[j].index
	})
	out := make([]Result, 0, len(p.collected))
	for _, f := range p.collected {
		out = append(out, f.result)
	}
	return out
}

// Shutdown stops the workers without draining the queue
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
