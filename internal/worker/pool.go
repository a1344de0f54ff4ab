package worker

import (
	"context"
	"errors"
	"sync"

	"carcare/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrPoolBusy is returned when every worker is busy and the queue is full.
	ErrPoolBusy    = errors.New("worker pool is busy")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Pool runs jobs on a fixed number of workers behind a bounded queue. It caps
// how many external processes (ffmpeg) run at once.
type Pool struct {
	mu      sync.RWMutex
	stopped bool
	jobs    chan Job
	quit    chan struct{}
	workers []*Worker
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
}

func NewPool(workers, queueSize int, logger *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Pool{
		jobs:   make(chan Job, queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.workers = append(p.workers, NewWorker(i, p.jobs, p.quit))
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		w.Start(&p.wg)
	}
	p.logger.Infow("worker pool started", "workers", len(p.workers), "queueSize", cap(p.jobs))
}

// Do queues fn and waits for it to finish. It returns ErrPoolBusy without
// waiting when the queue is full, and ctx.Err() if ctx ends first; fn receives
// the same ctx so it is cancelled too.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job := Job{ctx: ctx, run: fn, done: make(chan error, 1)}

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		metrics.TranscodeQueueDepth.Set(float64(len(p.jobs)))
	default:
		p.mu.RUnlock()
		return ErrPoolBusy
	}
	p.mu.RUnlock()

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for running jobs and fails the queued ones.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	for {
		select {
		case job := <-p.jobs:
			job.done <- ErrPoolStopped
		default:
			metrics.TranscodeQueueDepth.Set(0)
			p.logger.Infow("worker pool stopped")
			return
		}
	}
}
