package worker

import (
	"context"
	"sync"

	"carcare/internal/metrics"
)

// Job is one unit of work submitted through Pool.Do.
type Job struct {
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

type Worker struct {
	id         int
	jobChannel <-chan Job
	quit       <-chan struct{}
}

func NewWorker(id int, jobs <-chan Job, quit <-chan struct{}) *Worker {
	return &Worker{id: id, jobChannel: jobs, quit: quit}
}

func (w *Worker) Start(wg *sync.WaitGroup) {
	go func() {
		defer wg.Done()
		for {
			select {
			case job := <-w.jobChannel:
				metrics.TranscodeQueueDepth.Set(float64(len(w.jobChannel)))
				// the caller may have given up while the job was queued
				if err := job.ctx.Err(); err != nil {
					job.done <- err
					continue
				}
				job.done <- job.run(job.ctx)
			case <-w.quit:
				return
			}
		}
	}()
}
