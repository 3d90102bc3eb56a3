// Package dispatcher manages worker fan-out over the capture queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/queue"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers []*worker.Worker
	ids     researcher.IDGenerator
}

// New creates a Dispatcher.
func New(q queue.Queue, workers []*worker.Worker, ids researcher.IDGenerator) *Dispatcher {
	return &Dispatcher{queue: q, workers: workers, ids: ids}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues req and waits for its response. The request context bounds both the wait for a
// free slot and the wait for the reply.
func (d *Dispatcher) Submit(ctx context.Context, req pipeline.Request) (pipeline.Response, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return pipeline.Response{}, fmt.Errorf("capture id: %w", err)
	}
	item := queue.NewItem(ctx, id, req)
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return pipeline.Response{}, fmt.Errorf("queue enqueue: %w", err)
	}
	select {
	case resp := <-item.Reply:
		return resp, nil
	case <-ctx.Done():
		return pipeline.Response{}, fmt.Errorf("await capture %s: %w", id, ctx.Err())
	}
}
