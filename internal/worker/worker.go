// Package worker runs capture requests taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/logging"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/queue"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
)

// Runner executes one capture.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Response
}

// Worker consumes queue items sequentially.
type Worker struct {
	id     int
	queue  queue.Queue
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, q queue.Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{id: id, queue: q, runner: runner, logger: logger.With(zap.Int("worker", id))}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(item)
	}
}

func (w *Worker) process(item queue.Item) {
	log := logging.ForCapture(w.logger, item.ID, string(item.Request.Platform))
	ctx := item.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		log.Info("capture abandoned before start", zap.Error(err))
		item.Reply <- abandoned(item.Request, err)
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	resp := w.run(ctx, item, log)
	log.Info("capture finished",
		zap.Bool("success", resp.Success),
		zap.Int("publications", resp.TotalResults),
		zap.Float64("execution_seconds", resp.ExecutionTime))
	item.Reply <- resp
}

// run shields the worker from a panicking extractor.
func (w *Worker) run(ctx context.Context, item queue.Item, log *zap.Logger) (resp pipeline.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("capture panicked", zap.Any("panic", r))
			resp = abandoned(item.Request, fmt.Errorf("internal error: %v", r))
			resp.Error.Kind = researcher.KindInternal
		}
	}()
	return w.runner.Run(ctx, item.Request)
}

func abandoned(req pipeline.Request, err error) pipeline.Response {
	return pipeline.Response{
		Platform:    req.Platform,
		Query:       req.Query,
		Data:        pipeline.Data{Publications: []researcher.Publication{}},
		Diagnostics: []researcher.Diagnostic{},
		Error:       &pipeline.ErrorInfo{Kind: researcher.KindTimeout, Message: err.Error()},
	}
}
