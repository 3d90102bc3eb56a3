// Package queue defines the work items exchanged between the HTTP surface and the capture workers.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Item is one capture request waiting for a worker. Ctx is the submitter's context; a worker skips
// items whose context already ended. Reply receives exactly one response and must be buffered.
type Item struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // request-scoped work item
	Request pipeline.Request
	Reply   chan pipeline.Response
}

// NewItem builds an item with a one-slot reply channel.
func NewItem(ctx context.Context, id string, req pipeline.Request) Item {
	return Item{ID: id, Ctx: ctx, Request: req, Reply: make(chan pipeline.Response, 1)}
}

// Queue is a bounded FIFO of items.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
}
