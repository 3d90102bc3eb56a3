// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/pipeline"
	"github.com/JakeFAU/scholar-crawler/internal/queue"
	"github.com/JakeFAU/scholar-crawler/internal/queue/memory"
	"github.com/JakeFAU/scholar-crawler/internal/researcher"
	"github.com/JakeFAU/scholar-crawler/internal/worker"
)

type seqID struct{ n atomic.Int64 }

func (s *seqID) NewID() (string, error) {
	return "capture-" + strconv.FormatInt(s.n.Add(1), 10), nil
}

type echoRunner struct {
	block chan struct{}
}

func (r echoRunner) Run(_ context.Context, req pipeline.Request) pipeline.Response {
	if r.block != nil {
		<-r.block
	}
	return pipeline.Response{Success: true, Platform: req.Platform, Query: req.Query}
}

// TestDispatcherSubmitRoundTrip verifies a submitted request is answered by a worker.
func TestDispatcherSubmitRoundTrip(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	workers := []*worker.Worker{
		worker.New(1, q, echoRunner{}, zap.NewNop()),
		worker.New(2, q, echoRunner{}, zap.NewNop()),
	}
	d := New(q, workers, &seqID{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	resp, err := d.Submit(context.Background(), pipeline.Request{Platform: researcher.SourceScholar, Query: "Ana"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "Ana", resp.Query)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSubmitHonorsContext verifies callers stop waiting when their context ends.
func TestDispatcherSubmitHonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	defer close(block)
	q := memory.NewQueue(1)
	d := New(q, []*worker.Worker{worker.New(1, q, echoRunner{block: block}, nil)}, &seqID{})
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Submit(ctx, pipeline.Request{Query: "slow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type closedQueue struct{}

func (closedQueue) Enqueue(context.Context, queue.Item) error { return queue.ErrClosed }

func (closedQueue) Dequeue(context.Context) (queue.Item, error) { return queue.Item{}, queue.ErrClosed }

// TestDispatcherSubmitForwardsQueueErrors verifies queue errors are wrapped for callers.
func TestDispatcherSubmitForwardsQueueErrors(t *testing.T) {
	t.Parallel()

	d := New(closedQueue{}, nil, &seqID{})
	_, err := d.Submit(context.Background(), pipeline.Request{})
	require.True(t, errors.Is(err, queue.ErrClosed))
	require.Contains(t, err.Error(), "queue enqueue")
}
