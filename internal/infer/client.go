package infer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/embedsrv/embedsrv/internal/util"
)

// Client is a cheaply-cloneable handle onto a DedicatedExecutor's
// command queue. Many HTTP request goroutines may hold and use the
// same Client concurrently.
type Client[In, Out any] struct {
	queue *queue[In, Out]
}

// Send enqueues request with a fresh task UUID and a single-shot reply
// channel, returning the receive end. It never blocks: the underlying
// queue is unbounded.
func (c *Client[In, Out]) Send(request In) (<-chan Out, error) {
	reply := make(chan Out, 1)
	entry := &QueueEntry[In, Out]{
		TaskID:     uuid.New(),
		Request:    request,
		Reply:      reply,
		EnqueuedAt: time.Now(),
	}
	if !c.queue.Push(command[In, Out]{entry: entry}) {
		return nil, util.NewError(util.KindTransport, "executor command queue is closed")
	}
	return reply, nil
}

// SendAndAwait submits request and waits for either a reply, the
// reply channel closing without one (handler error or panicked
// worker), or ctx being done first. It is the convenience wrapper the
// embeddings handler uses.
func (c *Client[In, Out]) SendAndAwait(ctx context.Context, request In) (Out, error) {
	var zero Out

	reply, err := c.Send(request)
	if err != nil {
		return zero, err
	}

	select {
	case result, ok := <-reply:
		if !ok {
			return zero, util.NewError(util.KindTransport, "Failed to receive response from executor")
		}
		return result, nil
	case <-ctx.Done():
		return zero, util.WrapError(util.KindTransport, ctx.Err(), "Failed to receive response from executor")
	}
}
