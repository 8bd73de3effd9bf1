// Package infer implements the dedicated-executor dispatch layer: a
// generic adapter that runs a synchronous, single-threaded
// RequestHandler on one dedicated goroutine and exposes it to
// concurrent callers through an unbounded command queue and
// single-shot reply channels.
//
// Each model owns exactly one DedicatedExecutor. HTTP handlers never
// touch the model directly; they hold a cheaply-cloneable Client and
// await a reply on the channel Client.Send returns.
package infer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/embedsrv/embedsrv/internal/util"
)

// Handler is a stateful, single-threaded capability: handle one
// request, return one response or an error. Implementations must be
// safe to move onto the executor's goroutine and must not require any
// external synchronization: the executor guarantees it is the only
// caller for the handler's entire lifetime.
type Handler[In, Out any] interface {
	Handle(in In) (Out, error)
}

// FuncHandler adapts a plain function to the Handler interface,
// letting the executor be exercised in tests without a real model.
type FuncHandler[In, Out any] func(in In) (Out, error)

func (f FuncHandler[In, Out]) Handle(in In) (Out, error) { return f(in) }

// QueueEntry pairs a request with its single-shot reply channel and
// the time it was enqueued.
type QueueEntry[In, Out any] struct {
	TaskID     uuid.UUID
	Request    In
	Reply      chan<- Out
	EnqueuedAt time.Time
}

type command[In, Out any] struct {
	entry *QueueEntry[In, Out]
}

// queue is an unbounded FIFO of commands: Push never blocks. There is
// no admission control here; a bounded queue with a 429 response on
// full is a reasonable upgrade path if overload ever needs rejecting
// instead of just queuing.
type queue[In, Out any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []command[In, Out]
	closed bool
}

func newQueue[In, Out any]() *queue[In, Out] {
	q := &queue[In, Out]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue[In, Out]) Push(c command[In, Out]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, c)
	q.cond.Signal()
	return true
}

// Pop blocks until a command is available or the queue is closed with
// nothing left to deliver.
func (q *queue[In, Out]) Pop() (command[In, Out], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return command[In, Out]{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}

func (q *queue[In, Out]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// DedicatedExecutor owns one goroutine plus an inbound command queue;
// it drains commands strictly serially and invokes the handler it was
// constructed with. The handler is touched by exactly one goroutine
// for its entire lifetime.
type DedicatedExecutor[In, Out any] struct {
	name  string
	queue *queue[In, Out]
	done  chan struct{}
	err   error
}

// Spawn takes ownership of handler, starts its worker goroutine, and
// returns the executor.
func Spawn[In, Out any](name string, handler Handler[In, Out]) *DedicatedExecutor[In, Out] {
	e := &DedicatedExecutor[In, Out]{
		name:  name,
		queue: newQueue[In, Out](),
		done:  make(chan struct{}),
	}
	go e.run(handler)
	return e
}

func (e *DedicatedExecutor[In, Out]) run(handler Handler[In, Out]) {
	defer close(e.done)

	for {
		cmd, ok := e.queue.Pop()
		if !ok {
			return
		}
		if !e.processOne(handler, cmd.entry) {
			// A panicking handler poisons this worker: it stops
			// draining the queue, but the process itself survives and
			// other models' executors are unaffected. Commands already
			// queued, and any queued afterward, are never delivered;
			// their reply channels stay open until the caller's own
			// timeout gives up.
			return
		}
	}
}

// processOne runs the handler for one entry and returns false if the
// handler panicked, signaling the worker loop to stop.
func (e *DedicatedExecutor[In, Out]) processOne(handler Handler[In, Out], entry *QueueEntry[In, Out]) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			util.Logger.Error("inference handler panicked, worker thread poisoned",
				"model", e.name, "task_id", entry.TaskID.String(), "panic", r)
			ok = false
		}
	}()

	age := time.Since(entry.EnqueuedAt)
	util.Logger.Debug("dequeued inference task",
		"model", e.name, "task_id", entry.TaskID.String(), "queue_age", age)
	util.DefaultMetrics.ObserveHistogram("embedsrv_queue_wait_seconds", age.Seconds(), map[string]string{"model": e.name})

	start := time.Now()
	result, err := handler.Handle(entry.Request)
	util.DefaultMetrics.ObserveHistogram("embedsrv_inference_seconds", time.Since(start).Seconds(), map[string]string{"model": e.name})

	if err != nil {
		// No reply is sent; the caller observes the reply channel
		// closed without a value, the Go analogue of a dropped oneshot
		// sender. The error is logged here so it isn't silently lost.
		util.LogError(util.Logger, err)
		util.DefaultMetrics.IncCounter("embedsrv_tasks_total", map[string]string{"model": e.name, "result": "error"})
		e.err = err
		close(entry.Reply)
		return true
	}

	util.DefaultMetrics.IncCounter("embedsrv_tasks_total", map[string]string{"model": e.name, "result": "ok"})
	entry.Reply <- result
	close(entry.Reply)
	return true
}

// Stop closes the command queue: the worker drains whatever was
// already enqueued, then exits. Stop is idempotent, closing an
// already-closed queue is a no-op, and no further Send succeeds
// afterward.
func (e *DedicatedExecutor[In, Out]) Stop() {
	e.queue.Close()
}

// Wait blocks until the worker goroutine has exited, returning the
// last handler error it observed, if any.
func (e *DedicatedExecutor[In, Out]) Wait() error {
	<-e.done
	return e.err
}

// NewClient derives a Client sharing this executor's queue. Clients
// are cheap to clone and safe to share across HTTP request goroutines.
func (e *DedicatedExecutor[In, Out]) NewClient() *Client[In, Out] {
	return &Client[In, Out]{queue: e.queue}
}
