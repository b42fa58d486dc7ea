// Package executor implements the sequential executor (C7): a single
// FIFO queue dispatched to exactly one worker goroutine, which is the
// sole mutator of the singleton object's state. Every Submit call
// blocks until the request has been run (or rejected) and its result is
// ready; ordering across submitters is strict enqueue order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"loopbackd/internal/correlation"
	"loopbackd/internal/dispatch"
	"loopbackd/internal/svcfields"
)

// ErrShuttingDown is returned by Submit once the executor has stopped
// accepting new requests. Callers compare against it with errors.Is
// rather than matching on Error() text.
var ErrShuttingDown = errors.New("executor: shutting down")

// ErrQueueFull is returned by Submit when the request queue is at
// capacity.
var ErrQueueFull = errors.New("executor: queue full")

// Request is one queued method invocation. Reply is delivered exactly
// once, either with a decoded value or an error.
type Request struct {
	MethodName    string
	Args          []any
	CorrelationID string
	reply         chan Reply
}

// Reply is the outcome of running a Request.
type Reply struct {
	Value any
	Err   error
}

// Executor owns the singleton object and the single worker goroutine
// that invokes methods on it. No two invocations ever run concurrently.
type Executor struct {
	obj    any
	logger pslog.Logger

	queue    chan *Request
	depth    atomic.Int64
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
	draining atomic.Bool
	drainMu  sync.Mutex
	drain    error
}

func (e *Executor) drainErr() error {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	return e.drain
}

// New constructs an Executor around obj with the given queue capacity
// (0 or less selects a default of 4096; Submit returns ErrQueueFull once
// that many requests are waiting).
func New(obj any, queueCapacity int, logger pslog.Logger) *Executor {
	if queueCapacity <= 0 {
		queueCapacity = 4096
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	e := &Executor{
		obj:    obj,
		logger: svcfields.WithSubsystem(logger, "daemon.executor"),
		queue:  make(chan *Request, queueCapacity),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// QueueDepth reports the number of requests currently waiting in the
// queue, not counting the one the worker may be actively running.
func (e *Executor) QueueDepth() int {
	return int(e.depth.Load())
}

// Submit enqueues a method call and blocks until it has been executed
// (or rejected because the executor is shutting down) or ctx is
// canceled. A canceled ctx only abandons waiting for the reply; the
// request may already be running and will still complete against the
// singleton object.
func (e *Executor) Submit(ctx context.Context, methodName string, args []any) (any, error) {
	id := correlation.ID(ctx)
	if id == "" {
		id = correlation.Generate()
	}
	req := &Request{MethodName: methodName, Args: args, CorrelationID: id, reply: make(chan Reply, 1)}

	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return nil, ErrShuttingDown
	}
	select {
	case e.queue <- req:
		e.depth.Add(1)
	default:
		e.closeMu.Unlock()
		return nil, ErrQueueFull
	}
	e.closeMu.Unlock()

	select {
	case r := <-req.reply:
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) run() {
	defer close(e.done)
	for req := range e.queue {
		e.depth.Add(-1)
		if e.draining.Load() {
			e.logger.Info("request aborted before dispatch", "method", req.MethodName, "correlation_id", req.CorrelationID)
			req.reply <- Reply{Err: e.drainErr()}
			continue
		}
		value, err := e.invoke(req)
		req.reply <- Reply{Value: value, Err: err}
	}
}

func (e *Executor) invoke(req *Request) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("method invocation panicked", "method", req.MethodName, "correlation_id", req.CorrelationID, "panic", fmt.Sprintf("%v", r))
			err = fmt.Errorf("executor: method %q panicked: %v", req.MethodName, r)
		}
	}()
	value, err = dispatch.Invoke(e.obj, req.MethodName, req.Args)
	if err != nil {
		e.logger.Debug("method invocation failed", "method", req.MethodName, "correlation_id", req.CorrelationID, "error", err)
	}
	return value, err
}

// Stop stops accepting new submissions and fails every request still
// sitting in the queue with drainErr instead of running it, matching
// the shutdown procedure's distinction between a request already
// dispatched to the worker (left to finish) and one merely queued
// (aborted). It waits for the worker to exit. Stop must be called
// exactly once.
func (e *Executor) Stop(drainErr error) {
	e.drainMu.Lock()
	e.drain = drainErr
	e.drainMu.Unlock()
	e.draining.Store(true)

	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.closeMu.Unlock()

	<-e.done
}
