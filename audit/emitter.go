// Package audit forwards state-changing actions to the external memory store.
// Emission is asynchronous and best effort: callers never wait on the sink and
// never observe its failures.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/meshcoord/core"
	"github.com/hupe1980/meshcoord/logging"
)

// Options configures an Emitter.
type Options struct {
	// BufferSize bounds the number of queued events. When the queue is full
	// new events are dropped with a warning.
	BufferSize int
	// Timeout bounds each sink call.
	Timeout time.Duration
	Logger  logging.Logger
}

// DefaultOptions mirrors the config defaults.
var DefaultOptions = Options{
	BufferSize: 256,
	Timeout:    5 * time.Second,
}

type event struct {
	text     string
	category string
	metadata map[string]any
}

// Emitter queues audit events and drains them into an AuditSink from a single
// worker goroutine. It implements core.Recorder.
type Emitter struct {
	sink    core.AuditSink
	logger  logging.Logger
	timeout time.Duration
	queue   chan event
	done    chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

var _ core.Recorder = (*Emitter)(nil)

// NewEmitter starts an emitter draining into sink.
func NewEmitter(sink core.AuditSink, optFns ...func(o *Options)) *Emitter {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions.BufferSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}

	e := &Emitter{
		sink:    sink,
		logger:  logging.OrNoOp(opts.Logger),
		timeout: opts.Timeout,
		queue:   make(chan event, opts.BufferSize),
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	go e.run()

	return e
}

// Record enqueues an event without blocking.
func (e *Emitter) Record(text, category string, metadata map[string]any) {
	ev := event{text: text, category: category, metadata: core.CloneMap(metadata)}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.logger.Warn("audit.dropped", "reason", "closed", "category", category)
		return
	}

	select {
	case e.queue <- ev:
		e.pending++
	default:
		e.logger.Warn("audit.dropped", "reason", "queue_full", "category", category)
	}
}

// Flush blocks until every queued event has been handed to the sink.
func (e *Emitter) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.pending > 0 {
		e.cond.Wait()
	}
}

// Close drains the queue and stops the worker. It is safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) run() {
	defer close(e.done)

	for ev := range e.queue {
		e.deliver(ev)

		e.mu.Lock()
		e.pending--
		if e.pending == 0 {
			e.cond.Broadcast()
		}
		e.mu.Unlock()
	}
}

func (e *Emitter) deliver(ev event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit.sink_panic", "category", ev.category, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	id, err := e.sink.RecordEvent(ctx, ev.text, ev.category, ev.metadata)
	if err != nil {
		e.logger.Warn("audit.emit_failed", "category", ev.category, "error", err.Error())
		return
	}

	e.logger.Debug("audit.recorded", "category", ev.category, "record_id", id)
}
