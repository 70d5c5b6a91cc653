// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stacklok/idserver/pkg/logger"
)

// DefaultBufferSize is the queue length of an AsyncPublisher.
const DefaultBufferSize = 1024

// Publisher accepts events. Publish never blocks and never fails.
type Publisher interface {
	Publish(ctx context.Context, e *Event)
}

// Sink receives the events drained by an AsyncPublisher.
type Sink interface {
	Handle(ctx context.Context, e *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e *Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, e *Event) error {
	return f(ctx, e)
}

// NopPublisher discards every event.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(context.Context, *Event) {}

type queued struct {
	ctx   context.Context
	event *Event
}

// AsyncPublisher queues events on a buffered channel drained by a single
// consumer goroutine. Events published while the queue is full are dropped.
type AsyncPublisher struct {
	queue   chan queued
	sinks   []Sink
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

// PublisherOption configures an AsyncPublisher.
type PublisherOption func(*publisherOptions)

type publisherOptions struct {
	bufferSize int
}

// WithBufferSize sets the queue length.
func WithBufferSize(n int) PublisherOption {
	return func(o *publisherOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// NewAsyncPublisher starts a publisher delivering to sinks.
func NewAsyncPublisher(sinks []Sink, opts ...PublisherOption) *AsyncPublisher {
	o := publisherOptions{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	p := &AsyncPublisher{
		queue: make(chan queued, o.bufferSize),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues e. The request context is detached from cancellation
// so that sinks still see its values after the request ends.
func (p *AsyncPublisher) Publish(ctx context.Context, e *Event) {
	if e == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- queued{ctx: context.WithoutCancel(ctx), event: e}:
	default:
		p.dropped.Add(1)
		logger.Debugw("event queue full, dropping event", "type", e.Type, "process_id", e.ProcessID)
	}
}

// Dropped returns the number of events that were not queued.
func (p *AsyncPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for q := range p.queue {
		for _, s := range p.sinks {
			if err := s.Handle(q.ctx, q.event); err != nil {
				logger.Warnw("failed to deliver event", "type", q.event.Type, "process_id", q.event.ProcessID, "error", err)
			}
		}
	}
}

var (
	_ Publisher = (*AsyncPublisher)(nil)
	_ Publisher = NopPublisher{}
)
