/*
 *
 * Copyright 2022 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package grpcsync implements additional synchronization primitives built
// on top of the ones provided by the standard library. In particular it
// provides the single logical executor required by spec.md §5: "all state
// transitions, picker dispatch, queue drains, backoff firings, and listener
// invocations are serialized on one event-loop-like executor".
package grpcsync

import (
	"context"
	"sync"
)

// CallbackSerializer provides a mechanism to schedule callbacks in a
// synchronized manner. It is meant to be the single logical executor for a
// Channel: state transitions, picker updates and pick-queue drains are all
// scheduled through one serializer so they never run concurrently with each
// other, even though the I/O that produces them (HTTP/2 reads, DNS
// completions, timers) may run on other goroutines (spec.md §5).
type CallbackSerializer struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func(ctx context.Context)
	closed    bool
	notify    chan struct{}
	done      chan struct{}
}

// NewCallbackSerializer returns a new CallbackSerializer whose scheduled
// callbacks run until ctx expires, at which point any pending or
// subsequently scheduled callbacks are dropped.
func NewCallbackSerializer(ctx context.Context) *CallbackSerializer {
	cctx, cancel := context.WithCancel(ctx)
	cs := &CallbackSerializer{
		ctx:    cctx,
		cancel: cancel,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go cs.run()
	return cs
}

// TrySchedule tries to schedule the provided callback function f to be
// executed in the order it was scheduled, relative to other callbacks
// scheduled on this serializer. If the serializer is closed, the callback
// is silently dropped.
func (cs *CallbackSerializer) TrySchedule(f func(ctx context.Context)) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.callbacks = append(cs.callbacks, f)
	cs.mu.Unlock()

	select {
	case cs.notify <- struct{}{}:
	default:
	}
}

// run drains cs.callbacks in FIFO order until the serializer's context is
// canceled, at which point any remaining queued callbacks are dropped.
func (cs *CallbackSerializer) run() {
	defer close(cs.done)
	for {
		cs.mu.Lock()
		if len(cs.callbacks) == 0 {
			cs.mu.Unlock()
			select {
			case <-cs.ctx.Done():
				cs.mu.Lock()
				cs.closed = true
				cs.callbacks = nil
				cs.mu.Unlock()
				return
			case <-cs.notify:
			}
			continue
		}
		cb := cs.callbacks[0]
		cs.callbacks = cs.callbacks[1:]
		cs.mu.Unlock()

		cb(cs.ctx)

		select {
		case <-cs.ctx.Done():
			cs.mu.Lock()
			cs.closed = true
			cs.callbacks = nil
			cs.mu.Unlock()
			return
		default:
		}
	}
}

// Close stops the serializer; no further callbacks will run.
func (cs *CallbackSerializer) Close() {
	cs.cancel()
}

// Done returns a channel closed once the serializer has processed its
// context cancellation and will no longer run callbacks.
func (cs *CallbackSerializer) Done() <-chan struct{} {
	return cs.done
}
