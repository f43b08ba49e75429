/*
 *
 * Copyright 2018 gRPC authors.
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

// Package subchannelpool implements the keyed, reference-counted
// Subchannel pool described by spec.md §4.4: Subchannels are deduplicated
// by address key so that two Channels (or two LoadBalancers within one
// Channel) dialing the same backend share a single underlying connection,
// and a periodic sweep tears down entries whose refcount has dropped to
// zero.
package subchannelpool

import (
	"sync"
	"time"
)

// sweepInterval is how often the pool scans for unreferenced entries,
// per spec.md §4.4 ("a periodic sweep, every 10 seconds").
const sweepInterval = 10 * time.Second

// Entry is anything the pool can keep alive on behalf of callers. Callers
// supply their own concrete Subchannel-like value; the pool only tracks
// its refcount and the Close it runs once that count reaches zero.
type Entry struct {
	Value interface{}
	Close func()

	refs int
}

// Pool is a keyed, reference-counted store of Entry. The zero value is
// not ready to use; call New.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Entry
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Pool and starts its background sweep goroutine. Callers
// must call Close when the pool is no longer needed.
func New() *Pool {
	p := &Pool{
		entries: make(map[string]*Entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// singleton is the process-wide pool used when a Channel is configured to
// share Subchannels across Channels (spec.md §4.4's "singleton pool
// mode"), as opposed to a per-Channel Pool.
var singleton = New()

// Singleton returns the process-wide shared Pool.
func Singleton() *Pool { return singleton }

// GetOrCreate returns the Entry keyed by key, creating it via newValue if
// absent, and increments its refcount. The caller must call Release
// exactly once when done with the returned Entry.
func (p *Pool) GetOrCreate(key string, newValue func() (interface{}, func())) *Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.refs++
		return e
	}
	v, closeFn := newValue()
	e := &Entry{Value: v, Close: closeFn, refs: 1}
	p.entries[key] = e
	return e
}

// Release decrements key's refcount. The entry is not torn down
// immediately; it is reaped by the next sweep that finds its refcount at
// or below zero (spec.md §4.4 "unrefUnusedSubchannels").
func (p *Pool) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		e.refs--
	}
}

// unrefUnusedSubchannels removes every entry whose refcount is at or
// below zero and runs its Close. Returns the keys removed, for test
// observability.
func (p *Pool) unrefUnusedSubchannels() []string {
	p.mu.Lock()
	var removed []string
	var closers []func()
	for key, e := range p.entries {
		if e.refs <= 0 {
			removed = append(removed, key)
			closers = append(closers, e.Close)
			delete(p.entries, key)
		}
	}
	p.mu.Unlock()

	// Close runs outside the lock: it may itself call back into the pool
	// (e.g. to release a nested reference).
	for _, c := range closers {
		if c != nil {
			c()
		}
	}
	return removed
}

func (p *Pool) sweepLoop() {
	defer close(p.done)
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.unrefUnusedSubchannels()
		case <-p.stop:
			return
		}
	}
}

// Close stops the sweep goroutine and tears down every remaining entry
// regardless of refcount.
func (p *Pool) Close() {
	close(p.stop)
	<-p.done
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*Entry)
	p.mu.Unlock()
	for _, e := range entries {
		if e.Close != nil {
			e.Close()
		}
	}
}
