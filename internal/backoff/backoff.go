/*
 *
 * Copyright 2017 gRPC authors.
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

// Package backoff implements the BackoffTimer of spec.md §4.1: a one-shot
// timer producing jittered exponential delays, with support for resetting
// and stopping.
package backoff

import (
	"math"
	"sync"
	"time"

	"github.com/johnsiilver/chanrt/internal/grpcrand"
)

// Config defines the configuration options for a Backoff.
type Config struct {
	// BaseDelay is the amount of time to wait before retrying after the
	// first failure.
	BaseDelay time.Duration
	// Multiplier is the factor with which to multiply backoffs after a
	// failed retry. Should ordinarily be greater than 1.
	Multiplier float64
	// Jitter is the factor with which backoffs are randomized.
	Jitter float64
	// MaxDelay is the upper bound on backoff delay.
	MaxDelay time.Duration
}

// DefaultConfig is the default backoff configuration, matching spec.md
// §4.1's parameters: initial=1000ms, multiplier=1.6, max=120s, jitter=±20%.
var DefaultConfig = Config{
	BaseDelay:  1.0 * time.Second,
	Multiplier: 1.6,
	Jitter:     0.2,
	MaxDelay:   120 * time.Second,
}

// maxDelayBound is the signed-32-bit millisecond bound noted by spec.md §9
// ("Where the host timer API has a signed 32-bit range, bound delays
// accordingly (~(1<<31) in the source)").
const maxDelayBound = time.Duration(math.MaxInt32) * time.Millisecond

// Delay computes the amount of time to wait before the nth retry, with n
// starting at 0, per cfg.
func (cfg Config) Delay(n int) time.Duration {
	backoff, max := float64(cfg.BaseDelay), float64(cfg.MaxDelay)
	for backoff < max && n > 0 {
		backoff *= cfg.Multiplier
		n--
	}
	if backoff > max {
		backoff = max
	}
	backoff *= 1 + cfg.Jitter*(grpcrand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}
	d := time.Duration(backoff)
	if d > maxDelayBound {
		return maxDelayBound
	}
	return d
}

// Backoff is the one-shot timer of spec.md §4.1. It is not safe for
// concurrent use from multiple goroutines except as documented per method;
// callers (Subchannel, resolver) serialize access on their own executor
// per spec.md §5.
type Backoff struct {
	cfg Config

	mu      sync.Mutex
	retries int
	timer   *time.Timer
	running bool
}

// New creates a Backoff using cfg.
func New(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// RunOnce schedules cb to run after the next backoff delay and increments
// the internal retry counter, matching spec.md's
// `delay = min(max, initial·multiplier^n) · uniform(1−jitter, 1+jitter)`.
// If a timer is already running, RunOnce is a no-op (one-shot).
func (b *Backoff) RunOnce(cb func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	d := b.cfg.Delay(b.retries)
	b.retries++
	b.running = true
	b.timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		cb()
	})
}

// Stop cancels a pending timer, if any. Per spec.md §4.1, Reset does NOT
// cancel a running timer unless Stop is called explicitly.
func (b *Backoff) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.running = false
}

// Reset clears the retry counter (and therefore the delay) back to the
// initial BaseDelay, without affecting a timer that is already running.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = 0
}

// IsRunning reports whether a scheduled callback is still pending.
func (b *Backoff) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
