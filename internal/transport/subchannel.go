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

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/credentials"
	"github.com/johnsiilver/chanrt/internal/backoff"
	"github.com/johnsiilver/chanrt/resolver"
)

// Subchannel owns one logical backend connection and its
// IDLE/CONNECTING/READY/TRANSIENT_FAILURE/SHUTDOWN state machine (spec.md
// §4.3). At most one address from its address list is ever dialed at a
// time; the underlying ClientTransport is swapped out wholesale on
// reconnect, and events from a transport the Subchannel no longer
// considers current are dropped (spec.md §4.3 "Errors: ... events from
// stale transports ... are dropped", §9 "Stale-event filtering").
type Subchannel struct {
	authority string
	creds     credentials.TransportCredentials
	onState   func(connectivity.State)

	backoff *backoff.Backoff

	mu        sync.Mutex
	addrs     []resolver.Address
	addrIdx   int
	state     connectivity.State
	current   *ClientTransport
	cancel    context.CancelFunc
	closed    bool
	listeners map[string]func(connectivity.State)

	keepalive ClientParameters

	calls int
	wake  chan struct{}
}

// AddListener registers an additional observer under id, invoked alongside
// onState on every transition. Subchannels are shared across Channels and
// LoadBalancers via the pool (spec.md §3 "Subchannel identity... shared
// via the pool"), so more than one balancer.SubConn wrapper may need to
// observe the same underlying connection.
func (sc *Subchannel) AddListener(id string, cb func(connectivity.State)) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.listeners == nil {
		sc.listeners = make(map[string]func(connectivity.State))
	}
	sc.listeners[id] = cb
}

// RemoveListener unregisters the observer added under id.
func (sc *Subchannel) RemoveListener(id string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.listeners, id)
}

// NewSubchannel constructs a Subchannel for addrs. onState is invoked
// (never concurrently) on every connectivity transition, matching the
// balancer.SubConn contract's UpdateSubConnState delivery.
func NewSubchannel(addrs []resolver.Address, authority string, creds credentials.TransportCredentials, keepalive ClientParameters, onState func(connectivity.State)) *Subchannel {
	return &Subchannel{
		authority: authority,
		creds:     creds,
		onState:   onState,
		backoff:   backoff.New(backoff.DefaultConfig),
		addrs:     addrs,
		state:     connectivity.Idle,
		keepalive: keepalive,
		wake:      make(chan struct{}, 1),
	}
}

// AttachCall registers an outstanding call against this Subchannel's
// current connection. This call-refcount is independent of the pool's
// owner-refcount (spec.md §9: "call-refs, owner-refs... this is
// deliberate rather than reliance on garbage collection") and is what
// gates keepaliveLoop: spec.md §4.3 "Keepalive: when call-refcount
// becomes positive, start an interval".
func (sc *Subchannel) AttachCall() {
	sc.mu.Lock()
	sc.calls++
	first := sc.calls == 1
	sc.mu.Unlock()
	if first {
		select {
		case sc.wake <- struct{}{}:
		default:
		}
	}
}

// DetachCall releases a call registered via AttachCall.
func (sc *Subchannel) DetachCall() {
	sc.mu.Lock()
	if sc.calls > 0 {
		sc.calls--
	}
	sc.mu.Unlock()
}

func (sc *Subchannel) hasCalls() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.calls > 0
}

// UpdateAddresses implements balancer.SubConn. If the currently connected
// address is still present in addrs, the connection is kept; otherwise it
// is torn down and the Subchannel returns to IDLE (spec.md's SubConn
// contract).
func (sc *Subchannel) UpdateAddresses(addrs []resolver.Address) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	if sc.current != nil && sc.addrIdx < len(sc.addrs) {
		cur := sc.addrs[sc.addrIdx].Addr
		for i, a := range addrs {
			if a.Addr == cur {
				sc.addrs = addrs
				sc.addrIdx = i
				return
			}
		}
	}
	sc.addrs = addrs
	sc.addrIdx = 0
	sc.resetLocked()
}

// Connect implements balancer.SubConn: it starts the CONNECTING attempt if
// the Subchannel is currently IDLE.
func (sc *Subchannel) Connect() {
	sc.mu.Lock()
	if sc.closed || sc.state != connectivity.Idle {
		sc.mu.Unlock()
		return
	}
	sc.mu.Unlock()
	sc.startConnecting()
}

func (sc *Subchannel) startConnecting() {
	sc.mu.Lock()
	if sc.closed || len(sc.addrs) == 0 {
		sc.mu.Unlock()
		return
	}
	addr := sc.addrs[sc.addrIdx%len(sc.addrs)].Addr
	ctx, cancel := context.WithCancel(context.Background())
	sc.cancel = cancel
	sc.setStateLocked(connectivity.Connecting)
	sc.mu.Unlock()

	var ctRef *ClientTransport
	ct, err := Dial(ctx, addr, sc.authority, sc.creds,
		func(debugData string) { sc.handleGoAway(ctRef, debugData) },
		func(err error) { sc.handleClose(ctRef, err) },
	)
	if err != nil {
		sc.mu.Lock()
		sc.setStateLocked(connectivity.TransientFailure)
		sc.mu.Unlock()
		sc.backoff.RunOnce(sc.retry)
		return
	}

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		ct.Close()
		return
	}
	sc.current = ct
	ctRef = ct
	sc.backoff.Reset()
	sc.setStateLocked(connectivity.Ready)
	sc.mu.Unlock()

	go sc.keepaliveLoop(ctx, ct)
}

func (sc *Subchannel) retry() {
	sc.mu.Lock()
	closed := sc.closed
	sc.mu.Unlock()
	if closed {
		return
	}
	sc.startConnecting()
}

// ResetBackoff implements the balancer-level ResetBackoff capability
// (spec.md §4.5 "resetBackoff forwards to all children") at the
// Subchannel level: it clears the retry counter and, if a reconnect is
// currently pending in TRANSIENT_FAILURE, cancels the wait and retries
// immediately instead of waiting out the remaining delay.
func (sc *Subchannel) ResetBackoff() {
	sc.mu.Lock()
	closed := sc.closed
	pending := !closed && sc.state == connectivity.TransientFailure && sc.backoff.IsRunning()
	sc.mu.Unlock()
	if closed {
		return
	}
	sc.backoff.Stop()
	sc.backoff.Reset()
	if pending {
		sc.startConnecting()
	}
}

// handleGoAway is invoked by a ClientTransport on receipt of GOAWAY. A
// GOAWAY(ENHANCE_YOUR_CALM, "too_many_pings") doubles the keepalive
// interval (spec.md §8's keepalive boundary scenario) rather than forcing
// an immediate reconnect; any other GOAWAY is treated like a transport
// close. Events from a transport the Subchannel no longer considers
// current are dropped (spec.md §4.3/§9 stale-event filtering).
func (sc *Subchannel) handleGoAway(ct *ClientTransport, debugData string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.current != ct {
		return
	}
	if IsTooManyPings(debugData) {
		sc.keepalive.Time = DoublePingInterval(sc.keepalive.Time)
	}
}

// handleClose is invoked by a ClientTransport when it becomes unusable.
// Events from a transport that is no longer sc.current are dropped
// (spec.md §4.3/§9 stale-event filtering).
func (sc *Subchannel) handleClose(ct *ClientTransport, _ error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed || sc.current != ct {
		return
	}
	sc.current = nil
	sc.setStateLocked(connectivity.Idle)
}

// resetLocked tears down the current transport, if any, and returns the
// Subchannel to IDLE. Must be called with sc.mu held.
func (sc *Subchannel) resetLocked() {
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.current != nil {
		ct := sc.current
		sc.current = nil
		go ct.Close()
	}
	sc.setStateLocked(connectivity.Idle)
}

func (sc *Subchannel) setStateLocked(s connectivity.State) {
	if sc.state == s {
		return
	}
	sc.state = s
	cb := sc.onState
	listeners := make([]func(connectivity.State), 0, len(sc.listeners))
	for _, l := range sc.listeners {
		listeners = append(listeners, l)
	}
	go func() {
		cb(s)
		for _, l := range listeners {
			l(s)
		}
	}()
}

// CurrentTransport returns the ClientTransport in use while READY, or nil.
// Only valid to call a Stream method on the result while the Subchannel
// has not since transitioned away from READY; see stale-event filtering
// above for the symmetric rule on the receive side.
func (sc *Subchannel) CurrentTransport() *ClientTransport {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

// State returns the Subchannel's current connectivity state.
func (sc *Subchannel) State() connectivity.State {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// Ping issues a keepalive ping on the current transport, honoring the
// configured keepalive Timeout (spec.md §5 suspension point "keepalive
// ping ack"). It is a no-op if the Subchannel is not READY.
func (sc *Subchannel) Ping(ctx context.Context) error {
	ct := sc.CurrentTransport()
	if ct == nil {
		return nil
	}
	if sc.keepalive.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.keepalive.Timeout)
		defer cancel()
	}
	return ct.Ping(ctx)
}

// Shutdown tears down the Subchannel permanently (SHUTDOWN is terminal;
// spec.md §4.3).
func (sc *Subchannel) Shutdown() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.closed = true
	sc.backoff.Stop()
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.current != nil {
		ct := sc.current
		sc.current = nil
		go ct.Close()
	}
	sc.state = connectivity.Shutdown
	cb := sc.onState
	listeners := make([]func(connectivity.State), 0, len(sc.listeners))
	for _, l := range sc.listeners {
		listeners = append(listeners, l)
	}
	go func() {
		cb(connectivity.Shutdown)
		for _, l := range listeners {
			l(connectivity.Shutdown)
		}
	}()
}

// keepaliveLoop runs for the lifetime of one READY transport, pinging at
// sc.keepalive.Time intervals and forcing a reconnect if a ping's
// deadline (Timeout) expires without an ack (spec.md §8's keepalive
// scenario: "ping timeout -> READY to IDLE with in-flight calls failing
// UNAVAILABLE"). Pinging only happens while at least one call is
// attached (spec.md §4.3): with no calls outstanding, the loop parks on
// sc.wake rather than ticking.
func (sc *Subchannel) keepaliveLoop(ctx context.Context, ct *ClientTransport) {
	if sc.keepalive.Time <= 0 {
		return
	}
	for {
		if !sc.hasCalls() {
			select {
			case <-ctx.Done():
				return
			case <-sc.wake:
			}
		}

		t := time.NewTimer(sc.keepalive.Time)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		if !sc.hasCalls() {
			// Calls drained while waiting out the interval; go back to
			// parking instead of pinging an idle connection.
			continue
		}

		pingCtx := ctx
		var cancel context.CancelFunc
		if sc.keepalive.Timeout > 0 {
			pingCtx, cancel = context.WithTimeout(ctx, sc.keepalive.Timeout)
		}
		err := ct.Ping(pingCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			ct.fireClose(err)
			return
		}
	}
}
