/*
 *
 * Copyright 2014 gRPC authors.
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

// Package chanrt implements the client-side channel runtime of a
// gRPC-style RPC stack: name resolution, the Subchannel connectivity
// state machine, load balancing, the pick/queue pipeline, a filter stack,
// and the CallStream duplex driver (spec.md §2 "SYSTEM OVERVIEW").
package chanrt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnsiilver/chanrt/balancer"
	_ "github.com/johnsiilver/chanrt/balancer/pickfirst"
	_ "github.com/johnsiilver/chanrt/balancer/roundrobin"
	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal/channelz"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	"github.com/johnsiilver/chanrt/internal/grpcsync"
	"github.com/johnsiilver/chanrt/internal/resolvingconfig"
	_ "github.com/johnsiilver/chanrt/internal/resolver/dns"
	"github.com/johnsiilver/chanrt/internal/subchannelpool"
	"github.com/johnsiilver/chanrt/internal/transport"
	_ "github.com/johnsiilver/chanrt/resolver/passthrough"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/status"
)

var logger = grpclog.Component("core")

var acwCounter atomic.Int64

// ClientConn is the Channel of spec.md §4.7: it creates CallStreams, holds
// the current Picker and a pickQueue of deferred calls, and owns the
// ResolvingLoadBalancer that drives them.
type ClientConn struct {
	target resolver.Target
	dopts  dialOptions

	channelzID string
	pool       *subchannelpool.Pool
	serializer *grpcsync.CallbackSerializer

	rlb *resolvingconfig.ResolvingLoadBalancer

	mu        sync.Mutex
	picker    balancer.Picker
	csState   connectivity.State
	pickQueue []*pickEntry
	watchers  []*watchEntry
	conns     map[*acBalancerWrapper]struct{}
	closed    bool
}

type pickEntry struct {
	info   balancer.PickInfo
	result chan pickOutcome
}

type pickOutcome struct {
	res balancer.PickResult
	err error
}

type watchEntry struct {
	cb    func()
	fired bool
}

// Dial creates a ClientConn for target, applying opts (spec.md §6's
// ChannelOptions). It is equivalent to DialContext(context.Background(), ...).
func Dial(target string, opts ...DialOption) (*ClientConn, error) {
	return DialContext(context.Background(), target, opts...)
}

// DialContext creates a ClientConn for target. Resolution starts
// immediately in the background; Dial does not block for the channel to
// become READY (spec.md §4.2's resolver begins watching as soon as it is
// built).
func DialContext(ctx context.Context, target string, opts ...DialOption) (*ClientConn, error) {
	do := defaultDialOptions()
	for _, o := range opts {
		o.apply(&do)
	}

	t, err := resolver.ParseTarget(target)
	if err != nil {
		return nil, fmt.Errorf("chanrt: %w", err)
	}

	cc := &ClientConn{
		target:     t,
		dopts:      do,
		channelzID: channelz.RegisterChannel(target),
		pool:       subchannelpool.Singleton(),
		serializer: grpcsync.NewCallbackSerializer(ctx),
		conns:      make(map[*acBalancerWrapper]struct{}),
		csState:    connectivity.Idle,
	}

	rlb, err := resolvingconfig.New(resolvingconfig.Options{
		Target:               t,
		SubConns:             cc,
		OnState:              cc.onBalancerState,
		DefaultServiceConfig: do.defaultServiceConfig,
		ResolverBuilder:      do.resolverBuilder,
	})
	if err != nil {
		channelz.RemoveEntry(cc.channelzID)
		return nil, fmt.Errorf("chanrt: %w", err)
	}
	cc.rlb = rlb
	logger.Infof("Channel created for target %q", target)
	return cc, nil
}

// onBalancerState is ResolvingLoadBalancer's OnState callback. It is
// always invoked on the serializer so picker updates, queue drains and
// watcher notifications stay totally ordered per Channel (spec.md §5).
func (cc *ClientConn) onBalancerState(s balancer.State) {
	cc.serializer.TrySchedule(func(context.Context) {
		cc.mu.Lock()
		// spec.md §8: "updateState(s) is called with no two consecutive
		// identical states" is the balancer's obligation; the Channel
		// still only needs to react when something actually changed.
		if cc.csState == s.ConnectivityState && cc.picker == s.Picker {
			cc.mu.Unlock()
			return
		}
		if logger.V(2) {
			logger.Infof("Channel entering %v", s.ConnectivityState)
		}
		cc.csState = s.ConnectivityState
		cc.picker = s.Picker
		channelz.SetState(cc.channelzID, s.ConnectivityState)
		queue := cc.pickQueue
		cc.pickQueue = nil
		watchers := cc.watchers
		cc.watchers = nil
		cc.mu.Unlock()

		cc.notifyWatchers(watchers)
		// Drain the queue into a local snapshot and re-pick each entry
		// (spec.md §4.7); further queueing during drain is allowed since
		// tryPick re-appends to cc.pickQueue itself.
		for _, e := range queue {
			cc.tryPick(e)
		}
	})
}

func (cc *ClientConn) notifyWatchers(watchers []*watchEntry) {
	for _, w := range watchers {
		if !w.fired {
			w.fired = true
			go w.cb()
		}
	}
}

// watchConnectivityState registers a one-shot observer that fires on the
// first state transition away from current or on deadline expiry,
// whichever is first (spec.md §4.7).
func (cc *ClientConn) watchConnectivityState(current connectivity.State, deadline time.Time, cb func()) {
	cc.mu.Lock()
	if cc.csState != current {
		cc.mu.Unlock()
		go cb()
		return
	}
	w := &watchEntry{cb: cb}
	cc.watchers = append(cc.watchers, w)
	cc.mu.Unlock()

	if !deadline.IsZero() {
		d := time.Until(deadline)
		time.AfterFunc(d, func() {
			cc.mu.Lock()
			already := w.fired
			w.fired = true
			cc.mu.Unlock()
			if !already {
				cb()
			}
		})
	}
}

// GetState returns the Channel's current aggregated connectivity state.
func (cc *ClientConn) GetState() connectivity.State {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.csState
}

// balancer.ClientConn / resolvingconfig.SubConnFactory implementation.

// NewSubConn creates a balancer.SubConn backed by a pooled, possibly
// shared, transport.Subchannel (spec.md §3 "Subchannel identity... shared
// via the pool").
func (cc *ClientConn) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("chanrt: NewSubConn called with no addresses")
	}
	key := cc.subchannelKey(addrs[0])

	acw := &acBalancerWrapper{cc: cc, id: fmt.Sprintf("acw-%d", acwCounter.Add(1))}
	entry := cc.pool.GetOrCreate(key, func() (interface{}, func()) {
		sc := transport.NewSubchannel(addrs, cc.authority(), cc.dopts.creds, cc.dopts.keepalive, func(connectivity.State) {})
		return sc, sc.Shutdown
	})
	acw.key = key
	acw.sc = entry.Value.(*transport.Subchannel)
	acw.channelzID = channelz.RegisterSubchannel(addrs[0].Addr, cc.channelzID)
	acw.sc.AddListener(acw.id, func(s connectivity.State) {
		channelz.SetState(acw.channelzID, s)
		cc.serializer.TrySchedule(func(context.Context) {
			cc.onSubConnState(acw, s)
		})
	})

	cc.mu.Lock()
	cc.conns[acw] = struct{}{}
	cc.mu.Unlock()

	return acw, nil
}

// RemoveSubConn releases the pooled Subchannel backing sc; it is shut
// down by the pool once its refcount drops to zero (spec.md §3 invariant
// on Subchannel destruction).
func (cc *ClientConn) RemoveSubConn(sc balancer.SubConn) {
	acw, ok := sc.(*acBalancerWrapper)
	if !ok {
		return
	}
	cc.mu.Lock()
	delete(cc.conns, acw)
	cc.mu.Unlock()
	acw.sc.RemoveListener(acw.id)
	channelz.RemoveEntry(acw.channelzID)
	cc.pool.Release(acw.key)
}

// UpdateState implements balancer.ClientConn for the root balancer
// (ResolvingLoadBalancer forwards its own aggregated state through
// OnState, not through this method — this exists so a future
// non-resolving caller, e.g. a test harness, can drive the Channel
// directly).
func (cc *ClientConn) UpdateState(s balancer.State) {
	cc.onBalancerState(s)
}

// ResolveNow asks the active resolver to re-resolve immediately.
func (cc *ClientConn) ResolveNow(resolver.ResolveNowOptions) {
	cc.rlb.ResolveNow()
}

// ResetConnectBackoff asks the active load balancing policy to reset the
// reconnect backoff of every SubConn it owns (spec.md §4.5 "resetBackoff
// forwards to all children"), cancelling any pending backoff wait and
// retrying immediately.
func (cc *ClientConn) ResetConnectBackoff() {
	cc.rlb.ResetBackoff()
}

// Target returns the dial target's endpoint.
func (cc *ClientConn) Target() string {
	return cc.target.Endpoint
}

func (cc *ClientConn) onSubConnState(acw *acBalancerWrapper, s connectivity.State) {
	acw.setState(s)
	scs := balancer.SubConnState{ConnectivityState: s}
	if s == connectivity.TransientFailure {
		scs.ConnectionError = status.Error(codes.Unavailable, "connection attempt failed")
	}
	cc.rlb.UpdateSubConnState(acw, scs)
}

func (cc *ClientConn) subchannelKey(addr resolver.Address) string {
	return strings.Join([]string{cc.target.Scheme, cc.target.Authority, addr.Addr, addr.ServerName}, "|")
}

func (cc *ClientConn) authority() string {
	if cc.dopts.defaultAuthority != "" {
		return cc.dopts.defaultAuthority
	}
	if cc.target.Authority != "" {
		return cc.target.Authority
	}
	return cc.target.Endpoint
}

// tryPick implements spec.md §4.7's dispatch algorithm against the
// current Picker.
func (cc *ClientConn) tryPick(e *pickEntry) {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		e.result <- pickOutcome{err: status.Error(codes.Unavailable, "the Channel has been shut down")}
		return
	}
	p := cc.picker
	cc.mu.Unlock()

	if p == nil {
		cc.enqueue(e)
		return
	}

	res, err := p.Pick(e.info)
	switch {
	case err == nil:
		e.result <- pickOutcome{res: res}
	case err == balancer.ErrNoSubConnAvailable:
		cc.enqueue(e)
	default:
		if waitForReady(e.info.Ctx) {
			cc.enqueue(e)
			return
		}
		if _, ok := status.FromError(err); !ok {
			err = status.Error(codes.Unavailable, err.Error())
		}
		e.result <- pickOutcome{err: err}
	}
}

func (cc *ClientConn) enqueue(e *pickEntry) {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		e.result <- pickOutcome{err: status.Error(codes.Unavailable, "the Channel has been shut down")}
		return
	}
	cc.pickQueue = append(cc.pickQueue, e)
	cc.mu.Unlock()
}

type waitForReadyKey struct{}

// NewContextWithWaitForReady marks ctx as a wait-for-ready call: one that
// should queue, rather than fail, while the Picker reports
// TRANSIENT_FAILURE (spec.md §4.7).
func NewContextWithWaitForReady(ctx context.Context) context.Context {
	return context.WithValue(ctx, waitForReadyKey{}, true)
}

func waitForReady(ctx context.Context) bool {
	v, _ := ctx.Value(waitForReadyKey{}).(bool)
	return v
}

// pick blocks until a Pick resolves to COMPLETE or a terminal error,
// honoring ctx's cancellation/deadline.
func (cc *ClientConn) pick(ctx context.Context, method string) (balancer.PickResult, error) {
	e := &pickEntry{info: balancer.PickInfo{FullMethodName: method, Ctx: ctx}, result: make(chan pickOutcome, 1)}
	cc.tryPick(e)
	select {
	case o := <-e.result:
		return o.res, o.err
	case <-ctx.Done():
		return balancer.PickResult{}, status.Newf(codes.DeadlineExceeded, "chanrt: %v", ctx.Err()).Err()
	}
}

// close destroys the ResolvingLoadBalancer, publishes SHUTDOWN, and unrefs
// all pool entries (spec.md §4.7). After Close, createCall fails.
func (cc *ClientConn) Close() error {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return nil
	}
	cc.closed = true
	cc.csState = connectivity.Shutdown
	queue := cc.pickQueue
	cc.pickQueue = nil
	conns := make([]*acBalancerWrapper, 0, len(cc.conns))
	for acw := range cc.conns {
		conns = append(conns, acw)
	}
	cc.mu.Unlock()

	for _, e := range queue {
		e.result <- pickOutcome{err: status.Error(codes.Unavailable, "the Channel has been shut down")}
	}
	for _, acw := range conns {
		cc.RemoveSubConn(acw)
	}

	cc.rlb.Close()
	cc.serializer.Close()
	channelz.RemoveEntry(cc.channelzID)
	logger.Infof("Channel for target %q shut down", cc.target.Endpoint)
	return nil
}

// acBalancerWrapper adapts a pooled *transport.Subchannel to the
// balancer.SubConn contract for one particular NewSubConn caller. Several
// acBalancerWrappers (even across different Channels) may share one
// underlying transport.Subchannel via the pool.
type acBalancerWrapper struct {
	cc         *ClientConn
	sc         *transport.Subchannel
	id         string
	key        string
	channelzID string

	mu    sync.Mutex
	state connectivity.State
}

func (acw *acBalancerWrapper) UpdateAddresses(addrs []resolver.Address) {
	acw.sc.UpdateAddresses(addrs)
}

func (acw *acBalancerWrapper) Connect() {
	acw.sc.Connect()
}

func (acw *acBalancerWrapper) ResetBackoff() {
	acw.sc.ResetBackoff()
}

func (acw *acBalancerWrapper) setState(s connectivity.State) {
	acw.mu.Lock()
	acw.state = s
	acw.mu.Unlock()
}

func (acw *acBalancerWrapper) State() connectivity.State {
	acw.mu.Lock()
	defer acw.mu.Unlock()
	return acw.state
}

// callAuthority derives the per-call :authority, honoring ssl_target_name_override
// when set (spec.md §3 ChannelOptions).
func (cc *ClientConn) callAuthority() string {
	if cc.dopts.sslTargetNameOverride != "" {
		return cc.dopts.sslTargetNameOverride
	}
	return cc.authority()
}

// userAgent composes the wire user-agent header: "<primary> grpc-x/<ver>
// <secondary>", whitespace-separated with empty parts dropped (spec.md §6).
func (cc *ClientConn) userAgent() string {
	parts := []string{cc.dopts.primaryUserAgent, "chanrt-go/1.0", cc.dopts.secondaryUserAgent}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

