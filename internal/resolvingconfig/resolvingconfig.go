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

// Package resolvingconfig implements the ResolvingLoadBalancer described
// by spec.md §4.6: it glues a Resolver to a LoadBalancer, runs the
// service-config selection algorithm on each resolution, and hot-swaps
// the active balancer policy when the selected policy name changes.
package resolvingconfig

import (
	"fmt"
	"sync"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/balancer/pickfirst"
	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal/backoff"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	internalserviceconfig "github.com/johnsiilver/chanrt/internal/serviceconfig"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/serviceconfig"
	"github.com/johnsiilver/chanrt/status"
)

var logger = grpclog.Component("core")

// SubConnFactory creates and destroys the balancer.SubConn backing a
// balancer's connection attempts. The owning Channel supplies this so
// that ResolvingLoadBalancer need not know about transports or the
// Subchannel pool (spec.md §4.4/§4.9 remain separate concerns).
type SubConnFactory interface {
	NewSubConn([]resolver.Address, balancer.NewSubConnOptions) (balancer.SubConn, error)
	RemoveSubConn(balancer.SubConn)
}

// ResolvingLoadBalancer glues a Resolver to a LoadBalancer (spec.md §4.6).
type ResolvingLoadBalancer struct {
	target  resolver.Target
	scs     SubConnFactory
	onState func(balancer.State)

	resolverBuilder resolver.Builder
	res             resolver.Resolver

	defaultServiceConfig *serviceconfig.ParseResult

	mu                    sync.Mutex
	previousServiceConfig *serviceconfig.ParseResult
	innerName             string
	inner                 balancer.Balancer
	innerState            balancer.State
	pendingName           string
	pending               balancer.Balancer
	closed                bool

	resolverErrBackoff *backoff.Backoff
	continueResolving  bool
}

// Options configures a ResolvingLoadBalancer.
type Options struct {
	// Target is the parsed dial target.
	Target resolver.Target
	// SubConns creates/destroys SubConns for child balancers.
	SubConns SubConnFactory
	// OnState is invoked every time the effective aggregated state or
	// Picker changes and should be propagated to the channel.
	OnState func(balancer.State)
	// DefaultServiceConfig is used per spec.md §4.6 step 2/3 when the
	// resolver has no service config of its own to offer.
	DefaultServiceConfig *serviceconfig.ParseResult
	// ResolverBuilder is used instead of a scheme-based lookup, letting
	// tests inject a fake resolver.Builder.
	ResolverBuilder resolver.Builder
}

// New creates a ResolvingLoadBalancer and starts resolution.
func New(opts Options) (*ResolvingLoadBalancer, error) {
	rb := opts.ResolverBuilder
	if rb == nil {
		rb = resolver.Get(opts.Target.Scheme)
		if rb == nil {
			return nil, fmt.Errorf("resolvingconfig: no resolver registered for scheme %q", opts.Target.Scheme)
		}
	}

	rlb := &ResolvingLoadBalancer{
		target:               opts.Target,
		scs:                  opts.SubConns,
		onState:               opts.OnState,
		resolverBuilder:       rb,
		defaultServiceConfig:  opts.DefaultServiceConfig,
		resolverErrBackoff:    backoff.New(backoff.DefaultConfig),
	}

	res, err := rb.Build(opts.Target, rlb, resolver.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("resolvingconfig: failed to build resolver: %v", err)
	}
	rlb.res = res
	return rlb, nil
}

// resolver.ClientConn implementation — the resolver calls these.

// UpdateState is called by the resolver with a new resolved State.
func (r *ResolvingLoadBalancer) UpdateState(s resolver.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	var scErr error
	if s.ServiceConfig != nil && s.ServiceConfig.Err != nil {
		scErr = s.ServiceConfig.Err
	}
	working := r.chooseServiceConfigLocked(s.ServiceConfig, nil)
	if working == nil && scErr != nil {
		// spec.md §4.6 step 3's else branch: a real service-config parse
		// error with no previous or default config to fall back on is a
		// resolution failure, not a silent default to pick_first.
		r.onResolutionFailureLocked(scErr)
		return nil
	}

	var lbCfg serviceconfig.LoadBalancingConfig
	policy := pickfirst.Name
	if sc, ok := working.(*internalserviceconfig.ServiceConfig); ok && sc.LB != nil {
		policy = sc.LB.Name
		lbCfg = sc.LB.Config
	}

	if err := r.applyPolicyLocked(policy, lbCfg, s); err != nil {
		return err
	}
	return nil
}

// ReportError is called by the resolver when resolution fails.
func (r *ResolvingLoadBalancer) ReportError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	// spec.md §4.6 step 3: a resolution failure with no serviceConfig
	// falls back to previousServiceConfig/defaultServiceConfig if set;
	// otherwise it's surfaced as a resolution failure.
	if working := r.chooseServiceConfigLocked(nil, err); working == nil {
		r.onResolutionFailureLocked(err)
		return
	}
	if bal := r.activeLocked(); bal != nil {
		bal.ResolverError(err)
	}
}

// ParseServiceConfig parses a raw JSON service config document.
func (r *ResolvingLoadBalancer) ParseServiceConfig(js string) *serviceconfig.ParseResult {
	return internalserviceconfig.Parse(js)
}

// chooseServiceConfigLocked implements spec.md §4.6's selection algorithm
// given (serviceConfig, serviceConfigError, defaultServiceConfig,
// previousServiceConfig). Returns nil if no usable config exists (a pure
// resolution failure).
func (r *ResolvingLoadBalancer) chooseServiceConfigLocked(sc *serviceconfig.ParseResult, scErr error) serviceconfig.Config {
	switch {
	case sc != nil && sc.Err == nil && sc.Config != nil:
		r.previousServiceConfig = sc
		return sc.Config
	case sc != nil && sc.Err != nil:
		scErr = sc.Err
	}

	if scErr == nil {
		r.previousServiceConfig = nil
		if r.defaultServiceConfig != nil {
			return r.defaultServiceConfig.Config
		}
		return nil
	}

	// serviceConfig == nil && error != nil.
	if r.previousServiceConfig != nil {
		return r.previousServiceConfig.Config
	}
	if r.defaultServiceConfig != nil {
		return r.defaultServiceConfig.Config
	}
	return nil
}

// applyPolicyLocked implements spec.md §4.6's "apply policy chosen" step.
func (r *ResolvingLoadBalancer) applyPolicyLocked(name string, cfg serviceconfig.LoadBalancingConfig, s resolver.State) error {
	ccs := balancer.ClientConnState{ResolverState: s, BalancerConfig: cfg}

	switch {
	case r.inner == nil:
		builder := balancer.Get(name)
		if builder == nil {
			logger.Warningf("resolvingconfig: policy %q not registered, falling back to %q", name, pickfirst.Name)
			builder = balancer.Get(pickfirst.Name)
			name = pickfirst.Name
		}
		r.innerName = name
		r.inner = builder.Build(r.wrapperFor(false), balancer.BuildOptions{Target: r.target})
		return r.inner.UpdateClientConnState(ccs)

	case r.innerName == name:
		return r.inner.UpdateClientConnState(ccs)

	default:
		builder := balancer.Get(name)
		if builder == nil {
			logger.Warningf("resolvingconfig: policy %q not registered, falling back to %q", name, pickfirst.Name)
			builder = balancer.Get(pickfirst.Name)
			name = pickfirst.Name
		}
		if r.pending != nil {
			r.pending.Close()
		}
		r.pendingName = name
		r.pending = builder.Build(r.wrapperFor(true), balancer.BuildOptions{Target: r.target})
		p := r.pending

		if r.innerState.ConnectivityState != connectivity.Ready {
			// Active isn't READY: replace immediately rather than
			// staging a hot-swap (spec.md §4.6 "otherwise tear down
			// active and replace immediately").
			r.activateReplacementLocked()
		}
		return p.UpdateClientConnState(ccs)
	}
}

func (r *ResolvingLoadBalancer) activeLocked() balancer.Balancer {
	if r.pending != nil {
		return r.pending
	}
	return r.inner
}

// activateReplacementLocked swaps the pending balancer in as the active
// one, discarding whatever was previously active.
func (r *ResolvingLoadBalancer) activateReplacementLocked() {
	if r.inner != nil {
		r.inner.Close()
	}
	r.inner = r.pending
	r.innerName = r.pendingName
	r.pending = nil
	r.pendingName = ""
}

// ccWrapper adapts the ResolvingLoadBalancer to the balancer.ClientConn
// interface expected by a child LoadBalancer, tagging each update with
// whether it came from the pending (hot-swap candidate) balancer.
type ccWrapper struct {
	r         *ResolvingLoadBalancer
	isPending bool
}

func (r *ResolvingLoadBalancer) wrapperFor(pending bool) balancer.ClientConn {
	return &ccWrapper{r: r, isPending: pending}
}

func (w *ccWrapper) NewSubConn(addrs []resolver.Address, opts balancer.NewSubConnOptions) (balancer.SubConn, error) {
	return w.r.scs.NewSubConn(addrs, opts)
}

func (w *ccWrapper) RemoveSubConn(sc balancer.SubConn) {
	w.r.scs.RemoveSubConn(sc)
}

func (w *ccWrapper) ResolveNow(o resolver.ResolveNowOptions) {
	w.r.res.ResolveNow(o)
}

func (w *ccWrapper) Target() string {
	return w.r.target.Endpoint
}

func (w *ccWrapper) UpdateState(s balancer.State) {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()
	if w.r.closed {
		return
	}

	if w.isPending {
		if w.r.pending == nil {
			return
		}
		// Hot-swap activation rule (spec.md §4.6): activate the
		// replacement when either the active policy leaves READY or the
		// replacement reaches READY.
		if w.r.innerState.ConnectivityState != connectivity.Ready || s.ConnectivityState == connectivity.Ready {
			w.r.activateReplacementLocked()
		} else {
			return
		}
	} else if w.r.inner == nil {
		return
	}

	w.r.innerState = s
	if w.r.onState != nil {
		w.r.onState(s)
	}
}

// onResolutionFailureLocked implements spec.md §4.6's "resolution
// failure" clause: if there's no active policy or it's IDLE, publish
// TRANSIENT_FAILURE with an UnavailablePicker and start backing off
// retries of ResolveNow.
func (r *ResolvingLoadBalancer) onResolutionFailureLocked(err error) {
	if r.inner != nil && r.innerState.ConnectivityState != connectivity.Idle {
		r.inner.ResolverError(err)
		return
	}

	st := status.Newf(codes.Unavailable, "name resolver error: %v", err)
	if r.onState != nil {
		r.onState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &unavailablePicker{err: st.Err()},
		})
	}
	r.scheduleResolveNowBackoffLocked()
}

func (r *ResolvingLoadBalancer) scheduleResolveNowBackoffLocked() {
	if r.resolverErrBackoff.IsRunning() {
		r.continueResolving = true
		return
	}
	r.resolverErrBackoff.RunOnce(func() {
		r.mu.Lock()
		again := r.continueResolving
		r.continueResolving = false
		r.mu.Unlock()
		r.res.ResolveNow(resolver.ResolveNowOptions{})
		if again {
			r.mu.Lock()
			r.scheduleResolveNowBackoffLocked()
			r.mu.Unlock()
		}
	})
}

// ResolveNow asks the active resolver to re-resolve immediately.
func (r *ResolvingLoadBalancer) ResolveNow() {
	r.res.ResolveNow(resolver.ResolveNowOptions{})
}

// UpdateSubConnState forwards a SubConn's connectivity transition to
// whichever of the active/pending balancers created it. A SubConn
// belongs to exactly one balancer, so fanning the call out to both (as
// opposed to tracking per-SubConn ownership) is safe: both base.Balancer
// and pickfirstBalancer ignore state for a SubConn they don't recognize
// (identity comparison against their own scStates/sc).
func (r *ResolvingLoadBalancer) UpdateSubConnState(sc balancer.SubConn, s balancer.SubConnState) {
	r.mu.Lock()
	inner, pending, closed := r.inner, r.pending, r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if inner != nil {
		inner.UpdateSubConnState(sc, s)
	}
	if pending != nil {
		pending.UpdateSubConnState(sc, s)
	}
}

// ResetBackoff implements spec.md §4.5's resetBackoff capability at the
// ResolvingLoadBalancer level: it forwards to the active policy and, if a
// hot-swap is in progress, to the pending replacement too.
func (r *ResolvingLoadBalancer) ResetBackoff() {
	r.mu.Lock()
	inner, pending, closed := r.inner, r.pending, r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if inner != nil {
		inner.ResetBackoff()
	}
	if pending != nil {
		pending.ResetBackoff()
	}
}

// ExitIdle forwards to the active policy, asking it to move its SubConns
// out of IDLE.
func (r *ResolvingLoadBalancer) ExitIdle() {
	r.mu.Lock()
	inner, closed := r.inner, r.closed
	r.mu.Unlock()
	if closed || inner == nil {
		return
	}
	inner.ExitIdle()
}

// Close destroys the ResolvingLoadBalancer: the active and any pending
// balancer are closed, and further resolver callbacks are ignored.
func (r *ResolvingLoadBalancer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.resolverErrBackoff.Stop()
	if r.pending != nil {
		r.pending.Close()
	}
	if r.inner != nil {
		r.inner.Close()
	}
	r.res.Close()
}

// unavailablePicker always fails Pick with the carried status error.
type unavailablePicker struct {
	err error
}

func (p *unavailablePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}
