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

package resolvingconfig

import (
	"errors"
	"testing"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/balancer/pickfirst"
	"github.com/johnsiilver/chanrt/balancer/roundrobin"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal/backoff"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/serviceconfig"
)

type fakeConfig struct{}

func (*fakeConfig) isServiceConfig() {}

func TestChooseServiceConfigUsesFreshConfig(t *testing.T) {
	r := &ResolvingLoadBalancer{}
	cfg := &fakeConfig{}
	got := r.chooseServiceConfigLocked(&serviceconfig.ParseResult{Config: cfg}, nil)
	if got != cfg {
		t.Fatalf("chooseServiceConfigLocked() = %v, want the fresh config", got)
	}
	if r.previousServiceConfig == nil || r.previousServiceConfig.Config != cfg {
		t.Fatalf("previousServiceConfig not remembered")
	}
}

func TestChooseServiceConfigClearsPreviousOnCleanEmptyResolution(t *testing.T) {
	r := &ResolvingLoadBalancer{previousServiceConfig: &serviceconfig.ParseResult{Config: &fakeConfig{}}}
	got := r.chooseServiceConfigLocked(nil, nil)
	if got != nil {
		t.Fatalf("chooseServiceConfigLocked() = %v, want nil (no default configured)", got)
	}
	if r.previousServiceConfig != nil {
		t.Fatalf("previousServiceConfig not cleared on a clean empty resolution")
	}
}

func TestChooseServiceConfigFallsBackToPreviousOnError(t *testing.T) {
	prevCfg := &fakeConfig{}
	r := &ResolvingLoadBalancer{previousServiceConfig: &serviceconfig.ParseResult{Config: prevCfg}}
	got := r.chooseServiceConfigLocked(nil, errors.New("boom"))
	if got != prevCfg {
		t.Fatalf("chooseServiceConfigLocked() = %v, want previous config kept on error", got)
	}
}

func TestChooseServiceConfigFallsBackToDefaultOnError(t *testing.T) {
	defCfg := &fakeConfig{}
	r := &ResolvingLoadBalancer{defaultServiceConfig: &serviceconfig.ParseResult{Config: defCfg}}
	got := r.chooseServiceConfigLocked(nil, errors.New("boom"))
	if got != defCfg {
		t.Fatalf("chooseServiceConfigLocked() = %v, want default config on error with no previous", got)
	}
}

func TestChooseServiceConfigNilOnBareError(t *testing.T) {
	r := &ResolvingLoadBalancer{}
	got := r.chooseServiceConfigLocked(nil, errors.New("boom"))
	if got != nil {
		t.Fatalf("chooseServiceConfigLocked() = %v, want nil (pure resolution failure)", got)
	}
}

// TestUpdateStateSurfacesResolutionFailureOnBareServiceConfigError exercises
// UpdateState's integration behavior, not just the chooseServiceConfigLocked
// helper: a real service-config parse error with no previous or default
// config to fall back on must surface as a resolution failure rather than
// silently defaulting to pick_first.
func TestUpdateStateSurfacesResolutionFailureOnBareServiceConfigError(t *testing.T) {
	var calls int
	var got balancer.State
	r := &ResolvingLoadBalancer{
		resolverErrBackoff: backoff.New(backoff.DefaultConfig),
		onState: func(s balancer.State) {
			calls++
			got = s
		},
	}
	defer r.resolverErrBackoff.Stop()

	err := r.UpdateState(resolver.State{
		ServiceConfig: &serviceconfig.ParseResult{Err: errors.New("bad json")},
	})
	if err != nil {
		t.Fatalf("UpdateState() error = %v, want nil (failure is surfaced via onState)", err)
	}
	if calls != 1 {
		t.Fatalf("onState invoked %d times, want 1", calls)
	}
	if got.ConnectivityState != connectivity.TransientFailure {
		t.Fatalf("ConnectivityState = %v, want TransientFailure", got.ConnectivityState)
	}
	if _, err := got.Picker.Pick(balancer.PickInfo{}); err == nil {
		t.Fatal("Picker.Pick() succeeded, want the surfaced resolution error")
	}
}

// TestUpdateStateFallsBackToPreviousServiceConfigOnError confirms the
// fallback path (previousServiceConfig present) is unaffected: it must not
// be treated as a resolution failure merely because the new resolution
// carried a parse error.
func TestUpdateStateFallsBackToPreviousServiceConfigOnError(t *testing.T) {
	r := &ResolvingLoadBalancer{
		resolverErrBackoff:    backoff.New(backoff.DefaultConfig),
		previousServiceConfig: &serviceconfig.ParseResult{Config: &fakeConfig{}},
	}
	defer r.resolverErrBackoff.Stop()

	scErr := errors.New("bad json")
	working := r.chooseServiceConfigLocked(&serviceconfig.ParseResult{Err: scErr}, nil)
	if working == nil {
		t.Fatal("chooseServiceConfigLocked() = nil, want the previous config kept")
	}
}

// fakeSC is a minimal balancer.SubConn recording calls made against it.
type fakeSC struct{ addrs []resolver.Address }

func (f *fakeSC) UpdateAddresses(a []resolver.Address) { f.addrs = a }
func (*fakeSC) Connect()                               {}
func (*fakeSC) ResetBackoff()                          {}

// fakeSCFactory implements SubConnFactory, handing out fakeSCs and
// recording every one it creates in creation order.
type fakeSCFactory struct{ created []*fakeSC }

func (f *fakeSCFactory) NewSubConn(addrs []resolver.Address, _ balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &fakeSC{addrs: addrs}
	f.created = append(f.created, sc)
	return sc, nil
}
func (f *fakeSCFactory) RemoveSubConn(balancer.SubConn) {}

// TestHotSwapPickFirstToRoundRobin covers spec.md's end-to-end "service
// config changes from {pick_first} to {round_robin} while the channel is
// READY" scenario: the replacement is built and starts connecting while
// pick_first keeps serving, and the swap only happens once the replacement
// itself reaches READY.
func TestHotSwapPickFirstToRoundRobin(t *testing.T) {
	scs := &fakeSCFactory{}
	var states []balancer.State
	r := &ResolvingLoadBalancer{
		scs:                scs,
		resolverErrBackoff: backoff.New(backoff.DefaultConfig),
		onState:            func(s balancer.State) { states = append(states, s) },
	}
	defer r.resolverErrBackoff.Stop()

	pfAddrs := []resolver.Address{{Addr: "10.0.0.1:80"}}
	if err := r.applyPolicyLocked(pickfirst.Name, nil, resolver.State{Addresses: pfAddrs}); err != nil {
		t.Fatalf("applyPolicyLocked(pick_first) error = %v", err)
	}
	if r.innerName != pickfirst.Name {
		t.Fatalf("innerName = %q, want %q", r.innerName, pickfirst.Name)
	}
	if len(scs.created) != 1 {
		t.Fatalf("len(created SubConns) = %d, want 1", len(scs.created))
	}
	pfSC := scs.created[0]

	r.UpdateSubConnState(pfSC, balancer.SubConnState{ConnectivityState: connectivity.Ready})
	if r.innerState.ConnectivityState != connectivity.Ready {
		t.Fatalf("innerState = %v, want Ready", r.innerState.ConnectivityState)
	}

	rrAddrs := []resolver.Address{{Addr: "10.0.0.2:80"}}
	if err := r.applyPolicyLocked(roundrobin.Name, nil, resolver.State{Addresses: rrAddrs}); err != nil {
		t.Fatalf("applyPolicyLocked(round_robin) error = %v", err)
	}
	if r.innerName != pickfirst.Name {
		t.Fatalf("innerName = %q, want still %q (swap not yet activated)", r.innerName, pickfirst.Name)
	}
	if r.pending == nil || r.pendingName != roundrobin.Name {
		t.Fatalf("pending = %v (%q), want a staged round_robin replacement", r.pending, r.pendingName)
	}
	if len(scs.created) != 2 {
		t.Fatalf("len(created SubConns) = %d, want 2 (pick_first's + round_robin's)", len(scs.created))
	}
	rrSC := scs.created[1]

	// The replacement reaching READY activates the swap (spec.md: "until
	// the replacement reports READY, then atomically swaps").
	r.UpdateSubConnState(rrSC, balancer.SubConnState{ConnectivityState: connectivity.Ready})
	if r.innerName != roundrobin.Name {
		t.Fatalf("innerName = %q, want %q after activation", r.innerName, roundrobin.Name)
	}
	if r.pending != nil {
		t.Fatalf("pending = %v, want nil after activation", r.pending)
	}

	last := states[len(states)-1]
	if last.ConnectivityState != connectivity.Ready {
		t.Fatalf("last published state = %v, want Ready", last.ConnectivityState)
	}
	res, err := last.Picker.Pick(balancer.PickInfo{})
	if err != nil || res.SubConn != rrSC {
		t.Fatalf("Picker.Pick() = (%v, %v), want (%v, nil) — the round_robin SubConn", res.SubConn, err, rrSC)
	}
}
