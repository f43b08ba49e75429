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

package pickfirst

import (
	"errors"
	"testing"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/resolver"
)

// fakeSubConn is a minimal balancer.SubConn recording calls made against
// it, standing in for the real *transport.Subchannel/acBalancerWrapper.
type fakeSubConn struct {
	addrs             []resolver.Address
	connectCalls      int
	resetBackoffCalls int
}

func (f *fakeSubConn) UpdateAddresses(a []resolver.Address) { f.addrs = a }
func (f *fakeSubConn) Connect()                              { f.connectCalls++ }
func (f *fakeSubConn) ResetBackoff()                         { f.resetBackoffCalls++ }

// fakeClientConn is a minimal balancer.ClientConn that hands out
// fakeSubConns and records every published balancer.State.
type fakeClientConn struct {
	subConns []*fakeSubConn
	states   []balancer.State
}

func (f *fakeClientConn) NewSubConn(addrs []resolver.Address, _ balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &fakeSubConn{addrs: addrs}
	f.subConns = append(f.subConns, sc)
	return sc, nil
}
func (f *fakeClientConn) RemoveSubConn(balancer.SubConn)       {}
func (f *fakeClientConn) UpdateState(s balancer.State)         { f.states = append(f.states, s) }
func (f *fakeClientConn) ResolveNow(resolver.ResolveNowOptions) {}
func (f *fakeClientConn) Target() string                       { return "t" }

func addrs(ss ...string) []resolver.Address {
	out := make([]resolver.Address, len(ss))
	for i, s := range ss {
		out[i] = resolver.Address{Addr: s}
	}
	return out
}

func newBalancer() (*pickfirstBalancer, *fakeClientConn) {
	cc := &fakeClientConn{}
	bal := (&pickfirstBuilder{}).Build(cc, balancer.BuildOptions{}).(*pickfirstBalancer)
	return bal, cc
}

// TestPickFirstConnectsSingleSubConnInOrder covers spec.md §4.5 "PickFirst
// sequentially attempts to connect to addresses in order, using one
// Subchannel at a time": the first UpdateClientConnState must create
// exactly one SubConn (given the whole ordered address list — the
// sequential per-address attempt itself lives in the Subchannel below
// this balancer) and call Connect on it, publishing a queueing picker
// while CONNECTING.
func TestPickFirstConnectsSingleSubConnInOrder(t *testing.T) {
	bal, cc := newBalancer()
	a := addrs("10.0.0.1:80", "10.0.0.2:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: a}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}
	if len(cc.subConns) != 1 {
		t.Fatalf("len(subConns) = %d, want 1", len(cc.subConns))
	}
	sc := cc.subConns[0]
	if sc.connectCalls != 1 {
		t.Fatalf("connectCalls = %d, want 1", sc.connectCalls)
	}
	if len(sc.addrs) != 2 || sc.addrs[0].Addr != "10.0.0.1:80" || sc.addrs[1].Addr != "10.0.0.2:80" {
		t.Fatalf("SubConn addrs = %v, want ordered %v", sc.addrs, a)
	}
	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Connecting {
		t.Fatalf("published state = %v, want Connecting", last.ConnectivityState)
	}
	if _, err := last.Picker.Pick(balancer.PickInfo{}); err != balancer.ErrNoSubConnAvailable {
		t.Fatalf("Picker.Pick() error = %v, want ErrNoSubConnAvailable (QUEUE)", err)
	}
}

// TestPickFirstRestartsOnNewAddressList covers spec.md §4.5 "On receiving a
// new address list while CONNECTING, restart from the beginning": the
// existing SubConn is updated in place via UpdateAddresses, not recreated.
func TestPickFirstRestartsOnNewAddressList(t *testing.T) {
	bal, cc := newBalancer()
	first := addrs("10.0.0.1:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: first}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}

	second := addrs("10.0.0.2:80", "10.0.0.3:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: second}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}
	if len(cc.subConns) != 1 {
		t.Fatalf("len(subConns) = %d, want 1 (no new SubConn created)", len(cc.subConns))
	}
	sc := cc.subConns[0]
	if len(sc.addrs) != 2 || sc.addrs[0].Addr != "10.0.0.2:80" {
		t.Fatalf("SubConn addrs = %v, want the new list", sc.addrs)
	}
}

// TestPickFirstPickerFollowsSubConnState covers the picker published for
// each SubConn connectivity state spec.md §4.5 documents.
func TestPickFirstPickerFollowsSubConnState(t *testing.T) {
	bal, cc := newBalancer()
	a := addrs("10.0.0.1:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: a}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}
	sc := cc.subConns[0]

	bal.UpdateSubConnState(sc, balancer.SubConnState{ConnectivityState: connectivity.Ready})
	last := cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Ready {
		t.Fatalf("state = %v, want Ready", last.ConnectivityState)
	}
	res, err := last.Picker.Pick(balancer.PickInfo{})
	if err != nil || res.SubConn != sc {
		t.Fatalf("Pick() = (%v, %v), want (%v, nil)", res.SubConn, err, sc)
	}

	// READY -> IDLE: queue picker that also nudges the SubConn to
	// reconnect (spec.md §4.5 "transitions to IDLE and publishes a
	// QueuePicker").
	bal.UpdateSubConnState(sc, balancer.SubConnState{ConnectivityState: connectivity.Idle})
	last = cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.Idle {
		t.Fatalf("state = %v, want Idle", last.ConnectivityState)
	}
	if _, err := last.Picker.Pick(balancer.PickInfo{}); err != balancer.ErrNoSubConnAvailable {
		t.Fatalf("Pick() error = %v, want ErrNoSubConnAvailable", err)
	}
	if sc.connectCalls != 2 {
		t.Fatalf("connectCalls = %d, want 2 (initial + idle-picker nudge)", sc.connectCalls)
	}

	boom := errors.New("connection refused")
	bal.UpdateSubConnState(sc, balancer.SubConnState{ConnectivityState: connectivity.TransientFailure, ConnectionError: boom})
	last = cc.states[len(cc.states)-1]
	if last.ConnectivityState != connectivity.TransientFailure {
		t.Fatalf("state = %v, want TransientFailure", last.ConnectivityState)
	}
	if _, err := last.Picker.Pick(balancer.PickInfo{}); err != boom {
		t.Fatalf("Pick() error = %v, want %v", err, boom)
	}
}

// TestPickFirstResetBackoffForwardsToSubConn covers spec.md §4.5's
// aggregate-state rule "resetBackoff forwards to all children": pick_first
// has at most one child.
func TestPickFirstResetBackoffForwardsToSubConn(t *testing.T) {
	bal, cc := newBalancer()
	// No SubConn yet: must not panic.
	bal.ResetBackoff()

	a := addrs("10.0.0.1:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: a}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}
	bal.ResetBackoff()
	if got := cc.subConns[0].resetBackoffCalls; got != 1 {
		t.Fatalf("resetBackoffCalls = %d, want 1", got)
	}
}

// TestPickFirstExitIdleReconnectsIdleSubConn covers the ExitIdle capability
// spec.md §2 lists for LoadBalancer.
func TestPickFirstExitIdleReconnectsIdleSubConn(t *testing.T) {
	bal, cc := newBalancer()
	a := addrs("10.0.0.1:80")
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: a}}); err != nil {
		t.Fatalf("UpdateClientConnState: %v", err)
	}
	sc := cc.subConns[0]
	bal.UpdateSubConnState(sc, balancer.SubConnState{ConnectivityState: connectivity.Ready})
	bal.UpdateSubConnState(sc, balancer.SubConnState{ConnectivityState: connectivity.Idle})

	before := sc.connectCalls
	bal.ExitIdle()
	if sc.connectCalls != before+1 {
		t.Fatalf("connectCalls after ExitIdle = %d, want %d", sc.connectCalls, before+1)
	}
}
