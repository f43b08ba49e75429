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

package base

import (
	"testing"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/resolver"
)

type fakeSubConn struct {
	resetBackoffCalls int
	connectCalls      int
}

func (f *fakeSubConn) UpdateAddresses([]resolver.Address) {}
func (f *fakeSubConn) Connect()                           { f.connectCalls++ }
func (f *fakeSubConn) ResetBackoff()                      { f.resetBackoffCalls++ }

type fakeClientConn struct {
	subConns []*fakeSubConn
}

func (f *fakeClientConn) NewSubConn([]resolver.Address, balancer.NewSubConnOptions) (balancer.SubConn, error) {
	sc := &fakeSubConn{}
	f.subConns = append(f.subConns, sc)
	return sc, nil
}
func (f *fakeClientConn) RemoveSubConn(balancer.SubConn)       {}
func (f *fakeClientConn) UpdateState(balancer.State)           {}
func (f *fakeClientConn) ResolveNow(resolver.ResolveNowOptions) {}
func (f *fakeClientConn) Target() string                       { return "t" }

type nopPickerBuilder struct{}

func (nopPickerBuilder) Build(PickerBuildInfo) balancer.Picker {
	return NewErrPicker(balancer.ErrNoSubConnAvailable)
}

func newTestBalancer(n int) (*baseBalancer, *fakeClientConn) {
	cc := &fakeClientConn{}
	bal := NewBalancerBuilder("test", nopPickerBuilder{}, Config{}).Build(cc, balancer.BuildOptions{}).(*baseBalancer)
	addrs := make([]resolver.Address, n)
	for i := range addrs {
		addrs[i] = resolver.Address{Addr: string(rune('a' + i))}
	}
	if err := bal.UpdateClientConnState(balancer.ClientConnState{ResolverState: resolver.State{Addresses: addrs}}); err != nil {
		panic(err)
	}
	return bal, cc
}

// TestResetBackoffForwardsToEveryChild covers spec.md §4.5's aggregate-state
// rule "resetBackoff forwards to all children" for the address-list
// balancer skeleton shared by round_robin and similar policies.
func TestResetBackoffForwardsToEveryChild(t *testing.T) {
	bal, cc := newTestBalancer(3)
	bal.ResetBackoff()
	for i, sc := range cc.subConns {
		if sc.resetBackoffCalls != 1 {
			t.Errorf("subConns[%d].resetBackoffCalls = %d, want 1", i, sc.resetBackoffCalls)
		}
	}
}

// TestExitIdleReconnectsOnlyIdleChildren confirms ExitIdle only nudges
// SubConns still sitting in IDLE, leaving ones already connecting/ready
// alone.
func TestExitIdleReconnectsOnlyIdleChildren(t *testing.T) {
	bal, cc := newTestBalancer(2)
	for _, sc := range cc.subConns {
		sc.connectCalls = 0
	}
	// Move the first SubConn out of IDLE.
	bal.UpdateSubConnState(cc.subConns[0], balancer.SubConnState{ConnectivityState: connectivity.Connecting})

	bal.ExitIdle()
	if cc.subConns[0].connectCalls != 0 {
		t.Errorf("subConns[0].connectCalls = %d, want 0 (no longer idle)", cc.subConns[0].connectCalls)
	}
	if cc.subConns[1].connectCalls != 1 {
		t.Errorf("subConns[1].connectCalls = %d, want 1 (still idle)", cc.subConns[1].connectCalls)
	}
}
