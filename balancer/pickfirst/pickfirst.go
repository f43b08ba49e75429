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

// Package pickfirst implements the pick_first load balancing policy,
// spec.md §4.5's default LoadBalancer: it maintains a single Subchannel at
// a time, attempting the resolved addresses in order until one connects.
package pickfirst

import (
	"errors"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	"github.com/johnsiilver/chanrt/resolver"
)

// Name is the name of the pick_first balancer.
const Name = "pick_first"

var logger = grpclog.Component("pickfirst")

// NewBuilder creates a new pick_first balancer builder.
func NewBuilder() balancer.Builder {
	return &pickfirstBuilder{}
}

func init() {
	balancer.Register(NewBuilder())
}

type pickfirstBuilder struct{}

func (*pickfirstBuilder) Build(cc balancer.ClientConn, opts balancer.BuildOptions) balancer.Balancer {
	return &pickfirstBalancer{cc: cc, state: connectivity.Idle}
}

func (*pickfirstBuilder) Name() string {
	return Name
}

// pickfirstBalancer implements spec.md §4.5's pick_first state machine: a
// single active SubConn, attempted against the resolved address list in
// order. A new address list arriving while still CONNECTING restarts the
// attempt from the beginning of the new list, unless the SubConn currently
// being attempted is still present in it (in which case that attempt
// continues undisturbed).
type pickfirstBalancer struct {
	cc    balancer.ClientConn
	sc    balancer.SubConn
	state connectivity.State
}

func (b *pickfirstBalancer) ResolverError(err error) {
	logger.Warningf("pickfirst: ResolverError called with error: %v", err)
	if b.sc == nil {
		b.state = connectivity.TransientFailure
	}
	if b.state != connectivity.TransientFailure {
		return
	}
	b.cc.UpdateState(balancer.State{
		ConnectivityState: connectivity.TransientFailure,
		Picker:            &errPicker{err: err},
	})
}

func (b *pickfirstBalancer) UpdateClientConnState(cs balancer.ClientConnState) error {
	addrs := cs.ResolverState.Addresses
	if len(addrs) == 0 {
		b.ResolverError(errors.New("produced zero addresses"))
		return balancer.ErrBadResolverState
	}

	if b.sc == nil {
		sc, err := b.cc.NewSubConn(addrs, balancer.NewSubConnOptions{})
		if err != nil {
			logger.Warningf("pickfirst: failed to create new SubConn: %v", err)
			b.state = connectivity.TransientFailure
			b.cc.UpdateState(balancer.State{
				ConnectivityState: connectivity.TransientFailure,
				Picker:            &errPicker{err: err},
			})
			return balancer.ErrBadResolverState
		}
		b.sc = sc
		b.state = connectivity.Idle
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &queuePicker{}})
		sc.Connect()
		return nil
	}

	// A SubConn already exists. Point it at the new address list; the
	// core keeps the active connection if its address is still present,
	// and otherwise tears down and restarts against the new list's
	// beginning (spec.md §4.5 "restart from the beginning of the new
	// list").
	b.sc.UpdateAddresses(addrs)
	return nil
}

func (b *pickfirstBalancer) UpdateSubConnState(sc balancer.SubConn, s balancer.SubConnState) {
	if b.sc != sc {
		logger.Infof("pickfirst: ignored state change for unknown SubConn: %p, %v", sc, s)
		return
	}
	b.state = s.ConnectivityState
	if s.ConnectivityState == connectivity.Shutdown {
		b.sc = nil
		return
	}

	switch s.ConnectivityState {
	case connectivity.Ready:
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.Ready,
			Picker:            &picker{result: balancer.PickResult{SubConn: sc}},
		})
	case connectivity.Connecting:
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Connecting, Picker: &queuePicker{}})
	case connectivity.Idle:
		// Leaving READY: publish a queueing picker per spec.md §4.5 and
		// nudge the SubConn to reconnect.
		b.cc.UpdateState(balancer.State{ConnectivityState: connectivity.Idle, Picker: &idlePicker{sc: sc}})
	case connectivity.TransientFailure:
		b.cc.UpdateState(balancer.State{
			ConnectivityState: connectivity.TransientFailure,
			Picker:            &errPicker{err: s.ConnectionError},
		})
	}
}

// ResetBackoff implements spec.md §4.5's "resetBackoff forwards to all
// children": pick_first has at most one child SubConn at a time.
func (b *pickfirstBalancer) ResetBackoff() {
	if b.sc != nil {
		b.sc.ResetBackoff()
	}
}

// ExitIdle reconnects the lone SubConn if it is currently idle, the same
// nudge idlePicker.Pick gives when a queued call arrives while IDLE.
func (b *pickfirstBalancer) ExitIdle() {
	if b.sc != nil && b.state == connectivity.Idle {
		b.sc.Connect()
	}
}

func (b *pickfirstBalancer) Close() {}

// picker always returns the same fixed PickResult. Used once the single
// SubConn is READY.
type picker struct {
	result balancer.PickResult
}

func (p *picker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return p.result, nil
}

// queuePicker tells the core to queue the call until a new Picker is
// published (spec.md §3's QUEUE outcome), used while CONNECTING.
type queuePicker struct{}

func (*queuePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}

// idlePicker queues the call and asks the SubConn to reconnect, used when
// the lone SubConn has gone IDLE after a previously READY connection was
// lost (spec.md §4.5 "back to idle" transition).
type idlePicker struct {
	sc balancer.SubConn
}

func (p *idlePicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	p.sc.Connect()
	return balancer.PickResult{}, balancer.ErrNoSubConnAvailable
}

// errPicker always fails Pick with the same error.
type errPicker struct {
	err error
}

func (p *errPicker) Pick(balancer.PickInfo) (balancer.PickResult, error) {
	return balancer.PickResult{}, p.err
}
