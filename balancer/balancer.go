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

// Package balancer defines the APIs for load balancing in the channel
// runtime (spec.md §4.5 "LoadBalancer"). All APIs in this package are
// experimental.
package balancer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/serviceconfig"
)

var (
	// m is a map from name to balancer builder.
	m = make(map[string]Builder)
)

// Register registers the balancer builder to the balancer map. b.Name
// (lowercased) will be used as the name registered with this builder. If
// the Builder implements ConfigParser, ParseConfig will be called when new
// service configs are received by the resolver, and the result will be
// provided to the Balancer in UpdateClientConnState.
//
// NOTE: this function must only be called during initialization time (i.e.
// in an init() function), and is not thread-safe. If multiple Balancers are
// registered with the same name, the one registered last will take effect.
func Register(b Builder) {
	m[strings.ToLower(b.Name())] = b
}

// unregisterForTesting deletes the balancer with the given name from the
// balancer map.
//
// This function is not thread-safe.
func unregisterForTesting(name string) {
	delete(m, name)
}

func init() {
	internal.BalancerUnregister = unregisterForTesting
}

// Get returns the balancer builder registered with the given name.
// The comparison is done in a case-insensitive fashion.
// If no builder is registered with the name, nil is returned.
func Get(name string) Builder {
	if b, ok := m[strings.ToLower(name)]; ok {
		return b
	}
	return nil
}

// SubConn represents a single backend connection (spec.md's "Subchannel").
// A SubConn has its own IDLE/CONNECTING/READY/TRANSIENT_FAILURE state
// machine (spec.md §4.3) driven entirely by the core; balancers only
// observe state via UpdateSubConnState and drive it via Connect.
//
// All SubConns start in IDLE and will not try to connect until Connect is
// called. This interface is implemented by the core; balancer
// implementations should not provide their own.
type SubConn interface {
	// UpdateAddresses updates the addresses used in this SubConn. If the
	// currently connected address is still in the new list, the connection
	// is kept; otherwise it is gracefully torn down and reconnected,
	// triggering a state transition for the SubConn.
	UpdateAddresses([]resolver.Address)
	// Connect starts connecting this SubConn.
	Connect()
	// ResetBackoff cancels any pending reconnect backoff for this SubConn
	// and retries immediately if it is currently waiting out one (spec.md
	// §4.5 "resetBackoff forwards to all children", where each SubConn is
	// one such child).
	ResetBackoff()
}

// NewSubConnOptions contains options for creating a new SubConn.
type NewSubConnOptions struct {
	// HealthCheckEnabled indicates whether health checking should be
	// enabled on this SubConn.
	HealthCheckEnabled bool
}

// State contains the balancer's state relevant to the ClientConn.
type State struct {
	// ConnectivityState is the aggregated connectivity state computed by
	// the balancer, per spec.md §4.5's aggregate-state rules.
	ConnectivityState connectivity.State
	// Picker is used to choose a SubConn for each outgoing call.
	Picker Picker
}

// ClientConn is the contract a LoadBalancer uses to talk back to the
// channel that owns it (implemented by the core's Channel, spec.md §4.7).
type ClientConn interface {
	// NewSubConn is called by the balancer to create a new SubConn. It
	// does not wait for the connection to be established before
	// returning. The SubConn's behavior is controlled by opts.
	NewSubConn([]resolver.Address, NewSubConnOptions) (SubConn, error)
	// RemoveSubConn removes the SubConn from the ClientConn; it is shut
	// down once its refcount drops to zero (spec.md §3 invariant on
	// Subchannel destruction).
	RemoveSubConn(SubConn)
	// UpdateState notifies the core that the balancer's internal state has
	// changed. The core updates the ClientConn's aggregated connectivity
	// state and, on the next pick, begins using the new Picker.
	UpdateState(State)
	// ResolveNow is called by the balancer to ask the core to re-invoke the
	// active resolver.
	ResolveNow(resolver.ResolveNowOptions)
	// Target returns the dial target this ClientConn was created with.
	Target() string
}

// BuildOptions contains additional information for Build.
type BuildOptions struct {
	// Target contains the parsed dial target, the same resolver.Target
	// passed to the resolver.
	Target resolver.Target
}

// Builder creates a balancer.
type Builder interface {
	// Build creates a new balancer for the given ClientConn.
	Build(cc ClientConn, opts BuildOptions) Balancer
	// Name returns the name of balancers built by this builder. It is used
	// to pick a balancer from a service-config loadBalancingConfig entry
	// (spec.md §4.6) and so must be unique.
	Name() string
}

// ConfigParser parses a load-balancing policy's JSON configuration.
type ConfigParser interface {
	// ParseConfig parses the provided JSON load-balancing policy config
	// into an internal form, or returns an error if the config is invalid.
	// Unknown fields should be ignored for forward compatibility.
	ParseConfig(loadBalancingConfigJSON json.RawMessage) (serviceconfig.LoadBalancingConfig, error)
}

// PickInfo contains additional information for a Pick operation.
type PickInfo struct {
	// FullMethodName is the method being called, in the canonical
	// "/service/Method" form.
	FullMethodName string
	// Ctx is the RPC's context and may carry outgoing metadata relevant to
	// the pick (e.g. a stateful-routing sticky key).
	Ctx context.Context
}

// DoneInfo contains additional information about a completed RPC.
type DoneInfo struct {
	// Err is the RPC's error, if any.
	Err error
	// Trailer is the RPC's trailer metadata, if any.
	Trailer metadata.MD
	// BytesSent indicates whether any bytes were sent to the server.
	BytesSent bool
	// BytesReceived indicates whether any bytes were received from the
	// server.
	BytesReceived bool
}

var (
	// ErrNoSubConnAvailable indicates no SubConn is available for Pick().
	// The core blocks the RPC until a new Picker is available via
	// UpdateState() — this is the QUEUE outcome of spec.md §3 PickResult.
	ErrNoSubConnAvailable = errors.New("no SubConn is available")
)

// PickResult contains the outcome of a Pick call. It maps directly onto
// spec.md §3's sum type {COMPLETE(subchannel) | QUEUE | TRANSIENT_FAILURE(status)}:
// a non-nil SubConn with a nil error is COMPLETE, a nil SubConn with
// ErrNoSubConnAvailable is QUEUE, and any other non-nil error is
// TRANSIENT_FAILURE carrying that error/status.
type PickResult struct {
	// SubConn is the connection to use for this pick, valid only when Err
	// is nil. A nil SubConn with a nil Err means "drop": the call fails
	// UNAVAILABLE("Request dropped by load balancing policy") without
	// consuming a connection.
	SubConn SubConn
	// Done is called when the RPC completes. May be nil.
	Done func(DoneInfo)
}

// Picker is used by the core to choose a SubConn for each outgoing call
// (spec.md §4.7 "tryPick"). A new Picker is generated by the balancer
// whenever its internal state changes, and pushed to the core via
// ClientConn.UpdateState.
type Picker interface {
	// Pick returns the connection to use for this RPC and related
	// information. Pick is a pure function — spec.md §8 "For all Pickers P
	// and requests r, P.pick(r) is a total pure function (no side
	// effects)" — and must not block.
	//
	//   - If the error is ErrNoSubConnAvailable, the core queues the call
	//     until a new Picker is available.
	//   - If the error is a Status error, the core fails the call with that
	//     code and message (unless the call requested wait-for-ready).
	//   - For any other non-nil error, the RPC is treated the same as a
	//     Status error with codes.Unavailable.
	Pick(info PickInfo) (PickResult, error)
}

// Balancer receives input from the core, manages SubConns, and collects and
// aggregates connectivity states. It also generates and updates the Picker
// used to choose SubConns for RPCs.
//
// UpdateClientConnState, ResolverError, UpdateSubConnState, and Close are
// guaranteed to be called from the same goroutine (spec.md §5's single
// logical executor). Picker.Pick carries no such guarantee and may be
// called concurrently from many goroutines at once.
type Balancer interface {
	// UpdateClientConnState is called by the core when the ClientConn
	// state changes. If the returned error is ErrBadResolverState, the
	// ClientConn begins calling ResolveNow on the active resolver with
	// exponential backoff until a subsequent call to
	// UpdateClientConnState returns a nil error. Any other error is
	// currently ignored.
	UpdateClientConnState(ClientConnState) error
	// ResolverError is called by the core when the name resolver reports
	// an error.
	ResolverError(error)
	// UpdateSubConnState is called by the core when one of the
	// balancer's SubConns changes state.
	UpdateSubConnState(SubConn, SubConnState)
	// ResetBackoff resets the connection backoff of every SubConn the
	// balancer owns (spec.md §4.5 "resetBackoff forwards to all
	// children").
	ResetBackoff()
	// ExitIdle instructs the balancer to move out of IDLE if it is
	// currently there, e.g. by calling Connect on an idle SubConn. A
	// balancer that has no notion of "idle" may make this a no-op.
	ExitIdle()
	// Close closes the balancer. The balancer does not need to call
	// ClientConn.RemoveSubConn for its existing SubConns; the core removes
	// them as part of its own Channel.close (spec.md §4.7).
	Close()
}

// SubConnState describes the state of a SubConn.
type SubConnState struct {
	// ConnectivityState is the SubConn's connectivity state.
	ConnectivityState connectivity.State
	// ConnectionError describes why the SubConn entered TransientFailure,
	// if ConnectivityState is TransientFailure. Otherwise nil.
	ConnectionError error
}

// ClientConnState describes the state of a ClientConn relevant to a
// balancer.
type ClientConnState struct {
	ResolverState resolver.State
	// BalancerConfig is the result of the relevant Builder's ParseConfig
	// method, if that builder implements ConfigParser.
	BalancerConfig serviceconfig.LoadBalancingConfig
}

// ErrBadResolverState may be returned by UpdateClientConnState to indicate a
// problem with the provided resolver data.
var ErrBadResolverState = errors.New("bad resolver state")

// ConnectivityStateEvaluator takes the connectivity states of multiple
// SubConns and returns one aggregated connectivity state, per spec.md
// §4.5's aggregate-state rules ("READY if any child is READY; else
// CONNECTING if any is CONNECTING; else IDLE if any is IDLE; else
// TRANSIENT_FAILURE").
//
// It's not thread safe; callers serialize access on the single logical
// executor (spec.md §5).
type ConnectivityStateEvaluator struct {
	numReady      uint64
	numConnecting uint64
	numIdle       uint64
}

// RecordTransition records a state change happening in a SubConn and
// returns the newly aggregated state.
func (cse *ConnectivityStateEvaluator) RecordTransition(oldState, newState connectivity.State) connectivity.State {
	for idx, state := range []connectivity.State{oldState, newState} {
		updateVal := int64(2*idx - 1) // -1 for oldState, +1 for newState.
		switch state {
		case connectivity.Ready:
			cse.numReady = uint64(int64(cse.numReady) + updateVal)
		case connectivity.Connecting:
			cse.numConnecting = uint64(int64(cse.numConnecting) + updateVal)
		case connectivity.Idle:
			cse.numIdle = uint64(int64(cse.numIdle) + updateVal)
		}
	}

	if cse.numReady > 0 {
		return connectivity.Ready
	}
	if cse.numConnecting > 0 {
		return connectivity.Connecting
	}
	if cse.numIdle > 0 {
		return connectivity.Idle
	}
	return connectivity.TransientFailure
}
