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
	"testing"
	"time"

	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/resolver"
)

func TestSubchannelStartsIdle(t *testing.T) {
	sc := NewSubchannel([]resolver.Address{{Addr: "127.0.0.1:1"}}, "", nil, ClientParameters{}, func(connectivity.State) {})
	if got := sc.State(); got != connectivity.Idle {
		t.Errorf("State() = %v, want Idle", got)
	}
}

func TestSubchannelConnectToRefusedPortGoesTransientFailure(t *testing.T) {
	states := make(chan connectivity.State, 16)
	// Port 0's listen-and-immediately-close trick isn't portable; instead
	// dial an address nothing listens on.
	sc := NewSubchannel([]resolver.Address{{Addr: "127.0.0.1:1"}}, "", nil, ClientParameters{}, func(s connectivity.State) {
		states <- s
	})
	sc.Connect()

	var sawConnecting, sawFailure bool
	deadline := time.After(5 * time.Second)
	for !sawFailure {
		select {
		case s := <-states:
			if s == connectivity.Connecting {
				sawConnecting = true
			}
			if s == connectivity.TransientFailure {
				sawFailure = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for TRANSIENT_FAILURE")
		}
	}
	if !sawConnecting {
		t.Error("never observed a CONNECTING transition before TRANSIENT_FAILURE")
	}
	sc.Shutdown()
}

func TestSubchannelUpdateAddressesKeepsIdleConnectionPending(t *testing.T) {
	sc := NewSubchannel([]resolver.Address{{Addr: "127.0.0.1:1"}}, "", nil, ClientParameters{}, func(connectivity.State) {})
	sc.UpdateAddresses([]resolver.Address{{Addr: "127.0.0.1:2"}})
	if got := sc.State(); got != connectivity.Idle {
		t.Errorf("State() after UpdateAddresses while idle = %v, want Idle", got)
	}
	sc.Shutdown()
	if got := sc.State(); got != connectivity.Shutdown {
		t.Errorf("State() after Shutdown = %v, want Shutdown", got)
	}
}

func TestSubchannelShutdownIsTerminal(t *testing.T) {
	sc := NewSubchannel([]resolver.Address{{Addr: "127.0.0.1:1"}}, "", nil, ClientParameters{}, func(connectivity.State) {})
	sc.Shutdown()
	sc.Connect()
	if got := sc.State(); got != connectivity.Shutdown {
		t.Errorf("Connect() after Shutdown changed state to %v, want it to stay Shutdown", got)
	}
}
