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

package roundrobin

import (
	"testing"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/balancer/base"
	"github.com/johnsiilver/chanrt/resolver"
)

// namedSubConn is a minimal balancer.SubConn usable as a map key, standing
// in for the real *transport.Subchannel-backed SubConn.
type namedSubConn struct{ name string }

func (*namedSubConn) UpdateAddresses([]resolver.Address) {}
func (*namedSubConn) Connect()                           {}
func (*namedSubConn) ResetBackoff()                      {}

// TestRoundRobinPickerCyclesReadySubConns covers spec.md §4.5's round_robin
// behavior: a plain cyclic picker over the READY set, with no stickiness,
// visiting every SubConn evenly.
func TestRoundRobinPickerCyclesReadySubConns(t *testing.T) {
	sc1 := &namedSubConn{name: "sc1"}
	sc2 := &namedSubConn{name: "sc2"}
	sc3 := &namedSubConn{name: "sc3"}

	picker := (&rrPickerBuilder{}).Build(base.PickerBuildInfo{
		ReadySCs: map[balancer.SubConn]base.SubConnInfo{
			sc1: {}, sc2: {}, sc3: {},
		},
	})

	seen := make(map[balancer.SubConn]int)
	for i := 0; i < 9; i++ {
		res, err := picker.Pick(balancer.PickInfo{})
		if err != nil {
			t.Fatalf("Pick() error = %v", err)
		}
		seen[res.SubConn]++
	}
	for _, sc := range []balancer.SubConn{sc1, sc2, sc3} {
		if seen[sc] != 3 {
			t.Errorf("SubConn %v picked %d times over 9 picks, want 3 (even cycling)", sc, seen[sc])
		}
	}
}

// TestRoundRobinNoReadySubConnsQueues covers the empty-ReadySCs branch:
// round_robin queues calls (spec.md §3 QUEUE) rather than failing when it
// has no READY backend yet.
func TestRoundRobinNoReadySubConnsQueues(t *testing.T) {
	picker := (&rrPickerBuilder{}).Build(base.PickerBuildInfo{ReadySCs: map[balancer.SubConn]base.SubConnInfo{}})
	if _, err := picker.Pick(balancer.PickInfo{}); err != balancer.ErrNoSubConnAvailable {
		t.Fatalf("Pick() error = %v, want ErrNoSubConnAvailable", err)
	}
}

// TestRoundRobinBuilderName confirms the registered policy name matches
// what resolvingconfig/service-config lookups key on.
func TestRoundRobinBuilderName(t *testing.T) {
	if got := NewBuilder().Name(); got != Name {
		t.Fatalf("Name() = %q, want %q", got, Name)
	}
}
