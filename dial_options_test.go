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

package chanrt

import (
	"testing"
	"time"

	"github.com/johnsiilver/chanrt/internal/transport"
)

func TestDefaultDialOptionsSetsKeepaliveTimeout(t *testing.T) {
	do := defaultDialOptions()
	if do.keepalive.Timeout != 20*time.Second {
		t.Fatalf("default keepalive timeout = %v, want 20s", do.keepalive.Timeout)
	}
	if do.keepalive.Time != 0 {
		t.Fatalf("default keepalive time = %v, want disabled (0)", do.keepalive.Time)
	}
}

func TestWithAuthorityOverridesDefaultAuthority(t *testing.T) {
	do := defaultDialOptions()
	WithAuthority("custom.authority").apply(&do)
	if do.defaultAuthority != "custom.authority" {
		t.Fatalf("defaultAuthority = %q, want %q", do.defaultAuthority, "custom.authority")
	}
}

func TestWithKeepaliveParamsReplacesDefaults(t *testing.T) {
	do := defaultDialOptions()
	kp := transport.ClientParameters{Time: 5 * time.Second, Timeout: time.Second}
	WithKeepaliveParams(kp).apply(&do)
	if do.keepalive != kp {
		t.Fatalf("keepalive = %+v, want %+v", do.keepalive, kp)
	}
}

func TestWithDefaultServiceConfigParsesJSON(t *testing.T) {
	do := defaultDialOptions()
	WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`).apply(&do)
	if do.defaultServiceConfig == nil {
		t.Fatal("defaultServiceConfig not set")
	}
	if do.defaultServiceConfig.Err != nil {
		t.Fatalf("unexpected parse error: %v", do.defaultServiceConfig.Err)
	}
}

func TestWithDisableServiceConfigClearsIt(t *testing.T) {
	do := defaultDialOptions()
	WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`).apply(&do)
	WithDisableServiceConfig().apply(&do)
	if do.defaultServiceConfig != nil {
		t.Fatal("defaultServiceConfig should be cleared")
	}
}

func TestWithPerRPCCredentialsAppends(t *testing.T) {
	do := defaultDialOptions()
	WithPerRPCCredentials(fakePerRPCCreds{}).apply(&do)
	WithPerRPCCredentials(fakePerRPCCreds{}).apply(&do)
	if len(do.perRPC) != 2 {
		t.Fatalf("perRPC len = %d, want 2", len(do.perRPC))
	}
}

func TestWithDisableRetrySetsFlag(t *testing.T) {
	do := defaultDialOptions()
	WithDisableRetry().apply(&do)
	if !do.disableRetry {
		t.Fatal("disableRetry not set")
	}
}
