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
	"time"

	"github.com/johnsiilver/chanrt/credentials"
	internalserviceconfig "github.com/johnsiilver/chanrt/internal/serviceconfig"
	"github.com/johnsiilver/chanrt/internal/transport"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/serviceconfig"
)

// dialOptions holds the recognized ChannelOptions of spec.md §3:
// ssl_target_name_override, primary_user_agent, secondary_user_agent,
// default_authority, keepalive_time_ms, keepalive_timeout_ms,
// service_config. Unknown options must not cause failure — since this is
// a typed functional-options API rather than a string-keyed map, that
// invariant holds trivially: there is no path to pass an "unknown" option.
type dialOptions struct {
	creds                 credentials.TransportCredentials
	perRPC                []credentials.PerRPCCredentials
	sslTargetNameOverride string
	primaryUserAgent      string
	secondaryUserAgent    string
	defaultAuthority      string
	keepalive             transport.ClientParameters
	defaultServiceConfig  *serviceconfig.ParseResult
	resolverBuilder       resolver.Builder
	disableRetry          bool
}

func defaultDialOptions() dialOptions {
	return dialOptions{
		keepalive: transport.ClientParameters{
			Time:    0,
			Timeout: 20 * time.Second,
		},
	}
}

// DialOption configures a ClientConn created by Dial.
type DialOption interface {
	apply(*dialOptions)
}

type funcDialOption func(*dialOptions)

func (f funcDialOption) apply(do *dialOptions) { f(do) }

// WithTransportCredentials sets the credentials used to secure a
// Subchannel's HTTP/2 connection (spec.md §3 "Credentials"). Without it,
// connections are cleartext h2c.
func WithTransportCredentials(creds credentials.TransportCredentials) DialOption {
	return funcDialOption(func(do *dialOptions) { do.creds = creds })
}

// WithPerRPCCredentials attaches call credentials that run through the
// call-credentials filter on every outgoing call (spec.md §4.8).
func WithPerRPCCredentials(creds credentials.PerRPCCredentials) DialOption {
	return funcDialOption(func(do *dialOptions) { do.perRPC = append(do.perRPC, creds) })
}

// WithServerNameOverride sets ssl_target_name_override: the name presented
// to TransportCredentials.OverrideServerName instead of one derived from
// the target.
func WithServerNameOverride(name string) DialOption {
	return funcDialOption(func(do *dialOptions) { do.sslTargetNameOverride = name })
}

// WithUserAgent sets primary_user_agent, prepended to the wire user-agent
// header (spec.md §6 "user-agent = <primary> grpc-x/<ver> <secondary>").
func WithUserAgent(primary string) DialOption {
	return funcDialOption(func(do *dialOptions) { do.primaryUserAgent = primary })
}

// WithSecondaryUserAgent sets secondary_user_agent, appended to the wire
// user-agent header.
func WithSecondaryUserAgent(secondary string) DialOption {
	return funcDialOption(func(do *dialOptions) { do.secondaryUserAgent = secondary })
}

// WithAuthority sets default_authority, overriding the :authority derived
// from the target.
func WithAuthority(authority string) DialOption {
	return funcDialOption(func(do *dialOptions) { do.defaultAuthority = authority })
}

// WithKeepaliveParams sets keepalive_time_ms/keepalive_timeout_ms.
func WithKeepaliveParams(kp transport.ClientParameters) DialOption {
	return funcDialOption(func(do *dialOptions) { do.keepalive = kp })
}

// WithDefaultServiceConfig sets service_config: the fallback service
// config used per spec.md §4.6 steps 2/3 whenever the resolver offers no
// service config of its own.
func WithDefaultServiceConfig(js string) DialOption {
	return funcDialOption(func(do *dialOptions) {
		do.defaultServiceConfig = internalserviceconfig.Parse(js)
	})
}

// WithDefaultServiceConfigParsed is like WithDefaultServiceConfig but
// takes an already-parsed result, letting callers share one parse across
// many Dial calls.
func WithDefaultServiceConfigParsed(sc *serviceconfig.ParseResult) DialOption {
	return funcDialOption(func(do *dialOptions) { do.defaultServiceConfig = sc })
}

// WithDisableServiceConfig clears any previously set default service
// config.
func WithDisableServiceConfig() DialOption {
	return funcDialOption(func(do *dialOptions) { do.defaultServiceConfig = nil })
}

// WithResolverBuilder overrides scheme-based resolver lookup, letting
// tests inject a fake resolver.Builder without registering it globally.
func WithResolverBuilder(b resolver.Builder) DialOption {
	return funcDialOption(func(do *dialOptions) { do.resolverBuilder = b })
}

// WithDisableRetry disables the retry policy named by a method config's
// RetryPolicy (spec.md's Non-goals exclude implementing the retry state
// machine itself; this option exists so callers can be explicit that no
// retries will occur even though MethodConfig.RetryPolicy is parsed).
func WithDisableRetry() DialOption {
	return funcDialOption(func(do *dialOptions) { do.disableRetry = true })
}
