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

// Package resolver defines the APIs for name resolution in the channel
// runtime (spec.md §4.2 "Resolver"). All APIs in this package are
// experimental.
package resolver

import (
	"github.com/johnsiilver/chanrt/attributes"
	"github.com/johnsiilver/chanrt/internal"
	"github.com/johnsiilver/chanrt/serviceconfig"
)

var (
	// m is a map from scheme to resolver builder.
	m = make(map[string]Builder)
	// defaultScheme is the default scheme to use.
	defaultScheme = "passthrough"
)

// Register registers the resolver builder to the resolver map. b.Scheme()
// will be used as the scheme registered with this builder.
//
// NOTE: this function must only be called during initialization time (i.e.
// in an init() function), and is not thread-safe. If multiple Resolvers are
// registered with the same name, the one registered last will take effect.
func Register(b Builder) {
	m[b.Scheme()] = b
}

// unregisterForTesting deletes the resolver builder with the given scheme
// from the resolver map.
//
// This function is not thread-safe.
func unregisterForTesting(scheme string) {
	delete(m, scheme)
}

func init() {
	internal.ResolverUnregister = unregisterForTesting
}

// Get returns the resolver builder registered with the given scheme.
//
// If no builder is registered with the scheme, nil is returned.
func Get(scheme string) Builder {
	if b, ok := m[scheme]; ok {
		return b
	}
	return nil
}

// SetDefaultScheme sets the default scheme that will be used. The default
// default scheme is "passthrough".
//
// NOTE: this function must only be called during initialization time (i.e.
// in an init() function), and is not thread-safe. The scheme set last
// overrides previously set values.
func SetDefaultScheme(scheme string) {
	defaultScheme = scheme
}

// GetDefaultScheme gets the default scheme that will be used.
func GetDefaultScheme() string {
	return defaultScheme
}

// Address represents a server the channel may connect to (spec.md §3
// "Address": opaque strings like "ip:port" or "[ip]:port").
//
// Experimental
//
// Notice: This type is EXPERIMENTAL and may be changed or removed in a
// later release.
type Address struct {
	// Addr is the server address a connection will be established to,
	// e.g. "10.0.0.1:443" or "[::1]:50051".
	Addr string

	// ServerName is the name of this address. If non-empty, it is used as
	// the transport's certificate authority for the address instead of the
	// hostname derived from the dial target.
	//
	// WARNING: ServerName must only be populated with trusted values. It
	// is insecure to populate it with data from untrusted inputs, since
	// untrusted values could be used to bypass the authority checks
	// performed by TLS.
	ServerName string

	// Attributes contains arbitrary data about this address intended for
	// consumption by the load balancing policy.
	Attributes *attributes.Attributes
}

// BuildOptions contains additional information for Build.
type BuildOptions struct {
	// DisableServiceConfig indicates whether a resolver implementation
	// should fetch service config data.
	DisableServiceConfig bool
}

// State contains the current state relevant to the ClientConn, produced by
// a Resolver (spec.md §4.2's "resolution event":
// {addresses, serviceConfig, serviceConfigError}).
type State struct {
	// Addresses is the latest set of resolved addresses for the target.
	Addresses []Address
	// ServiceConfig is the result of parsing the latest service config, or
	// nil if there is none, or if the resolver does not provide service
	// configs.
	ServiceConfig *serviceconfig.ParseResult
	// Attributes contains arbitrary resolver-produced data consumed by the
	// load balancing policy.
	Attributes *attributes.Attributes
}

// ClientConn contains the callbacks a Resolver uses to notify the core of
// updates to the target it is resolving. This interface is implemented by
// the core; a Resolver implementation should not provide its own.
type ClientConn interface {
	// UpdateState updates the core's view of the resolver's State.
	UpdateState(State) error
	// ReportError notifies the core that the Resolver encountered an
	// error. The core notifies the load balancer and begins calling
	// ResolveNow on the resolver with exponential backoff (spec.md §4.6
	// "Resolution failure").
	ReportError(error)
	// ParseServiceConfig parses the given JSON string into a ParseResult,
	// using the config-selection rules described by the registered
	// balancer's ConfigParser, if any.
	ParseServiceConfig(serviceConfigJSON string) *serviceconfig.ParseResult
}

// Target represents a target for the channel runtime, parsed from the
// target string passed by the caller to Dial (spec.md §6 target grammar).
//
// If the target follows the grammar and its scheme is registered, the
// target string is parsed per the grammar, e.g. "dns://some_authority/foo.bar"
// parses into &Target{Scheme: "dns", Authority: "some_authority", Endpoint: "foo.bar"}.
//
// If the target has no scheme, the default scheme is applied and Endpoint
// is set to the full target string, e.g. "foo.bar" parses into
// &Target{Scheme: resolver.GetDefaultScheme(), Endpoint: "foo.bar"}.
//
// If the parsed scheme is not registered, Scheme is set to the default
// scheme and Endpoint to the full target string.
type Target struct {
	Scheme    string
	Authority string
	Endpoint  string
}

// Builder creates a resolver that will be used to watch name resolution
// updates.
type Builder interface {
	// Build creates a new resolver for the given target.
	//
	// Build is called synchronously by Dial. If it returns a non-nil
	// error, Dial fails.
	Build(target Target, cc ClientConn, opts BuildOptions) (Resolver, error)
	// Scheme returns the scheme supported by this resolver, per spec.md §6.
	Scheme() string
}

// ResolveNowOptions includes additional information for ResolveNow.
type ResolveNowOptions struct{}

// Resolver watches for updates on the specified target. Updates include
// address updates and service config updates (spec.md §4.2).
type Resolver interface {
	// ResolveNow is called by the core to try to resolve the target name
	// again. It is purely a hint; a Resolver may ignore the call if a
	// resolution is already in flight (spec.md §4.2's
	// "idempotent: while a resolution is in flight, updateResolution is a
	// no-op"). It may be called concurrently with itself.
	ResolveNow(ResolveNowOptions)
	// Close closes the Resolver.
	Close()
}

// UnregisterForTesting removes the resolver builder with the given scheme
// from the resolver map. This function is for testing only.
func UnregisterForTesting(scheme string) {
	delete(m, scheme)
}
