/*
 *
 * Copyright 2020 gRPC authors.
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

// Package xds registers the "xds" scheme as a resolution mechanism that
// defers to a management server over the xDS protocol instead of
// resolving addresses itself (spec.md §6 names "dns", "passthrough" and
// notes a third-party scheme may be registered the same way). This is a
// registration point and Node-identity holder, not a full Aggregated
// Discovery Service client: ResolveNow does nothing, matching the
// Non-goal that a full xDS client is out of scope for this repository.
package xds

import (
	core "github.com/envoyproxy/go-control-plane/envoy/api/v2/core"

	"github.com/johnsiilver/chanrt/internal/grpclog"
	"github.com/johnsiilver/chanrt/resolver"
)

var logger = grpclog.Component("xds")

const scheme = "xds"

// NodeProto identifies this client to an xDS management server, the same
// envoy.api.v2.core.Node message the control plane's discovery protocol
// uses to key per-client configuration.
type NodeProto = core.Node

// bootstrapNode is the Node identity advertised on every xDS request this
// resolver would make. It is package-level rather than per-Resolver
// because a process has exactly one bootstrap identity (spec.md's
// channel-runtime scope does not model multi-identity xDS clients).
var bootstrapNode = &core.Node{}

// SetNode installs the Node identity used for subsequent Builds. Callers
// typically populate this once at process startup from a bootstrap file.
func SetNode(n *NodeProto) {
	if n == nil {
		n = &core.Node{}
	}
	bootstrapNode = n
}

// Node returns the Node identity currently installed.
func Node() *NodeProto {
	return bootstrapNode
}

type builder struct{}

func (builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	logger.Warningf("xds: resolver for %q registered but ADS streaming is not implemented; no addresses will be produced", target.Endpoint)
	r := &xdsResolver{target: target, cc: cc}
	return r, nil
}

func (builder) Scheme() string { return scheme }

// xdsResolver is a registration placeholder: it satisfies resolver.Resolver
// so "xds:///cluster" targets are recognized, but produces no addresses.
// A full implementation would open an ADS stream keyed by Node() and
// translate CDS/EDS updates into resolver.State.Addresses.
type xdsResolver struct {
	target resolver.Target
	cc     resolver.ClientConn
}

func (*xdsResolver) ResolveNow(resolver.ResolveNowOptions) {}

func (*xdsResolver) Close() {}

func init() {
	resolver.Register(builder{})
}
