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

// Package passthrough implements a resolver that turns the target's
// Endpoint directly into a single resolved Address, with no DNS lookup or
// service-config record. It is registered as the default scheme.
package passthrough

import (
	"github.com/johnsiilver/chanrt/resolver"
)

const scheme = "passthrough"

type passthroughBuilder struct{}

func (passthroughBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	r := &passthroughResolver{target: target, cc: cc}
	r.start()
	return r, nil
}

func (passthroughBuilder) Scheme() string { return scheme }

type passthroughResolver struct {
	target resolver.Target
	cc     resolver.ClientConn
}

func (r *passthroughResolver) start() {
	addr := r.target.Endpoint
	if host, port, ok := resolver.SplitIPLiteral(addr); ok {
		addr = resolver.FormatAddr(host, port)
	}
	_ = r.cc.UpdateState(resolver.State{
		Addresses: []resolver.Address{{Addr: addr}},
	})
}

func (*passthroughResolver) ResolveNow(resolver.ResolveNowOptions) {}

func (*passthroughResolver) Close() {}

func init() {
	resolver.Register(passthroughBuilder{})
}
