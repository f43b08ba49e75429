/*
 *
 * Copyright 2014 gRPC authors.
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

// Package chanrt implements the client side of a channel to an RPC
// service: name resolution, connection management across one or more
// backend addresses, load balancing, and the per-call pipeline that
// turns an application request into bytes on an HTTP/2 stream and back.
//
// A ClientConn is obtained with Dial or DialContext and addresses a
// target using the resolver scheme registered for it (dns, passthrough,
// xds, ...). Internally it drives:
//
//   - a Resolver, which watches the target and produces addresses and an
//     optional service config (package resolver);
//   - a load balancing policy, which turns addresses into SubConns and
//     produces a Picker for the calls in flight (package balancer);
//   - one Subchannel per address, each a small connectivity state
//     machine over a pooled HTTP/2 connection (package internal/transport
//     and internal/subchannelpool);
//   - a FilterStack applied around every call for deadline propagation,
//     call credentials, compression, and status rewriting (package
//     internal/filter).
//
// Most applications only need Dial, the DialOption constructors in this
// package, and NewCall to issue requests; the balancer, resolver, and
// credentials packages are the extension points for anything beyond the
// defaults.
package chanrt
