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

// Package internal holds hooks that let sibling packages reach into each
// other without creating an import cycle. It mirrors the role of the real
// grpc-go internal package: a small set of function variables assigned by
// init() in the owning package and called by a package that cannot import
// it directly.
package internal

// BalancerUnregister is assigned by package balancer's init() and lets test
// code remove a registered builder without an import cycle.
var BalancerUnregister func(name string)

// ResolverUnregister is assigned by package resolver's init() for the same
// reason.
var ResolverUnregister func(scheme string)
