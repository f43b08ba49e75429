/*
 *
 * Copyright 2019 gRPC authors.
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

// Package serviceconfig defines the external types consumed by the channel
// runtime's service-config selection algorithm (spec.md §4.6). A resolver
// produces a *ParseResult; a balancer.Builder that also implements
// balancer.ConfigParser turns the loadBalancingConfig JSON blob for its own
// policy name into a LoadBalancingConfig.
package serviceconfig

// Config represents an opaque data structure holding a service config.
type Config interface {
	isServiceConfig()
}

// LoadBalancingConfig is a simple wrapper around a JSON load balancing
// config, parsed by a balancer.ConfigParser into whatever concrete shape
// that balancer prefers.
type LoadBalancingConfig interface {
	isLoadBalancingConfig()
}

// ParseResult contains a service config or an error. Exactly one of Config
// and Err is set, matching spec.md §4.2's
// {serviceConfig, serviceConfigError} resolution-event shape.
type ParseResult struct {
	Config Config
	Err    error
}
