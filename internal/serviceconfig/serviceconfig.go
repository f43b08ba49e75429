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

// Package serviceconfig contains utility functions to parse service config.
package serviceconfig

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	externalserviceconfig "github.com/johnsiilver/chanrt/serviceconfig"
)

var logger = grpclog.Component("core")

// BalancerConfig wraps the name and config associated with one load balancing
// policy. It corresponds to a single entry of the loadBalancingConfig field
// from ServiceConfig.
//
// It implements the json.Unmarshaler interface.
type BalancerConfig struct {
	Name   string
	Config externalserviceconfig.LoadBalancingConfig
}

type intermediateBalancerConfig []map[string]json.RawMessage

// UnmarshalJSON implements the json.Unmarshaler interface.
//
// ServiceConfig contains a list of loadBalancingConfigs, each with a name and
// config. This method iterates through that list in order, and stops at the
// first policy that is registered.
//   - If the config for the first supported policy is invalid, the whole
//     service config is invalid.
//   - If the list doesn't contain any supported policy, the whole service
//     config is invalid.
func (bc *BalancerConfig) UnmarshalJSON(b []byte) error {
	var ir intermediateBalancerConfig
	if err := json.Unmarshal(b, &ir); err != nil {
		return err
	}

	for i, lbcfg := range ir {
		if len(lbcfg) != 1 {
			return fmt.Errorf("invalid loadBalancingConfig: entry %v does not contain exactly 1 policy/config pair: %q", i, lbcfg)
		}

		var (
			name    string
			jsonCfg json.RawMessage
		)
		// Get the key:value pair from the map. We have already made sure that
		// the map contains a single entry.
		for name, jsonCfg = range lbcfg {
		}

		builder := balancer.Get(name)
		if builder == nil {
			// If the balancer is not registered, move on to the next config.
			// This is not an error.
			continue
		}
		bc.Name = name

		parser, ok := builder.(balancer.ConfigParser)
		if !ok {
			if string(jsonCfg) != "{}" {
				logger.Warningf("non-empty balancer configuration %q, but balancer does not implement ParseConfig", string(jsonCfg))
			}
			// Stop at this, though the builder doesn't support parsing config.
			return nil
		}

		cfg, err := parser.ParseConfig(jsonCfg)
		if err != nil {
			return fmt.Errorf("error parsing loadBalancingConfig for policy %q: %v", name, err)
		}
		bc.Config = cfg
		return nil
	}
	// This is reached when the for loop iterates over all entries, but didn't
	// return. This means we had a loadBalancingConfig slice but did not
	// encounter a registered policy. The config is considered invalid in this
	// case.
	return errNoSupportedPolicy
}

var errNoSupportedPolicy = fmt.Errorf("invalid loadBalancingConfig: no supported policies found")

// IsErrNoSupportedPolicy reports whether err is the sentinel returned by
// UnmarshalJSON when a loadBalancingConfig list was present but none of its
// entries named a registered policy (an empty list included),
// distinguishing that case from an absent list.
func IsErrNoSupportedPolicy(err error) bool {
	return err != nil && err.Error() == errNoSupportedPolicy.Error()
}

// MethodConfig defines the service owner's recommended configuration for a
// given method.
type MethodConfig struct {
	// WaitForReady indicates whether RPCs sent to this method should wait
	// until the connection is ready by default (!failfast). The value set
	// through the gRPC client API will override the value set here.
	WaitForReady *bool
	// Timeout is the default timeout for RPCs sent to this method. The
	// actual deadline used is the minimum of this value and any value set
	// by the application via the gRPC client API. If either one is not
	// set, the other will be used. If neither is set, the RPC has no
	// deadline.
	Timeout *time.Duration
	// MaxReqSize is the maximum allowed payload size for an individual
	// request in a stream (client->server), in bytes. The size which is
	// measured is the serialized payload after per-message compression
	// (but before stream compression) in bytes. The actual value used is
	// the minimum of the value specified here and the value set by the
	// application via the gRPC client API. If either is not set, the
	// other will be used. If neither is set, a built-in default is used.
	MaxReqSize *int
	// MaxRespSize is the maximum allowed payload size for an individual
	// response in a stream (server->client), in bytes.
	MaxRespSize *int
	// RetryPolicy configures retry options for the method.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines the go-native version of the retry policy defined by
// the service config.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the
	// original RPC.
	//
	// This field is required and must be two or greater.
	MaxAttempts int

	// Exponential backoff parameters. The initial retry attempt will occur
	// at random(0, initialBackoff). In general, the nth attempt will occur
	// at random(0, min(initialBackoff*backoffMultiplier**(n-1),
	// maxBackoff)).
	//
	// These fields are required and must be greater than zero.
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// The set of status codes which may be retried.
	//
	// This field is required and must be non-empty.
	RetryableStatusCodes map[codes.Code]bool
}

// methodNameJSON matches one entry of a methodConfig's "name" array.
type methodNameJSON struct {
	Service string `json:"service"`
	Method  string `json:"method"`
}

type methodConfigJSON struct {
	Name []methodNameJSON `json:"name"`
	MethodConfig
}

// intermediateServiceConfig mirrors the top-level ServiceConfig document:
// {loadBalancingConfig: [...], methodConfig: [...]}.
type intermediateServiceConfig struct {
	LoadBalancingConfig *BalancerConfig    `json:"loadBalancingConfig"`
	MethodConfig        []methodConfigJSON `json:"methodConfig"`
}

// ServiceConfig is the internal representation of the service config
// document a resolver or a channel parses out of a TXT record or a direct
// resolver.State.ServiceConfig update.
type ServiceConfig struct {
	externalserviceconfig.Config
	// LB is the BalancerConfig selected from the document's
	// loadBalancingConfig list, or nil if that list was absent. An empty
	// list makes Parse fail with the no-supported-policy error.
	LB *BalancerConfig
	// Methods maps "/service/method" to its MethodConfig. A "/service/"
	// entry (empty Method) is the default for every method on that
	// service; an empty-string key is the default for any method with no
	// more specific match.
	Methods map[string]MethodConfig
}

func (*ServiceConfig) isServiceConfig() {}

// Parse parses a JSON service config document into a *ServiceConfig,
// wrapped the way a resolver.ClientConn.ParseServiceConfig implementation
// returns it: Config set on success, Err set on a malformed document.
func Parse(js string) *externalserviceconfig.ParseResult {
	var isc intermediateServiceConfig
	if err := json.Unmarshal([]byte(js), &isc); err != nil {
		return &externalserviceconfig.ParseResult{Err: fmt.Errorf("error parsing service config: %v", err)}
	}

	sc := &ServiceConfig{LB: isc.LoadBalancingConfig, Methods: map[string]MethodConfig{}}
	for _, m := range isc.MethodConfig {
		key := ""
		for _, n := range m.Name {
			if n.Method == "" {
				key = "/" + n.Service + "/"
			} else {
				key = "/" + n.Service + "/" + n.Method
			}
			sc.Methods[key] = m.MethodConfig
		}
		if len(m.Name) == 0 {
			sc.Methods[""] = m.MethodConfig
		}
	}
	return &externalserviceconfig.ParseResult{Config: sc}
}
