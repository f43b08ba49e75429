/*
 *
 * Copyright 2022 gRPC authors.
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

package resolver

import (
	"fmt"
	"net"
	"strings"
)

// ErrBadTarget is returned by ParseTarget when target does not match the
// grammar of spec.md §6.
type ErrBadTarget struct {
	Target string
	Reason string
}

func (e *ErrBadTarget) Error() string {
	return fmt.Sprintf("resolver: invalid target %q: %s", e.Target, e.Reason)
}

// ParseTarget parses a dial target string against the grammar of spec.md
// §6:
//
//	target      = [ "dns:" ] [ "//" authority "/" ] host [ ":" port ]
//	            | ipv4 [ ":" port ]
//	            | "[" ipv6 "]" [ ":" port ]
//	            | ipv6
//
// A target with a registered scheme is parsed per the grammar. A target
// with no scheme, or whose scheme is not registered, is treated as an
// opaque endpoint under the default scheme (GetDefaultScheme()). IP
// literals (the last three grammar alternatives) never parse as having a
// scheme: "[::1]:50051" and "1.2.3.4" both land in Target.Endpoint
// unmodified, and it is up to the resolver actually built for the target
// (spec.md §4.2 step 2) to recognize and format them.
func ParseTarget(target string) (Target, error) {
	if target == "" {
		return Target{}, &ErrBadTarget{Target: target, Reason: "empty target"}
	}

	if IsIPLiteral(target) {
		return Target{Scheme: GetDefaultScheme(), Endpoint: target}, nil
	}

	scheme, rest, hasScheme := splitScheme(target)
	if !hasScheme {
		return Target{Scheme: GetDefaultScheme(), Endpoint: target}, nil
	}
	if Get(scheme) == nil {
		// Unregistered scheme: treat the whole string as an opaque
		// endpoint under the default scheme (spec.md §6).
		return Target{Scheme: GetDefaultScheme(), Endpoint: target}, nil
	}

	authority, endpoint := splitAuthority(rest)
	return Target{Scheme: scheme, Authority: authority, Endpoint: endpoint}, nil
}

// splitScheme splits "scheme:rest" into its components. Returns
// hasScheme=false if target has no "word:" prefix, or if what precedes the
// colon isn't a valid scheme token (e.g. an IPv6 literal "::1" or a
// "host:port" pair where "host" isn't a registered scheme name).
func splitScheme(target string) (scheme, rest string, hasScheme bool) {
	i := strings.Index(target, ":")
	if i < 0 {
		return "", "", false
	}
	candidate := target[:i]
	if candidate == "" || !isSchemeToken(candidate) {
		return "", "", false
	}
	return candidate, target[i+1:], true
}

func isSchemeToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '+', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// splitAuthority splits "[//authority/]host[:port]" (with the scheme and
// its trailing colon already removed) into authority and endpoint.
func splitAuthority(rest string) (authority, endpoint string) {
	if !strings.HasPrefix(rest, "//") {
		return "", rest
	}
	rest = rest[2:]
	i := strings.Index(rest, "/")
	if i < 0 {
		// "//host" with no trailing "/endpoint": the whole remainder is the
		// authority and endpoint is empty, matching grpc-go's Target
		// parsing for targets like "dns://8.8.8.8".
		return rest, ""
	}
	return rest[:i], rest[i+1:]
}

// IsIPLiteral reports whether endpoint is an IPv4 literal, a bracketed
// IPv6 literal, or a bare IPv6 literal, each with an optional port —
// the last three alternatives of spec.md §6's target grammar.
func IsIPLiteral(endpoint string) bool {
	_, _, ok := SplitIPLiteral(endpoint)
	return ok
}

// SplitIPLiteral splits an IP-literal endpoint (as matched by IsIPLiteral)
// into its host and port, with port == "" if none was present. ok is false
// if endpoint does not match the grammar.
func SplitIPLiteral(endpoint string) (host, port string, ok bool) {
	if strings.HasPrefix(endpoint, "[") {
		end := strings.Index(endpoint, "]")
		if end < 0 {
			return "", "", false
		}
		host = endpoint[1:end]
		if net.ParseIP(host) == nil || !isIPv6(host) {
			return "", "", false
		}
		rest := endpoint[end+1:]
		if rest == "" {
			return host, "", true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		return host, rest[1:], true
	}

	// Bare ipv6 with no brackets and no port, e.g. "::1".
	if strings.Count(endpoint, ":") >= 2 {
		if ip := net.ParseIP(endpoint); ip != nil && ip.To4() == nil {
			return endpoint, "", true
		}
		return "", "", false
	}

	h, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		if ip := net.ParseIP(endpoint); ip != nil && ip.To4() != nil {
			return endpoint, "", true
		}
		return "", "", false
	}
	if ip := net.ParseIP(h); ip == nil || ip.To4() == nil {
		return "", "", false
	}
	return h, p, true
}

func isIPv6(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}

// FormatAddr renders host/port as the opaque address string of spec.md §3:
// "ip:port" for IPv4, "[ip]:port" for IPv6, defaulting port to 443.
func FormatAddr(host, port string) string {
	if port == "" {
		port = "443"
	}
	if isIPv6(host) {
		return fmt.Sprintf("[%s]:%s", host, port)
	}
	return fmt.Sprintf("%s:%s", host, port)
}

// GetDefaultAuthority extracts the authority the channel should present as
// ":authority" for target — either the IP literal, the bracketed IPv6
// literal, or the DNS hostname — per spec.md §4.2
// "getDefaultAuthority(target)".
func GetDefaultAuthority(target Target) string {
	endpoint := target.Endpoint
	if host, _, ok := SplitIPLiteral(endpoint); ok {
		if isIPv6(host) {
			return "[" + host + "]"
		}
		return host
	}
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}
