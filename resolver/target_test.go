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

import "testing"

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target string
		want   Target
	}{
		{"1.2.3.4", Target{Scheme: "passthrough", Endpoint: "1.2.3.4"}},
		{"1.2.3.4:81", Target{Scheme: "passthrough", Endpoint: "1.2.3.4:81"}},
		{"[::1]:50051", Target{Scheme: "passthrough", Endpoint: "[::1]:50051"}},
		{"::1", Target{Scheme: "passthrough", Endpoint: "::1"}},
		{"dns:example.com", Target{Scheme: "passthrough", Endpoint: "dns:example.com"}},
		{"foo.bar", Target{Scheme: "passthrough", Endpoint: "foo.bar"}},
		{"unknown_scheme://authority/endpoint", Target{Scheme: "passthrough", Endpoint: "unknown_scheme://authority/endpoint"}},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.target)
		if err != nil {
			t.Errorf("ParseTarget(%q) returned error: %v", tt.target, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.target, got, tt.want)
		}
	}
}

func TestParseTargetRegisteredScheme(t *testing.T) {
	Register(fakeBuilder{scheme: "dns"})
	defer unregisterForTesting("dns")

	got, err := ParseTarget("dns://8.8.8.8/example.com:443")
	if err != nil {
		t.Fatalf("ParseTarget returned error: %v", err)
	}
	want := Target{Scheme: "dns", Authority: "8.8.8.8", Endpoint: "example.com:443"}
	if got != want {
		t.Errorf("ParseTarget() = %+v, want %+v", got, want)
	}
}

func TestIsIPLiteral(t *testing.T) {
	cases := map[string]bool{
		"1.2.3.4":     true,
		"1.2.3.4:81":  true,
		"[::1]:50051": true,
		"::1":         true,
		"example.com": false,
		"example.com:443": false,
	}
	for in, want := range cases {
		if got := IsIPLiteral(in); got != want {
			t.Errorf("IsIPLiteral(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatAddr(t *testing.T) {
	if got, want := FormatAddr("1.2.3.4", ""), "1.2.3.4:443"; got != want {
		t.Errorf("FormatAddr() = %q, want %q", got, want)
	}
	if got, want := FormatAddr("::1", "50051"), "[::1]:50051"; got != want {
		t.Errorf("FormatAddr() = %q, want %q", got, want)
	}
}

type fakeBuilder struct{ scheme string }

func (fakeBuilder) Build(Target, ClientConn, BuildOptions) (Resolver, error) { return nil, nil }
func (f fakeBuilder) Scheme() string                                        { return f.scheme }
