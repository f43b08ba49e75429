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

package dns

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInterleave(t *testing.T) {
	tests := []struct {
		name    string
		a, aaaa []string
		v6      bool
		want    []string
	}{
		{
			name: "A first, round robin",
			a:    []string{"a1", "a2"},
			aaaa: []string{"b1"},
			v6:   true,
			want: []string{"a1", "b1", "a2"},
		},
		{
			name: "no AAAA",
			a:    []string{"a1", "a2"},
			v6:   true,
			want: []string{"a1", "a2"},
		},
		{
			name: "ipv6 unsupported drops AAAA",
			a:    []string{"a1"},
			aaaa: []string{"b1", "b2"},
			v6:   false,
			want: []string{"a1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interleave(tt.a, tt.aaaa, tt.v6)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("interleave(%v, %v, %v) mismatch (-want +got):\n%s", tt.a, tt.aaaa, tt.v6, diff)
			}
		})
	}
}

func TestChooseServiceConfigStablePercentage(t *testing.T) {
	d := &dnsResolver{configPercentage: 10}
	pct50 := 50
	txt := []string{`grpc_config=[{"percentage":50,"serviceConfig":{"a":1}}]`}
	cfg, ok := d.chooseServiceConfig(txt)
	if !ok {
		t.Fatalf("chooseServiceConfig returned ok=false, want true (10 < 50)")
	}
	if cfg != `{"a":1}` {
		t.Errorf("chooseServiceConfig config = %q, want %q", cfg, `{"a":1}`)
	}

	d2 := &dnsResolver{configPercentage: 90}
	_, ok = d2.chooseServiceConfig(txt)
	if ok {
		t.Fatalf("chooseServiceConfig returned ok=true, want false (90 >= 50)")
	}
	_ = pct50
}

func TestChooseServiceConfigNoPercentageAlwaysMatches(t *testing.T) {
	d := &dnsResolver{configPercentage: 99}
	txt := []string{`grpc_config=[{"serviceConfig":{"b":2}}]`}
	cfg, ok := d.chooseServiceConfig(txt)
	if !ok || cfg != `{"b":2}` {
		t.Errorf("chooseServiceConfig() = (%q, %v), want ({\"b\":2}, true)", cfg, ok)
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort string
	}{
		{"example.com", "example.com", ""},
		{"example.com:80", "example.com", "80"},
		{"[::1]:50051", "::1", "50051"},
		{"::1", "::1", ""},
	}
	for _, tt := range tests {
		h, p, err := splitHostPort(tt.in)
		if err != nil {
			t.Errorf("splitHostPort(%q) error: %v", tt.in, err)
			continue
		}
		if h != tt.wantHost || p != tt.wantPort {
			t.Errorf("splitHostPort(%q) = (%q, %q), want (%q, %q)", tt.in, h, p, tt.wantHost, tt.wantPort)
		}
	}
}
