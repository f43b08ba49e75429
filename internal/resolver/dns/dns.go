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

// Package dns implements the DNS resolver algorithm of spec.md §4.2: it
// resolves a "dns:" target to an address list interleaved A-then-AAAA, and
// optionally a service config chosen from a TXT "grpc_config=" record.
//
// A/AAAA/TXT lookups are performed with github.com/miekg/dns (a dependency
// of the kdanielm-zeroconf example in the retrieval pack) rather than
// net.Resolver, because net.LookupIP merges A and AAAA results with no
// control over ordering, while spec.md step 4 requires a specific
// A-first round-robin interleave.
package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	miekgdns "github.com/miekg/dns"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	"github.com/johnsiilver/chanrt/internal/grpcrand"
	"github.com/johnsiilver/chanrt/resolver"
	"github.com/johnsiilver/chanrt/serviceconfig"
	"github.com/johnsiilver/chanrt/status"
)

const scheme = "dns"

var logger = grpclog.Component("dns")

// IPv6LiteralsSupported models spec.md §4.2 step 4's "runtime capability
// predicate [that] may suppress IPv6 results on platforms lacking literal
// IPv6 support". Initialized from an actual AF_INET6 socket probe
// (ipv6_linux.go/ipv6_other.go); overridable in tests.
var IPv6LiteralsSupported = probeIPv6LiteralSupport()

// defaultDNSPort is the default port appended per spec.md §3 "Address" and
// §6 "Default port 443" when the target supplies none.
const defaultDNSPort = "443"

// ResolvingTimeout bounds a single A/AAAA/TXT lookup round.
var ResolvingTimeout = 30 * time.Second

type builder struct{}

// NewBuilder returns a resolver.Builder for the "dns" scheme.
func NewBuilder() resolver.Builder { return builder{} }

func (builder) Scheme() string { return scheme }

func (builder) Build(target resolver.Target, cc resolver.ClientConn, opts resolver.BuildOptions) (resolver.Resolver, error) {
	host, port, err := splitHostPort(target.Endpoint)
	if err != nil {
		return nil, &resolver.ErrBadTarget{Target: target.Endpoint, Reason: err.Error()}
	}
	if port == "" {
		port = defaultDNSPort
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &dnsResolver{
		host:                 host,
		port:                 port,
		cc:                   cc,
		ctx:                  ctx,
		cancel:               cancel,
		disableServiceConfig: opts.DisableServiceConfig,
		rn:                   make(chan struct{}, 1),
		configPercentage:     grpcrand.Float64() * 100,
	}

	if resolver.IsIPLiteral(target.Endpoint) {
		d.literal = true
		d.emitLiteral()
		return d, nil
	}

	d.wg.Add(1)
	go d.watcher()
	d.ResolveNow(resolver.ResolveNowOptions{})
	return d, nil
}

func splitHostPort(endpoint string) (host, port string, err error) {
	if h, p, ok := resolver.SplitIPLiteral(endpoint); ok {
		return h, p, nil
	}
	i := strings.LastIndex(endpoint, ":")
	if i < 0 {
		return endpoint, "", nil
	}
	// Guard against a bare (unbracketed) IPv6 host with no port, which
	// would otherwise be misparsed as host:port on the last colon.
	if strings.Count(endpoint, ":") > 1 {
		return endpoint, "", nil
	}
	return endpoint[:i], endpoint[i+1:], nil
}

// dnsResolver implements spec.md §4.2's DNS resolution algorithm.
type dnsResolver struct {
	host, port           string
	cc                   resolver.ClientConn
	disableServiceConfig bool
	literal              bool
	configPercentage     float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	resolving bool
	continueResolving bool
	rn        chan struct{}
}

func (d *dnsResolver) emitLiteral() {
	addr := resolver.FormatAddr(d.host, d.port)
	_ = d.cc.UpdateState(resolver.State{Addresses: []resolver.Address{{Addr: addr}}})
}

// ResolveNow implements spec.md §4.2's idempotent-while-in-flight semantics.
func (d *dnsResolver) ResolveNow(resolver.ResolveNowOptions) {
	if d.literal {
		return
	}
	select {
	case d.rn <- struct{}{}:
	default:
	}
}

func (d *dnsResolver) Close() {
	d.cancel()
	if !d.literal {
		d.wg.Wait()
	}
}

func (d *dnsResolver) watcher() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.rn:
		}

		d.mu.Lock()
		if d.resolving {
			d.continueResolving = true
			d.mu.Unlock()
			continue
		}
		d.resolving = true
		d.mu.Unlock()

		d.resolveOnce()

		d.mu.Lock()
		d.resolving = false
		again := d.continueResolving
		d.continueResolving = false
		d.mu.Unlock()
		if again {
			d.ResolveNow(resolver.ResolveNowOptions{})
		}
	}
}

func (d *dnsResolver) resolveOnce() {
	ctx, cancel := context.WithTimeout(d.ctx, ResolvingTimeout)
	defer cancel()

	var (
		wg         sync.WaitGroup
		aAddrs     []string
		aaaaAddrs  []string
		addrErr    error
		txtRecords []string
		txtErr     error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		aAddrs, aaaaAddrs, addrErr = lookupHost(ctx, d.host)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		txtRecords, txtErr = lookupTXT(ctx, d.host)
	}()
	wg.Wait()

	if addrErr != nil || (len(aAddrs) == 0 && len(aaaaAddrs) == 0) {
		d.cc.ReportError(status.Newf(codes.Unavailable, "Name resolution failed for target %s", d.host).Err())
		return
	}

	addrs := interleave(aAddrs, aaaaAddrs, IPv6LiteralsSupported)
	resAddrs := make([]resolver.Address, 0, len(addrs))
	for _, a := range addrs {
		resAddrs = append(resAddrs, resolver.Address{Addr: resolver.FormatAddr(a, d.port)})
	}

	state := resolver.State{Addresses: resAddrs}

	if d.disableServiceConfig {
		_ = d.cc.UpdateState(state)
		return
	}

	if txtErr != nil {
		state.ServiceConfig = &serviceconfig.ParseResult{
			Err: status.New(codes.Unavailable, "TXT query failed").Err(),
		}
		_ = d.cc.UpdateState(state)
		return
	}

	if cfgJSON, ok := d.chooseServiceConfig(txtRecords); ok {
		state.ServiceConfig = d.cc.ParseServiceConfig(cfgJSON)
	}
	_ = d.cc.UpdateState(state)
}

// lookupHost issues concurrent A and AAAA queries via miekg/dns and returns
// the raw address strings from each, without interleaving.
func lookupHost(ctx context.Context, host string) (a, aaaa []string, err error) {
	client := new(miekgdns.Client)
	servers, cerr := nameservers()
	if cerr != nil || len(servers) == 0 {
		return nil, nil, fmt.Errorf("dns: no nameservers configured: %v", cerr)
	}
	server := servers[0]

	var wg sync.WaitGroup
	var aErr, aaaaErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, aErr = queryType(ctx, client, server, host, miekgdns.TypeA)
	}()
	go func() {
		defer wg.Done()
		aaaa, aaaaErr = queryType(ctx, client, server, host, miekgdns.TypeAAAA)
	}()
	wg.Wait()

	if aErr != nil && aaaaErr != nil {
		return nil, nil, fmt.Errorf("dns: A lookup: %v; AAAA lookup: %v", aErr, aaaaErr)
	}
	return a, aaaa, nil
}

func queryType(ctx context.Context, client *miekgdns.Client, server, host string, qtype uint16) ([]string, error) {
	msg := new(miekgdns.Msg)
	msg.SetQuestion(miekgdns.Fqdn(host), qtype)
	in, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range in.Answer {
		switch qtype {
		case miekgdns.TypeA:
			if a, ok := rr.(*miekgdns.A); ok {
				out = append(out, a.A.String())
			}
		case miekgdns.TypeAAAA:
			if aaaa, ok := rr.(*miekgdns.AAAA); ok {
				out = append(out, aaaa.AAAA.String())
			}
		}
	}
	return out, nil
}

func lookupTXT(ctx context.Context, host string) ([]string, error) {
	client := new(miekgdns.Client)
	servers, err := nameservers()
	if err != nil || len(servers) == 0 {
		return nil, fmt.Errorf("dns: no nameservers configured: %v", err)
	}
	msg := new(miekgdns.Msg)
	msg.SetQuestion(miekgdns.Fqdn(host), miekgdns.TypeTXT)
	in, _, err := client.ExchangeContext(ctx, msg, servers[0])
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*miekgdns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

func nameservers() ([]string, error) {
	cfg, err := miekgdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53"}, nil
	}
	out := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, fmt.Sprintf("%s:%s", s, cfg.Port))
	}
	return out, nil
}

// interleave merges a and aaaa in round-robin order, A-first, per spec.md
// §4.2 step 4 / §8's worked example
// ("A=[a1,a2], AAAA=[b1] → address order [a1, b1, a2]"). IPv6 entries are
// dropped entirely if ipv6Supported is false.
func interleave(a, aaaa []string, ipv6Supported bool) []string {
	if !ipv6Supported {
		aaaa = nil
	}
	out := make([]string, 0, len(a)+len(aaaa))
	i, j := 0, 0
	for i < len(a) || j < len(aaaa) {
		if i < len(a) {
			out = append(out, a[i])
			i++
		}
		if j < len(aaaa) {
			out = append(out, aaaa[j])
			j++
		}
	}
	return out
}

// serviceConfigChoice is one entry of a "grpc_config=" TXT record's JSON
// array, matching the standard grpc service-config-in-DNS format.
type serviceConfigChoice struct {
	ClientLanguage []string        `json:"clientLanguage,omitempty"`
	Percentage     *int            `json:"percentage,omitempty"`
	ClientHostname []string        `json:"clientHostname,omitempty"`
	ServiceConfig  json.RawMessage `json:"serviceConfig,omitempty"`
}

const grpcConfigPrefix = "grpc_config="

// chooseServiceConfig implements spec.md §4.2 step 6: parse TXT records
// prefixed "grpc_config=" and select the first entry whose percentage
// condition is satisfied by the resolver's once-drawn configPercentage
// (spec.md: "selection must be stable for the lifetime of this resolver").
func (d *dnsResolver) chooseServiceConfig(txt []string) (string, bool) {
	for _, rec := range txt {
		if !strings.HasPrefix(rec, grpcConfigPrefix) {
			continue
		}
		var choices []serviceConfigChoice
		if err := json.Unmarshal([]byte(strings.TrimPrefix(rec, grpcConfigPrefix)), &choices); err != nil {
			logger.Warningf("failed to parse grpc_config TXT record: %v", err)
			continue
		}
		for _, c := range choices {
			if c.Percentage != nil && d.configPercentage >= float64(*c.Percentage) {
				continue
			}
			return string(c.ServiceConfig), true
		}
	}
	return "", false
}
