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

// Package transport implements the Subchannel's wire-level half: an
// HTTP/2 client transport (spec.md §4.3/§4.9) built on
// golang.org/x/net/http2's http2.Transport/http2.ClientConn rather than a
// hand-rolled framer, per spec.md's Non-goal of reimplementing HTTP/2
// framing.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/credentials"
	"github.com/johnsiilver/chanrt/internal/grpclog"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

var logger = grpclog.Component("transport")

const userAgent = "chanrt-go/1.0"

// CallHdr carries the per-stream request-line and header data
// startCallStream composes (spec.md §4.3 "startCallStream"): ":authority
// = callStream.host, user-agent, content-type = application/grpc, :method
// = POST, :path = callStream.method, te = trailers".
type CallHdr struct {
	Host         string
	Method       string
	SendCompress string
	Metadata     metadata.MD
}

// ClientTransport is a single HTTP/2 connection to one backend address,
// the wire-level substrate a Subchannel drives through CONNECTING/READY
// (spec.md §4.3).
type ClientTransport struct {
	addr   string
	cc     *http2.ClientConn
	conn   net.Conn
	scheme string

	onGoAway func(debugData string)
	onClose  func(err error)

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial establishes a new ClientTransport to addr. If creds is non-nil its
// ClientHandshake secures the raw TCP connection before the HTTP/2
// preface is sent; otherwise the connection is cleartext h2c.
func Dial(ctx context.Context, addr, authority string, creds credentials.TransportCredentials, onGoAway func(string), onClose func(error)) (*ClientTransport, error) {
	d := &net.Dialer{}
	rawConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q: %w", addr, err)
	}

	scheme := "http"
	conn := net.Conn(rawConn)
	if creds != nil {
		scheme = "https"
		conn, _, err = creds.ClientHandshake(ctx, authority, rawConn)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("transport: handshake with %q: %w", addr, err)
		}
	}

	h2t := &http2.Transport{AllowHTTP: creds == nil}
	cc, err := h2t.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: http2 handshake with %q: %w", addr, err)
	}

	ct := &ClientTransport{
		addr:     addr,
		cc:       cc,
		conn:     conn,
		scheme:   scheme,
		onGoAway: onGoAway,
		onClose:  onClose,
		closed:   make(chan struct{}),
	}
	go ct.monitor()
	return ct, nil
}

// monitor watches the underlying http2.ClientConn state and reports
// GOAWAY/close events back to the owning Subchannel (spec.md §4.3
// "Errors: ... events from stale transports ... are dropped" — the
// caller is responsible for discarding events from a ClientTransport
// it no longer considers current).
func (ct *ClientTransport) monitor() {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ct.closed:
			return
		case <-t.C:
			st := ct.cc.State()
			if st.Closed || !ct.cc.CanTakeNewRequest() {
				ct.fireClose(errors.New("transport: connection no longer usable"))
				return
			}
		}
	}
}

func (ct *ClientTransport) fireClose(err error) {
	ct.closeOnce.Do(func() {
		close(ct.closed)
		if ct.onClose != nil {
			ct.onClose(err)
		}
	})
}

// Ping sends a keepalive ping and blocks until it is acknowledged or ctx
// expires (spec.md §5 suspension point "(e) keepalive ping ack").
func (ct *ClientTransport) Ping(ctx context.Context) error {
	return ct.cc.Ping(ctx)
}

// NewStream opens a new HTTP/2 stream and returns a Stream driving it.
// Must only be called while the Subchannel considers this transport
// current and READY (spec.md §4.3 "startCallStream... must be called
// only in READY").
func (ct *ClientTransport) NewStream(ctx context.Context, hdr CallHdr) (*Stream, error) {
	pr, pw := io.Pipe()
	url := fmt.Sprintf("%s://%s%s", ct.scheme, hdr.Host, hdr.Method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/grpc")
	req.Header.Set("te", "trailers")
	req.Header.Set("user-agent", userAgent)
	if hdr.SendCompress != "" {
		req.Header.Set("grpc-encoding", hdr.SendCompress)
	}
	for k, vs := range hdr.Metadata {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	s := &Stream{
		pw:      pw,
		headers: make(chan struct{}),
	}

	go func() {
		resp, err := ct.cc.RoundTrip(req)
		if err != nil {
			// A RoundTrip broken by GOAWAY is how this transport actually
			// observes the frame (golang.org/x/net/http2 doesn't expose
			// GOAWAY push-style on ClientConn); surface it to the owning
			// Subchannel before classifying the call's own error.
			var ga http2.GoAwayError
			if errors.As(err, &ga) && ct.onGoAway != nil {
				ct.onGoAway(string(ga.DebugData))
			}
			s.setErr(classifyRoundTripErr(err))
			return
		}
		s.setResponse(resp)
	}()

	return s, nil
}

// Close tears down the transport immediately.
func (ct *ClientTransport) Close() error {
	ct.fireClose(errors.New("transport: closed"))
	return ct.cc.Close()
}

// classifyRoundTripErr maps an error returned by http2.ClientConn.RoundTrip
// to a Status error, applying the RST_STREAM mapping table of spec.md
// §4.9 when the underlying cause is an http2.StreamError, and treating a
// GOAWAY the same as any other transport-level failure (UNAVAILABLE).
// Context deadline and cancellation map to DEADLINE_EXCEEDED and
// CANCELLED.
func classifyRoundTripErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.New(codes.DeadlineExceeded, "context deadline exceeded").Err()
	}
	if errors.Is(err, context.Canceled) {
		return status.New(codes.Canceled, "context canceled").Err()
	}
	var se http2.StreamError
	if errors.As(err, &se) {
		return status.Newf(http2ErrCodeToCode(se.Code), "rpc error: stream error: %v", se).Err()
	}
	var ga http2.GoAwayError
	if errors.As(err, &ga) {
		return status.Newf(codes.Unavailable, "rpc error: connection closed: %v", ga).Err()
	}
	return status.Newf(codes.Unavailable, "rpc error: %v", err).Err()
}
