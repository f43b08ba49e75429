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

package chanrt

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/johnsiilver/chanrt/balancer"
	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/connectivity"
	"github.com/johnsiilver/chanrt/internal/filter"
	"github.com/johnsiilver/chanrt/internal/transport"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

// CallOptions configures an individual call (spec.md §4.8/§4.9).
type CallOptions struct {
	// Deadline, if non-zero, bounds how long the call may run; it drives
	// the deadline filter's "grpc-timeout" header.
	Deadline time.Time
	// WaitForReady makes tryPick queue rather than fail while the Picker
	// is in TRANSIENT_FAILURE (spec.md §4.7).
	WaitForReady bool
	// CompressorName requests a per-message encoding via the compression
	// filter, e.g. "gzip". Empty means identity.
	CompressorName string
}

// CallStream is the duplex driver of spec.md §4.9: a pipeline from
// application messages to the wire and back, with the filter stack of
// spec.md §4.8 wrapped symmetrically around it.
type CallStream struct {
	cc     *ClientConn
	method string
	stack  *filter.Stack
	ctx    context.Context

	mu       sync.Mutex
	stream   *transport.Stream
	finalErr error
	doneOnce sync.Once
	done     func(balancer.DoneInfo)
	cancel   context.CancelFunc
	sc       *transport.Subchannel

	sentBytes, recvBytes bool
}

// NewCall implements spec.md §4.7's createCall: pick a Subchannel, run the
// outgoing-metadata filters, and start the HTTP/2 stream.
func (cc *ClientConn) NewCall(ctx context.Context, method string, opts CallOptions) (*CallStream, error) {
	var cancel context.CancelFunc
	if opts.WaitForReady {
		ctx = NewContextWithWaitForReady(ctx)
	}
	if !opts.Deadline.IsZero() {
		ctx = filter.NewContextWithDeadline(ctx, opts.Deadline)
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
	}

	res, err := cc.pick(ctx, method)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	if res.SubConn == nil {
		if cancel != nil {
			cancel()
		}
		return nil, status.Error(codes.Unavailable, "Request dropped by load balancing policy")
	}
	acw, ok := res.SubConn.(*acBalancerWrapper)
	if !ok || acw.State() != connectivity.Ready {
		if cancel != nil {
			cancel()
		}
		return nil, status.Error(codes.Unavailable, "Connection dropped while starting call")
	}
	// Attach a call-refcount to the Subchannel before doing anything else,
	// independent of the pool's owner-refcount (spec.md §4.3/§9): it gates
	// keepaliveLoop's ping interval for the life of this call.
	acw.sc.AttachCall()

	stack := cc.buildFilterStack(method, opts)
	cs := &CallStream{cc: cc, method: method, stack: stack, ctx: ctx, done: res.Done, cancel: cancel, sc: acw.sc}
	if cancel != nil {
		go cs.watchDeadline()
	}

	md, _ := metadata.FromOutgoingContext(ctx)
	md, err = stack.SendMetadata(ctx, md)
	if err != nil {
		cs.finish(err)
		return nil, err
	}

	ct := acw.sc.CurrentTransport()
	if ct == nil {
		err := status.Error(codes.Unavailable, "Connection dropped while starting call")
		cs.finish(err)
		return nil, err
	}

	hdr := transport.CallHdr{
		Host:         cc.callAuthority(),
		Method:       method,
		SendCompress: opts.CompressorName,
		Metadata:     md,
	}
	stream, err := ct.NewStream(ctx, hdr)
	if err != nil {
		cs.finish(err)
		return nil, err
	}
	cs.mu.Lock()
	cs.stream = stream
	cs.mu.Unlock()

	return cs, nil
}

// watchDeadline implements spec.md §4.8's deadline filter requirement to
// "schedule a timer that cancels the call with DEADLINE_EXCEEDED": it waits
// on the call's own deadline-bounded context and forces the call to end
// DEADLINE_EXCEEDED if that context's deadline is what ended it, rather
// than relying on the transport reactively surfacing a plain context error.
// If the call instead finishes on its own first, finish's cancel() ends
// ctx with context.Canceled and this is a no-op (CancelWithStatus and the
// underlying Stream's own finalization are both idempotent).
func (cs *CallStream) watchDeadline() {
	<-cs.ctx.Done()
	if cs.ctx.Err() == context.DeadlineExceeded {
		cs.CancelWithStatus(codes.DeadlineExceeded, "context deadline exceeded")
	}
}

func (cc *ClientConn) buildFilterStack(method string, opts CallOptions) *filter.Stack {
	var filters []filter.Filter
	for _, c := range cc.dopts.perRPC {
		uri := "https://" + cc.callAuthority() + method
		filters = append(filters, &filter.CallCredentialsFilter{Creds: c, URI: uri})
	}
	filters = append(filters, &filter.DeadlineFilter{})
	filters = append(filters, &filter.MetadataStatusFilter{})
	filters = append(filters, &filter.CompressionFilter{Encoding: opts.CompressorName})
	return filter.NewStack(filters...)
}

// SendMsg runs p through the send-message filters and writes it to the
// outbound message stream, in application-write order (spec.md §5).
func (cs *CallStream) SendMsg(p []byte) error {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	if stream == nil {
		return status.Error(codes.Internal, "SendMsg called before the stream attached")
	}
	out, err := cs.stack.SendMessage(cs.ctx, p)
	if err != nil {
		cs.finish(err)
		return err
	}
	if _, err := stream.Write(out); err != nil {
		werr := wrapStreamErr(err)
		cs.finish(werr)
		return werr
	}
	cs.mu.Lock()
	cs.sentBytes = true
	cs.mu.Unlock()
	return nil
}

// wrapStreamErr classifies an error returned by the underlying Stream's
// Read/Write. A Stream error is already a *status.Error whenever it
// originates from CancelWithStatus (e.g. the DEADLINE_EXCEEDED/CANCELED
// forced by watchDeadline or an explicit CancelWithStatus call) or from
// classifyRoundTripErr; that code must be preserved rather than flattened
// to UNAVAILABLE.
func wrapStreamErr(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Newf(codes.Unavailable, "chanrt: %v", err).Err()
}

// CloseSend signals that no more outbound messages will be written.
func (cs *CallStream) CloseSend() error {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.CloseSend()
}

// RecvMsg reads the next inbound message, decoded frame-by-frame and run
// through the receive-message filters serially (spec.md §4.9 "one message
// in-flight"). Returns io.EOF once the stream has ended normally; callers
// should then call Trailer to retrieve the finalized status.
func (cs *CallStream) RecvMsg() ([]byte, error) {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	if stream == nil {
		return nil, status.Error(codes.Internal, "RecvMsg called before the stream attached")
	}

	buf := make([]byte, 32*1024)
	n, err := stream.Read(buf)
	if err != nil && err != io.EOF {
		werr := wrapStreamErr(err)
		cs.finish(werr)
		return nil, werr
	}
	if n == 0 && err == io.EOF {
		cs.endOfStream()
		return nil, io.EOF
	}

	out, ferr := cs.stack.ReceiveMessage(cs.ctx, buf[:n])
	if ferr != nil {
		cs.finish(ferr)
		return nil, ferr
	}
	cs.mu.Lock()
	cs.recvBytes = true
	cs.mu.Unlock()
	if err == io.EOF {
		cs.endOfStream()
		return out, nil
	}
	return out, nil
}

// Header blocks until response headers arrive, running them through the
// receive-metadata filters.
func (cs *CallStream) Header() (metadata.MD, error) {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	md, err := stream.Header()
	if err != nil {
		return nil, err
	}
	md, err = cs.stack.ReceiveMetadata(cs.ctx, md)
	if err != nil {
		cs.finish(err)
		return nil, err
	}
	return md, nil
}

// endOfStream runs the trailers pipeline: it awaits the headers pipeline
// (by virtue of Trailer() itself blocking on the same response) before
// finalizing status, so trailer-derived status always takes precedence
// over a transport-level error (spec.md §4.9).
func (cs *CallStream) endOfStream() {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	st := stream.Trailer()
	trailerMD := st.Metadata()
	err := cs.stack.ReceiveTrailers(cs.ctx, trailerMD, st.Err())
	cs.finish(err)
}

// Trailer returns the call's finalized status, blocking until it is
// available.
func (cs *CallStream) Trailer() error {
	cs.mu.Lock()
	stream := cs.stream
	finalErr := cs.finalErr
	cs.mu.Unlock()
	if finalErr != nil || stream == nil {
		return finalErr
	}
	cs.endOfStream()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.finalErr
}

// CancelWithStatus implements spec.md §4.9's cancelWithStatus: it destroys
// the HTTP/2 stream with CANCEL and finalizes status, deferring to any
// trailer outcome already in flight (the underlying Stream's own
// finalOnce guard is what actually makes this idempotent end-to-end).
func (cs *CallStream) CancelWithStatus(c codes.Code, msg string) {
	cs.mu.Lock()
	stream := cs.stream
	cs.mu.Unlock()
	if stream != nil {
		stream.CancelWithStatus(c, msg)
	}
	cs.finish(status.New(c, msg).Err())
}

// finish implements endCall: it is idempotent (spec.md §8
// "endCall(status) called N times is observationally equivalent to N=1")
// and invokes the Picker's DoneInfo callback exactly once.
func (cs *CallStream) finish(err error) {
	cs.doneOnce.Do(func() {
		cs.mu.Lock()
		cs.finalErr = err
		sent, recv := cs.sentBytes, cs.recvBytes
		cancel := cs.cancel
		sc := cs.sc
		cs.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if sc != nil {
			sc.DetachCall()
		}
		if cs.done != nil {
			var trailer metadata.MD
			if s, ok := status.FromError(err); ok {
				trailer = s.Metadata()
			}
			cs.done(balancer.DoneInfo{Err: err, Trailer: trailer, BytesSent: sent, BytesReceived: recv})
		}
	})
}
