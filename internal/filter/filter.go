/*
 *
 * Copyright 2018 gRPC authors.
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

// Package filter implements the FilterStack described by spec.md §4.8: a
// symmetric stack of hooks over a call's lifecycle — sendMetadata,
// receiveMetadata, sendMessage, receiveMessage, receiveTrailers — applied
// in registration order on the send path and in reverse on the receive
// path, so each filter wraps the next one like a layer of an onion.
package filter

import (
	"context"
	"time"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

// Filter is implemented by each stage of the stack. Every hook is
// optional: an embedder may leave NopFilter embedded and override only
// the hooks it cares about.
type Filter interface {
	// SendMetadata is applied in registration order before a call's
	// headers are sent.
	SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error)
	// ReceiveMetadata is applied in reverse registration order once a
	// call's response headers have arrived.
	ReceiveMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error)
	// SendMessage is applied in registration order to each outgoing
	// message payload.
	SendMessage(ctx context.Context, p []byte) ([]byte, error)
	// ReceiveMessage is applied in reverse registration order to each
	// incoming message payload.
	ReceiveMessage(ctx context.Context, p []byte) ([]byte, error)
	// ReceiveTrailers is applied in reverse registration order once a
	// call's trailers have arrived, and may rewrite the terminal status.
	ReceiveTrailers(ctx context.Context, md metadata.MD, err error) error
}

// NopFilter is a Filter whose hooks are all identity functions; embed it
// to avoid implementing hooks a filter doesn't use.
type NopFilter struct{}

func (NopFilter) SendMetadata(_ context.Context, md metadata.MD) (metadata.MD, error) { return md, nil }
func (NopFilter) ReceiveMetadata(_ context.Context, md metadata.MD) (metadata.MD, error) {
	return md, nil
}
func (NopFilter) SendMessage(_ context.Context, p []byte) ([]byte, error)    { return p, nil }
func (NopFilter) ReceiveMessage(_ context.Context, p []byte) ([]byte, error) { return p, nil }
func (NopFilter) ReceiveTrailers(_ context.Context, _ metadata.MD, err error) error { return err }

// Stack is an ordered list of Filters applied per spec.md §4.8: send
// hooks run front-to-back, receive hooks run back-to-front.
type Stack struct {
	filters []Filter
}

// NewStack builds a Stack from filters in registration order.
func NewStack(filters ...Filter) *Stack {
	return &Stack{filters: filters}
}

// SendMetadata runs every filter's SendMetadata hook in registration
// order, threading md through each. A failing filter causes the call to
// fail with INTERNAL unless it returned a *status.Error itself (spec.md
// §4.8 "Filter failures propagate as INTERNAL unless the filter specifies
// otherwise").
func (s *Stack) SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	var err error
	for _, f := range s.filters {
		md, err = f.SendMetadata(ctx, md)
		if err != nil {
			return md, wrapFilterErr(err)
		}
	}
	return md, nil
}

// ReceiveMetadata runs every filter's ReceiveMetadata hook in reverse
// registration order.
func (s *Stack) ReceiveMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	var err error
	for i := len(s.filters) - 1; i >= 0; i-- {
		md, err = s.filters[i].ReceiveMetadata(ctx, md)
		if err != nil {
			return md, wrapFilterErr(err)
		}
	}
	return md, nil
}

// SendMessage runs every filter's SendMessage hook in registration order.
func (s *Stack) SendMessage(ctx context.Context, p []byte) ([]byte, error) {
	var err error
	for _, f := range s.filters {
		p, err = f.SendMessage(ctx, p)
		if err != nil {
			return p, wrapFilterErr(err)
		}
	}
	return p, nil
}

// ReceiveMessage runs every filter's ReceiveMessage hook in reverse
// registration order.
func (s *Stack) ReceiveMessage(ctx context.Context, p []byte) ([]byte, error) {
	var err error
	for i := len(s.filters) - 1; i >= 0; i-- {
		p, err = s.filters[i].ReceiveMessage(ctx, p)
		if err != nil {
			return p, wrapFilterErr(err)
		}
	}
	return p, nil
}

// ReceiveTrailers runs every filter's ReceiveTrailers hook in reverse
// registration order, letting a filter such as metadata-status rewrite
// the terminal status from err to something derived from md.
func (s *Stack) ReceiveTrailers(ctx context.Context, md metadata.MD, err error) error {
	for i := len(s.filters) - 1; i >= 0; i-- {
		err = s.filters[i].ReceiveTrailers(ctx, md, err)
	}
	return err
}

func wrapFilterErr(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Newf(codes.Internal, "filter: %v", err).Err()
}

// deadlineKey is an unexported marker so a call's deadline can be located in
// the ctx passed to the deadline filter's SendMetadata hook without
// colliding with unrelated context values.
type deadlineKey struct{}

// NewContextWithDeadline attaches a call's deadline to ctx for the
// deadline filter to read back out.
func NewContextWithDeadline(ctx context.Context, d time.Time) context.Context {
	return context.WithValue(ctx, deadlineKey{}, d)
}

// DeadlineFromContext extracts a deadline previously attached with
// NewContextWithDeadline.
func DeadlineFromContext(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Value(deadlineKey{}).(time.Time)
	return d, ok
}
