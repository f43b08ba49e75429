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

package filter

import (
	"context"
	"testing"
	"time"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

type orderFilter struct {
	NopFilter
	tag  string
	sent *[]string
	recv *[]string
}

func (f *orderFilter) SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	*f.sent = append(*f.sent, f.tag)
	return md, nil
}

func (f *orderFilter) ReceiveMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	*f.recv = append(*f.recv, f.tag)
	return md, nil
}

func TestStackOrdering(t *testing.T) {
	var sent, recv []string
	s := NewStack(
		&orderFilter{tag: "a", sent: &sent, recv: &recv},
		&orderFilter{tag: "b", sent: &sent, recv: &recv},
	)

	if _, err := s.SendMetadata(context.Background(), metadata.MD{}); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}
	if _, err := s.ReceiveMetadata(context.Background(), metadata.MD{}); err != nil {
		t.Fatalf("ReceiveMetadata: %v", err)
	}

	if want := []string{"a", "b"}; !equal(sent, want) {
		t.Errorf("send order = %v, want %v", sent, want)
	}
	if want := []string{"b", "a"}; !equal(recv, want) {
		t.Errorf("receive order = %v, want %v", recv, want)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDeadlineFilterSetsTimeout(t *testing.T) {
	f := &DeadlineFilter{}
	ctx := NewContextWithDeadline(context.Background(), time.Now().Add(time.Second))
	md, err := f.SendMetadata(ctx, metadata.MD{})
	if err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}
	if vs := md.Get("grpc-timeout"); len(vs) != 1 {
		t.Fatalf("grpc-timeout not set: %v", md)
	}
}

func TestDeadlineFilterExpired(t *testing.T) {
	f := &DeadlineFilter{}
	ctx := NewContextWithDeadline(context.Background(), time.Now().Add(-time.Second))
	_, err := f.SendMetadata(ctx, metadata.MD{})
	if status.Code(err) != codes.DeadlineExceeded {
		t.Fatalf("SendMetadata error = %v, want DeadlineExceeded", err)
	}
}

func TestMetadataStatusFilterRewritesStatus(t *testing.T) {
	f := &MetadataStatusFilter{}
	md := metadata.Pairs("grpc-status", "5", "grpc-message", "not found")
	err := f.ReceiveTrailers(context.Background(), md, nil)
	if status.Code(err) != codes.NotFound {
		t.Fatalf("ReceiveTrailers error = %v, want NotFound", err)
	}
}

func TestMetadataStatusFilterPrefersStatusDetailsBin(t *testing.T) {
	f := &MetadataStatusFilter{}
	rich := status.Newf(codes.PermissionDenied, "rich status")
	bin, err := rich.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	// The plain grpc-status/grpc-message pair deliberately disagrees with
	// the bin-encoded status to prove the richer one wins.
	md := metadata.Pairs("grpc-status", "5", "grpc-message", "not found", "grpc-status-details-bin", string(bin))
	gotErr := f.ReceiveTrailers(context.Background(), md, nil)
	if status.Code(gotErr) != codes.PermissionDenied {
		t.Fatalf("ReceiveTrailers error = %v, want PermissionDenied", gotErr)
	}
	st, _ := status.FromError(gotErr)
	if st.Message() != "rich status" {
		t.Fatalf("ReceiveTrailers message = %q, want %q", st.Message(), "rich status")
	}
}

func TestCompressionFilterRoundTrip(t *testing.T) {
	f := &CompressionFilter{Encoding: "gzip"}
	payload := []byte("hello, gzip")
	compressed, err := f.SendMessage(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	out, err := f.ReceiveMessage(context.Background(), compressed)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if string(out) != string(payload) {
		t.Errorf("round trip = %q, want %q", out, payload)
	}
}
