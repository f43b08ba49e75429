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

package transport

import (
	"io"
	"net/http"
	"testing"

	"github.com/johnsiilver/chanrt/codes"
)

func newTestStream() *Stream {
	return &Stream{headers: make(chan struct{})}
}

func TestTrailerPrefersGRPCStatus(t *testing.T) {
	s := newTestStream()
	resp := &http.Response{
		StatusCode: 404,
		Trailer: http.Header{
			"Grpc-Status":  []string{"5"},
			"Grpc-Message": []string{"not found"},
		},
	}
	s.setResponse(resp)

	got := s.Trailer()
	if got.Code() != codes.NotFound {
		t.Fatalf("Trailer().Code() = %v, want NotFound (trailer must win over :status=404)", got.Code())
	}
	if got.Message() != "not found" {
		t.Errorf("Trailer().Message() = %q, want %q", got.Message(), "not found")
	}
}

func TestTrailerFallsBackToHTTPStatus(t *testing.T) {
	s := newTestStream()
	resp := &http.Response{StatusCode: 404, Trailer: http.Header{}}
	s.setResponse(resp)

	if got := s.Trailer().Code(); got != codes.Unimplemented {
		t.Errorf("Trailer().Code() = %v, want Unimplemented for :status=404", got)
	}
}

func TestTrailerIsIdempotent(t *testing.T) {
	s := newTestStream()
	s.setResponse(&http.Response{StatusCode: 200, Trailer: http.Header{"Grpc-Status": []string{"0"}}})

	first := s.Trailer()
	second := s.Trailer()
	if first != second {
		t.Error("Trailer() computed a new status on the second call, want the same cached *status.Status")
	}
}

func TestCancelWithStatusNoOpAfterFinalized(t *testing.T) {
	s := newTestStream()
	_, pw := io.Pipe()
	s.pw = pw
	s.setResponse(&http.Response{StatusCode: 200, Trailer: http.Header{"Grpc-Status": []string{"0"}}})
	s.Trailer()

	s.CancelWithStatus(codes.Canceled, "too late")
	if got := s.Trailer().Code(); got == codes.Canceled {
		t.Error("CancelWithStatus overwrote an already-finalized trailer status")
	}
}
