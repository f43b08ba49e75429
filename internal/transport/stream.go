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
	"strconv"
	"sync"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

// Stream is the wire-level half of a CallStream (spec.md §4.9): a duplex
// driver between application messages and one HTTP/2 stream. Writes are
// pushed through an io.Pipe into the outgoing request body; reads come
// from the response body once headers have arrived.
type Stream struct {
	pw *io.PipeWriter

	headers  chan struct{}
	hdrsOnce sync.Once

	mu       sync.Mutex
	resp     *http.Response
	earlyErr error

	finalOnce sync.Once
	final     *status.Status
}

func (s *Stream) setResponse(resp *http.Response) {
	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()
	s.hdrsOnce.Do(func() { close(s.headers) })
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.earlyErr = err
	s.mu.Unlock()
	s.hdrsOnce.Do(func() { close(s.headers) })
}

// Header blocks until the response headers have arrived (or the attempt
// failed before receiving any), and returns them as metadata.MD.
func (s *Stream) Header() (metadata.MD, error) {
	<-s.headers
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earlyErr != nil {
		return nil, s.earlyErr
	}
	return headerToMD(s.resp.Header), nil
}

// Write sends p as part of the outbound message stream, in
// application-write order (spec.md §5 "For a single CallStream, outbound
// messages are delivered in application-write order").
func (s *Stream) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

// CloseSend signals that no more outbound messages will be written.
func (s *Stream) CloseSend() error {
	return s.pw.Close()
}

// Read returns the next chunk of the inbound message stream. It returns
// io.EOF once the response body (and so the stream) has ended; callers
// should then call Trailer to retrieve the finalized status.
func (s *Stream) Read(p []byte) (int, error) {
	<-s.headers
	s.mu.Lock()
	err := s.earlyErr
	resp := s.resp
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return resp.Body.Read(p)
}

// Trailer computes the call's final Status exactly once (spec.md §4.9
// "finalStatus guard"), applying the precedence rules of spec.md §4.9/§7:
// an inbound "grpc-status" trailer always wins; absent one, the HTTP
// ":status" maps per the §4.9 table; absent a response at all, the error
// that failed the attempt is classified directly.
func (s *Stream) Trailer() *status.Status {
	s.finalOnce.Do(func() {
		s.mu.Lock()
		resp, earlyErr := s.resp, s.earlyErr
		s.mu.Unlock()

		if resp == nil {
			if se, ok := earlyErr.(*status.Error); ok {
				s.final = (*status.Status)(se)
				return
			}
			s.final = status.Newf(codes.Unavailable, "rpc error: %v", earlyErr)
			return
		}

		if gs := trailerValue(resp, "grpc-status"); gs != "" {
			code, err := strconv.Atoi(gs)
			if err != nil {
				s.final = status.Newf(codes.Unknown, "invalid grpc-status trailer %q", gs)
				return
			}
			msg := trailerValue(resp, "grpc-message")
			s.final = status.New(codes.Code(code), msg).WithMetadata(trailerToMD(resp))
			return
		}

		s.final = status.Newf(httpStatusToCode(resp.StatusCode), "unexpected HTTP status %d", resp.StatusCode)
	})
	return s.final
}

// cancelled reports whether this stream's final status has already been
// set, by Trailer or by CancelWithStatus, letting a caller short-circuit a
// redundant cancel (spec.md
// §4.9 "subsequent cancelWithStatus is a no-op").
func (s *Stream) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final != nil
}

// CancelWithStatus destroys the stream with CANCEL and finalizes status
// to c/msg, unless a trailer-derived status has already been finalized
// (spec.md §4.9 "cancelWithStatus... finalizes status after any in-flight
// trailer handling completes").
func (s *Stream) CancelWithStatus(c codes.Code, msg string) {
	if s.cancelled() {
		return
	}
	s.pw.CloseWithError(status.New(c, msg).Err())
	s.finalOnce.Do(func() {
		s.final = status.New(c, msg)
	})
}

func headerToMD(h http.Header) metadata.MD {
	md := metadata.MD{}
	for k, vs := range h {
		md.Set(toLowerHeaderKey(k), vs...)
	}
	return md
}

func trailerToMD(resp *http.Response) metadata.MD {
	md := metadata.MD{}
	for k, vs := range resp.Trailer {
		md.Set(toLowerHeaderKey(k), vs...)
	}
	return md
}

func trailerValue(resp *http.Response, key string) string {
	if vs := resp.Trailer[http.CanonicalHeaderKey(key)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func toLowerHeaderKey(k string) string {
	b := []byte(k)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
