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

// Package status implements errors returned by the channel runtime. Those
// errors are encoded with codes.Code, an optional message, and optional
// trailer metadata (spec.md §3 "Status": {code, details, metadata}).
package status

import (
	"errors"
	"fmt"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/metadata"
)

// Status represents an RPC status, often returned from failed RPCs.
type Status struct {
	code    codes.Code
	message string
	md      metadata.MD
}

// New returns a Status representing c and msg.
func New(c codes.Code, msg string) *Status {
	return &Status{code: c, message: msg}
}

// Newf returns New(c, fmt.Sprintf(format, a...)).
func Newf(c codes.Code, format string, a ...interface{}) *Status {
	return New(c, fmt.Sprintf(format, a...))
}

// WithMetadata returns a copy of s carrying the given trailer metadata.
func (s *Status) WithMetadata(md metadata.MD) *Status {
	if s == nil {
		s = New(codes.OK, "")
	}
	n := *s
	n.md = md
	return &n
}

// Code returns the status code contained in s.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.OK
	}
	return s.code
}

// Message returns the message contained in s.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Metadata returns the trailer metadata carried by s, if any.
func (s *Status) Metadata() metadata.MD {
	if s == nil {
		return nil
	}
	return s.md
}

// Err returns an immutable error representing s; returns nil if s.Code() is
// OK.
func (s *Status) Err() error {
	if s.Code() == codes.OK {
		return nil
	}
	return (*Error)(s)
}

// Proto returns s as a wire-compatible *spb.Status, the standard
// google.rpc.Status message (google.golang.org/genproto/googleapis/rpc/status).
func (s *Status) Proto() *spb.Status {
	if s == nil {
		return nil
	}
	return &spb.Status{
		Code:    int32(s.code),
		Message: s.message,
	}
}

// FromProto builds a Status from a wire google.rpc.Status message, the
// inverse of Proto.
func FromProto(p *spb.Status) *Status {
	if p == nil {
		return New(codes.OK, "")
	}
	return New(codes.Code(p.GetCode()), p.GetMessage())
}

// MarshalBinary serializes s as a wire google.rpc.Status message, the
// representation carried in a "grpc-status-details-bin" trailer entry.
func (s *Status) MarshalBinary() ([]byte, error) {
	return proto.Marshal(s.Proto())
}

// StatusFromBinary parses the wire representation MarshalBinary produces.
func StatusFromBinary(b []byte) (*Status, error) {
	p := &spb.Status{}
	if err := proto.Unmarshal(b, p); err != nil {
		return nil, err
	}
	return FromProto(p), nil
}

// Error wraps a Status to implement the error interface.
type Error Status

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code(), e.Message())
}

// Code returns e's status code.
func (e *Error) Code() codes.Code { return (*Status)(e).Code() }

// Message returns e's status message.
func (e *Error) Message() string { return (*Status)(e).Message() }

// FromError returns a Status representation of err.
//
//   - if err is nil, returns a nil *Status (whose Code is codes.OK and
//     whose Message is empty) and ok=true.
//   - if err is or wraps a *Error, returns the Status it contains.
//   - otherwise returns codes.Unknown with err.Error() as the message, and
//     ok=false.
func FromError(err error) (s *Status, ok bool) {
	if err == nil {
		return nil, true
	}
	var se *Error
	if errors.As(err, &se) {
		return (*Status)(se), true
	}
	return New(codes.Unknown, err.Error()), false
}

// Code returns the Code of the error if it is a Status error or if it wraps
// a Status error. If that is not the case, it returns codes.OK if err is
// nil, or codes.Unknown otherwise.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	s, _ := FromError(err)
	return s.Code()
}

// Error returns an error representing c and msg. If c is OK, returns nil.
func Error(c codes.Code, msg string) error {
	return New(c, msg).Err()
}

// Errorf returns Error(c, fmt.Sprintf(format, a...)).
func Errorf(c codes.Code, format string, a ...interface{}) error {
	return Error(c, fmt.Sprintf(format, a...))
}
