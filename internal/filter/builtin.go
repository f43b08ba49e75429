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
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strconv"
	"time"

	"github.com/johnsiilver/chanrt/codes"
	"github.com/johnsiilver/chanrt/credentials"
	"github.com/johnsiilver/chanrt/metadata"
	"github.com/johnsiilver/chanrt/status"
)

// CallCredentialsFilter resolves per-call credentials into additional
// outgoing metadata (spec.md §4.8 "call-credentials": "resolves per-call
// credentials to additional metadata via the credential plugin; merges
// into outgoing metadata").
type CallCredentialsFilter struct {
	NopFilter
	Creds credentials.PerRPCCredentials
	// URI identifies the call for GetRequestMetadata, e.g.
	// "https://authority/service/method".
	URI string
}

func (f *CallCredentialsFilter) SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	if f.Creds == nil {
		return md, nil
	}
	extra, err := f.Creds.GetRequestMetadata(ctx, f.URI)
	if err != nil {
		return md, status.Newf(codes.Unauthenticated, "call credentials: %v", err).Err()
	}
	if len(extra) == 0 {
		return md, nil
	}
	out := md.Copy()
	for k, v := range extra {
		out.Set(k, v)
	}
	return out, nil
}

// DeadlineFilter sets the "grpc-timeout" header from the call's deadline,
// and reports DEADLINE_EXCEEDED once that deadline has passed (spec.md
// §4.8 "deadline": "sets a grpc-timeout header from the call deadline;
// schedules a timer that cancels the call with DEADLINE_EXCEEDED").
type DeadlineFilter struct {
	NopFilter
}

func (f *DeadlineFilter) SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	deadline, ok := DeadlineFromContext(ctx)
	if !ok {
		if d, has := ctx.Deadline(); has {
			deadline = d
		} else {
			return md, nil
		}
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return md, status.New(codes.DeadlineExceeded, "context deadline exceeded").Err()
	}
	out := md.Copy()
	out.Set("grpc-timeout", encodeTimeout(remaining))
	return out, nil
}

func (f *DeadlineFilter) ReceiveTrailers(ctx context.Context, md metadata.MD, err error) error {
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return status.New(codes.DeadlineExceeded, "context deadline exceeded").Err()
	}
	return nil
}

// encodeTimeout renders d as a gRPC "grpc-timeout" value: a positive
// integer followed by a unit character, using the smallest unit that
// keeps the integer within 8 digits.
func encodeTimeout(d time.Duration) string {
	if us := d.Microseconds(); us < 100000000 {
		return strconv.FormatInt(us, 10) + "u"
	}
	if ms := d.Milliseconds(); ms < 100000000 {
		return strconv.FormatInt(ms, 10) + "m"
	}
	secs := int64(d.Seconds())
	return strconv.FormatInt(secs, 10) + "S"
}

// MetadataStatusFilter rewrites the terminal status from an inbound
// "grpc-status" metadata entry (spec.md §4.8 "metadata-status": "if
// incoming metadata contains grpc-status, rewrites the inbound trailer
// path to terminate with that status").
type MetadataStatusFilter struct {
	NopFilter
}

func (f *MetadataStatusFilter) ReceiveTrailers(ctx context.Context, md metadata.MD, err error) error {
	vs := md.Get("grpc-status")
	if len(vs) == 0 {
		return err
	}
	code, perr := strconv.Atoi(vs[0])
	if perr != nil {
		return err
	}
	// "grpc-status-details-bin" carries a richer google.rpc.Status than the
	// plain code/message pair; prefer it when the server sent one and it
	// round-trips, else fall back to grpc-status/grpc-message.
	if bs := md.Get("grpc-status-details-bin"); len(bs) > 0 {
		if st, derr := status.StatusFromBinary([]byte(bs[0])); derr == nil {
			return st.WithMetadata(md).Err()
		}
	}
	msg := ""
	if m := md.Get("grpc-message"); len(m) > 0 {
		msg = m[0]
	}
	return status.New(codes.Code(code), msg).WithMetadata(md).Err()
}

// CompressionFilter negotiates and applies a per-message encoding using
// the "grpc-encoding"/"grpc-accept-encoding" headers (spec.md §4.8
// "compression"). Only "gzip" and the identity encoding are supported.
type CompressionFilter struct {
	NopFilter
	// Encoding is the compressor this call requests via "grpc-encoding".
	// The empty string means identity (no compression).
	Encoding string
}

func (f *CompressionFilter) SendMetadata(ctx context.Context, md metadata.MD) (metadata.MD, error) {
	if f.Encoding == "" {
		return md, nil
	}
	out := md.Copy()
	out.Set("grpc-encoding", f.Encoding)
	out.Set("grpc-accept-encoding", "gzip")
	return out, nil
}

func (f *CompressionFilter) SendMessage(ctx context.Context, p []byte) ([]byte, error) {
	if f.Encoding != "gzip" {
		return p, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, status.Newf(codes.Internal, "compression: %v", err).Err()
	}
	if err := w.Close(); err != nil {
		return nil, status.Newf(codes.Internal, "compression: %v", err).Err()
	}
	return buf.Bytes(), nil
}

func (f *CompressionFilter) ReceiveMessage(ctx context.Context, p []byte) ([]byte, error) {
	if f.Encoding != "gzip" {
		return p, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, status.Newf(codes.Internal, "decompression: %v", err).Err()
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, status.Newf(codes.Internal, "decompression: %v", err).Err()
	}
	return out, nil
}
