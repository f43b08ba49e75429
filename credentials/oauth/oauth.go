/*
 *
 * Copyright 2016 gRPC authors.
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

// Package oauth implements a credentials.PerRPCCredentials backed by an
// oauth2.TokenSource, exercised by the call-credentials filter of
// spec.md §4.8.
package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/johnsiilver/chanrt/credentials"
)

// TokenSource supplies PerRPCCredentials from an oauth2.TokenSource.
type TokenSource struct {
	oauth2.TokenSource
}

// NewTokenSource constructs a credentials.PerRPCCredentials using
// ts to produce tokens.
func NewTokenSource(ts oauth2.TokenSource) credentials.PerRPCCredentials {
	return TokenSource{TokenSource: ts}
}

// GetRequestMetadata gets the request metadata as a map from a TokenSource.
func (ts TokenSource) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	token, err := ts.Token()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"authorization": token.Type() + " " + token.AccessToken,
	}, nil
}

// RequireTransportSecurity indicates whether the credentials requires
// transport security.
func (ts TokenSource) RequireTransportSecurity() bool {
	return true
}

// RequestInfo carries information about the request a PerRPCCredentials
// is being asked to authenticate, mirroring what a real transport would
// thread through ctx.
type RequestInfo struct {
	Method   string
	AuthInfo credentials.AuthInfo
}

type requestInfoKey struct{}

// NewContextWithRequestInfo attaches ri to ctx.
func NewContextWithRequestInfo(ctx context.Context, ri RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, ri)
}

// RequestInfoFromContext extracts the RequestInfo attached to ctx, if any.
func RequestInfoFromContext(ctx context.Context) (ri RequestInfo, ok bool) {
	ri, ok = ctx.Value(requestInfoKey{}).(RequestInfo)
	return ri, ok
}

// ErrInsecureTransport is returned if a PerRPCCredentials that requires
// transport security is used with an insecure connection.
var ErrInsecureTransport = fmt.Errorf("oauth: transport security is required")
