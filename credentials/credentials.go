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

// Package credentials defines the interfaces a Subchannel uses to secure
// its transport (TransportCredentials) and the interface a call uses to
// attach per-RPC authentication data (PerRPCCredentials). Both are
// external to the channel runtime proper — spec.md §1 treats
// "authentication/credentials: real but external; channel interacts with
// them through narrow interfaces" — so this package only defines the
// contracts and the plaintext implementation; TLS and OAuth live in their
// own sub-packages.
package credentials

import (
	"context"
	"net"
)

// ProtocolInfo provides information regarding the gRPC wire protocol
// version, security protocol, security protocol version in use,
// server name, etc.
type ProtocolInfo struct {
	// ProtocolVersion is the gRPC wire protocol version.
	ProtocolVersion string
	// SecurityProtocol is the security protocol in use.
	SecurityProtocol string
	// ServerName is the user-configured server name.
	ServerName string
}

// AuthInfo defines the common interface for the auth information the
// users are interested in.
type AuthInfo interface {
	AuthType() string
}

// TransportCredentials defines the common interface for all the
// independent security primitives a Subchannel can use to secure a
// connection, per spec.md §4.3.
type TransportCredentials interface {
	// ClientHandshake does the authentication handshake specified by the
	// corresponding authentication protocol on rawConn for clients. It
	// returns the authenticated connection and the corresponding
	// AuthInfo about the connection.
	ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, AuthInfo, error)
	// Info provides the ProtocolInfo of this TransportCredentials.
	Info() ProtocolInfo
	// Clone makes a copy of this TransportCredentials.
	Clone() TransportCredentials
	// OverrideServerName overrides the server name used for verifying the
	// hostname on the returned certificates.
	OverrideServerName(string) error
}

// PerRPCCredentials defines the common interface for the credentials
// which need to attach security information to every RPC (e.g.
// oauth2.Token). A PerRPCCredentials implementation can be used
// independently from TransportCredentials, or combined with it by a
// call's FilterStack (spec.md §4.8's call-credentials filter).
type PerRPCCredentials interface {
	// GetRequestMetadata gets the current request metadata, refreshing
	// tokens if required. This should be called by the transport layer on
	// each request, and the data should be populated in headers or other
	// context. uri is the URI of the entry point for the request. When
	// supported by the underlying implementation, ctx can be used for
	// timeout and cancellation. Additionally, RequestInfo data will be
	// available via ctx to this call.
	GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error)
	// RequireTransportSecurity indicates whether the credentials requires
	// transport security.
	RequireTransportSecurity() bool
}
