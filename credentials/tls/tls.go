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

// Package tls wraps crypto/tls into a credentials.TransportCredentials,
// the secure-scheme branch of spec.md §4.3's Subchannel credentials.
package tls

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/johnsiilver/chanrt/credentials"
)

// NewCredentials uses c to construct a TransportCredentials based on TLS.
func NewCredentials(c *tls.Config) credentials.TransportCredentials {
	cfg := c.Clone()
	return &tlsTC{config: cfg}
}

// NewClientTLSFromCert constructs TLS credentials from the provided root
// certificate authority certificate(s), and optionally a server name.
func NewClientTLSFromCert(serverName string) credentials.TransportCredentials {
	return NewCredentials(&tls.Config{ServerName: serverName})
}

type tlsTC struct {
	config *tls.Config
}

func (c *tlsTC) ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	cfg := c.config.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = authority
	}

	conn := tls.Client(rawConn, cfg)
	errChannel := make(chan error, 1)
	go func() {
		errChannel <- conn.HandshakeContext(ctx)
		close(errChannel)
	}()
	select {
	case err := <-errChannel:
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
	case <-ctx.Done():
		conn.Close()
		return nil, nil, ctx.Err()
	}
	return conn, authInfo{state: conn.ConnectionState()}, nil
}

func (c *tlsTC) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{
		SecurityProtocol: "tls",
		ServerName:       c.config.ServerName,
	}
}

func (c *tlsTC) Clone() credentials.TransportCredentials {
	return NewCredentials(c.config)
}

func (c *tlsTC) OverrideServerName(serverNameOverride string) error {
	c.config.ServerName = serverNameOverride
	return nil
}

// authInfo is the AuthInfo carried by a TLS connection.
type authInfo struct {
	state tls.ConnectionState
}

func (authInfo) AuthType() string {
	return "tls"
}

// State returns the tls.ConnectionState established during the handshake.
func (a authInfo) State() tls.ConnectionState {
	return a.state
}
