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
	"testing"

	"golang.org/x/net/http2"

	"github.com/johnsiilver/chanrt/codes"
)

func TestHTTPStatusToCode(t *testing.T) {
	cases := map[int]codes.Code{
		400: codes.Internal,
		401: codes.Unauthenticated,
		403: codes.PermissionDenied,
		404: codes.Unimplemented,
		429: codes.Unavailable,
		502: codes.Unavailable,
		503: codes.Unavailable,
		504: codes.Unavailable,
		418: codes.Unknown,
	}
	for status, want := range cases {
		if got := httpStatusToCode(status); got != want {
			t.Errorf("httpStatusToCode(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestHTTP2ErrCodeToCode(t *testing.T) {
	cases := map[http2.ErrCode]codes.Code{
		http2.ErrCodeRefusedStream:      codes.Unavailable,
		http2.ErrCodeCancel:             codes.Canceled,
		http2.ErrCodeEnhanceYourCalm:    codes.ResourceExhausted,
		http2.ErrCodeInadequateSecurity: codes.PermissionDenied,
		http2.ErrCodeProtocol:           codes.Internal,
	}
	for ec, want := range cases {
		if got := http2ErrCodeToCode(ec); got != want {
			t.Errorf("http2ErrCodeToCode(%v) = %v, want %v", ec, got, want)
		}
	}
}
