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

package transport

import "time"

// maxConnectionIdle31Bit is the largest delay representable by a signed
// 31-bit millisecond count, the bound spec.md §9 "Timer precision" refers
// to ("where the host timer API has a signed 32-bit range, bound delays
// accordingly (~(1<<31) in the source)").
const maxConnectionIdle31Bit = (1<<31 - 1) * time.Millisecond

// ClientParameters configures keepalive pings sent on an idle connection
// (spec.md §8 boundary behavior: "Keepalive GOAWAY(ENHANCE_YOUR_CALM,
// too_many_pings) doubles keepalive_time_ms saturating at the 31-bit
// signed max").
type ClientParameters struct {
	// Time is the interval after which a keepalive ping is sent on an
	// idle connection.
	Time time.Duration
	// Timeout is how long to wait for a ping ack before considering the
	// connection dead.
	Timeout time.Duration
}

// DoublePingInterval computes the keepalive_time_ms that should be used
// after a server responds to a ping-triggering GOAWAY with
// ENHANCE_YOUR_CALM/"too_many_pings": double the current interval,
// saturating at the 31-bit signed millisecond max rather than
// overflowing.
func DoublePingInterval(current time.Duration) time.Duration {
	doubled := current * 2
	if doubled <= 0 || doubled > maxConnectionIdle31Bit {
		return maxConnectionIdle31Bit
	}
	return doubled
}

// IsTooManyPings reports whether a GOAWAY debug payload matches the
// server's "too_many_pings" complaint that triggers backing off the
// keepalive ping interval.
func IsTooManyPings(debugData string) bool {
	return debugData == "too_many_pings"
}
