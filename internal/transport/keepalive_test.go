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

import (
	"testing"
	"time"
)

func TestDoublePingInterval(t *testing.T) {
	if got, want := DoublePingInterval(10*time.Second), 20*time.Second; got != want {
		t.Errorf("DoublePingInterval(10s) = %v, want %v", got, want)
	}
	if got := DoublePingInterval(maxConnectionIdle31Bit); got != maxConnectionIdle31Bit {
		t.Errorf("DoublePingInterval(max) = %v, want the saturated max", got)
	}
	// A value whose double would overflow a signed 31-bit millisecond
	// count must saturate rather than wrap negative.
	if got := DoublePingInterval(maxConnectionIdle31Bit/2 + time.Second); got != maxConnectionIdle31Bit {
		t.Errorf("DoublePingInterval(near-max) = %v, want saturated max", got)
	}
}

func TestIsTooManyPings(t *testing.T) {
	if !IsTooManyPings("too_many_pings") {
		t.Error("IsTooManyPings(\"too_many_pings\") = false, want true")
	}
	if IsTooManyPings("something_else") {
		t.Error("IsTooManyPings(\"something_else\") = true, want false")
	}
}
