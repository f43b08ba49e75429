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

//go:build linux

package dns

import "golang.org/x/sys/unix"

// probeIPv6LiteralSupport backs IPv6LiteralsSupported on Linux by actually
// opening (and immediately closing) an AF_INET6 socket, the same
// syscall-level probe style moby-moby's osallocator tests use to inspect a
// socket's address family via golang.org/x/sys/unix. A platform with IPv6
// disabled in its kernel config fails this with EAFNOSUPPORT, matching
// spec.md §4.2 step 4's "platforms lacking literal-IPv6 support".
func probeIPv6LiteralSupport() bool {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_DGRAM, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}
