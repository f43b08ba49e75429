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

// Package metadata defines the ordered mapping carried alongside RPCs
// (spec.md §3 "Metadata"), and its conversion to/from HTTP/2 headers.
package metadata

import (
	"context"
	"fmt"
	"strings"
)

// MD is a mapping from metadata keys to values. Keys are always lowercased.
// Multiple values for the same key are preserved in insertion order.
type MD map[string][]string

// New creates an MD from a given key-value map, lowercasing all keys.
func New(m map[string]string) MD {
	md := make(MD, len(m))
	for k, v := range m {
		key := strings.ToLower(k)
		md[key] = append(md[key], v)
	}
	return md
}

// Pairs returns an MD formed by joining successive key-value pairs.
// Pairs panics if len(kv) is odd.
func Pairs(kv ...string) MD {
	if len(kv)%2 == 1 {
		panic(fmt.Sprintf("metadata: Pairs got the odd number of input pairs for metadata: %d", len(kv)))
	}
	md := make(MD, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := strings.ToLower(kv[i])
		md[key] = append(md[key], kv[i+1])
	}
	return md
}

// Len returns the number of items in md.
func (md MD) Len() int {
	return len(md)
}

// Copy returns a copy of md.
func (md MD) Copy() MD {
	return Join(md)
}

// Get obtains the values for a given key.
func (md MD) Get(k string) []string {
	k = strings.ToLower(k)
	return md[k]
}

// Set sets the value of a given key with a slice of values, overwriting any
// previous value.
func (md MD) Set(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	k = strings.ToLower(k)
	md[k] = vals
}

// Append adds the values to key k, not overwriting what was already stored
// at that key.
func (md MD) Append(k string, vals ...string) {
	if len(vals) == 0 {
		return
	}
	k = strings.ToLower(k)
	md[k] = append(md[k], vals...)
}

// Delete removes the values for a given key k which is converted to
// lowercase before removing it from md.
func (md MD) Delete(k string) {
	k = strings.ToLower(k)
	delete(md, k)
}

// Join joins any number of mds into a single MD. Each call to Join returns
// a new MD; it does not modify its inputs.
func Join(mds ...MD) MD {
	out := MD{}
	for _, md := range mds {
		for k, v := range md {
			out[k] = append(out[k], v...)
		}
	}
	return out
}

type mdIncomingKey struct{}
type mdOutgoingKey struct{}

// NewIncomingContext creates a new context with incoming md attached.
func NewIncomingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, mdIncomingKey{}, md)
}

// NewOutgoingContext creates a new context with outgoing md attached. Later
// calls to NewOutgoingContext or AppendToOutgoingContext will overwrite or
// extend this md, respectively.
func NewOutgoingContext(ctx context.Context, md MD) context.Context {
	return context.WithValue(ctx, mdOutgoingKey{}, rawMD{md: md})
}

// AppendToOutgoingContext returns a new context with the provided key-value
// pairs merged with any existing metadata in the context, without mutating
// existing contexts or metadata values.
func AppendToOutgoingContext(ctx context.Context, kv ...string) context.Context {
	if len(kv)%2 == 1 {
		panic(fmt.Sprintf("metadata: AppendToOutgoingContext got an odd number of input pairs for metadata: %d", len(kv)))
	}
	raw, _ := ctx.Value(mdOutgoingKey{}).(rawMD)
	added := make([][]string, len(raw.added)+1)
	copy(added, raw.added)
	added[len(raw.added)] = kv
	return context.WithValue(ctx, mdOutgoingKey{}, rawMD{md: raw.md, added: added})
}

// FromIncomingContext returns the incoming metadata in ctx if it exists.
func FromIncomingContext(ctx context.Context) (MD, bool) {
	md, ok := ctx.Value(mdIncomingKey{}).(MD)
	if !ok {
		return nil, false
	}
	return md.Copy(), true
}

// FromOutgoingContext returns the outgoing metadata in ctx if it exists, by
// merging the md set by NewOutgoingContext with all the
// AppendToOutgoingContext-added pairs, in that order.
func FromOutgoingContext(ctx context.Context) (MD, bool) {
	raw, ok := ctx.Value(mdOutgoingKey{}).(rawMD)
	if !ok {
		return nil, false
	}
	mdSize := len(raw.md)
	for _, kv := range raw.added {
		mdSize += len(kv) / 2
	}
	out := make(MD, mdSize)
	for k, v := range raw.md {
		out[k] = append(out[k], v...)
	}
	for _, added := range raw.added {
		for i := 0; i < len(added); i += 2 {
			key := strings.ToLower(added[i])
			out[key] = append(out[key], added[i+1])
		}
	}
	return out, ok
}

// FromOutgoingContextRaw returns the un-merged, un-mutated list of metadata
// key/value pairs appended via AppendToOutgoingContext in addition to the
// base MD set by NewOutgoingContext. It lets picker/balancer code inspect
// a single appended key without paying for a full merge; nothing in this
// module calls it.
func FromOutgoingContextRaw(ctx context.Context) (MD, [][]string, bool) {
	raw, ok := ctx.Value(mdOutgoingKey{}).(rawMD)
	if !ok {
		return nil, nil, false
	}
	return raw.md, raw.added, true
}

type rawMD struct {
	md    MD
	added [][]string
}
