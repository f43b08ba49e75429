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

package subchannelpool

import "testing"

func TestGetOrCreateSharesEntry(t *testing.T) {
	p := New()
	defer p.Close()

	calls := 0
	newValue := func() (interface{}, func()) {
		calls++
		return "conn", func() {}
	}

	e1 := p.GetOrCreate("addr:1", newValue)
	e2 := p.GetOrCreate("addr:1", newValue)
	if e1 != e2 {
		t.Fatalf("GetOrCreate returned different entries for the same key")
	}
	if calls != 1 {
		t.Fatalf("newValue called %d times, want 1", calls)
	}
	if e1.refs != 2 {
		t.Fatalf("refs = %d, want 2", e1.refs)
	}
}

func TestUnrefUnusedSubchannelsReapsAtZero(t *testing.T) {
	p := New()
	defer p.Close()

	closed := false
	p.GetOrCreate("addr:1", func() (interface{}, func()) {
		return "conn", func() { closed = true }
	})
	p.Release("addr:1")

	removed := p.unrefUnusedSubchannels()
	if len(removed) != 1 || removed[0] != "addr:1" {
		t.Fatalf("unrefUnusedSubchannels() = %v, want [addr:1]", removed)
	}
	if !closed {
		t.Fatal("entry's Close was not called on reap")
	}

	if _, ok := p.entries["addr:1"]; ok {
		t.Fatal("entry still present after reap")
	}
}

func TestReleaseKeepsEntryAboveZero(t *testing.T) {
	p := New()
	defer p.Close()

	p.GetOrCreate("addr:1", func() (interface{}, func()) { return "conn", func() {} })
	p.GetOrCreate("addr:1", func() (interface{}, func()) { return "conn", func() {} })
	p.Release("addr:1")

	if removed := p.unrefUnusedSubchannels(); len(removed) != 0 {
		t.Fatalf("unrefUnusedSubchannels() = %v, want none reaped (refs still 1)", removed)
	}
}
