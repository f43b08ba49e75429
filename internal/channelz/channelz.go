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

// Package channelz keeps an in-process registry of live Channels and
// Subchannels so operators can inspect the running state of the channel
// runtime (its connectivity state, target, and parent/child relationships)
// without attaching a debugger. Each entity is identified by a stable UUID
// assigned at registration time.
package channelz

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johnsiilver/chanrt/connectivity"
)

// Entity is the kind of object tracked by the registry.
type Entity int

const (
	// EntityChannel identifies a top-level Channel.
	EntityChannel Entity = iota
	// EntitySubchannel identifies a Subchannel owned by a Channel.
	EntitySubchannel
)

func (e Entity) String() string {
	switch e {
	case EntityChannel:
		return "channel"
	case EntitySubchannel:
		return "subchannel"
	default:
		return "unknown"
	}
}

// Metric is a point-in-time snapshot of a tracked entity.
type Metric struct {
	ID        string
	Kind      Entity
	Target    string
	State     connectivity.State
	ParentID  string
	CreatedAt time.Time
}

// registry is the process-wide channelz store. Its zero value is ready to
// use.
type registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	kind      Entity
	target    string
	parentID  string
	createdAt time.Time
	state     connectivity.State
}

var global = &registry{entries: make(map[string]*entry)}

// RegisterChannel registers a new top-level Channel and returns its
// channelz ID.
func RegisterChannel(target string) string {
	return global.register(EntityChannel, target, "")
}

// RegisterSubchannel registers a new Subchannel owned by the Channel or
// LoadBalancer identified by parentID, and returns its channelz ID.
func RegisterSubchannel(target, parentID string) string {
	return global.register(EntitySubchannel, target, parentID)
}

func (r *registry) register(kind Entity, target, parentID string) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.entries[id] = &entry{kind: kind, target: target, parentID: parentID, createdAt: time.Now()}
	r.mu.Unlock()
	return id
}

// RemoveEntry deletes id from the registry. It is a no-op if id is not
// present (e.g. it was already removed, or channelz is disabled).
func RemoveEntry(id string) {
	global.mu.Lock()
	delete(global.entries, id)
	global.mu.Unlock()
}

// SetState records the current connectivity state for id. It is a no-op
// if id is not present.
func SetState(id string, s connectivity.State) {
	global.mu.Lock()
	if e, ok := global.entries[id]; ok {
		e.state = s
	}
	global.mu.Unlock()
}

// GetMetric returns a snapshot of id, and whether id was found.
func GetMetric(id string) (Metric, bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	e, ok := global.entries[id]
	if !ok {
		return Metric{}, false
	}
	return Metric{
		ID:        id,
		Kind:      e.kind,
		Target:    e.target,
		State:     e.state,
		ParentID:  e.parentID,
		CreatedAt: e.createdAt,
	}, true
}

// Children returns the channelz IDs whose ParentID is parentID, e.g. all
// Subchannels owned by a Channel.
func Children(parentID string) []string {
	global.mu.Lock()
	defer global.mu.Unlock()
	var ids []string
	for id, e := range global.entries {
		if e.parentID == parentID {
			ids = append(ids, id)
		}
	}
	return ids
}
