/*
Copyright 2022.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plugin

import (
	"sync/atomic"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/types"
)

// EventKind distinguishes the two outbound event payloads (spec.md §6).
type EventKind int

const (
	EventAddOrUpdate EventKind = iota
	EventRemoved
)

// AddOrUpdate reports a pod's current group state and container counts.
type AddOrUpdate struct {
	PodUID               types.UID
	GroupState           GroupState
	TotalContainers      uint32
	ReconciledContainers uint32
}

// Removed reports that a pod record (and its resctrl group, best-effort)
// has been torn down.
type Removed struct {
	PodUID types.UID
}

// Event is one outbound state-transition notification. ID is a correlation
// id for downstream log joins; it has no meaning to the controller itself.
type Event struct {
	ID          uuid.UUID
	Kind        EventKind
	AddOrUpdate AddOrUpdate
	Removed     Removed
}

// Channel is a bounded, non-blocking, single-producer outbound event
// stream with a monotonic drop counter (spec C6). Emit is called while the
// controller holds its state mutex, so it must never block: a full channel
// drops the event and increments Dropped instead.
type Channel struct {
	ch      chan Event
	dropped uint64
}

// NewChannel allocates a Channel with the given capacity.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	return &Channel{ch: make(chan Event, capacity)}
}

// Emit attempts a non-blocking send, counting a drop on a full channel.
func (c *Channel) Emit(e Event) {
	select {
	case c.ch <- e:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}

// Events exposes the receive side for consumers.
func (c *Channel) Events() <-chan Event { return c.ch }

// Dropped returns how many events have been dropped for a full channel.
func (c *Channel) Dropped() uint64 { return atomic.LoadUint64(&c.dropped) }

func addOrUpdateEvent(p *PodRecord) Event {
	return Event{
		ID:   uuid.New(),
		Kind: EventAddOrUpdate,
		AddOrUpdate: AddOrUpdate{
			PodUID:               p.PodUID,
			GroupState:           p.GroupState,
			TotalContainers:      p.TotalContainers,
			ReconciledContainers: p.ReconciledContainers,
		},
	}
}

func removedEvent(podUID types.UID) Event {
	return Event{ID: uuid.New(), Kind: EventRemoved, Removed: Removed{PodUID: podUID}}
}
