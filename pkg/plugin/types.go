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

// Package plugin implements the controller that reflects container-runtime
// lifecycle events into resctrl group membership: one pod record and a set
// of container records per pod, reconciled against pkg/resctrl and
// pkg/cgroupsrc, with state changes emitted on a bounded event channel.
package plugin

import "k8s.io/apimachinery/pkg/types"

// ContainerState is where a container record sits in its reconciliation
// lifecycle.
type ContainerState int

const (
	// ContainerNoPod means the container was observed before its pod
	// sandbox; it is never reconciled while in this state.
	ContainerNoPod ContainerState = iota
	// ContainerPartial means the pod is known but the container has not
	// (or no longer) converged: no reconcile has run yet, or the last one
	// returned Partial or hit Capacity.
	ContainerPartial
	// ContainerReconciled means the last reconcile pass observed every
	// known task-id present in the group's tasks file.
	ContainerReconciled
)

func (s ContainerState) String() string {
	switch s {
	case ContainerNoPod:
		return "NoPod"
	case ContainerPartial:
		return "Partial"
	case ContainerReconciled:
		return "Reconciled"
	default:
		return "Unknown"
	}
}

// GroupStateKind distinguishes whether a pod's resctrl group was
// successfully created.
type GroupStateKind int

const (
	// GroupExists means the group was created (or already existed) and
	// GroupState.Path names it.
	GroupExists GroupStateKind = iota
	// GroupFailed means the last creation attempt returned Capacity.
	GroupFailed
)

// GroupState is a pod's resctrl group outcome: Exists(path) or Failed.
type GroupState struct {
	Kind GroupStateKind
	Path string
}

func existsState(path string) GroupState { return GroupState{Kind: GroupExists, Path: path} }
func failedState() GroupState            { return GroupState{Kind: GroupFailed} }

// PodRecord is the controller's view of one pod.
type PodRecord struct {
	PodUID               types.UID
	CgroupParent         string
	GroupState           GroupState
	TotalContainers      uint32
	ReconciledContainers uint32
}

// ContainerRecord is the controller's view of one container.
type ContainerRecord struct {
	ContainerID    string
	PodUID         types.UID
	CgroupFragment string
	State          ContainerState
}

// Config holds the controller's tunables (spec.md §6 "Configuration").
type Config struct {
	// CleanupOnStart runs cleanup_all() during synchronize() before any
	// group is created or reconciled.
	CleanupOnStart bool
	// MaxReconcilePasses bounds convergence passes per reconcile call.
	MaxReconcilePasses int
	// EventChannelCapacity bounds the outbound event channel; sends past
	// capacity are dropped and counted.
	EventChannelCapacity int
}

// DefaultConfig mirrors spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		CleanupOnStart:       true,
		MaxReconcilePasses:   3,
		EventChannelCapacity: 256,
	}
}
