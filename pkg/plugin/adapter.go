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
	nri "github.com/containerd/nri/pkg/api"
	"k8s.io/apimachinery/pkg/types"
)

// podInput and containerInput are the five opaque fields spec.md §6
// requires from the runtime-plugin boundary (pod UID, pod cgroup parent,
// container ID, container parent pod UID, container cgroup path
// fragment), read off the NRI wire types. Kept as a thin accessor layer
// rather than passing *nri.PodSandbox/*nri.Container straight into the
// controller's state-mutating methods, mirroring how the pack's own NRI
// cache wraps the same two types behind a narrow Pod/Container interface
// instead of reaching into the proto structs ad hoc everywhere.
type podInput struct {
	uid          types.UID
	cgroupParent string
}

type containerInput struct {
	id             string
	podUID         types.UID
	cgroupFragment string
}

// fromPodSandbox extracts the fields the controller needs from an NRI pod
// sandbox event. The pod's NRI-assigned Id is used as the opaque pod_uid
// (rather than the Kubernetes-level Uid field), since that is the value
// nri.Container.PodSandboxId cross-references — exactly how the pack's own
// cache keys pods by nriPod.GetId() and resolves containers to pods by
// matching against that same id.
func fromPodSandbox(pod *nri.PodSandbox) podInput {
	in := podInput{uid: types.UID(pod.GetId())}
	if linux := pod.GetLinux(); linux != nil {
		in.cgroupParent = linux.GetCgroupParent()
	}
	return in
}

// fromContainer extracts the fields the controller needs from an NRI
// container event.
func fromContainer(ctr *nri.Container) containerInput {
	in := containerInput{id: ctr.GetId(), podUID: types.UID(ctr.GetPodSandboxId())}
	if linux := ctr.GetLinux(); linux != nil {
		in.cgroupFragment = linux.GetCgroupsPath()
	}
	return in
}

// EventMask lists the lifecycle events the controller subscribes to
// (spec.md §4.5.1 item 1), in the string form NRI's Configure() response
// expects.
var EventMask = []string{
	"RunPodSandbox",
	"StopPodSandbox",
	"RemovePodSandbox",
	"CreateContainer",
	"RemoveContainer",
}
