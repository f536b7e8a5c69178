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

// Package cgroupsrc implements the PID source trait (spec C4): enumerating
// the task-ids currently attached to a container's cgroup subtree, as an
// unordered point-in-time set. Two backends are provided: CgroupFSSource
// reads the cgroup hierarchy directly (the default), and ContainerdSource
// asks a containerd Task for its pids on nodes where containerd is the
// embedding runtime.
package cgroupsrc

// Source enumerates task-ids for a single cgroup subtree. Implementations
// must treat an empty result as a valid, non-error outcome: the container
// may not have started yet, or may have already exited.
type Source interface {
	PidsForCgroup(fullCgroupPath string) (map[int]struct{}, error)
}

// Bind closes over fullCgroupPath, producing a resctrl.PIDSource-shaped
// function (point-in-time snapshot, no arguments) for a single container.
// Callers in pkg/plugin use this to satisfy reconcile_group's
// pid_source_bound_to(full_cgroup_path) contract (spec §4.5.2) without
// pkg/resctrl needing to know about cgroups at all.
func Bind(src Source, fullCgroupPath string) func() (map[int]struct{}, error) {
	return func() (map[int]struct{}, error) {
		return src.PidsForCgroup(fullCgroupPath)
	}
}
