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

package resctrl

import (
	"path"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// State is the outcome of a ReconcileGroup pass.
type State int

const (
	// StateReconciled means every pid observed in the final pass was
	// present in the group's tasks file.
	StateReconciled State = iota
	// StatePartial means max_passes was exhausted with pids still
	// missing from the group, or the PID source returned an empty
	// snapshot.
	StatePartial
)

func (s State) String() string {
	if s == StateReconciled {
		return "Reconciled"
	}
	return "Partial"
}

// PIDSource yields a point-in-time snapshot of task-ids, already bound to
// one cgroup subtree. The unbound, per-cgroup-path enumeration trait (spec
// C4) lives in pkg/cgroupsrc; callers bind it to a specific container's
// cgroup path with PIDSourceFunc before calling ReconcileGroup, per spec
// §4.5.2's pid_source_bound_to(full_cgroup_path).
type PIDSource interface {
	Pids() (map[int]struct{}, error)
}

// PIDSourceFunc adapts a plain function to a PIDSource.
type PIDSourceFunc func() (map[int]struct{}, error)

// Pids implements PIDSource.
func (f PIDSourceFunc) Pids() (map[int]struct{}, error) { return f() }

// ReconcileGroup brings the set of task-ids inside groupPath into
// agreement with the PID source's current snapshot, up to maxPasses
// convergence passes. Assignment targets a moving target: new tasks may
// fork while tasks is being read, so each pass re-snapshots before
// re-reading what has actually landed.
func (l *Library) ReconcileGroup(groupPath string, pids PIDSource, maxPasses int) (State, error) {
	if maxPasses < 1 {
		maxPasses = 1
	}
	tasksPath := path.Join(groupPath, "tasks")

	for i := 0; ; i++ {
		snapshot, err := pids.Pids()
		if err != nil {
			return StatePartial, err
		}
		if len(snapshot) == 0 {
			// An empty snapshot is indistinguishable from "nothing has
			// forked into this cgroup yet" and from a genuinely
			// converged container; treat it as inconclusive rather than
			// declaring Reconciled with zero evidence, so a
			// container observed before its first task exists does not
			// flip straight to Reconciled.
			return StatePartial, nil
		}

		assigned, err := l.readAssigned(tasksPath)
		if err != nil {
			return StatePartial, err
		}

		missing := make([]int, 0)
		for pid := range snapshot {
			if _, ok := assigned[pid]; !ok {
				missing = append(missing, pid)
			}
		}

		if len(missing) == 0 {
			return StateReconciled, nil
		}
		if i+1 == maxPasses {
			klog.V(3).InfoS("reconcile exhausted passes with pids still missing", "group", groupPath, "passes", maxPasses, "missing", len(missing))
			return StatePartial, nil
		}

		if _, err := l.AssignTasks(groupPath, missing); err != nil {
			return StatePartial, err
		}
	}
}

func (l *Library) readAssigned(tasksPath string) (map[int]struct{}, error) {
	content, err := l.provider.ReadToString(tasksPath)
	if err != nil {
		return nil, err
	}
	assigned := map[int]struct{}{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		assigned[pid] = struct{}{}
	}
	return assigned, nil
}
