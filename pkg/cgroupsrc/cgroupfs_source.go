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

package cgroupsrc

import (
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/opencontainers/runc/libcontainer/cgroups"
	"k8s.io/klog/v2"
)

// CgroupFSSource reads task-ids directly off the cgroup filesystem. On the
// unified (v2) hierarchy it walks cgroup.threads, since pods in threaded
// mode fan a container out over several inner cgroups; on the legacy (v1)
// hierarchy libcontainer/cgroups.GetAllPids collects the cgroup.procs
// entries of the cgroup and of every cgroup beneath it.
//
// cgroups.IsCgroup2UnifiedMode is the same call the teacher's
// PodContainerManagerImpl.EnsureExists uses to branch pod cgroup setup
// between hierarchies; here it branches which file is authoritative for
// task-id enumeration instead.
type CgroupFSSource struct{}

// NewCgroupFSSource returns a Source backed by the local cgroup mount.
func NewCgroupFSSource() *CgroupFSSource {
	return &CgroupFSSource{}
}

var _ Source = (*CgroupFSSource)(nil)

// PidsForCgroup implements Source.
func (s *CgroupFSSource) PidsForCgroup(fullCgroupPath string) (map[int]struct{}, error) {
	var pids []int
	var err error
	if cgroups.IsCgroup2UnifiedMode() {
		pids, err = readAllThreads(fullCgroupPath)
	} else {
		pids, err = cgroups.GetAllPids(fullCgroupPath)
	}
	if err != nil {
		if os.IsNotExist(err) {
			// The container's cgroup hasn't been created yet, or has
			// already been torn down: empty-set, not an error (spec §4.4).
			return map[int]struct{}{}, nil
		}
		return nil, err
	}

	out := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		out[pid] = struct{}{}
	}
	return out, nil
}

// readAllThreads walks dir and every cgroup subdirectory beneath it,
// collecting every id in each level's cgroup.threads file. Mirrors the
// teacher's GetAllPodsFromCgroups directory walk (os.ReadDir + path.Join +
// continue-on-not-exist), adapted from "find pod cgroup directories" to
// "find every thread id under a container's cgroup subtree."
func readAllThreads(dir string) ([]int, error) {
	threads, err := readIDsFile(path.Join(dir, "cgroup.threads"))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return threads, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child, err := readAllThreads(path.Join(dir, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		threads = append(threads, child...)
	}
	return threads, nil
}

func readIDsFile(path string) ([]int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.Atoi(line)
		if err != nil {
			klog.V(4).InfoS("skipping malformed cgroup id line", "path", path, "line", line)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
