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
	"context"
	"path"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"k8s.io/klog/v2"
)

// ContainerdSource enumerates task-ids through a containerd client's
// Task.Pids(), for nodes where containerd is the embedding runtime. The
// container id is taken as the final path element of the cgroup path NRI
// reports (fullCgroupPath), which is how containerd itself names per-
// container cgroups.
type ContainerdSource struct {
	client *containerd.Client
	// Namespace is the containerd namespace container ids live under
	// (k8s.io for a Kubernetes-managed containerd).
	Namespace string
}

var _ Source = (*ContainerdSource)(nil)

// NewContainerdSource wraps an already-connected containerd client.
func NewContainerdSource(client *containerd.Client, namespace string) *ContainerdSource {
	return &ContainerdSource{client: client, Namespace: namespace}
}

// PidsForCgroup implements Source.
func (s *ContainerdSource) PidsForCgroup(fullCgroupPath string) (map[int]struct{}, error) {
	ns := s.Namespace
	if ns == "" {
		ns = "k8s.io"
	}
	ctx := namespaces.WithNamespace(context.Background(), ns)

	containerID := path.Base(fullCgroupPath)
	container, err := s.client.LoadContainer(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return map[int]struct{}{}, nil
		}
		return nil, err
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			// Container exists but has no running task yet.
			return map[int]struct{}{}, nil
		}
		return nil, err
	}

	processes, err := task.Pids(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int]struct{}, len(processes))
	for _, proc := range processes {
		out[int(proc.Pid)] = struct{}{}
	}
	klog.V(4).InfoS("enumerated task-ids via containerd", "container", containerID, "count", len(out))
	return out, nil
}
