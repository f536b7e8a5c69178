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

// Package resctrl implements the resctrl library (spec C3): mount
// detection, group creation/removal, task assignment with convergence, and
// prefix-scoped cleanup, all against an injectable resctrlfs.Provider.
package resctrl

import (
	"path"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"

	"github.com/unvariance/collector/pkg/resctrlfs"
)

// Config configures a Library.
type Config struct {
	// Root is the absolute path resctrl is expected to be mounted at.
	Root string
	// GroupPrefix is the leaf-name prefix identifying groups this system
	// owns. It is the sole criterion for ownership (spec invariant 5).
	GroupPrefix string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Root:        "/sys/fs/resctrl",
		GroupPrefix: "pod_",
	}
}

// Library is the resctrl library (C3). All of its operations assume
// EnsureMounted has already been called exactly once by the embedder.
type Library struct {
	cfg      Config
	provider resctrlfs.Provider
}

// New constructs a Library bound to provider.
func New(cfg Config, provider resctrlfs.Provider) *Library {
	return &Library{cfg: cfg, provider: provider}
}

// GroupPath returns the absolute group path for podUID without touching
// the filesystem.
func (l *Library) GroupPath(podUID types.UID) string {
	return path.Join(l.cfg.Root, l.cfg.GroupPrefix+sanitizeLeaf(string(podUID)))
}

// Owns reports whether leaf (a directory name directly under Root or
// Root/mon_groups) is owned by this system, per spec invariant 5.
func (l *Library) Owns(leaf string) bool {
	return len(l.cfg.GroupPrefix) > 0 && hasPrefix(leaf, l.cfg.GroupPrefix)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// EnsureMounted verifies (and, if autoMount is true, establishes) that a
// resctrl filesystem is mounted at Root.
func (l *Library) EnsureMounted(autoMount bool) error {
	mounted, err := l.provider.IsMounted(l.cfg.Root)
	if err != nil {
		return errors.Wrap(err, "ensure_mounted: reading /proc/mounts")
	}
	if mounted {
		return nil
	}
	if !autoMount {
		return &resctrlfs.Error{Kind: resctrlfs.KindNotMounted, Op: "ensure_mounted", Path: l.cfg.Root}
	}

	klog.InfoS("resctrl not mounted, attempting auto-mount", "root", l.cfg.Root)
	if err := l.provider.MountResctrl(l.cfg.Root); err != nil {
		return errors.Wrap(err, "ensure_mounted: mount")
	}

	mounted, err = l.provider.IsMounted(l.cfg.Root)
	if err != nil {
		return errors.Wrap(err, "ensure_mounted: re-verifying /proc/mounts")
	}
	if !mounted {
		return &resctrlfs.Error{Kind: resctrlfs.KindNotMounted, Op: "ensure_mounted", Path: l.cfg.Root}
	}
	return nil
}

// CreateGroup creates (idempotently) the control group for podUID and
// returns its absolute path. EEXIST is treated as success.
func (l *Library) CreateGroup(podUID types.UID) (string, error) {
	groupPath := l.GroupPath(podUID)
	err := l.provider.CreateDir(groupPath)
	if err == nil || resctrlfs.IsExist(err) {
		return groupPath, nil
	}
	return "", err
}

// AssignTasks appends every pid in pids to groupPath's tasks file,
// returning how many were actually assigned. A pid whose task has already
// exited (ENOENT/ESRCH) is skipped, not an error. ENOSPC aborts the loop
// and is returned as a *resctrlfs.Error with Kind == KindCapacity.
func (l *Library) AssignTasks(groupPath string, pids []int) (int, error) {
	tasksPath := path.Join(groupPath, "tasks")
	assigned := 0
	for _, pid := range pids {
		err := l.provider.AppendLine(tasksPath, strconv.Itoa(pid))
		if err == nil {
			assigned++
			continue
		}
		if resctrlfs.IsTransientPid(err) {
			klog.V(3).InfoS("pid exited before assignment, skipping", "pid", pid, "group", groupPath)
			continue
		}
		return assigned, err
	}
	return assigned, nil
}

// RemoveGroup removes groupPath. ENOENT is treated as success.
func (l *Library) RemoveGroup(groupPath string) error {
	err := l.provider.RemoveDir(groupPath)
	if err == nil || resctrlfs.IsNotExist(err) {
		return nil
	}
	return err
}
