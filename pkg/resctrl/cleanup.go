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

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"github.com/unvariance/collector/pkg/resctrlfs"
)

// CleanupReport tallies what a CleanupAll pass did.
type CleanupReport struct {
	Removed         int
	RemovalFailures int
	RemovalRace     int
	NonPrefixGroups int
}

// CleanupAll scans exactly Root and Root/mon_groups, removing every
// immediate child directory whose leaf name begins with GroupPrefix and
// never descending into per-group mon_groups. The kernel's info and
// mon_groups directories at Root are skipped and not counted as
// NonPrefixGroups. A NOT_FOUND when listing
// Root/mon_groups is treated as an empty directory (spec §4.3); a failure
// listing Root propagates.
//
// This mirrors the teacher's GetAllPodsFromCgroups scan (mount-point loop,
// then per-QoS-dir loop, then a single prefix check per entry), adapted
// from "find every pod cgroup across every subsystem mount" to "find every
// owned group across resctrl's two fixed scan roots."
func (l *Library) CleanupAll() (CleanupReport, error) {
	var report CleanupReport
	var failures []error

	children, err := l.provider.ReadChildDirs(l.cfg.Root)
	if err != nil {
		return report, err
	}
	l.cleanupDir(l.cfg.Root, children, &report, &failures)

	monGroupsRoot := path.Join(l.cfg.Root, "mon_groups")
	monChildren, err := l.provider.ReadChildDirs(monGroupsRoot)
	if err != nil {
		if !resctrlfs.IsNotExist(err) {
			return report, err
		}
		monChildren = nil
	}
	l.cleanupDir(monGroupsRoot, monChildren, &report, &failures)

	if len(failures) > 0 {
		klog.ErrorS(utilerrors.NewAggregate(failures), "cleanup_all encountered removal failures")
	}
	return report, nil
}

func (l *Library) cleanupDir(dir string, children []string, report *CleanupReport, failures *[]error) {
	for _, leaf := range children {
		if dir == l.cfg.Root && (leaf == "info" || leaf == "mon_groups") {
			// Kernel directories at the resctrl root, not groups.
			continue
		}
		if !l.Owns(leaf) {
			report.NonPrefixGroups++
			continue
		}
		childPath := path.Join(dir, leaf)
		err := l.provider.RemoveDir(childPath)
		switch {
		case err == nil:
			report.Removed++
		case resctrlfs.IsNotExist(err):
			report.RemovalRace++
		default:
			report.RemovalFailures++
			*failures = append(*failures, err)
		}
	}
}
