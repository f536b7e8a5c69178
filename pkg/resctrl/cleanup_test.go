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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unvariance/collector/pkg/resctrlfs"
)

// TestCleanupAll_Scope_S4 seeds pod_a, pod_b, info, other at root and
// pod_m1, np_m2 under mon_groups, and asserts only owned groups are
// removed; info and mon_groups itself are not counted as non-prefix groups.
func TestCleanupAll_Scope_S4(t *testing.T) {
	lib, fs := newTestLibrary()
	root := lib.cfg.Root

	for _, leaf := range []string{"pod_a", "pod_b", "info", "other"} {
		fs.SeedDir(path.Join(root, leaf))
	}
	monGroups := path.Join(root, "mon_groups")
	for _, leaf := range []string{"pod_m1", "np_m2"} {
		fs.SeedDir(path.Join(monGroups, leaf))
	}

	report, err := lib.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{Removed: 3, NonPrefixGroups: 2}, report)

	assert.False(t, fs.Exists(path.Join(root, "pod_a")))
	assert.False(t, fs.Exists(path.Join(root, "pod_b")))
	assert.True(t, fs.Exists(path.Join(root, "info")))
	assert.True(t, fs.Exists(path.Join(root, "other")))
	assert.False(t, fs.Exists(path.Join(monGroups, "pod_m1")))
	assert.True(t, fs.Exists(path.Join(monGroups, "np_m2")))
}

// TestCleanupAll_Idempotent_L2: a second call with nothing left to remove
// reports all-zero counters.
func TestCleanupAll_Idempotent_L2(t *testing.T) {
	lib, fs := newTestLibrary()
	fs.SeedDir(path.Join(lib.cfg.Root, "pod_a"))

	_, err := lib.CleanupAll()
	require.NoError(t, err)

	report, err := lib.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{}, report)
}

// TestCleanupAll_MonGroupsMissingTreatedAsEmpty covers the NOT_FOUND-on-
// mon_groups-listing edge case from spec §4.3/§7.
func TestCleanupAll_MonGroupsMissingTreatedAsEmpty(t *testing.T) {
	lib, fs := newTestLibrary()
	fs.SeedDir(path.Join(lib.cfg.Root, "pod_a"))
	// mon_groups was never seeded — ReadChildDirs(root/mon_groups) fails
	// with NOT_FOUND and must be treated as empty rather than propagated.

	report, err := lib.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
}

func TestCleanupAll_RemovalRace(t *testing.T) {
	lib, fs := newTestLibrary()
	root := lib.cfg.Root
	fs.SeedDir(path.Join(root, "pod_a"))
	// Simulate a concurrent actor having already removed pod_a by the
	// time CleanupAll's RemoveDir call runs: listing still shows it, but
	// the tree no longer has it.
	fs.SetChildDirsOverride(root, []string{"pod_a"})
	fs.RemoveDir(path.Join(root, "pod_a")) //nolint:errcheck // test setup

	report, err := lib.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovalRace)
	assert.Equal(t, 0, report.Removed)
}

func TestCleanupAll_RemovalFailure(t *testing.T) {
	lib, fs := newTestLibrary()
	root := lib.cfg.Root
	fs.SeedDir(path.Join(root, "pod_a"))
	fs.SetPermissionDenied(path.Join(root, "pod_a"), true)

	report, err := lib.CleanupAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemovalFailures)
}

func TestCleanupAll_ListingRootPropagates(t *testing.T) {
	cfg := DefaultConfig()
	// An unseeded MockProvider has never seen cfg.Root: listing it fails
	// with NOT_FOUND, which CleanupAll must propagate rather than
	// swallow (only the mon_groups listing gets the empty-on-NOT_FOUND
	// treatment).
	fs := resctrlfs.NewMockProvider(cfg.GroupPrefix)
	bareLib := New(cfg, fs)

	_, err := bareLib.CleanupAll()
	require.Error(t, err)
}
