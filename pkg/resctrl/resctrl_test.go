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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unvariance/collector/pkg/resctrlfs"
)

func newTestLibrary() (*Library, *resctrlfs.MockProvider) {
	cfg := DefaultConfig()
	fs := resctrlfs.NewMockProvider(cfg.GroupPrefix)
	fs.SeedDir(cfg.Root)
	fs.SetMounted(cfg.Root, true)
	return New(cfg, fs), fs
}

func TestSanitizeLeaf_B1(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc-123_XYZ", "abc-123_XYZ"},
		{"slash", "a/b", "a_b"},
		{"colon-and-space", "pod:uid 1", "pod_uid_1"},
		{"empty", "", ""},
		{"unicode", "ü", "__"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitizeLeaf(tc.in))
		})
	}
}

func TestCreateGroup_Idempotent_L1(t *testing.T) {
	lib, _ := newTestLibrary()

	p1, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	p2, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, "/sys/fs/resctrl/pod_u1", p1)
}

func TestCreateGroup_Capacity(t *testing.T) {
	lib, fs := newTestLibrary()
	groupPath := lib.GroupPath("u1")
	fs.SetNoSpace(groupPath)

	_, err := lib.CreateGroup("u1")
	require.Error(t, err)

	var fsErr *resctrlfs.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, resctrlfs.KindCapacity, fsErr.Kind)
}

func TestCreateGroup_CapacityThenRecovery_S1(t *testing.T) {
	lib, fs := newTestLibrary()
	groupPath := lib.GroupPath("u1")
	fs.SetNoSpace(groupPath)

	_, err := lib.CreateGroup("u1")
	require.Error(t, err)

	fs.ClearNoSpace(groupPath)
	got, err := lib.CreateGroup("u1")
	require.NoError(t, err)
	assert.Equal(t, groupPath, got)
}

func TestAssignTasks_SkipsTransientPid_B3(t *testing.T) {
	lib, fs := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	// pid 222 has already exited by the time it would be written; the
	// other two pids are still live and must still land in tasks.
	fs.SetTransientPid(groupPath+"/tasks", "222")

	n, err := lib.AssignTasks(groupPath, []int{111, 222, 333})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	content, err := fs.ReadToString(groupPath + "/tasks")
	require.NoError(t, err)
	assert.Contains(t, content, "111")
	assert.NotContains(t, content, "222")
	assert.Contains(t, content, "333")
}

func TestAssignTasks_Capacity(t *testing.T) {
	lib, fs := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	fs.SetNoSpace(groupPath + "/tasks")
	n, err := lib.AssignTasks(groupPath, []int{111})
	require.Error(t, err)
	assert.Equal(t, 0, n)

	var fsErr *resctrlfs.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, resctrlfs.KindCapacity, fsErr.Kind)
}

func TestRemoveGroup_Idempotent(t *testing.T) {
	lib, _ := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	require.NoError(t, lib.RemoveGroup(groupPath))
	require.NoError(t, lib.RemoveGroup(groupPath))
}

func TestEnsureMounted_NotMountedNoAutoMount(t *testing.T) {
	cfg := DefaultConfig()
	fs := resctrlfs.NewMockProvider(cfg.GroupPrefix)
	lib := New(cfg, fs)

	err := lib.EnsureMounted(false)
	require.Error(t, err)
	var fsErr *resctrlfs.Error
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, resctrlfs.KindNotMounted, fsErr.Kind)
}

func TestEnsureMounted_AutoMount(t *testing.T) {
	cfg := DefaultConfig()
	fs := resctrlfs.NewMockProvider(cfg.GroupPrefix)
	lib := New(cfg, fs)

	require.NoError(t, lib.EnsureMounted(true))
	mounted, err := fs.IsMounted(cfg.Root)
	require.NoError(t, err)
	assert.True(t, mounted)
}

func TestEnsureMounted_AlreadyMounted(t *testing.T) {
	lib, _ := newTestLibrary()
	require.NoError(t, lib.EnsureMounted(false))
}

func TestGroupPath_P4(t *testing.T) {
	lib, _ := newTestLibrary()
	got := lib.GroupPath("weird/uid here")
	assert.True(t, hasPrefix(got, "/sys/fs/resctrl/pod_"))
}
