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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeThreads writes a cgroup.threads-shaped file under dir, creating dir
// first.
func writeThreads(t *testing.T, dir string, ids ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := ""
	for _, id := range ids {
		content += id + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup.threads"), []byte(content), 0o644))
}

func TestReadAllThreads_SingleLevel(t *testing.T) {
	root := t.TempDir()
	writeThreads(t, root, "1001", "1002")

	pids, err := readAllThreads(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1001, 1002}, pids)
}

func TestReadAllThreads_NestedSubcgroups(t *testing.T) {
	root := t.TempDir()
	writeThreads(t, root, "1001")
	writeThreads(t, filepath.Join(root, "init"), "1002", "1003")

	pids, err := readAllThreads(root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1001, 1002, 1003}, pids)
}

func TestReadAllThreads_MissingDirReturnsNotExist(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")

	pids, err := readAllThreads(root)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
	assert.Nil(t, pids)
}

func TestReadIDsFile_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cgroup.threads")
	require.NoError(t, os.WriteFile(path, []byte("1001\n\nnot-a-pid\n1002\n"), 0o644))

	ids, err := readIDsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1001, 1002}, ids)
}

func TestCgroupFSSource_MissingCgroupIsEmptySet(t *testing.T) {
	s := NewCgroupFSSource()
	pids, err := s.PidsForCgroup(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)
	assert.Empty(t, pids)
}
