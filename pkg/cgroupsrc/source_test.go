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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	calls []string
	pids  map[string]map[int]struct{}
}

func (f *fakeSource) PidsForCgroup(fullCgroupPath string) (map[int]struct{}, error) {
	f.calls = append(f.calls, fullCgroupPath)
	return f.pids[fullCgroupPath], nil
}

func TestBind_ClosesOverCgroupPath(t *testing.T) {
	src := &fakeSource{pids: map[string]map[int]struct{}{
		"/sys/fs/cgroup/kubepods/c1": {1001: {}},
	}}

	bound := Bind(src, "/sys/fs/cgroup/kubepods/c1")

	got, err := bound()
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{1001: {}}, got)

	// Calling again re-invokes the underlying source with the same path,
	// reflecting a fresh point-in-time snapshot rather than a cached one.
	_, err = bound()
	require.NoError(t, err)
	assert.Equal(t, []string{"/sys/fs/cgroup/kubepods/c1", "/sys/fs/cgroup/kubepods/c1"}, src.calls)
}
