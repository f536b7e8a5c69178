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
)

// stepSource returns a different pid snapshot on each call, simulating
// tasks forking between reconcile passes.
type stepSource struct {
	steps []map[int]struct{}
	calls int
}

func (s *stepSource) Pids() (map[int]struct{}, error) {
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i], nil
}

func TestReconcileGroup_ConvergesInOnePass(t *testing.T) {
	lib, _ := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	src := PIDSourceFunc(func() (map[int]struct{}, error) {
		return map[int]struct{}{1001: {}, 1002: {}}, nil
	})

	state, err := lib.ReconcileGroup(groupPath, src, 3)
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, state)
}

func TestReconcileGroup_MaxPassesOne_PartialWhenNotConverged_B2(t *testing.T) {
	lib, _ := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	src := PIDSourceFunc(func() (map[int]struct{}, error) {
		return map[int]struct{}{1001: {}}, nil
	})

	state, err := lib.ReconcileGroup(groupPath, src, 1)
	require.NoError(t, err)
	assert.Equal(t, StatePartial, state)

	content, err := lib.provider.ReadToString(groupPath + "/tasks")
	require.NoError(t, err)
	assert.Empty(t, content, "max_passes=1 must not assign before giving up")
}

func TestReconcileGroup_ConvergesAcrossMovingTarget(t *testing.T) {
	lib, _ := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)

	src := &stepSource{steps: []map[int]struct{}{
		{1001: {}},
		{1001: {}, 1002: {}},
		{1001: {}, 1002: {}},
	}}

	state, err := lib.ReconcileGroup(groupPath, src, 3)
	require.NoError(t, err)
	assert.Equal(t, StateReconciled, state)
}

func TestReconcileGroup_PropagatesCapacity(t *testing.T) {
	lib, fs := newTestLibrary()
	groupPath, err := lib.CreateGroup("u1")
	require.NoError(t, err)
	fs.SetNoSpace(groupPath + "/tasks")

	src := PIDSourceFunc(func() (map[int]struct{}, error) {
		return map[int]struct{}{1001: {}}, nil
	})

	_, err = lib.ReconcileGroup(groupPath, src, 3)
	require.Error(t, err)
}
