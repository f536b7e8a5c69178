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

package plugin

import (
	"context"

	nri "github.com/containerd/nri/pkg/api"
	"github.com/containerd/nri/pkg/stub"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
)

// NRIPlugin adapts Controller to the callback shape the NRI plugin stub
// dispatches (github.com/containerd/nri/pkg/stub): one method per event in
// Controller.Configure()'s mask, plus Synchronize. It holds no state of its
// own; every mutation lives in Controller, guarded by its own mutex, so
// concurrent callbacks from the plugin transport are safe exactly as
// spec.md §5 requires.
type NRIPlugin struct {
	Controller *Controller
}

// NewNRIPlugin wraps c for registration with the NRI plugin stub.
func NewNRIPlugin(c *Controller) *NRIPlugin {
	return &NRIPlugin{Controller: c}
}

// Configure returns the event mask, parsed into the bitmask the stub
// dispatch loop actually checks against. ctx/runtime/version are unused;
// this system has no use for the runtime's self-reported identity.
func (p *NRIPlugin) Configure(_ context.Context, _, _, _ string) (stub.EventMask, error) {
	return stub.ParseEvents(p.Controller.Configure()...)
}

// Synchronize runs the startup reconciliation pass and logs the cleanup
// report. It never requests container updates.
func (p *NRIPlugin) Synchronize(_ context.Context, pods []*nri.PodSandbox, containers []*nri.Container) ([]*nri.ContainerUpdate, error) {
	report, err := p.Controller.Synchronize(pods, containers)
	if err != nil {
		return nil, err
	}
	klog.InfoS("synchronize complete", "removed", report.Removed, "nonPrefixGroups", report.NonPrefixGroups)
	return nil, nil
}

// RunPodSandbox implements spec.md §4.5.1 item 3.
func (p *NRIPlugin) RunPodSandbox(_ context.Context, pod *nri.PodSandbox) error {
	return p.Controller.HandleRunPodSandbox(pod)
}

// StopPodSandbox is a no-op: group teardown happens on RemovePodSandbox,
// not on stop, since a stopped sandbox's containers may still need their
// counts visible until the sandbox is actually removed.
func (p *NRIPlugin) StopPodSandbox(_ context.Context, _ *nri.PodSandbox) error {
	return nil
}

// RemovePodSandbox implements spec.md §4.5.1 item 6.
func (p *NRIPlugin) RemovePodSandbox(_ context.Context, pod *nri.PodSandbox) error {
	p.Controller.HandleRemovePodSandbox(types.UID(pod.GetId()))
	return nil
}

// CreateContainer implements spec.md §4.5.1 item 4. The response carries no
// adjustment or update: this system only observes container lifecycle, it
// never changes a container's spec.
func (p *NRIPlugin) CreateContainer(_ context.Context, _ *nri.PodSandbox, ctr *nri.Container) (*nri.ContainerAdjustment, []*nri.ContainerUpdate, error) {
	if err := p.Controller.HandleCreateContainer(ctr); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

// RemoveContainer implements spec.md §4.5.1 item 5.
func (p *NRIPlugin) RemoveContainer(_ context.Context, _ *nri.PodSandbox, ctr *nri.Container) error {
	p.Controller.HandleRemoveContainer(ctr.GetId())
	return nil
}
