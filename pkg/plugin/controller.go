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
	"errors"
	"path"
	"sort"
	"sync"

	nri "github.com/containerd/nri/pkg/api"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"

	"github.com/unvariance/collector/pkg/cgroupsrc"
	"github.com/unvariance/collector/pkg/resctrl"
	"github.com/unvariance/collector/pkg/resctrlfs"
)

// Controller owns the only mutable state in the system: pod and container
// records guarded by a single mutex (spec C5). Every filesystem operation
// and PID enumeration is invoked with mu released, per the
// acquire-snapshot-release / reacquire-reread-mutate discipline spec.md §5
// requires.
type Controller struct {
	mu         sync.Mutex
	pods       map[types.UID]*PodRecord
	containers map[string]*ContainerRecord

	lib       *resctrl.Library
	pidSource cgroupsrc.Source
	cfg       Config
	events    *Channel
	metrics   *Metrics
}

// New constructs a Controller. metrics may be nil if no Prometheus
// registry is wired up (e.g. in unit tests).
func New(lib *resctrl.Library, pidSource cgroupsrc.Source, cfg Config, metrics *Metrics) *Controller {
	return &Controller{
		pods:       map[types.UID]*PodRecord{},
		containers: map[string]*ContainerRecord{},
		lib:        lib,
		pidSource:  pidSource,
		cfg:        cfg,
		events:     NewChannel(cfg.EventChannelCapacity),
		metrics:    metrics,
	}
}

// Events exposes the outbound event stream (C6).
func (c *Controller) Events() <-chan Event { return c.events.Events() }

// DroppedEvents reports how many events were dropped for a full channel.
func (c *Controller) DroppedEvents() uint64 { return c.events.Dropped() }

// Configure returns the event mask the controller subscribes to. It
// mutates no state.
func (c *Controller) Configure() []string { return EventMask }

// Pod returns a snapshot copy of a pod record, for callers (tests, status
// endpoints) that must not observe half-written state.
func (c *Controller) Pod(podUID types.UID) (PodRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pods[podUID]
	if !ok {
		return PodRecord{}, false
	}
	return *p, true
}

// Container returns a snapshot copy of a container record.
func (c *Controller) Container(containerID string) (ContainerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.containers[containerID]
	if !ok {
		return ContainerRecord{}, false
	}
	return *r, true
}

func (c *Controller) recordMetrics() {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	pods := len(c.pods)
	var failed int
	for _, p := range c.pods {
		if p.GroupState.Kind == GroupFailed {
			failed++
		}
	}
	containers := len(c.containers)
	var reconciled int
	for _, r := range c.containers {
		if r.State == ContainerReconciled {
			reconciled++
		}
	}
	c.mu.Unlock()

	c.metrics.PodsTotal.Set(float64(pods))
	c.metrics.PodsFailed.Set(float64(failed))
	c.metrics.ContainersTotal.Set(float64(containers))
	c.metrics.ContainersReconciled.Set(float64(reconciled))
	c.metrics.EventsDropped.Set(float64(c.DroppedEvents()))
}

// Synchronize is called once after Configure(). If CleanupOnStart is set,
// it runs cleanup_all() first (no events for cleanup). It then creates or
// ensures a group for each pod in the snapshot, upserts every container,
// and reconciles each container whose pod exists — emitting exactly one
// AddOrUpdate per pod afterward (spec.md §4.5.1 item 2).
func (c *Controller) Synchronize(pods []*nri.PodSandbox, containers []*nri.Container) (resctrl.CleanupReport, error) {
	var report resctrl.CleanupReport
	if c.cfg.CleanupOnStart {
		r, err := c.lib.CleanupAll()
		if err != nil {
			return report, err
		}
		report = r
		klog.InfoS("cleanup_all completed during synchronize",
			"removed", r.Removed, "removalFailures", r.RemovalFailures,
			"removalRace", r.RemovalRace, "nonPrefixGroups", r.NonPrefixGroups)
		if c.metrics != nil {
			c.metrics.CleanupRemoved.Add(float64(r.Removed))
			c.metrics.CleanupRemovalFailure.Add(float64(r.RemovalFailures))
		}
	}

	for _, p := range pods {
		if err := c.runPodSandbox(fromPodSandbox(p), false); err != nil {
			return report, err
		}
	}
	for _, ctr := range containers {
		if err := c.createContainer(fromContainer(ctr), false); err != nil {
			return report, err
		}
	}

	c.mu.Lock()
	uids := make([]types.UID, 0, len(c.pods))
	for uid := range c.pods {
		uids = append(uids, uid)
	}
	c.mu.Unlock()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	g := new(errgroup.Group)
	for _, uid := range uids {
		uid := uid
		g.Go(func() error { return c.reconcilePodContainers(uid) })
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	c.recordMetrics()
	return report, nil
}

func (c *Controller) reconcilePodContainers(podUID types.UID) error {
	c.mu.Lock()
	pod, ok := c.pods[podUID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	exists := pod.GroupState.Kind == GroupExists
	var toReconcile []string
	if exists {
		for id, rec := range c.containers {
			if rec.PodUID == podUID && rec.State != ContainerReconciled {
				toReconcile = append(toReconcile, id)
			}
		}
	}
	c.mu.Unlock()
	sort.Strings(toReconcile)

	for _, id := range toReconcile {
		if err := c.reconcileContainer(id); err != nil {
			return err
		}
	}

	c.mu.Lock()
	pod, ok = c.pods[podUID]
	if ok {
		c.events.Emit(addOrUpdateEvent(pod))
	}
	c.mu.Unlock()
	return nil
}

// runPodSandbox creates or ensures podUID's resctrl group and records the
// outcome. emit controls whether a state-change AddOrUpdate is sent
// (Synchronize defers emission to its own single pass per pod).
func (c *Controller) runPodSandbox(in podInput, emit bool) error {
	groupPath, err := c.lib.CreateGroup(in.uid)
	var state GroupState
	if err != nil {
		var fsErr *resctrlfs.Error
		if errors.As(err, &fsErr) && fsErr.Kind == resctrlfs.KindCapacity {
			state = failedState()
		} else {
			return err
		}
	} else {
		state = existsState(groupPath)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	existing, had := c.pods[in.uid]
	changed := true
	var pod *PodRecord
	if had {
		changed = existing.GroupState != state
		existing.GroupState = state
		existing.CgroupParent = in.cgroupParent
		pod = existing
	} else {
		var total uint32
		for _, rec := range c.containers {
			if rec.PodUID == in.uid {
				total++
			}
		}
		pod = &PodRecord{PodUID: in.uid, CgroupParent: in.cgroupParent, GroupState: state, TotalContainers: total}
		c.pods[in.uid] = pod
	}
	if emit && changed {
		c.events.Emit(addOrUpdateEvent(pod))
	}
	return nil
}

// HandleRunPodSandbox implements spec.md §4.5.1 item 3.
func (c *Controller) HandleRunPodSandbox(pod *nri.PodSandbox) error {
	err := c.runPodSandbox(fromPodSandbox(pod), true)
	c.recordMetrics()
	return err
}

// createContainer upserts a container record for in. If the parent pod is
// unknown, the record is stored as NoPod and nothing is emitted. emit
// controls whether a count-change AddOrUpdate fires immediately (see
// runPodSandbox for why Synchronize passes false).
func (c *Controller) createContainer(in containerInput, emit bool) error {
	c.mu.Lock()
	rec, existed := c.containers[in.id]
	pod, podKnown := c.pods[in.podUID]
	if existed {
		rec.CgroupFragment = in.cgroupFragment
		if podKnown && rec.State == ContainerNoPod {
			// The pod sandbox arrived after this container was first
			// observed; this update promotes it out of NoPod so it
			// becomes eligible for reconciliation.
			rec.State = ContainerPartial
		}
	} else {
		state := ContainerNoPod
		if podKnown {
			state = ContainerPartial
		}
		rec = &ContainerRecord{ContainerID: in.id, PodUID: in.podUID, CgroupFragment: in.cgroupFragment, State: state}
		c.containers[in.id] = rec
		if podKnown {
			pod.TotalContainers++
		}
	}
	countChanged := !existed && podKnown
	if emit && countChanged {
		c.events.Emit(addOrUpdateEvent(pod))
	}
	shouldReconcile := podKnown && pod.GroupState.Kind == GroupExists
	c.mu.Unlock()

	if !shouldReconcile {
		return nil
	}
	return c.reconcileContainer(in.id)
}

// HandleCreateContainer implements spec.md §4.5.1 item 4.
func (c *Controller) HandleCreateContainer(ctr *nri.Container) error {
	err := c.createContainer(fromContainer(ctr), true)
	c.recordMetrics()
	return err
}

// HandleRemoveContainer implements spec.md §4.5.1 item 5.
func (c *Controller) HandleRemoveContainer(containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.containers[containerID]
	if !ok {
		return
	}
	delete(c.containers, containerID)

	pod, ok := c.pods[rec.PodUID]
	if !ok {
		return
	}
	pod.TotalContainers--
	if rec.State == ContainerReconciled {
		pod.ReconciledContainers--
	}
	c.events.Emit(addOrUpdateEvent(pod))
	c.recordMetricsLocked()
}

// HandleRemovePodSandbox implements spec.md §4.5.1 item 6. A second call
// for the same podUID is a no-op (L3).
func (c *Controller) HandleRemovePodSandbox(podUID types.UID) {
	c.mu.Lock()
	pod, ok := c.pods[podUID]
	if !ok {
		c.mu.Unlock()
		return
	}
	groupPath := ""
	if pod.GroupState.Kind == GroupExists {
		groupPath = pod.GroupState.Path
	}
	c.mu.Unlock()

	if groupPath != "" {
		if err := c.lib.RemoveGroup(groupPath); err != nil {
			klog.ErrorS(err, "best-effort group removal failed on pod removal", "podUID", podUID, "path", groupPath)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, stillPresent := c.pods[podUID]; !stillPresent {
		// A concurrent remove already ran to completion (L3).
		return
	}
	delete(c.pods, podUID)
	for id, rec := range c.containers {
		if rec.PodUID == podUID {
			delete(c.containers, id)
		}
	}
	c.events.Emit(removedEvent(podUID))
	c.recordMetricsLocked()
}

// RetryGroupCreation implements spec.md §4.5.1 item 7's first bullet.
func (c *Controller) RetryGroupCreation(podUID types.UID) error {
	c.mu.Lock()
	pod, ok := c.pods[podUID]
	if !ok || pod.GroupState.Kind != GroupFailed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	groupPath, err := c.lib.CreateGroup(podUID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pod, ok = c.pods[podUID]
	if !ok || pod.GroupState.Kind == GroupExists {
		// Already gone, or a concurrent retry already transitioned this
		// pod to Exists — the other caller already emitted (S6).
		return nil
	}
	pod.GroupState = existsState(groupPath)
	c.events.Emit(addOrUpdateEvent(pod))
	return nil
}

// RetryContainerReconcile implements spec.md §4.5.1 item 7's second
// bullet. Containers in NoPod or already Reconciled are left untouched.
func (c *Controller) RetryContainerReconcile(containerID string) error {
	c.mu.Lock()
	rec, ok := c.containers[containerID]
	if !ok || rec.State != ContainerPartial {
		c.mu.Unlock()
		return nil
	}
	pod, ok := c.pods[rec.PodUID]
	if !ok || pod.GroupState.Kind != GroupExists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.reconcileContainer(containerID)
}

// RetryAllOnce implements spec.md §4.5.1 item 7's third bullet: retry
// every Failed pod's group creation, stopping further creation attempts at
// the first Capacity in this pass, then retry every Partial container.
func (c *Controller) RetryAllOnce() error {
	c.mu.Lock()
	var failedPods []types.UID
	for uid, pod := range c.pods {
		if pod.GroupState.Kind == GroupFailed {
			failedPods = append(failedPods, uid)
		}
	}
	var partialContainers []string
	for id, rec := range c.containers {
		if rec.State == ContainerPartial {
			partialContainers = append(partialContainers, id)
		}
	}
	c.mu.Unlock()
	sort.Slice(failedPods, func(i, j int) bool { return failedPods[i] < failedPods[j] })
	sort.Strings(partialContainers)

	for _, uid := range failedPods {
		if err := c.RetryGroupCreation(uid); err != nil {
			var fsErr *resctrlfs.Error
			if errors.As(err, &fsErr) && fsErr.Kind == resctrlfs.KindCapacity {
				break
			}
			return err
		}
	}

	for _, id := range partialContainers {
		if err := c.RetryContainerReconcile(id); err != nil {
			return err
		}
	}
	c.recordMetrics()
	return nil
}

// reconcileContainer is the shared internal operation spec.md §4.5.2
// names reconcile_container: snapshot under lock, run the (blocking)
// reconcile with the lock released, then reacquire and re-read before
// mutating, since either record may have changed while the lock was
// released.
func (c *Controller) reconcileContainer(containerID string) error {
	c.mu.Lock()
	rec, ok := c.containers[containerID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	pod, ok := c.pods[rec.PodUID]
	if !ok || pod.GroupState.Kind != GroupExists {
		c.mu.Unlock()
		return nil
	}
	groupPath := pod.GroupState.Path
	cgroupParent := pod.CgroupParent
	cgroupFragment := rec.CgroupFragment
	maxPasses := c.cfg.MaxReconcilePasses
	c.mu.Unlock()

	fullCgroupPath := path.Join(cgroupParent, cgroupFragment)
	source := resctrl.PIDSourceFunc(cgroupsrc.Bind(c.pidSource, fullCgroupPath))
	state, err := c.lib.ReconcileGroup(groupPath, source, maxPasses)
	if err != nil {
		var fsErr *resctrlfs.Error
		if errors.As(err, &fsErr) && fsErr.Kind == resctrlfs.KindCapacity {
			// Capacity during task assignment is not fatal at the
			// controller level: the container is left Partial and counts
			// reflect reality (spec's task-assignment failure semantics).
			state = resctrl.StatePartial
		} else {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok = c.containers[containerID]
	if !ok {
		return nil
	}
	pod, ok = c.pods[rec.PodUID]
	if !ok {
		return nil
	}

	before := pod.ReconciledContainers
	switch state {
	case resctrl.StateReconciled:
		if rec.State != ContainerReconciled {
			rec.State = ContainerReconciled
			pod.ReconciledContainers++
		}
	case resctrl.StatePartial:
		if rec.State == ContainerReconciled {
			pod.ReconciledContainers--
		}
		rec.State = ContainerPartial
	}
	if pod.ReconciledContainers != before {
		c.events.Emit(addOrUpdateEvent(pod))
	}
	return nil
}

// recordMetricsLocked updates Prometheus collectors while mu is already
// held; callers must not call recordMetrics (which locks) from the same
// goroutine in that case.
func (c *Controller) recordMetricsLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.PodsTotal.Set(float64(len(c.pods)))
	var failed int
	for _, p := range c.pods {
		if p.GroupState.Kind == GroupFailed {
			failed++
		}
	}
	c.metrics.PodsFailed.Set(float64(failed))
	c.metrics.ContainersTotal.Set(float64(len(c.containers)))
	var reconciled int
	for _, r := range c.containers {
		if r.State == ContainerReconciled {
			reconciled++
		}
	}
	c.metrics.ContainersReconciled.Set(float64(reconciled))
	c.metrics.EventsDropped.Set(float64(c.events.Dropped()))
}
