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

// Command resctrld runs the resctrl reconciliation node agent: an NRI
// plugin that mirrors container-runtime pod/container lifecycle events
// into per-pod resctrl control groups.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/containerd/containerd"
	"github.com/containerd/nri/pkg/stub"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/unvariance/collector/pkg/cgroupsrc"
	"github.com/unvariance/collector/pkg/plugin"
	"github.com/unvariance/collector/pkg/resctrl"
	"github.com/unvariance/collector/pkg/resctrlfs"
)

const (
	flagResctrlRoot      = "resctrl-root"
	flagGroupPrefix      = "group-prefix"
	flagAutoMount        = "auto-mount"
	flagCleanupOnStart   = "cleanup-on-start"
	flagMaxPasses        = "max-reconcile-passes"
	flagEventCapacity    = "event-channel-capacity"
	flagPidSource        = "pid-source"
	flagContainerdSocket = "containerd-socket"
	flagContainerdNS     = "containerd-namespace"
	flagRetryInterval    = "retry-interval"
	flagMetricsAddr      = "metrics-address"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resctrld",
		Short: "Reconcile Kubernetes pod/container lifecycle into resctrl groups",
		RunE:  run,
	}

	flags := cmd.Flags()
	rcfg := resctrl.DefaultConfig()
	pcfg := plugin.DefaultConfig()

	flags.String(flagResctrlRoot, rcfg.Root, "Absolute path resctrl is expected to be mounted at")
	flags.String(flagGroupPrefix, rcfg.GroupPrefix, "Leaf-name prefix identifying groups owned by this agent")
	flags.Bool(flagAutoMount, false, "Allow ensure_mounted to mount resctrl itself if not already mounted")
	flags.Bool(flagCleanupOnStart, pcfg.CleanupOnStart, "Run cleanup_all during synchronize before any group is created")
	flags.Int(flagMaxPasses, pcfg.MaxReconcilePasses, "Upper bound on convergence passes per reconcile call")
	flags.Int(flagEventCapacity, pcfg.EventChannelCapacity, "Bounded outbound event channel size")
	flags.String(flagPidSource, "cgroupfs", "PID source backend: cgroupfs or containerd")
	flags.String(flagContainerdSocket, "/run/containerd/containerd.sock", "containerd socket path, when --pid-source=containerd")
	flags.String(flagContainerdNS, "k8s.io", "containerd namespace, when --pid-source=containerd")
	flags.Duration(flagRetryInterval, 5*time.Second, "Interval between retry_all_once passes")
	flags.String(flagMetricsAddr, ":9090", "Address to serve /metrics on")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	rcfg := resctrl.DefaultConfig()
	rcfg.Root, _ = flags.GetString(flagResctrlRoot)
	rcfg.GroupPrefix, _ = flags.GetString(flagGroupPrefix)
	autoMount, _ := flags.GetBool(flagAutoMount)

	pcfg := plugin.DefaultConfig()
	pcfg.CleanupOnStart, _ = flags.GetBool(flagCleanupOnStart)
	pcfg.MaxReconcilePasses, _ = flags.GetInt(flagMaxPasses)
	pcfg.EventChannelCapacity, _ = flags.GetInt(flagEventCapacity)

	retryInterval, _ := flags.GetDuration(flagRetryInterval)
	metricsAddr, _ := flags.GetString(flagMetricsAddr)

	fsProvider := resctrlfs.NewOSProvider()
	lib := resctrl.New(rcfg, fsProvider)

	if err := ensureMountedWithBackoff(lib, autoMount); err != nil {
		return fmt.Errorf("ensure_mounted: %w", err)
	}

	pidSource, err := newPidSource(flags)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := plugin.NewMetrics(registry)
	controller := plugin.New(lib, pidSource, pcfg, metrics)

	serveMetrics(metricsAddr, registry)

	go drainEvents(controller)
	go retryLoop(controller, retryInterval)

	nriPlugin := plugin.NewNRIPlugin(controller)
	nriStub, err := stub.New(nriPlugin, stub.WithPluginName("resctrld"), stub.WithPluginIdx("00"))
	if err != nil {
		return fmt.Errorf("creating NRI plugin stub: %w", err)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		klog.V(2).InfoS("sd_notify unavailable, continuing without it", "err", err)
	}
	go watchdogLoop()

	klog.InfoS("resctrld starting", "root", rcfg.Root, "groupPrefix", rcfg.GroupPrefix)
	return nriStub.Run(context.Background())
}

func ensureMountedWithBackoff(lib *resctrl.Library, autoMount bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(func() error {
		return lib.EnsureMounted(autoMount)
	}, b)
}

func newPidSource(flags interface{ GetString(string) (string, error) }) (cgroupsrc.Source, error) {
	kind, _ := flags.GetString(flagPidSource)
	switch kind {
	case "", "cgroupfs":
		return cgroupsrc.NewCgroupFSSource(), nil
	case "containerd":
		socket, _ := flags.GetString(flagContainerdSocket)
		namespace, _ := flags.GetString(flagContainerdNS)
		client, err := containerd.New(socket)
		if err != nil {
			return nil, fmt.Errorf("connecting to containerd at %s: %w", socket, err)
		}
		return cgroupsrc.NewContainerdSource(client, namespace), nil
	default:
		return nil, fmt.Errorf("unknown %s %q: want cgroupfs or containerd", flagPidSource, kind)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "metrics server exited")
		}
	}()
}

// drainEvents logs every controller state transition. A real deployment
// would forward these to the downstream emitters named out of scope by
// this agent; logging is the minimal useful consumer here.
func drainEvents(c *plugin.Controller) {
	for e := range c.Events() {
		switch e.Kind {
		case plugin.EventAddOrUpdate:
			klog.V(2).InfoS("pod state", "podUID", e.AddOrUpdate.PodUID,
				"groupState", e.AddOrUpdate.GroupState.Kind,
				"total", e.AddOrUpdate.TotalContainers,
				"reconciled", e.AddOrUpdate.ReconciledContainers)
		case plugin.EventRemoved:
			klog.V(2).InfoS("pod removed", "podUID", e.Removed.PodUID)
		}
	}
}

// retryLoop drives the caller-owned retry cadence spec.md §5 requires: the
// controller itself has no timers.
func retryLoop(c *plugin.Controller, interval time.Duration) {
	clk := clock.RealClock{}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C() {
		if err := c.RetryAllOnce(); err != nil {
			klog.ErrorS(err, "retry_all_once failed")
		}
	}
}

func watchdogLoop() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	clk := clock.RealClock{}
	ticker := clk.NewTicker(interval / 2)
	defer ticker.Stop()
	for range ticker.C() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			klog.V(3).InfoS("watchdog notify failed", "err", err)
		}
	}
}
