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

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the controller's process-wide Prometheus collectors. None
// of this is in the spec's testable-properties surface; it exists so the
// daemon has something useful to serve on /metrics.
type Metrics struct {
	PodsTotal             prometheus.Gauge
	PodsFailed            prometheus.Gauge
	ContainersTotal       prometheus.Gauge
	ContainersReconciled  prometheus.Gauge
	EventsDropped         prometheus.Gauge
	CleanupRemoved        prometheus.Counter
	CleanupRemovalFailure prometheus.Counter
}

// NewMetrics registers the controller's collectors against reg. Passing a
// fresh prometheus.NewRegistry() keeps tests hermetic; cmd/resctrld also
// passes a dedicated prometheus.NewRegistry() and serves exactly that.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PodsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resctrld",
			Name:      "pods_total",
			Help:      "Number of pod records currently tracked by the controller.",
		}),
		PodsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resctrld",
			Name:      "pods_failed",
			Help:      "Number of pod records whose group_state is Failed.",
		}),
		ContainersTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resctrld",
			Name:      "containers_total",
			Help:      "Number of container records currently tracked by the controller.",
		}),
		ContainersReconciled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resctrld",
			Name:      "containers_reconciled",
			Help:      "Number of containers currently in the Reconciled state.",
		}),
		EventsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "resctrld",
			Name:      "events_dropped",
			Help:      "Outbound events dropped because the event channel was full.",
		}),
		CleanupRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resctrld",
			Name:      "cleanup_removed_total",
			Help:      "Groups removed by startup cleanup passes.",
		}),
		CleanupRemovalFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "resctrld",
			Name:      "cleanup_removal_failures_total",
			Help:      "Group removal failures encountered during startup cleanup passes.",
		}),
	}
	reg.MustRegister(
		m.PodsTotal,
		m.PodsFailed,
		m.ContainersTotal,
		m.ContainersReconciled,
		m.EventsDropped,
		m.CleanupRemoved,
		m.CleanupRemovalFailure,
	)
	return m
}
