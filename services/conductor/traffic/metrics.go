// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package traffic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by a Controller.
type Metrics struct {
	// Active is the number of slots currently held.
	Active prometheus.Gauge

	// Waiting is the number of queued acquisitions.
	Waiting prometheus.Gauge

	// WaitSeconds observes how long each acquisition waited.
	WaitSeconds prometheus.Histogram
}

// NewMetrics registers the traffic instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "traffic",
			Name:      "active_slots",
			Help:      "Number of admission slots currently held.",
		}),
		Waiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "traffic",
			Name:      "waiting_tickets",
			Help:      "Number of acquisitions waiting for a slot.",
		}),
		WaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "traffic",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for an admission slot.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}
