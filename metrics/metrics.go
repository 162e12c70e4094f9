// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for settlement operations.
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK = "ok"
)

// Recorder receives settlement telemetry.
type Recorder interface {
	RecordOperation(op, result string, d time.Duration)
	RecordPayout(amount *big.Int)
	RecordOpenChannels(delta int)
}

// Collector implements Recorder on top of a private Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	payouts      prometheus.Histogram
	openChannels prometheus.Gauge
}

// NewCollector creates a collector with all metrics in the given namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "rentchannel"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Settlement operations by operation and result kind",
		},
		[]string{"op", "result"},
	)
	c.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "operation_duration_seconds",
			Help:      "Time taken by settlement operations including the ledger commit",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
		},
		[]string{"op"},
	)
	c.payouts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "payout_wei",
			Help:      "Amounts paid to payees on close",
			Buckets:   prometheus.ExponentialBuckets(1e12, 10, 10), //nolint:gomnd
		},
	)
	c.openChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "open_channels",
			Help:      "Channels currently open",
		},
	)

	c.registry.MustRegister(c.operations, c.latency, c.payouts, c.openChannels)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordOperation counts one settlement operation.
func (c *Collector) RecordOperation(op, result string, d time.Duration) {
	c.operations.WithLabelValues(op, result).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordPayout observes the amount paid by a close.
func (c *Collector) RecordPayout(amount *big.Int) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	c.payouts.Observe(f)
}

// RecordOpenChannels moves the open channel gauge.
func (c *Collector) RecordOpenChannels(delta int) {
	c.openChannels.Add(float64(delta))
}

// SetOpenChannels sets the open channel gauge, e.g. after loading a
// persistent ledger.
func (c *Collector) SetOpenChannels(n int) {
	c.openChannels.Set(float64(n))
}

// NoOpCollector discards everything.
type NoOpCollector struct{}

func (NoOpCollector) RecordOperation(op, result string, d time.Duration) {}
func (NoOpCollector) RecordPayout(amount *big.Int)                       {}
func (NoOpCollector) RecordOpenChannels(delta int)                       {}
