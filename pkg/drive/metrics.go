// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts read activity of every drive it is attached to. It is a
// prometheus.Collector; a nil *Metrics records nothing.
type Metrics struct {
	duration     *prometheus.HistogramVec
	sectors      *prometheus.CounterVec
	retries      *prometheus.CounterVec
	resets       *prometheus.CounterVec
	sectorErrors *prometheus.CounterVec
}

var _ prometheus.Collector = (*Metrics)(nil)

func NewMetrics() *Metrics {
	labels := []string{"device", "interface"}
	return &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdda_read_duration_seconds",
			Help:    "Duration of transport read transactions",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, labels),
		sectors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdda_read_sectors_total",
			Help: "Audio sectors delivered to the caller",
		}, labels),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdda_read_retries_total",
			Help: "Failed read attempts that were retried or given up on",
		}, labels),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdda_bus_resets_total",
			Help: "SCSI bus resets issued to recover a drive",
		}, labels),
		sectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdda_sector_errors_total",
			Help: "Sectors that stayed unreadable after every retry",
		}, labels),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.duration.Describe(ch)
	m.sectors.Describe(ch)
	m.retries.Describe(ch)
	m.resets.Describe(ch)
	m.sectorErrors.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.duration.Collect(ch)
	m.sectors.Collect(ch)
	m.retries.Collect(ch)
	m.resets.Collect(ch)
	m.sectorErrors.Collect(ch)
}

func (m *Metrics) observe(d *Drive, elapsed time.Duration) {
	if m == nil || elapsed < 0 {
		return
	}
	m.duration.WithLabelValues(d.device, d.iface.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) sectorsRead(d *Drive, n int) {
	if m == nil {
		return
	}
	m.sectors.WithLabelValues(d.device, d.iface.String()).Add(float64(n))
}

func (m *Metrics) retry(d *Drive) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(d.device, d.iface.String()).Inc()
}

func (m *Metrics) busReset(d *Drive) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(d.device, d.iface.String()).Inc()
}

func (m *Metrics) sectorError(d *Drive) {
	if m == nil {
		return
	}
	m.sectorErrors.WithLabelValues(d.device, d.iface.String()).Inc()
}

// timed records the duration of one transport transaction.
func (d *Drive) timed(elapsed time.Duration) {
	d.elapsed = elapsed
	d.opts.metrics.observe(d, elapsed)
}
