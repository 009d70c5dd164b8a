// Zaparoo Bridge
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Bridge.
//
// Zaparoo Bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Bridge.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics holds the Prometheus collectors for the bridge. All
// Record methods are safe to call on a nil *Metrics, so components can be
// built without instrumentation in tests.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge"

// Metrics contains every collector exported by the bridge.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	StoreReads       *prometheus.CounterVec
	StoreFileEvents  *prometheus.CounterVec
	EventsEmitted    *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	CommandsReceived *prometheus.CounterVec
	DeviceSends      *prometheus.CounterVec
	InitRequests     prometheus.Counter
	BusReconnects    prometheus.Counter
	LinkState        *prometheus.GaugeVec
	BridgeState      prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "frames_received_total",
				Help:      "Frames received from the device, by tag",
			},
			[]string{"tag"},
		),

		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "parse_errors_total",
				Help:      "Device lines that could not be parsed, by reason",
			},
			[]string{"reason"},
		),

		StoreReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "reads_total",
				Help:      "Payload store reads, by result",
			},
			[]string{"result"},
		),

		StoreFileEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "file_events_total",
				Help:      "Changes to the payload file seen on disk, by operation",
			},
			[]string{"op"},
		),

		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_emitted_total",
				Help:      "Events written to the bus, by event name",
			},
			[]string{"event"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the bus was not connected, by event name",
			},
			[]string{"event"},
		),

		CommandsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "commands_received_total",
				Help:      "Commands received from the bus, by command name",
			},
			[]string{"command"},
		),

		DeviceSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "sends_total",
				Help:      "Lines written to the device, by result",
			},
			[]string{"result"},
		),

		InitRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "init_requests_total",
				Help:      "Init handshakes sent to the device",
			},
		),

		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Bus connections re-established after a loss",
			},
		),

		LinkState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "link",
				Name:      "state",
				Help:      "Link state (0=disconnected, 1=connecting, 2=connected, 3=closed)",
			},
			[]string{"link"},
		),

		BridgeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help: "Bridge state (0=idle, 1=awaiting device, 2=awaiting bus, " +
					"3=running, 4=terminated)",
			},
		),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesReceived,
		m.ParseErrors,
		m.StoreReads,
		m.StoreFileEvents,
		m.EventsEmitted,
		m.EventsDropped,
		m.CommandsReceived,
		m.DeviceSends,
		m.InitRequests,
		m.BusReconnects,
		m.LinkState,
		m.BridgeState,
	}
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordFrame(tag string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(tag).Inc()
}

func (m *Metrics) RecordParseError(reason string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordStoreRead(ok bool) {
	if m == nil {
		return
	}
	m.StoreReads.WithLabelValues(result(ok)).Inc()
}

// RecordStoreFileEvent counts a write or removal of the payload file.
func (m *Metrics) RecordStoreFileEvent(op string) {
	if m == nil {
		return
	}
	m.StoreFileEvents.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordEmit(event string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDrop(event string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordCommand(name string) {
	if m == nil {
		return
	}
	m.CommandsReceived.WithLabelValues(name).Inc()
}

func (m *Metrics) RecordDeviceSend(ok bool) {
	if m == nil {
		return
	}
	m.DeviceSends.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) RecordInitRequest() {
	if m == nil {
		return
	}
	m.InitRequests.Inc()
}

func (m *Metrics) RecordBusReconnect() {
	if m == nil {
		return
	}
	m.BusReconnects.Inc()
}

// RecordLinkState stores the numeric value of a link state.
func (m *Metrics) RecordLinkState(link string, state int) {
	if m == nil {
		return
	}
	m.LinkState.WithLabelValues(link).Set(float64(state))
}

func (m *Metrics) RecordBridgeState(state int) {
	if m == nil {
		return
	}
	m.BridgeState.Set(float64(state))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
