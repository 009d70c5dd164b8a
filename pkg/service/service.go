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

// Package service assembles the bridge from config and runs it alongside
// the status server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/bridge"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus/mqtt"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus/nats"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus/socketio"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/config"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/device"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/metrics"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/status"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownTransport = errors.New("unknown bus transport")

// NewDeviceLink builds the device link from config. A configured serial
// port takes precedence over the TCP address.
func NewDeviceLink(cfg *config.Instance) *device.Link {
	var dialer device.Dialer
	if path := cfg.DeviceSerialPort(); path != "" {
		dialer = device.SerialDialer{
			Path:     path,
			BaudRate: cfg.DeviceBaudRate(),
		}
	} else {
		dialer = device.TCPDialer{
			Host:    cfg.DeviceHost(),
			Port:    cfg.DevicePort(),
			Timeout: cfg.DeviceConnectTimeout(),
		}
	}

	return device.NewLink(
		dialer,
		device.WithTerminator(cfg.DeviceTerminator()),
		device.WithMaxFrameSize(cfg.DeviceMaxFrameSize()),
	)
}

// NewBusLink builds the bus link for the configured transport.
func NewBusLink(cfg *config.Instance, m *metrics.Metrics) (bus.Link, error) {
	minWait, maxWait := cfg.BusReconnectBackoff()
	username, password := cfg.BusCredentials()

	switch cfg.BusTransport() {
	case config.TransportSocketIO, "":
		link, err := socketio.New(
			cfg.BusURL(),
			socketio.WithNamespace(cfg.BusNamespace()),
			socketio.WithConnectTimeout(cfg.BusConnectTimeout()),
			socketio.WithReconnect(minWait, maxWait),
			socketio.WithMetrics(m),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create socket.io link: %w", err)
		}
		return link, nil
	case config.TransportMQTT:
		return mqtt.New(
			cfg.BusURL(),
			cfg.BusTopicPrefix(),
			mqtt.WithCredentials(username, password),
			mqtt.WithConnectTimeout(cfg.BusConnectTimeout()),
			mqtt.WithReconnectMax(maxWait),
			mqtt.WithMetrics(m),
		), nil
	case config.TransportNATS:
		return nats.New(
			cfg.BusURL(),
			cfg.BusTopicPrefix(),
			nats.WithCredentials(username, password),
			nats.WithConnectTimeout(cfg.BusConnectTimeout()),
			nats.WithReconnect(minWait, maxWait),
			nats.WithMetrics(m),
		), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, cfg.BusTransport())
	}
}

type Service struct {
	cfg        *config.Instance
	bridge     *bridge.Bridge
	device     *device.Link
	store      *store.Store
	metrics    *metrics.Metrics
	statusAddr net.Addr
	mu         syncutil.RWMutex
}

type Option func(*options)

type options struct {
	bus     bus.Link
	metrics *metrics.Metrics
}

// WithBusLink replaces the bus link built from config.
func WithBusLink(link bus.Link) Option {
	return func(o *options) {
		o.bus = link
	}
}

// WithMetrics replaces the metrics registry created by New.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New builds the links, store and bridge described by cfg. Nothing is
// connected until Run.
func New(cfg *config.Instance, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := o.metrics
	if m == nil {
		var err error
		m, err = metrics.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	busLink := o.bus
	if busLink == nil {
		var err error
		busLink, err = NewBusLink(cfg, m)
		if err != nil {
			return nil, err
		}
	}

	deviceLink := NewDeviceLink(cfg)
	payloads := store.NewOS(cfg.StorePath())
	log.Info().
		Str("device", deviceLink.Address()).
		Str("transport", cfg.BusTransport()).
		Str("bus", cfg.BusURL()).
		Str("store", payloads.Path()).
		Msg("bridge configured")

	return &Service{
		cfg:     cfg,
		device:  deviceLink,
		store:   payloads,
		metrics: m,
		bridge:  bridge.New(deviceLink, busLink, payloads, bridge.WithMetrics(m)),
	}, nil
}

func (s *Service) Bridge() *bridge.Bridge {
	return s.bridge
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// StatusAddr returns the address the status server is listening on, or
// nil before Run has opened it or when it is disabled.
func (s *Service) StatusAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusAddr
}

// Run starts the bridge and the status server and blocks until the bridge
// terminates or ctx is cancelled. The status server is stopped when the
// bridge ends.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *status.Server
	var ln net.Listener
	if s.cfg.StatusEnabled() {
		var err error
		ln, err = status.Listen(ctx, s.cfg.StatusPort())
		if err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
		s.mu.Lock()
		s.statusAddr = ln.Addr()
		s.mu.Unlock()
		srv = status.NewServer(status.NewRouter(s.bridge, s.metrics, s.cfg.StatusAllowedOrigins()))
	} else {
		log.Info().Msg("status server disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.bridge.Run(gctx)
	})

	states, unsubscribe := s.device.SubscribeState(4)
	g.Go(func() error {
		defer unsubscribe()
		watchLinkState(gctx, s.metrics, "device", states)
		return nil
	})

	g.Go(func() error {
		s.watchStore(gctx)
		return nil
	})

	if srv != nil {
		g.Go(func() error {
			return srv.Serve(gctx, ln)
		})
	}

	err := g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("bridge service stopped with error")
		return err //nolint:wrapcheck // errors are wrapped by each component
	}
	log.Info().Msg("bridge service stopped")
	return nil
}

// watchStore counts changes to the payload file until ctx ends. A watch
// that cannot be set up is logged and otherwise ignored; frames still read
// the file on demand.
func (s *Service) watchStore(ctx context.Context) {
	err := s.store.Watch(ctx, func(ev store.FileEvent) {
		s.metrics.RecordStoreFileEvent(string(ev))
	})
	if err != nil {
		log.Warn().Err(err).Str("path", s.store.Path()).Msg("payload file not watched")
	}
}

// watchLinkState records link state changes until the link closes or ctx
// ends.
func watchLinkState(
	ctx context.Context,
	m *metrics.Metrics,
	link string,
	states <-chan linkstate.State,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				m.RecordLinkState(link, int(linkstate.Closed))
				return
			}
			m.RecordLinkState(link, int(st))
		}
	}
}
