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

// Package nats is a bus link over a NATS server. Events are published on
// `<prefix>.events.<name>` and commands arrive on `<prefix>.command`.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-bridge/pkg/bus"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/linkstate"
	"github.com/ZaparooProject/zaparoo-bridge/pkg/metrics"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	TransportName = "nats"
	linkName      = "bus"
)

var ErrAlreadyConnected = errors.New("link already connected or closed")

// Conn is the subset of *nats.Conn used by the link.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Dialer opens a NATS connection (for mocking in tests).
type Dialer func(url string, opts ...nats.Option) (Conn, error)

// DefaultDialer connects to a real NATS server.
func DefaultDialer(url string, opts ...nats.Option) (Conn, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func EventSubject(prefix, event string) string {
	return prefix + ".events." + event
}

func CommandSubject(prefix string) string {
	return prefix + ".command"
}

type Option func(*Link)

func WithDialer(d Dialer) Option {
	return func(l *Link) {
		l.dialer = d
	}
}

func WithCredentials(username, password string) Option {
	return func(l *Link) {
		l.username = username
		l.password = password
	}
}

// WithConnectTimeout bounds each connection attempt. Zero means none.
func WithConnectTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.connectTimeout = d
	}
}

func WithReconnect(minWait, maxWait time.Duration) Option {
	return func(l *Link) {
		l.reconnectMin = minWait
		l.reconnectMax = maxWait
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Link) {
		l.metrics = m
	}
}

type Link struct {
	*bus.Core
	conn           Conn
	dialer         Dialer
	metrics        *metrics.Metrics
	url            string
	prefix         string
	username       string
	password       string
	connectTimeout time.Duration
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	mu             syncutil.Mutex
	started        bool
}

func New(url, prefix string, opts ...Option) *Link {
	l := &Link{
		url:          url,
		prefix:       prefix,
		dialer:       DefaultDialer,
		reconnectMin: bus.DefaultReconnectMin,
		reconnectMax: bus.DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Core = bus.NewCore(TransportName, l.metrics)
	return l
}

// options builds the connection options. Reconnects never give up and
// wait according to the shared exponential backoff.
func (l *Link) options() []nats.Option {
	bo := bus.NewBackoff(l.reconnectMin, l.reconnectMax)
	var boMu syncutil.Mutex

	opts := []nats.Option{
		nats.Name("zaparoo-bridge-" + uuid.New().String()[:8]),
		nats.MaxReconnects(-1),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			boMu.Lock()
			defer boMu.Unlock()
			if attempts <= 1 {
				bo.Reset()
			}
			return bo.NextBackOff()
		}),
		nats.DisconnectErrHandler(l.handleDisconnect),
		nats.ReconnectHandler(l.handleReconnect),
		nats.ClosedHandler(l.handleClosed),
	}
	if l.connectTimeout > 0 {
		opts = append(opts, nats.Timeout(l.connectTimeout))
	}
	if l.username != "" {
		opts = append(opts, nats.UserInfo(l.username, l.password))
	}
	return opts
}

func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.started || l.Closed() {
		l.mu.Unlock()
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.started = true
	l.mu.Unlock()

	l.SetState(linkstate.Connecting)
	log.Info().Msgf("nats: connecting to %s", l.url)

	type result struct {
		conn Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := l.dialer(l.url, l.options()...)
		done <- result{conn: conn, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		l.SetState(linkstate.Disconnected)
		go func() {
			if late := <-done; late.conn != nil {
				late.conn.Close()
			}
		}()
		return linkstate.NewConnError(linkName, "connect", ctx.Err())
	}
	if res.err != nil {
		l.SetState(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect", res.err)
	}

	subject := CommandSubject(l.prefix)
	if _, err := res.conn.Subscribe(subject, l.handleMessage); err != nil {
		res.conn.Close()
		l.SetState(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect",
			fmt.Errorf("failed to subscribe to %s: %w", subject, err))
	}

	l.mu.Lock()
	if l.Closed() {
		l.mu.Unlock()
		res.conn.Close()
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.conn = res.conn
	l.mu.Unlock()

	l.SetState(linkstate.Connected)
	log.Info().Msgf("nats: connected to %s (commands on %s)", l.url, subject)
	return nil
}

func (l *Link) handleDisconnect(_ *nats.Conn, err error) {
	if l.Closed() {
		return
	}
	log.Warn().Err(err).Msg("nats: disconnected")
	l.SetState(linkstate.Disconnected)
	l.SetState(linkstate.Connecting)
}

func (l *Link) handleReconnect(_ *nats.Conn) {
	if l.SetState(linkstate.Connected) {
		l.Reconnected()
	}
}

func (l *Link) handleClosed(_ *nats.Conn) {
	log.Debug().Msg("nats: connection closed")
}

func (l *Link) handleMessage(msg *nats.Msg) {
	if len(msg.Data) == 0 {
		log.Debug().Msg("nats: ignoring empty command message")
		return
	}
	l.DeliverRaw(msg.Data)
}

// Emit publishes the payload. String payloads are published as is,
// anything else is JSON encoded.
func (l *Link) Emit(event string, payload any) {
	if l.State() != linkstate.Connected {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	default:
		var err error
		body, err = json.Marshal(p)
		if err != nil {
			l.Dropped(event, fmt.Errorf("failed to encode payload: %w", err))
			return
		}
	}

	if err := conn.Publish(EventSubject(l.prefix, event), body); err != nil {
		l.Dropped(event, err)
		return
	}
	l.Emitted(event)
}

func (l *Link) Close() error {
	if !l.Shutdown() {
		return nil
	}

	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Info().Msg("nats: bus link closed")
	return nil
}
