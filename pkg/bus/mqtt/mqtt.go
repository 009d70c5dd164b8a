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

// Package mqtt is a bus link over an MQTT broker. Events are published to
// `<prefix>/events/<name>` and commands are read from `<prefix>/command`.
package mqtt

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
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	TransportName  = "mqtt"
	linkName       = "bus"
	publishTimeout = 5 * time.Second
	commandQoS     = 1
	eventQoS       = 0
)

var ErrAlreadyConnected = errors.New("link already connected or closed")

// EventTopic is the topic an event is published on.
func EventTopic(prefix, event string) string {
	return prefix + "/events/" + event
}

// CommandTopic is the topic commands are read from.
func CommandTopic(prefix string) string {
	return prefix + "/command"
}

type Option func(*Link)

func WithClientFactory(f ClientFactory) Option {
	return func(l *Link) {
		l.factory = f
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

// WithReconnectMax caps the wait between reconnect attempts.
func WithReconnectMax(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.reconnectMax = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Link) {
		l.metrics = m
	}
}

type Link struct {
	*bus.Core
	client         mqtt.Client
	factory        ClientFactory
	metrics        *metrics.Metrics
	brokerURL      string
	prefix         string
	username       string
	password       string
	connectTimeout time.Duration
	reconnectMax   time.Duration
	mu             syncutil.Mutex
	connects       int
	started        bool
}

func New(brokerURL, prefix string, opts ...Option) *Link {
	l := &Link{
		brokerURL:    brokerURL,
		prefix:       prefix,
		factory:      DefaultClientFactory,
		reconnectMax: bus.DefaultReconnectMax,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Core = bus.NewCore(TransportName, l.metrics)
	return l
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
	log.Info().Msgf("mqtt: connecting to %s", l.brokerURL)

	opts := NewClientOptions(l.brokerURL, l.username, l.password, l.connectTimeout, l.reconnectMax)
	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(l.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		l.SetState(linkstate.Connecting)
	})

	client := l.factory(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		l.SetState(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect", ctx.Err())
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		l.SetState(linkstate.Disconnected)
		return linkstate.NewConnError(linkName, "connect", fmt.Errorf("failed to connect to MQTT broker: %w", err))
	}

	l.mu.Lock()
	if l.Closed() {
		l.mu.Unlock()
		client.Disconnect(0)
		return linkstate.NewConnError(linkName, "connect", ErrAlreadyConnected)
	}
	l.client = client
	l.mu.Unlock()

	l.SetState(linkstate.Connected)
	log.Info().Msgf("mqtt: connected to %s (commands on %s)", l.brokerURL, CommandTopic(l.prefix))
	return nil
}

// onConnect runs on every successful connection; subscriptions are
// renewed because the session is clean.
func (l *Link) onConnect(client mqtt.Client) {
	topic := CommandTopic(l.prefix)
	token := client.Subscribe(topic, commandQoS, l.handleMessage)
	if token.Wait() && token.Error() != nil {
		log.Error().Err(token.Error()).Msgf("mqtt: failed to subscribe to %s", topic)
	}

	l.mu.Lock()
	l.connects++
	reconnect := l.connects > 1
	l.mu.Unlock()

	l.SetState(linkstate.Connected)
	if reconnect {
		l.Reconnected()
	}
}

func (l *Link) onConnectionLost(_ mqtt.Client, err error) {
	log.Warn().Err(err).Msg("mqtt: connection lost")
	l.SetState(linkstate.Disconnected)
}

func (l *Link) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	if len(msg.Payload()) == 0 {
		log.Debug().Msg("mqtt: ignoring empty command message")
		return
	}
	l.DeliverRaw(msg.Payload())
}

// Emit publishes the payload at QoS 0. String payloads are published as
// is, anything else is JSON encoded.
func (l *Link) Emit(event string, payload any) {
	if l.State() != linkstate.Connected {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	l.mu.Lock()
	client := l.client
	l.mu.Unlock()
	if client == nil {
		l.Dropped(event, linkstate.ErrNotConnected)
		return
	}

	body, err := encodePayload(payload)
	if err != nil {
		l.Dropped(event, err)
		return
	}

	token := client.Publish(EventTopic(l.prefix, event), eventQoS, false, body)
	if !token.WaitTimeout(publishTimeout) {
		l.Dropped(event, errors.New("publish timed out"))
		return
	}
	if err := token.Error(); err != nil {
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
	client := l.client
	l.mu.Unlock()

	if client != nil {
		log.Debug().Msg("mqtt: disconnecting")
		client.Disconnect(250)
	}
	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		body, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return body, nil
	}
}
