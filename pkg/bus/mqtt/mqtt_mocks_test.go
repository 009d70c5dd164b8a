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

package mqtt

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTTClient implements mqtt.Client for testing. Connect invokes the
// OnConnect handler the way paho does.
type mockMQTTClient struct {
	connectError    error
	subscribeError  error
	publishError    error
	opts            *mqtt.ClientOptions
	messageHandler  mqtt.MessageHandler
	connectToken    *mockToken
	subscribed      []string
	published       []published
	disconnectCalls int
	mu              sync.Mutex
	connected       bool
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{}
}

func (m *mockMQTTClient) factory(opts *mqtt.ClientOptions) mqtt.Client {
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
	return m
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) IsConnectionOpen() bool {
	return m.IsConnected()
}

func (m *mockMQTTClient) Connect() mqtt.Token {
	m.mu.Lock()
	if m.connectToken != nil {
		tok := m.connectToken
		m.mu.Unlock()
		return tok
	}
	if m.connectError != nil {
		err := m.connectError
		m.mu.Unlock()
		return newDoneToken(err)
	}
	m.connected = true
	onConnect := m.opts.OnConnect
	m.mu.Unlock()

	if onConnect != nil {
		onConnect(m)
	}
	return newDoneToken(nil)
}

func (m *mockMQTTClient) Disconnect(_ uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectCalls++
}

func (m *mockMQTTClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return newDoneToken(m.publishError)
	}
	body, _ := payload.([]byte)
	m.published = append(m.published, published{
		topic: topic, payload: body, qos: qos, retained: retained,
	})
	return newDoneToken(nil)
}

func (m *mockMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeError != nil {
		return newDoneToken(m.subscribeError)
	}
	m.subscribed = append(m.subscribed, topic)
	m.messageHandler = callback
	return newDoneToken(nil)
}

func (*mockMQTTClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return newDoneToken(nil)
}

func (*mockMQTTClient) Unsubscribe(_ ...string) mqtt.Token {
	return newDoneToken(nil)
}

func (m *mockMQTTClient) AddRoute(_ string, callback mqtt.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageHandler = callback
}

func (*mockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// deliver simulates a message arriving on the subscribed topic.
func (m *mockMQTTClient) deliver(topic string, payload []byte) {
	m.mu.Lock()
	handler := m.messageHandler
	m.mu.Unlock()
	handler(m, &mockMessage{topic: topic, payload: payload})
}

// loseConnection simulates paho detecting a dropped connection and then
// reconnecting.
func (m *mockMQTTClient) loseConnection(err error) {
	m.mu.Lock()
	m.connected = false
	opts := m.opts
	m.mu.Unlock()
	opts.OnConnectionLost(m, err)
	opts.OnReconnecting(m, opts)
}

func (m *mockMQTTClient) reconnect() {
	m.mu.Lock()
	m.connected = true
	onConnect := m.opts.OnConnect
	m.mu.Unlock()
	onConnect(m)
}

func (m *mockMQTTClient) publishedMessages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]published, len(m.published))
	copy(out, m.published)
	return out
}

// mockToken implements mqtt.Token for testing.
type mockToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *mockToken {
	t := &mockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *mockToken) Wait() bool {
	<-t.done
	return true
}

func (t *mockToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *mockToken) Done() <-chan struct{} {
	return t.done
}

func (t *mockToken) Error() error {
	return t.err
}

// mockMessage implements mqtt.Message for testing.
type mockMessage struct {
	topic   string
	payload []byte
}

func (*mockMessage) Duplicate() bool { return false }
func (*mockMessage) Qos() byte { return commandQoS }
func (*mockMessage) Retained() bool { return false }
func (m *mockMessage) Topic() string { return m.topic }
func (*mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte { return m.payload }
func (*mockMessage) Ack() {}
