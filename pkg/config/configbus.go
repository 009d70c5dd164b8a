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

package config

import "time"

// Bus configures the link to the remote event bus.
type Bus struct {
	Transport string `toml:"transport" validate:"oneof=socketio mqtt nats"`
	URL       string `toml:"url" validate:"required"`
	// Namespace is the Socket.IO namespace joined after the handshake. When
	// unset or "/", the path of URL names it.
	Namespace string `toml:"namespace,omitempty"`
	// TopicPrefix roots the MQTT topics and NATS subjects used for events
	// and commands.
	TopicPrefix    string `toml:"topic_prefix,omitempty"`
	Username       string `toml:"username,omitempty"`
	Password       string `toml:"password,omitempty"`
	ConnectTimeout string `toml:"connect_timeout" validate:"duration"`
	ReconnectMin   string `toml:"reconnect_min" validate:"duration"`
	ReconnectMax   string `toml:"reconnect_max" validate:"duration"`
}

func (c *Instance) BusTransport() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Bus.Transport
}

func (c *Instance) BusURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Bus.URL
}

func (c *Instance) SetBusURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Bus.URL = url
}

func (c *Instance) BusNamespace() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Bus.Namespace == "" {
		return "/"
	}
	return c.vals.Bus.Namespace
}

func (c *Instance) BusTopicPrefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Bus.TopicPrefix
}

// BusCredentials returns the username and password used by the MQTT and
// NATS transports.
func (c *Instance) BusCredentials() (username, password string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Bus.Username, c.vals.Bus.Password
}

func (c *Instance) BusConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Bus.ConnectTimeout)
}

// BusReconnectBackoff returns the minimum and maximum wait between
// reconnect attempts after the bus connection is lost.
func (c *Instance) BusReconnectBackoff() (minWait, maxWait time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	minWait = parseDuration(c.vals.Bus.ReconnectMin)
	maxWait = parseDuration(c.vals.Bus.ReconnectMax)
	if minWait <= 0 {
		minWait = time.Second
	}
	if maxWait < minWait {
		maxWait = minWait
	}
	return minWait, maxWait
}
