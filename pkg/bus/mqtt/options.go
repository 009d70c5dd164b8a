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
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ClientFactory creates the paho client (for mocking in tests).
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// DefaultClientFactory creates a real paho client.
func DefaultClientFactory(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

// ProtocolInfo contains parsed MQTT protocol information.
type ProtocolInfo struct {
	Protocol  string
	Scheme    string
	Remainder string
	UseTLS    bool
}

// ParseProtocol extracts protocol information from a broker URL.
//
// Examples:
//   - "mqtts://broker:8883" -> {Protocol: "ssl", UseTLS: true, Scheme: "mqtts", Remainder: "broker:8883"}
//   - "tcp://broker:1883" -> {Protocol: "tcp", UseTLS: false, Scheme: "tcp", Remainder: "broker:1883"}
//   - "broker:1883" -> {Protocol: "tcp", UseTLS: false, Scheme: "", Remainder: "broker:1883"}
func ParseProtocol(brokerURL string) ProtocolInfo {
	info := ProtocolInfo{
		Protocol:  "tcp",
		Remainder: brokerURL,
	}

	if scheme, rest, found := strings.Cut(brokerURL, "://"); found {
		info.Scheme = scheme
		info.Remainder = strings.TrimSuffix(rest, "/")

		switch scheme {
		case "mqtts", "ssl", "tls":
			info.Protocol = "ssl"
			info.UseTLS = true
		case "ws", "wss":
			info.Protocol = scheme
			info.UseTLS = scheme == "wss"
		}
	}

	return info
}

// NewClientOptions configures paho for a bus connection. Auto-reconnect is
// on; the initial connect is not retried so startup failures surface.
func NewClientOptions(
	brokerURL string,
	username string,
	password string,
	connectTimeout time.Duration,
	maxReconnect time.Duration,
) *mqtt.ClientOptions {
	info := ParseProtocol(brokerURL)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s", info.Protocol, info.Remainder))
	opts.SetClientID("zaparoo-bridge-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetMaxReconnectInterval(maxReconnect)
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)

	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
		log.Debug().Msgf("mqtt: using authentication for %s", info.Remainder)
	}

	if info.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
		log.Debug().Msgf("mqtt: using TLS for %s", info.Remainder)
	}

	return opts
}
