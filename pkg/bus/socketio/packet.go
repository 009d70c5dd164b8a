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

package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	packetConnect      = '0'
	packetDisconnect   = '1'
	packetEvent        = '2'
	packetAck          = '3'
	packetConnectError = '4'
	packetBinaryEvent  = '5'
	packetBinaryAck    = '6'
)

const DefaultPath = "/socket.io/"

var (
	ErrHandshake      = errors.New("socket.io handshake failed")
	ErrConnectRefused = errors.New("socket.io namespace connect refused")
	ErrServerClosed   = errors.New("socket.io server closed the connection")
	ErrPingTimeout    = errors.New("socket.io ping timeout")
)

// openPacket is the payload of the Engine.IO open packet.
type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func (o openPacket) pingDeadline() time.Duration {
	return time.Duration(o.PingInterval+o.PingTimeout) * time.Millisecond
}

func parseOpen(msg []byte) (openPacket, error) {
	var op openPacket
	if len(msg) == 0 || msg[0] != engineOpen {
		return op, fmt.Errorf("%w: expected open packet, got %q", ErrHandshake, msg)
	}
	if err := json.Unmarshal(msg[1:], &op); err != nil {
		return op, fmt.Errorf("%w: invalid open packet: %w", ErrHandshake, err)
	}
	if op.SID == "" {
		return op, fmt.Errorf("%w: open packet without sid", ErrHandshake)
	}
	return op, nil
}

// packet is a decoded Socket.IO packet.
type packet struct {
	namespace string
	data      string
	ackID     int
	kind      byte
	hasAck    bool
}

// parsePacket decodes the Socket.IO packet following the Engine.IO message
// type byte, e.g. `2/admin,12["event",{}]`.
func parsePacket(p string) (packet, error) {
	if p == "" {
		return packet{}, errors.New("empty socket.io packet")
	}
	pkt := packet{kind: p[0], namespace: "/"}
	rest := p[1:]

	if pkt.kind == packetBinaryEvent || pkt.kind == packetBinaryAck {
		// attachments count precedes the namespace
		if i := strings.IndexByte(rest, '-'); i >= 0 {
			rest = rest[i+1:]
		}
	}

	if strings.HasPrefix(rest, "/") {
		ns, after, found := strings.Cut(rest, ",")
		pkt.namespace = ns
		if found {
			rest = after
		} else {
			rest = ""
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return packet{}, fmt.Errorf("invalid ack id: %w", err)
		}
		pkt.ackID = id
		pkt.hasAck = true
		rest = rest[digits:]
	}

	pkt.data = rest
	return pkt, nil
}

// eventArgs splits an event packet body into the event name and its
// arguments.
func eventArgs(data string) (string, []json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return "", nil, fmt.Errorf("invalid event body: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("event without a name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("invalid event name: %w", err)
	}
	return name, args[1:], nil
}

// nsPrefix is the namespace part of an outbound packet; empty for the
// main namespace.
func nsPrefix(namespace string) string {
	if namespace == "" || namespace == "/" {
		return ""
	}
	return namespace + ","
}

func connectPacket(namespace string) string {
	return string([]byte{engineMessage, packetConnect}) + nsPrefix(namespace)
}

func disconnectPacket(namespace string) string {
	return string([]byte{engineMessage, packetDisconnect}) + nsPrefix(namespace)
}

func eventPacket(namespace, event string, payload any) (string, error) {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return "", fmt.Errorf("failed to encode event %s: %w", event, err)
	}
	return string([]byte{engineMessage, packetEvent}) + nsPrefix(namespace) + string(body), nil
}

func ackPacket(namespace string, id int) string {
	return string([]byte{engineMessage, packetAck}) + nsPrefix(namespace) + strconv.Itoa(id) + "[]"
}

// EndpointURL rewrites an http(s) or ws(s) bus address into the Engine.IO
// websocket endpoint. As with the reference client, the path of the address
// names the namespace to join, not the engine path, which is always
// DefaultPath.
func EndpointURL(raw string) (endpoint, namespace string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid bus url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("invalid bus url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid bus url: missing host in %q", raw)
	}

	namespace = u.Path
	if namespace == "" {
		namespace = "/"
	}
	u.Path = DefaultPath
	u.RawPath = ""

	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	u.Fragment = ""

	return u.String(), namespace, nil
}
