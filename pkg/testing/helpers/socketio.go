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

package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/stretchr/testify/assert"
)

// SocketIOEvent is an event received by the test server.
type SocketIOEvent struct {
	Namespace string
	Name      string
	Payload   json.RawMessage
}

// SocketIOOption configures a SocketIOServer.
type SocketIOOption func(*SocketIOServer)

// WithPingTiming sets the ping interval and timeout, in milliseconds,
// announced in the open packet.
func WithPingTiming(interval, timeout int) SocketIOOption {
	return func(s *SocketIOServer) {
		s.pingInterval = interval
		s.pingTimeout = timeout
	}
}

// WithRejectConnect makes the server refuse namespace connects.
func WithRejectConnect() SocketIOOption {
	return func(s *SocketIOServer) {
		s.reject = true
	}
}

// SocketIOServer is a minimal Socket.IO v4 server speaking the Engine.IO
// websocket transport, for testing bus clients.
type SocketIOServer struct {
	Server       *httptest.Server
	Melody       *melody.Melody
	t            *testing.T
	events       []SocketIOEvent
	raw          []string
	mu           sync.RWMutex
	connects     int
	pingInterval int
	pingTimeout  int
	reject       bool
}

// NewSocketIOServer starts the server and registers its shutdown with
// t.Cleanup.
func NewSocketIOServer(t *testing.T, opts ...SocketIOOption) *SocketIOServer {
	t.Helper()

	m := melody.New()
	s := &SocketIOServer{
		Melody:       m,
		t:            t,
		pingInterval: 25000,
		pingTimeout:  20000,
	}
	for _, opt := range opts {
		opt(s)
	}

	m.HandleConnect(func(session *melody.Session) {
		open, err := json.Marshal(map[string]any{
			"sid":          uuid.NewString(),
			"upgrades":     []string{},
			"pingInterval": s.pingInterval,
			"pingTimeout":  s.pingTimeout,
			"maxPayload":   1000000,
		})
		if err != nil {
			t.Errorf("failed to encode open packet: %v", err)
			return
		}
		_ = session.Write(append([]byte("0"), open...))
	})

	m.HandleMessage(func(session *melody.Session, msg []byte) {
		s.handle(session, string(msg))
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("EIO") != "4" || r.URL.Query().Get("transport") != "websocket" {
			http.Error(w, "unsupported transport", http.StatusBadRequest)
			return
		}
		if err := m.HandleRequest(w, r); err != nil {
			t.Logf("socket.io test server: %v", err)
		}
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *SocketIOServer) handle(session *melody.Session, msg string) {
	s.mu.Lock()
	s.raw = append(s.raw, msg)
	s.mu.Unlock()

	if len(msg) < 2 || msg[0] != '4' {
		// pongs and other engine packets
		return
	}

	ns, body := "", msg[2:]
	if strings.HasPrefix(body, "/") {
		name, rest, _ := strings.Cut(body, ",")
		ns, body = name+",", rest
	}

	switch msg[1] {
	case '0':
		if s.reject {
			_ = session.Write([]byte("44" + ns + `{"message":"not authorized"}`))
			return
		}
		s.mu.Lock()
		s.connects++
		s.mu.Unlock()
		_ = session.Write([]byte(fmt.Sprintf(`40%s{"sid":%q}`, ns, uuid.NewString())))
	case '2':
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(body), &args); err != nil || len(args) == 0 {
			s.t.Errorf("socket.io test server: invalid event %q", msg)
			return
		}
		var name string
		if err := json.Unmarshal(args[0], &name); err != nil {
			s.t.Errorf("socket.io test server: invalid event name %q", msg)
			return
		}
		ev := SocketIOEvent{Namespace: strings.TrimSuffix(ns, ","), Name: name}
		if ev.Namespace == "" {
			ev.Namespace = "/"
		}
		if len(args) > 1 {
			ev.Payload = args[1]
		}
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}
}

// URL returns the http address clients should be configured with.
func (s *SocketIOServer) URL() string {
	return s.Server.URL
}

// Send broadcasts a raw Engine.IO packet to every client.
func (s *SocketIOServer) Send(packet string) {
	if err := s.Melody.Broadcast([]byte(packet)); err != nil {
		s.t.Errorf("socket.io test server broadcast: %v", err)
	}
}

// SendCommand broadcasts a `command` event with the given JSON body.
func (s *SocketIOServer) SendCommand(body string) {
	s.Send(`42["command",` + body + `]`)
}

// Ping sends an Engine.IO ping to every client.
func (s *SocketIOServer) Ping() {
	s.Send("2")
}

// DropClients closes every client connection without a close packet.
func (s *SocketIOServer) DropClients() {
	sessions, err := s.Melody.Sessions()
	if err != nil {
		s.t.Errorf("socket.io test server sessions: %v", err)
		return
	}
	for _, session := range sessions {
		_ = session.Close()
	}
}

// Connects returns how many namespace connects were accepted.
func (s *SocketIOServer) Connects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connects
}

// Events returns a copy of the received events.
func (s *SocketIOServer) Events() []SocketIOEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]SocketIOEvent, len(s.events))
	copy(events, s.events)
	return events
}

// Received returns every raw packet received from clients.
func (s *SocketIOServer) Received() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw := make([]string, len(s.raw))
	copy(raw, s.raw)
	return raw
}

// WaitConnects waits until at least n namespace connects were accepted.
func (s *SocketIOServer) WaitConnects(n int, timeout time.Duration) {
	s.t.Helper()
	ok := assert.Eventually(s.t, func() bool {
		return s.Connects() >= n
	}, timeout, 5*time.Millisecond)
	if !ok {
		s.t.Fatalf("expected %d socket.io connects, got %d", n, s.Connects())
	}
}

// WaitEvents waits until at least n events were received and returns them.
func (s *SocketIOServer) WaitEvents(n int, timeout time.Duration) []SocketIOEvent {
	s.t.Helper()
	ok := assert.Eventually(s.t, func() bool {
		return len(s.Events()) >= n
	}, timeout, 5*time.Millisecond)
	if !ok {
		s.t.Fatalf("expected %d socket.io events, got %v", n, s.Events())
	}
	return s.Events()
}

// WaitReceived waits until a raw packet equal to packet was received.
func (s *SocketIOServer) WaitReceived(packet string, timeout time.Duration) {
	s.t.Helper()
	ok := assert.Eventually(s.t, func() bool {
		for _, p := range s.Received() {
			if p == packet {
				return true
			}
		}
		return false
	}, timeout, 5*time.Millisecond)
	if !ok {
		s.t.Fatalf("expected packet %q, got %v", packet, s.Received())
	}
}

// Close shuts down the server. Safe to call more than once.
func (s *SocketIOServer) Close() {
	if !s.Melody.IsClosed() {
		_ = s.Melody.Close()
	}
	s.Server.Close()
}
