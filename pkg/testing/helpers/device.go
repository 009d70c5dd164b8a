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
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DeviceServer is a fake measurement device: a TCP listener that accepts a
// single bridge connection, records everything the bridge writes and lets
// the test write raw frames back.
type DeviceServer struct {
	listener net.Listener
	conn     net.Conn
	accepted chan struct{}
	t        *testing.T
	received bytes.Buffer
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewDeviceServer starts a fake device on a random local port. It is closed
// automatically when the test ends.
func NewDeviceServer(t *testing.T) *DeviceServer {
	t.Helper()

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &DeviceServer{
		listener: listener,
		accepted: make(chan struct{}),
		t:        t,
	}

	s.wg.Add(1)
	go s.acceptOne()

	t.Cleanup(s.Close)
	return s
}

func (s *DeviceServer) acceptOne() {
	defer s.wg.Done()

	conn, err := s.listener.Accept()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.accepted)

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.received.Write(buf[:n])
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (s *DeviceServer) Host() string {
	addr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

func (s *DeviceServer) Port() int {
	addr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// WaitConnected blocks until the bridge has connected.
func (s *DeviceServer) WaitConnected(timeout time.Duration) {
	s.t.Helper()
	select {
	case <-s.accepted:
	case <-time.After(timeout):
		s.t.Fatal("timed out waiting for bridge to connect to device")
	}
}

// Write sends raw bytes to the bridge, exactly as a device write(2) would.
func (s *DeviceServer) Write(data string) {
	s.t.Helper()
	s.WaitConnected(5 * time.Second)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	_, err := conn.Write([]byte(data))
	require.NoError(s.t, err)
}

// Received returns everything the bridge has written so far.
func (s *DeviceServer) Received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.String()
}

// WaitReceived waits until the bridge has written exactly want in total.
func (s *DeviceServer) WaitReceived(want string, timeout time.Duration) {
	s.t.Helper()
	ok := assert.Eventually(s.t, func() bool {
		return s.Received() == want
	}, timeout, 5*time.Millisecond)
	if !ok {
		s.t.Errorf("device expected %q, got %q", want, s.Received())
	}
}

// Hangup closes the device side of the connection, as when the firmware
// exits.
func (s *DeviceServer) Hangup() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Close stops the listener and any open connection and waits for the
// server goroutine.
func (s *DeviceServer) Close() {
	err := s.listener.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.t.Logf("error closing device listener: %v", err)
	}
	s.Hangup()
	s.wg.Wait()
}
