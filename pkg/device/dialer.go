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

package device

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.bug.st/serial"
)

// Dialer opens the raw byte stream to the device.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	Address() string
}

// TCPDialer connects to the device over TCP. A zero Timeout means no
// timeout: Dial blocks until the connection succeeds, fails, or ctx ends.
type TCPDialer struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (d TCPDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.Address(), err)
	}
	return conn, nil
}

// SerialPort defines the serial port operations the link needs (for
// mocking in tests).
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialPortFactory creates a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory is the default factory that opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// SerialDialer opens the device as a serial port.
type SerialDialer struct {
	Factory  SerialPortFactory
	Path     string
	BaudRate int
}

func (d SerialDialer) Address() string {
	return d.Path
}

func (d SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("serial dial cancelled: %w", err)
	}

	factory := d.Factory
	if factory == nil {
		factory = DefaultSerialPortFactory
	}

	baud := d.BaudRate
	if baud <= 0 {
		baud = 115200
	}

	port, err := factory(d.Path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", d.Path, err)
	}
	return port, nil
}
