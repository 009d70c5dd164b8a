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

import (
	"net"
	"strconv"
	"time"
)

// Device configures the link to the measurement device. When SerialPort is
// set the device is opened as a serial port and Host/Port are ignored.
type Device struct {
	Host       string `toml:"host" validate:"required_without=SerialPort"`
	SerialPort string `toml:"serial_port,omitempty"`
	// ConnectTimeout of "0s" means no timeout: the connect attempt blocks
	// until it succeeds, fails or the bridge is shut down.
	ConnectTimeout string `toml:"connect_timeout" validate:"duration"`
	// Terminator is appended to every command sent to the device. The
	// device reads raw writes, so it is empty by default.
	Terminator   string `toml:"terminator,omitempty"`
	Port         int    `toml:"port" validate:"min=0,max=65535"`
	BaudRate     int    `toml:"baud_rate" validate:"gte=0"`
	MaxFrameSize int    `toml:"max_frame_size" validate:"gte=0"`
}

func (c *Instance) DeviceAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.vals.Device.Host, strconv.Itoa(c.vals.Device.Port))
}

func (c *Instance) DeviceHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Host
}

func (c *Instance) DevicePort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Port
}

func (c *Instance) SetDeviceAddress(host string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Device.Host = host
	c.vals.Device.Port = port
}

func (c *Instance) DeviceSerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.SerialPort
}

func (c *Instance) DeviceBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.BaudRate
}

func (c *Instance) DeviceConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.Device.ConnectTimeout)
}

func (c *Instance) DeviceTerminator() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Terminator
}

func (c *Instance) DeviceMaxFrameSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.MaxFrameSize
}

func (c *Instance) SetDeviceSerialPort(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Device.SerialPort = path
}
