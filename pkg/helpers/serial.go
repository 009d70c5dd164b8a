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
	"fmt"
	"runtime"
	"slices"
	"strings"

	"go.bug.st/serial"
)

// serialPrefixes lists the port name prefixes USB serial adapters show up
// as on each OS.
var serialPrefixes = map[string][]string{
	"linux":   {"/dev/ttyUSB", "/dev/ttyACM"},
	"darwin":  {"/dev/tty.usbserial", "/dev/tty.usbmodem", "/dev/cu.usbserial", "/dev/cu.usbmodem"},
	"windows": {"COM"},
}

// SerialPorts returns the serial ports a device could be attached to.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list on %s: %w", runtime.GOOS, err)
	}
	return filterSerialPorts(runtime.GOOS, ports), nil
}

// filterSerialPorts keeps ports matching the USB serial prefixes for goos,
// sorted. Unknown platforms keep every port.
func filterSerialPorts(goos string, ports []string) []string {
	prefixes, ok := serialPrefixes[goos]
	devices := make([]string, 0, len(ports))
	for _, p := range ports {
		if !ok || slices.ContainsFunc(prefixes, func(prefix string) bool {
			return strings.HasPrefix(p, prefix)
		}) {
			devices = append(devices, p)
		}
	}
	slices.Sort(devices)
	return devices
}
